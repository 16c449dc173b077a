// Package pipeline orchestrates one acquisition sweep: discovery across
// source adapters, candidate resolution, download, content-addressed
// storage, extraction, and event publication.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/extract"
	"github.com/vetcorpus/crawler/internal/fetcher"
	"github.com/vetcorpus/crawler/internal/metrics"
	"github.com/vetcorpus/crawler/internal/provenance"
	"github.com/vetcorpus/crawler/internal/resolver"
	"github.com/vetcorpus/crawler/internal/sources"
	"github.com/vetcorpus/crawler/internal/store"
)

// Config sizes the worker pools and caps discovery.
type Config struct {
	FetchWorkers   int
	ExtractWorkers int
	// MaxPerSource caps candidates taken from one source per sweep. Zero
	// means unlimited.
	MaxPerSource int
	// EventTopic names the structured-document event topic. Empty disables
	// publication.
	EventTopic string
}

// Counters summarizes one sweep.
type Counters struct {
	Discovered    int64 `json:"discovered"`
	Merged        int64 `json:"merged"`
	Fetched       int64 `json:"fetched"`
	FetchFailures int64 `json:"fetch_failures"`
	Extracted     int64 `json:"extracted"`
	Unextracted   int64 `json:"unextracted"`
	Published     int64 `json:"published"`
}

// Pipeline wires the stages together. Construct once, run per sweep.
type Pipeline struct {
	cfg       Config
	registry  *sources.Registry
	resolver  *resolver.Resolver
	fetcher   *fetcher.Fetcher
	content   *store.ContentStore
	engine    *extract.Engine
	tracker   *provenance.Tracker
	publisher corpus.Publisher
	clock     corpus.Clock
	ids       corpus.IDGenerator
	logger    *zap.Logger
}

// New builds a Pipeline. The publisher may be nil.
func New(
	cfg Config,
	registry *sources.Registry,
	res *resolver.Resolver,
	fet *fetcher.Fetcher,
	content *store.ContentStore,
	engine *extract.Engine,
	tracker *provenance.Tracker,
	publisher corpus.Publisher,
	clock corpus.Clock,
	ids corpus.IDGenerator,
	logger *zap.Logger,
) (*Pipeline, error) {
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 4
	}
	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = 2
	}
	if registry == nil || res == nil || fet == nil || content == nil || engine == nil || tracker == nil {
		return nil, fmt.Errorf("pipeline: missing stage dependency")
	}
	if clock == nil || ids == nil {
		return nil, fmt.Errorf("pipeline: clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		registry:  registry,
		resolver:  res,
		fetcher:   fet,
		content:   content,
		engine:    engine,
		tracker:   tracker,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}, nil
}

// DocumentEvent is the payload published for each structured document.
type DocumentEvent struct {
	SweepID    string                  `json:"sweep_id"`
	Source     string                  `json:"source"`
	Hash       string                  `json:"hash"`
	Method     corpus.ExtractionMethod `json:"method"`
	Title      string                  `json:"title,omitempty"`
	Sections   int                     `json:"sections"`
	References int                     `json:"references"`
	Timestamp  time.Time               `json:"timestamp"`
}

type fetchResult struct {
	raw  corpus.RawDocument
	data []byte
}

// Run executes one sweep over the named sources. Adapter and download
// failures degrade the affected source and continue; storage failures abort
// the sweep, since losing writes silently would corrupt the corpus record.
func (p *Pipeline) Run(ctx context.Context, window corpus.Window, policy corpus.KeywordPolicy, sourceNames []string) (Counters, error) {
	sweepID, err := p.ids.NewID()
	if err != nil {
		return Counters{}, fmt.Errorf("sweep id: %w", err)
	}
	logger := p.logger.With(zap.String("sweep_id", sweepID))
	logger.Info("sweep starting",
		zap.Strings("sources", sourceNames),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
	)

	var counters Counters
	candidates := p.discover(ctx, window, policy, sourceNames, &counters, logger)
	merged := p.resolver.Dedupe(candidates)
	counters.Merged = int64(len(merged))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	fail := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	fetchCh := make(chan corpus.Candidate)
	extractCh := make(chan fetchResult)

	var fetchWG sync.WaitGroup
	for i := 0; i < p.cfg.FetchWorkers; i++ {
		fetchWG.Add(1)
		go func() {
			defer fetchWG.Done()
			for cand := range fetchCh {
				p.fetchOne(runCtx, cand, extractCh, &counters, fail, logger)
			}
		}()
	}

	var extractWG sync.WaitGroup
	for i := 0; i < p.cfg.ExtractWorkers; i++ {
		extractWG.Add(1)
		go func() {
			defer extractWG.Done()
			for item := range extractCh {
				p.extractOne(runCtx, sweepID, item, &counters, fail, logger)
			}
		}()
	}

	for _, cand := range merged {
		select {
		case <-runCtx.Done():
		case fetchCh <- cand:
			continue
		}
		break
	}
	close(fetchCh)
	fetchWG.Wait()
	close(extractCh)
	extractWG.Wait()

	if fatalErr != nil {
		metrics.ObserveSweep("error")
		logger.Error("sweep aborted", zap.Error(fatalErr))
		return counters, fatalErr
	}
	if err := ctx.Err(); err != nil {
		metrics.ObserveSweep("canceled")
		return counters, fmt.Errorf("sweep canceled: %w", err)
	}
	metrics.ObserveSweep("success")
	logger.Info("sweep finished",
		zap.Int64("discovered", counters.Discovered),
		zap.Int64("merged", counters.Merged),
		zap.Int64("fetched", counters.Fetched),
		zap.Int64("fetch_failures", counters.FetchFailures),
		zap.Int64("extracted", counters.Extracted),
		zap.Int64("published", counters.Published),
	)
	return counters, nil
}

// discover drains each source's cursor, honoring the per-source cap. A
// failing source is recorded and skipped; one bad API never kills a sweep.
func (p *Pipeline) discover(ctx context.Context, window corpus.Window, policy corpus.KeywordPolicy, sourceNames []string, counters *Counters, logger *zap.Logger) []corpus.Candidate {
	var all []corpus.Candidate
	for _, name := range sourceNames {
		src, ok := p.registry.Lookup(name)
		if !ok {
			logger.Warn("source not registered", zap.String("source", name))
			continue
		}
		collected, err := p.drainSource(ctx, src, window, policy)
		atomic.AddInt64(&counters.Discovered, int64(len(collected)))
		all = append(all, collected...)
		if err != nil {
			logger.Warn("source discovery failed", zap.String("source", name), zap.Error(err))
			p.recordAttempt(ctx, name, corpus.OutcomeError, err, logger)
			continue
		}
		// A clean query is a successful attempt even when it finds nothing;
		// recovery must clear the degraded flag without waiting for a fetch.
		p.recordAttempt(ctx, name, corpus.OutcomeSuccess, nil, logger)
		logger.Debug("source discovery complete", zap.String("source", name), zap.Int("candidates", len(collected)))
	}
	return all
}

func (p *Pipeline) drainSource(ctx context.Context, src corpus.Source, window corpus.Window, policy corpus.KeywordPolicy) ([]corpus.Candidate, error) {
	cursor, err := src.Query(ctx, window, policy)
	if err != nil {
		return nil, err
	}
	var collected []corpus.Candidate
	for {
		if p.cfg.MaxPerSource > 0 && len(collected) >= p.cfg.MaxPerSource {
			return collected[:p.cfg.MaxPerSource], nil
		}
		page, err := cursor.Next(ctx)
		if err != nil {
			return collected, err
		}
		if page == nil {
			return collected, nil
		}
		collected = append(collected, page...)
	}
}

func (p *Pipeline) fetchOne(ctx context.Context, cand corpus.Candidate, extractCh chan<- fetchResult, counters *Counters, fail func(error), logger *zap.Logger) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	urls := p.resolver.DownloadURLs(ctx, cand)
	data, originURL, err := p.fetcher.Fetch(ctx, cand, urls)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		atomic.AddInt64(&counters.FetchFailures, 1)
		metrics.ObserveDocument(cand.Source, string(corpus.OutcomeError), 0)
		p.recordAttempt(ctx, cand.Source, corpus.OutcomeError, err, logger)
		logger.Debug("candidate fetch failed", zap.String("candidate", cand.Key()), zap.Error(err))
		return
	}

	hash, err := p.content.PutRaw(ctx, cand.Source, data)
	if err != nil {
		fail(fmt.Errorf("store raw %s: %w", cand.Key(), err))
		return
	}
	atomic.AddInt64(&counters.Fetched, 1)
	metrics.ObserveDocument(cand.Source, string(corpus.OutcomeSuccess), len(data))
	p.recordAttempt(ctx, cand.Source, corpus.OutcomeSuccess, nil, logger)
	p.tracker.RecordDocument(ctx, cand.Source, hash, "raw")

	raw := corpus.RawDocument{
		Hash:        hash,
		ByteLen:     int64(len(data)),
		Source:      cand.Source,
		Origin:      cand,
		OriginURL:   originURL,
		RetrievedAt: p.clock.Now(),
	}
	select {
	case extractCh <- fetchResult{raw: raw, data: data}:
	case <-ctx.Done():
	}
}

func (p *Pipeline) extractOne(ctx context.Context, sweepID string, item fetchResult, counters *Counters, fail func(error), logger *zap.Logger) {
	// Re-fetched bytes hash to the same document; keep the existing record.
	if _, exists, err := p.content.GetStructured(ctx, item.raw.Hash); err != nil {
		fail(fmt.Errorf("check structured %s: %w", item.raw.Hash, err))
		return
	} else if exists {
		logger.Debug("structured record already present", zap.String("hash", item.raw.Hash))
		return
	}

	doc := p.engine.Extract(ctx, item.raw, item.data)
	p.tracker.RecordExtraction(doc.Method)
	if doc.Method == corpus.MethodNone {
		atomic.AddInt64(&counters.Unextracted, 1)
	} else {
		atomic.AddInt64(&counters.Extracted, 1)
	}

	if err := p.content.PutStructured(ctx, doc); err != nil {
		fail(fmt.Errorf("store structured %s: %w", item.raw.Hash, err))
		return
	}
	p.tracker.RecordDocument(ctx, item.raw.Source, doc.Hash, "structured")

	if p.publisher != nil && p.cfg.EventTopic != "" {
		event := DocumentEvent{
			SweepID:    sweepID,
			Source:     item.raw.Source,
			Hash:       doc.Hash,
			Method:     doc.Method,
			Title:      doc.Title,
			Sections:   len(doc.Sections),
			References: len(doc.References),
			Timestamp:  p.clock.Now(),
		}
		if _, err := p.publisher.Publish(ctx, p.cfg.EventTopic, event); err != nil {
			// Events are advisory; the document is already durable.
			logger.Warn("event publish failed", zap.String("hash", doc.Hash), zap.Error(err))
			return
		}
		atomic.AddInt64(&counters.Published, 1)
	}
}

func (p *Pipeline) recordAttempt(ctx context.Context, source string, outcome corpus.AttemptOutcome, attemptErr error, logger *zap.Logger) {
	if err := p.tracker.RecordAttempt(ctx, source, outcome, attemptErr); err != nil {
		logger.Warn("health update failed", zap.String("source", source), zap.Error(err))
	}
}
