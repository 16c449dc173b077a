// Package provenance tracks per-source crawl health and corpus statistics.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/metrics"
)

const statsTTL = 30 * time.Second

// ObjectLister is the slice of the content store the tracker needs for
// stats scans.
type ObjectLister interface {
	ListRaw(ctx context.Context, source string) ([]corpus.ObjectInfo, error)
	ListStructured(ctx context.Context) ([]corpus.ObjectInfo, error)
}

// BudgetReader reports the remaining request budget for a source, nil when
// the source is unthrottled.
type BudgetReader interface {
	Remaining(source string) *float64
}

// Cataloger persists per-object catalog rows. Health stores that keep a
// document catalog implement it; the tracker detects support at build time.
type Cataloger interface {
	RecordDocument(ctx context.Context, entry corpus.CatalogEntry) error
}

// Tracker serializes health updates and serves cached corpus stats.
type Tracker struct {
	health  corpus.HealthStore
	lister  ObjectLister
	budget  BudgetReader
	catalog Cataloger
	clock   corpus.Clock
	logger  *zap.Logger

	mu        sync.Mutex
	noneCount int64

	statsMu   sync.Mutex
	statsAt   time.Time
	lastStats corpus.CorpusStats
}

// New builds a Tracker. The budget reader may be nil.
func New(health corpus.HealthStore, lister ObjectLister, budget BudgetReader, clock corpus.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		health: health,
		lister: lister,
		budget: budget,
		clock:  clock,
		logger: logger,
	}
	if catalog, ok := health.(Cataloger); ok {
		t.catalog = catalog
	}
	return t
}

// RecordDocument notes one stored object in the catalog, when the backing
// store keeps one. Catalog rows are secondary to the objects themselves, so
// failures log and move on.
func (t *Tracker) RecordDocument(ctx context.Context, source, hash, kind string) {
	if t.catalog == nil {
		return
	}
	entry := corpus.CatalogEntry{
		Hash:       hash,
		Source:     source,
		Kind:       kind,
		RecordedAt: t.clock.Now(),
	}
	if err := t.catalog.RecordDocument(ctx, entry); err != nil {
		t.logger.Warn("catalog write failed",
			zap.String("source", source),
			zap.String("hash", hash),
			zap.Error(err),
		)
	}
}

// RecordAttempt folds one crawl attempt into the source's health record.
// Updates are read-modify-write, serialized across sources so concurrent
// workers cannot lose counts.
func (t *Tracker) RecordAttempt(ctx context.Context, source string, outcome corpus.AttemptOutcome, attemptErr error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	health, err := t.health.Get(ctx, source)
	if err != nil {
		if !errors.Is(err, corpus.ErrObjectNotFound) {
			return fmt.Errorf("load health for %s: %w", source, err)
		}
		health = corpus.SourceHealth{Source: source, Enabled: true}
	}

	now := t.clock.Now()
	health.LastCrawl = now
	switch outcome {
	case corpus.OutcomeSuccess:
		health.LastSuccess = now
		health.LastError = ""
		health.DegradedSince = nil
	case corpus.OutcomeError:
		health.ErrorCount++
		if attemptErr != nil {
			health.LastError = attemptErr.Error()
		}
		if health.DegradedSince == nil {
			degraded := now
			health.DegradedSince = &degraded
		}
		metrics.ObserveSourceError(source)
	}
	if t.budget != nil {
		health.RemainingBudget = t.budget.Remaining(source)
	}

	if err := t.health.Upsert(ctx, health); err != nil {
		return fmt.Errorf("persist health for %s: %w", source, err)
	}
	return nil
}

// RecordExtraction notes one extraction outcome for the stats snapshot.
func (t *Tracker) RecordExtraction(method corpus.ExtractionMethod) {
	if method != corpus.MethodNone {
		return
	}
	t.mu.Lock()
	t.noneCount++
	t.mu.Unlock()
}

// Health returns all known per-source health records.
func (t *Tracker) Health(ctx context.Context) ([]corpus.SourceHealth, error) {
	return t.health.ListAll(ctx)
}

// Stats returns a corpus snapshot, recomputing at most every 30 seconds.
// Listing the object store is the expensive part; callers poll this from
// dashboards.
func (t *Tracker) Stats(ctx context.Context) (corpus.CorpusStats, error) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	now := t.clock.Now()
	if !t.statsAt.IsZero() && now.Sub(t.statsAt) < statsTTL {
		return t.lastStats, nil
	}

	stats, err := t.computeStats(ctx, now)
	if err != nil {
		return corpus.CorpusStats{}, err
	}
	t.lastStats = stats
	t.statsAt = now
	return stats, nil
}

func (t *Tracker) computeStats(ctx context.Context, now time.Time) (corpus.CorpusStats, error) {
	raws, err := t.lister.ListRaw(ctx, "")
	if err != nil {
		return corpus.CorpusStats{}, fmt.Errorf("stats raw scan: %w", err)
	}
	structured, err := t.lister.ListStructured(ctx)
	if err != nil {
		return corpus.CorpusStats{}, fmt.Errorf("stats structured scan: %w", err)
	}

	stats := corpus.CorpusStats{
		BySource:    make(map[string]int64),
		GeneratedAt: now,
	}
	structuredHashes := make(map[string]bool, len(structured))
	for _, obj := range structured {
		structuredHashes[strings.TrimSuffix(path.Base(obj.Key), ".json")] = true
	}
	stats.Structured = int64(len(structuredHashes))

	seen := make(map[string]bool, len(raws))
	for _, obj := range raws {
		source, hash := splitRawKey(obj.Key)
		if source == "" {
			continue
		}
		stats.BySource[source]++
		stats.BytesStored += obj.Size
		if !seen[hash] {
			seen[hash] = true
			stats.TotalDocuments++
			if !structuredHashes[hash] {
				stats.RawOnly++
			}
		}
		if now.Sub(obj.Updated) < 24*time.Hour {
			stats.AcquiredLast24h++
		}
		if now.Sub(obj.Updated) < 7*24*time.Hour {
			stats.AcquiredLast7d++
		}
	}

	t.mu.Lock()
	stats.ExtractionNone = t.noneCount
	t.mu.Unlock()

	t.logger.Debug("corpus stats recomputed",
		zap.Int64("documents", stats.TotalDocuments),
		zap.Int64("structured", stats.Structured),
	)
	return stats, nil
}

// splitRawKey parses raw/<source>/<hash>.pdf.
func splitRawKey(key string) (source, hash string) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "raw" {
		return "", ""
	}
	return parts[1], strings.TrimSuffix(parts[2], ".pdf")
}
