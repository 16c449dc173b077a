// Package extract turns stored raw PDFs into structured documents.
package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/metrics"
)

// Strategy is one way of structuring a raw document. Strategies are tried
// in order; an error moves the engine to the next one.
type Strategy interface {
	Method() corpus.ExtractionMethod
	Extract(ctx context.Context, raw corpus.RawDocument, data []byte) (corpus.StructuredDocument, error)
}

// Engine runs an ordered strategy chain. The chain is resolved once at
// construction; an unknown strategy name is a startup error, not a runtime
// surprise.
type Engine struct {
	strategies []Strategy
	clock      corpus.Clock
	logger     *zap.Logger
}

// NewEngine builds an engine over the given chain.
func NewEngine(strategies []Strategy, clock corpus.Clock, logger *zap.Logger) (*Engine, error) {
	if clock == nil {
		return nil, fmt.Errorf("extract: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := make(map[corpus.ExtractionMethod]bool, len(strategies))
	for _, s := range strategies {
		if seen[s.Method()] {
			return nil, fmt.Errorf("extract: duplicate strategy %q", s.Method())
		}
		seen[s.Method()] = true
	}
	return &Engine{strategies: strategies, clock: clock, logger: logger}, nil
}

// Extract runs the chain and returns the first successful structured
// record. When every strategy fails it returns a minimal record carrying
// the origin metadata, marked with the "none" method; extraction never
// blocks acquisition.
func (e *Engine) Extract(ctx context.Context, raw corpus.RawDocument, data []byte) corpus.StructuredDocument {
	for _, strategy := range e.strategies {
		doc, err := strategy.Extract(ctx, raw, data)
		if err != nil {
			e.logger.Warn("extraction strategy failed",
				zap.String("hash", raw.Hash),
				zap.String("method", string(strategy.Method())),
				zap.Error(err),
			)
			continue
		}
		doc.Hash = raw.Hash
		doc.Method = strategy.Method()
		doc.ByteLen = raw.ByteLen
		doc.ExtractedAt = e.clock.Now()
		e.fillFromOrigin(&doc, raw)
		metrics.ObserveExtraction(string(doc.Method))
		return doc
	}

	doc := corpus.StructuredDocument{
		Hash:        raw.Hash,
		Method:      corpus.MethodNone,
		ByteLen:     raw.ByteLen,
		ExtractedAt: e.clock.Now(),
	}
	e.fillFromOrigin(&doc, raw)
	metrics.ObserveExtraction(string(corpus.MethodNone))
	return doc
}

// fillFromOrigin backfills title and authors from discovery metadata when
// the strategy could not recover them from the binary.
func (e *Engine) fillFromOrigin(doc *corpus.StructuredDocument, raw corpus.RawDocument) {
	if doc.Title == "" {
		doc.Title = raw.Origin.Title
	}
	if doc.Abstract == "" {
		doc.Abstract = raw.Origin.Abstract
	}
	if len(doc.Authors) == 0 {
		doc.Authors = raw.Origin.Authors
	}
}
