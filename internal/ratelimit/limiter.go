// Package ratelimit implements per-source token bucket rate control.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vetcorpus/crawler/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS applies to sources without an explicit budget.
	DefaultRPS   float64
	DefaultBurst int
	// SourceRPS overrides the default for named sources.
	SourceRPS map[string]float64
}

// Limiter manages per-source rate limits. The Fetcher blocks on Wait rather
// than exceeding a source's budget.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	sourceRPS    map[string]float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		sourceRPS:    cfg.SourceRPS,
	}
}

// Wait blocks until a token is available for the source, respecting the context.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	limiter := l.limiterFor(source)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", source, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(source, waited)
	}
	return nil
}

// Remaining estimates the tokens currently available for the source. Returns
// nil for sources with an unbounded budget.
func (l *Limiter) Remaining(source string) *float64 {
	limiter := l.limiterFor(source)
	if limiter.Limit() == rate.Inf {
		return nil
	}
	tokens := limiter.Tokens()
	if tokens < 0 {
		tokens = 0
	}
	return &tokens
}

func (l *Limiter) limiterFor(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[source]
	if !ok {
		r := l.defaultRate
		if rps, override := l.sourceRPS[source]; override && rps > 0 {
			r = rate.Limit(rps)
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[source] = limiter
	}
	return limiter
}
