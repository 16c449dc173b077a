// Package fetcher downloads candidate PDFs, walking each candidate's URL
// guesses in order.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/metrics"
	"github.com/vetcorpus/crawler/internal/ratelimit"
)

var pdfMagic = []byte("%PDF")

// Config controls download behavior.
type Config struct {
	UserAgent string
	// PerAttemptTimeout bounds one URL try, including retries' individual
	// requests.
	PerAttemptTimeout time.Duration
	// MaxBodyBytes caps a single download. Zero means no cap.
	MaxBodyBytes int64
	Client       *http.Client
}

// Fetcher retrieves raw document bytes for resolved candidates.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	retry   *corpus.ExponentialRetryPolicy
	logger  *zap.Logger
}

// New builds a Fetcher. The limiter may be nil for unthrottled use in tests.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Fetcher {
	if cfg.PerAttemptTimeout <= 0 {
		cfg.PerAttemptTimeout = 60 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		retry:   corpus.NewExponentialRetryPolicy(),
		logger:  logger,
	}
}

// Fetch tries each URL in order and returns the first PDF payload. When
// every URL fails the error is a *corpus.FetchFailure carrying the per-URL
// attempt log.
func (f *Fetcher) Fetch(ctx context.Context, cand corpus.Candidate, urls []string) ([]byte, string, error) {
	failure := &corpus.FetchFailure{Candidate: cand}
	if len(urls) == 0 {
		return nil, "", failure
	}
	for _, u := range urls {
		data, err := f.fetchURL(ctx, cand.Source, u)
		if err == nil {
			return data, u, nil
		}
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", cand.Key(), ctx.Err())
		}
		f.logger.Debug("download url failed",
			zap.String("candidate", cand.Key()),
			zap.String("url", u),
			zap.Error(err),
		)
		failure.Attempts = append(failure.Attempts, corpus.URLAttempt{URL: u, Err: err})
	}
	return nil, "", failure
}

// fetchURL downloads one URL, retrying transient errors per the policy.
func (f *Fetcher) fetchURL(ctx context.Context, source, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, source); err != nil {
				return nil, err
			}
		}
		data, err := f.doRequest(ctx, source, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !f.retry.ShouldRetry(err, attempt+1) {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.retry.Backoff(attempt)):
		}
	}
}

func (f *Fetcher) doRequest(ctx context.Context, source, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.PerAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf,*/*")
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	reader := io.Reader(resp.Body)
	if f.cfg.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.cfg.MaxBodyBytes > 0 && int64(len(data)) > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d byte cap", f.cfg.MaxBodyBytes)
	}
	metrics.ObserveFetchDuration(source, time.Since(start))

	if !looksLikePDF(resp.Header.Get("Content-Type"), data) {
		return nil, fmt.Errorf("not a pdf: content-type %q", resp.Header.Get("Content-Type"))
	}
	return data, nil
}

// looksLikePDF accepts a declared PDF content type or the %PDF magic. Some
// publishers serve PDFs as octet-stream, so the sniff is authoritative.
func looksLikePDF(contentType string, data []byte) bool {
	if bytes.HasPrefix(data, pdfMagic) {
		return true
	}
	return strings.Contains(strings.ToLower(contentType), "application/pdf")
}
