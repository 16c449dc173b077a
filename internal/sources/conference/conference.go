// Package conference scrapes open conference-proceedings pages for PDF
// links. Unlike the API-backed adapters it has no search endpoint, so it
// crawls each configured listing page and keeps links whose anchor text
// matches the keyword policy.
package conference

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/sources"
)

// Config controls collector behavior.
type Config struct {
	PageURLs  []string
	UserAgent string
	Timeout   time.Duration
}

// Source implements corpus.Source over proceedings listing pages.
type Source struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a proceedings scraper.
func New(cfg Config, logger *zap.Logger) *Source {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	// Listing pages are operator-configured, not discovered.
	c.IgnoreRobotsTxt = true
	return &Source{cfg: cfg, baseCollector: c, logger: logger}
}

// Name returns the registry name.
func (s *Source) Name() string { return "conference" }

// Query scrapes one configured page per Next call.
func (s *Source) Query(_ context.Context, _ corpus.Window, policy corpus.KeywordPolicy) (corpus.Cursor, error) {
	if len(s.cfg.PageURLs) == 0 {
		return nil, fmt.Errorf("conference: no proceedings pages configured")
	}
	terms := make([]string, len(policy.Terms))
	for i, t := range policy.Terms {
		terms[i] = strings.ToLower(t)
	}

	idx := 0
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		for idx < len(s.cfg.PageURLs) {
			pageURL := s.cfg.PageURLs[idx]
			idx++
			out, err := s.scrapePage(ctx, pageURL, terms)
			if err != nil {
				return nil, err
			}
			if len(out) > 0 {
				return out, nil
			}
		}
		return nil, nil
	}), nil
}

func (s *Source) scrapePage(ctx context.Context, pageURL string, terms []string) ([]corpus.Candidate, error) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)

	var (
		out       []corpus.Candidate
		seen      = make(map[string]bool)
		scrapeErr error
	)
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if href == "" || !strings.HasSuffix(strings.ToLower(href), ".pdf") || seen[href] {
			return
		}
		title := strings.Join(strings.Fields(e.Text), " ")
		if len(terms) > 0 && !matchesAny(terms, title, href) {
			return
		}
		seen[href] = true
		out = append(out, corpus.Candidate{
			Source:     "conference",
			NativeID:   nativeID(href),
			Title:      title,
			Venue:      e.Request.URL.Host,
			URLGuesses: []string{href},
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			scrapeErr = &corpus.HTTPStatusError{StatusCode: r.StatusCode, URL: pageURL}
			return
		}
		scrapeErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("conference scrape canceled: %w", ctx.Err())
	case err := <-done:
		if scrapeErr != nil {
			return nil, fmt.Errorf("conference scrape %s: %w", pageURL, scrapeErr)
		}
		if err != nil {
			return nil, fmt.Errorf("conference visit %s: %w", pageURL, err)
		}
	}
	s.logger.Debug("conference page scraped", zap.String("url", pageURL), zap.Int("pdfs", len(out)))
	return out, nil
}

func matchesAny(terms []string, fields ...string) bool {
	for _, f := range fields {
		f = strings.ToLower(f)
		for _, term := range terms {
			if strings.Contains(f, term) {
				return true
			}
		}
	}
	return false
}

// nativeID derives a stable identifier from the PDF path.
func nativeID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return u.Host + "/" + strings.TrimPrefix(path.Clean(u.Path), "/")
}
