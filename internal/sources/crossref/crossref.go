// Package crossref queries the CrossRef works API for journal articles.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/sources"
)

const (
	defaultBaseURL = "https://api.crossref.org"
	pageSize       = 100
)

// Config parameterizes the adapter. ISSNs scope the query to known journals;
// Mailto routes requests into CrossRef's polite pool.
type Config struct {
	BaseURL   string
	ISSNs     []string
	Mailto    string
	UserAgent string
	Client    *http.Client
}

// Source implements corpus.Source for CrossRef.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a CrossRef adapter.
func New(cfg Config, logger *zap.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, client: cfg.Client, logger: logger}
}

// Name returns the registry name.
func (s *Source) Name() string { return "crossref" }

type worksResponse struct {
	Message struct {
		NextCursor string `json:"next-cursor"`
		Items      []struct {
			DOI            string     `json:"DOI"`
			Title          []string   `json:"title"`
			ContainerTitle []string   `json:"container-title"`
			Author         []struct {
				Given  string `json:"given"`
				Family string `json:"family"`
			} `json:"author"`
			Link []struct {
				URL         string `json:"URL"`
				ContentType string `json:"content-type"`
			} `json:"link"`
			Issued struct {
				DateParts [][]int `json:"date-parts"`
			} `json:"issued"`
		} `json:"items"`
	} `json:"message"`
}

// Query walks the works list for the configured ISSNs, restricted to the
// window by indexed date, using CrossRef deep-cursor paging.
func (s *Source) Query(_ context.Context, window corpus.Window, _ corpus.KeywordPolicy) (corpus.Cursor, error) {
	if len(s.cfg.ISSNs) == 0 {
		return nil, fmt.Errorf("crossref: no ISSNs configured")
	}

	filters := []string{
		"from-index-date:" + window.Start.Format("2006-01-02"),
		"until-index-date:" + window.End.Format("2006-01-02"),
	}
	for _, issn := range s.cfg.ISSNs {
		filters = append(filters, "issn:"+issn)
	}

	cursorMark := "*"
	exhausted := false
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		if exhausted {
			return nil, nil
		}
		params := url.Values{
			"filter": {strings.Join(filters, ",")},
			"rows":   {fmt.Sprint(pageSize)},
			"cursor": {cursorMark},
		}
		if s.cfg.Mailto != "" {
			params.Set("mailto", s.cfg.Mailto)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/works?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("crossref request: %w", err)
		}
		if s.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", s.cfg.UserAgent)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("crossref works: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
		}

		var decoded worksResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("crossref decode: %w", err)
		}

		out := make([]corpus.Candidate, 0, len(decoded.Message.Items))
		for _, item := range decoded.Message.Items {
			if item.DOI == "" {
				continue
			}
			cand := corpus.Candidate{
				Source:   "crossref",
				NativeID: item.DOI,
				DOI:      item.DOI,
			}
			if len(item.Title) > 0 {
				cand.Title = item.Title[0]
			}
			if len(item.ContainerTitle) > 0 {
				cand.Venue = item.ContainerTitle[0]
			}
			for _, a := range item.Author {
				name := strings.TrimSpace(a.Given + " " + a.Family)
				if name != "" {
					cand.Authors = append(cand.Authors, name)
				}
			}
			for _, link := range item.Link {
				if link.ContentType == "application/pdf" && link.URL != "" {
					cand.URLGuesses = append(cand.URLGuesses, link.URL)
				}
			}
			if parts := item.Issued.DateParts; len(parts) > 0 && len(parts[0]) > 0 {
				year, month, day := parts[0][0], 1, 1
				if len(parts[0]) > 1 {
					month = parts[0][1]
				}
				if len(parts[0]) > 2 {
					day = parts[0][2]
				}
				cand.Published = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			}
			out = append(out, cand)
		}

		if decoded.Message.NextCursor == "" || decoded.Message.NextCursor == cursorMark {
			exhausted = true
		} else {
			cursorMark = decoded.Message.NextCursor
		}
		s.logger.Debug("crossref page", zap.Int("results", len(out)))
		return out, nil
	}), nil
}
