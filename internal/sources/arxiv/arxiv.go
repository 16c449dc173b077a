// Package arxiv queries the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/xml"
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
	defaultBaseURL = "http://export.arxiv.org/api"
	pageSize       = 100
)

// Config parameterizes the adapter.
type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// Source implements corpus.Source for arXiv.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an arXiv adapter.
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
func (s *Source) Name() string { return "arxiv" }

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href string `xml:"href,attr"`
		Type string `xml:"type,attr"`
	} `xml:"link"`
	DOI string `xml:"doi"`
}

// Query searches quantitative-biology listings for the policy terms and pages
// through the Atom feed.
func (s *Source) Query(_ context.Context, window corpus.Window, policy corpus.KeywordPolicy) (corpus.Cursor, error) {
	if len(policy.Terms) == 0 {
		return nil, fmt.Errorf("arxiv: keyword policy has no terms")
	}
	var clauses []string
	for _, term := range policy.Terms {
		clauses = append(clauses, fmt.Sprintf("all:%q", term))
	}
	searchQuery := fmt.Sprintf("cat:q-bio* AND (%s) AND submittedDate:[%s TO %s]",
		strings.Join(clauses, " OR "),
		window.Start.Format("200601021504"), window.End.Format("200601021504"))

	start := 0
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		if start < 0 {
			return nil, nil
		}
		params := url.Values{
			"search_query": {searchQuery},
			"start":        {fmt.Sprint(start)},
			"max_results":  {fmt.Sprint(pageSize)},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/query?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("arxiv request: %w", err)
		}
		if s.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", s.cfg.UserAgent)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("arxiv query: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
		}

		var feed atomFeed
		if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
			return nil, fmt.Errorf("arxiv decode: %w", err)
		}

		out := make([]corpus.Candidate, 0, len(feed.Entries))
		for _, entry := range feed.Entries {
			cand := corpus.Candidate{
				Source:   "arxiv",
				NativeID: arxivID(entry.ID),
				DOI:      entry.DOI,
				Title:    strings.Join(strings.Fields(entry.Title), " "),
				Venue:    "arXiv",
			}
			for _, a := range entry.Authors {
				cand.Authors = append(cand.Authors, a.Name)
			}
			for _, link := range entry.Links {
				if link.Type == "application/pdf" && link.Href != "" {
					cand.URLGuesses = append(cand.URLGuesses, link.Href)
				}
			}
			if published, err := time.Parse(time.RFC3339, entry.Published); err == nil {
				cand.Published = published
			}
			out = append(out, cand)
		}

		if len(feed.Entries) < pageSize {
			start = -1
		} else {
			start += pageSize
		}
		s.logger.Debug("arxiv page", zap.Int("results", len(out)))
		return out, nil
	}), nil
}

// arxivID strips the abs URL prefix from an Atom entry id.
func arxivID(id string) string {
	if idx := strings.LastIndex(id, "/abs/"); idx >= 0 {
		return id[idx+len("/abs/"):]
	}
	return id
}
