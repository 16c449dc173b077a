// Package doaj queries the Directory of Open Access Journals article API.
package doaj

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/sources"
)

const (
	defaultBaseURL = "https://doaj.org/api"
	pageSize       = 100
	// The API is unauthenticated; cap the walk rather than paging forever.
	maxPages = 10
)

// Config parameterizes the adapter.
type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// Source implements corpus.Source for DOAJ.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a DOAJ adapter.
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
func (s *Source) Name() string { return "doaj" }

type searchResponse struct {
	Total   int `json:"total"`
	Results []struct {
		ID      string `json:"id"`
		BibJSON struct {
			Title   string `json:"title"`
			Year    string `json:"year"`
			Journal struct {
				Title string `json:"title"`
			} `json:"journal"`
			Author []struct {
				Name string `json:"name"`
			} `json:"author"`
			Identifier []struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			} `json:"identifier"`
			Link []struct {
				Type string `json:"type"`
				URL  string `json:"url"`
			} `json:"link"`
		} `json:"bibjson"`
	} `json:"results"`
}

// Query pages through article search results.
func (s *Source) Query(_ context.Context, window corpus.Window, policy corpus.KeywordPolicy) (corpus.Cursor, error) {
	var clauses []string
	for _, term := range policy.Terms {
		clauses = append(clauses, "bibjson.keywords:"+quoteIfSpaced(term))
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("doaj: keyword policy has no terms")
	}
	query := strings.Join(clauses, " OR ")

	page := 1
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		if page > maxPages {
			return nil, nil
		}
		params := url.Values{
			"pageSize": {fmt.Sprint(pageSize)},
			"page":     {fmt.Sprint(page)},
		}
		endpoint := fmt.Sprintf("%s/search/articles/%s?%s", s.cfg.BaseURL, url.PathEscape(query), params.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("doaj request: %w", err)
		}
		if s.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", s.cfg.UserAgent)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("doaj search: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint}
		}

		var decoded searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("doaj decode: %w", err)
		}

		out := make([]corpus.Candidate, 0, len(decoded.Results))
		for _, r := range decoded.Results {
			cand := corpus.Candidate{
				Source:   "doaj",
				NativeID: r.ID,
				Title:    r.BibJSON.Title,
				Venue:    r.BibJSON.Journal.Title,
			}
			for _, a := range r.BibJSON.Author {
				cand.Authors = append(cand.Authors, a.Name)
			}
			for _, ident := range r.BibJSON.Identifier {
				if strings.EqualFold(ident.Type, "doi") {
					cand.DOI = ident.ID
				}
			}
			for _, link := range r.BibJSON.Link {
				if link.Type == "fulltext" && link.URL != "" {
					cand.URLGuesses = append(cand.URLGuesses, link.URL)
				}
			}
			if year, err := strconv.Atoi(r.BibJSON.Year); err == nil {
				cand.Published = time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
			}
			out = append(out, cand)
		}
		s.logger.Debug("doaj page", zap.Int("page", page), zap.Int("results", len(out)))
		page++
		return out, nil
	}), nil
}

func quoteIfSpaced(term string) string {
	if strings.ContainsRune(term, ' ') {
		return fmt.Sprintf("%q", term)
	}
	return term
}
