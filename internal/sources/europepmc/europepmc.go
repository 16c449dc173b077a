// Package europepmc queries the Europe PMC REST search API.
package europepmc

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
	defaultBaseURL = "https://www.ebi.ac.uk/europepmc/webservices/rest"
	pageSize       = 100
)

// Config parameterizes the adapter.
type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// Source implements corpus.Source for Europe PMC.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Europe PMC adapter.
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
func (s *Source) Name() string { return "europepmc" }

type searchResponse struct {
	NextCursorMark string `json:"nextCursorMark"`
	ResultList     struct {
		Result []struct {
			ID       string `json:"id"`
			PMCID    string `json:"pmcid"`
			DOI      string `json:"doi"`
			Title    string `json:"title"`
			Author   string `json:"authorString"`
			Journal  string `json:"journalTitle"`
			PubYear  string `json:"pubYear"`
			IsOA     string `json:"isOpenAccess"`
			FullText struct {
				URL []struct {
					DocumentStyle string `json:"documentStyle"`
					URL           string `json:"url"`
				} `json:"fullTextUrl"`
			} `json:"fullTextUrlList"`
		} `json:"result"`
	} `json:"resultList"`
}

// Query pages through results with cursorMark pagination. The cursor is
// exhausted when the service repeats the cursor mark or returns no results.
func (s *Source) Query(_ context.Context, window corpus.Window, policy corpus.KeywordPolicy) (corpus.Cursor, error) {
	var subjects []string
	for _, term := range policy.Terms {
		subjects = append(subjects, fmt.Sprintf("SUBJECT:%q", term))
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("europepmc: keyword policy has no terms")
	}
	query := fmt.Sprintf("(%s) AND UPDATE_DATE:[%s TO %s]",
		strings.Join(subjects, " OR "),
		window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))

	cursorMark := "*"
	exhausted := false
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		if exhausted {
			return nil, nil
		}
		params := url.Values{
			"query":      {query},
			"format":     {"json"},
			"pageSize":   {fmt.Sprint(pageSize)},
			"cursorMark": {cursorMark},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/search?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("europepmc request: %w", err)
		}
		if s.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", s.cfg.UserAgent)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("europepmc search: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
		}

		var decoded searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("europepmc decode: %w", err)
		}

		out := make([]corpus.Candidate, 0, len(decoded.ResultList.Result))
		for _, r := range decoded.ResultList.Result {
			cand := corpus.Candidate{
				Source:   "europepmc",
				NativeID: r.ID,
				DOI:      r.DOI,
				PMCID:    r.PMCID,
				Title:    r.Title,
				Venue:    r.Journal,
			}
			if r.Author != "" {
				cand.Authors = splitAuthorString(r.Author)
			}
			for _, u := range r.FullText.URL {
				if u.DocumentStyle == "pdf" {
					cand.URLGuesses = append(cand.URLGuesses, u.URL)
				}
			}
			out = append(out, cand)
		}

		// A repeated or absent cursor mark means the service has no further
		// pages; yield whatever came back and stop.
		if decoded.NextCursorMark == "" || decoded.NextCursorMark == cursorMark {
			exhausted = true
		} else {
			cursorMark = decoded.NextCursorMark
		}
		s.logger.Debug("europepmc page", zap.Int("results", len(out)), zap.String("cursor", cursorMark))
		return out, nil
	}), nil
}

// splitAuthorString splits Europe PMC's "A, B, C." author string.
func splitAuthorString(s string) []string {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
