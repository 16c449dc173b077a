// Package biorxiv queries the bioRxiv/medRxiv details API.
//
// The details API has no search parameter, so the adapter walks every
// preprint posted in the window and keeps those whose title or category
// matches the keyword policy.
package biorxiv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/sources"
)

const (
	defaultBaseURL = "https://api.biorxiv.org"
	pageSize       = 100
)

// Config parameterizes the adapter.
type Config struct {
	BaseURL   string
	Servers   []string
	UserAgent string
	Client    *http.Client
}

// Source implements corpus.Source for bioRxiv and medRxiv.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a bioRxiv adapter.
func New(cfg Config, logger *zap.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Servers) == 0 {
		// Veterinary preprints land on both servers.
		cfg.Servers = []string{"biorxiv", "medrxiv"}
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
func (s *Source) Name() string { return "biorxiv" }

type detailsResponse struct {
	Collection []struct {
		DOI      string `json:"doi"`
		Title    string `json:"title"`
		Authors  string `json:"authors"`
		Date     string `json:"date"`
		Category string `json:"category"`
		Server   string `json:"server"`
	} `json:"collection"`
}

// Query walks the posting window on each configured server, one API page
// per Next call.
func (s *Source) Query(_ context.Context, window corpus.Window, policy corpus.KeywordPolicy) (corpus.Cursor, error) {
	if len(policy.Terms) == 0 {
		return nil, fmt.Errorf("biorxiv: keyword policy has no terms")
	}
	terms := make([]string, len(policy.Terms))
	for i, t := range policy.Terms {
		terms[i] = strings.ToLower(t)
	}

	interval := window.Start.Format("2006-01-02") + "/" + window.End.Format("2006-01-02")
	serverIdx, offset := 0, 0
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		for serverIdx < len(s.cfg.Servers) {
			server := s.cfg.Servers[serverIdx]
			endpoint := fmt.Sprintf("%s/details/%s/%s/%d", s.cfg.BaseURL, server, interval, offset)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("biorxiv request: %w", err)
			}
			if s.cfg.UserAgent != "" {
				req.Header.Set("User-Agent", s.cfg.UserAgent)
			}
			resp, err := s.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("biorxiv details: %w", err)
			}
			var decoded detailsResponse
			err = json.NewDecoder(resp.Body).Decode(&decoded)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint}
			}
			if err != nil {
				return nil, fmt.Errorf("biorxiv decode: %w", err)
			}

			if len(decoded.Collection) < pageSize {
				serverIdx++
				offset = 0
			} else {
				offset += pageSize
			}

			var out []corpus.Candidate
			for _, item := range decoded.Collection {
				if !matchesAny(terms, item.Title, item.Category) {
					continue
				}
				cand := corpus.Candidate{
					Source:   "biorxiv",
					NativeID: item.DOI,
					DOI:      item.DOI,
					Title:    item.Title,
					Venue:    item.Server,
					URLGuesses: []string{
						fmt.Sprintf("https://www.biorxiv.org/content/%s.full.pdf", item.DOI),
					},
				}
				for _, a := range strings.Split(item.Authors, ";") {
					if a = strings.TrimSpace(a); a != "" {
						cand.Authors = append(cand.Authors, a)
					}
				}
				if posted, err := time.Parse("2006-01-02", item.Date); err == nil {
					cand.Published = posted
				}
				out = append(out, cand)
			}
			s.logger.Debug("biorxiv page",
				zap.String("server", server),
				zap.Int("scanned", len(decoded.Collection)),
				zap.Int("matched", len(out)),
			)
			// Whole pages can miss the policy; keep walking until one hits
			// or the servers are exhausted.
			if len(out) > 0 {
				return out, nil
			}
		}
		return nil, nil
	}), nil
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
