package unpaywall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	defaultWorksURL = "https://api.crossref.org/works"
	worksPageSize   = 200
)

// SourceConfig parameterizes standalone open-access discovery.
type SourceConfig struct {
	// ISSNs is the journal list to sweep. The journals carry the topical
	// scope, so the keyword policy is not applied here.
	ISSNs     []string
	WorksURL  string
	UserAgent string
}

// Source implements corpus.Source. It walks the journal ISSN list, pulls
// the window's DOIs from CrossRef, and keeps the works Unpaywall reports
// as open access.
type Source struct {
	client *Client
	cfg    SourceConfig
	logger *zap.Logger
}

// NewSource builds the discovery source around an Unpaywall client.
func NewSource(cfg Config, src SourceConfig, logger *zap.Logger) (*Source, error) {
	client, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(src.ISSNs) == 0 {
		return nil, fmt.Errorf("unpaywall: issn list is required")
	}
	if src.WorksURL == "" {
		src.WorksURL = defaultWorksURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{client: client, cfg: src, logger: logger}, nil
}

// Name returns the registry name.
func (s *Source) Name() string { return "unpaywall" }

// Query yields one journal's open-access works per Next call.
func (s *Source) Query(_ context.Context, window corpus.Window, _ corpus.KeywordPolicy) (corpus.Cursor, error) {
	issnIdx := 0
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		for issnIdx < len(s.cfg.ISSNs) {
			issn := s.cfg.ISSNs[issnIdx]
			issnIdx++
			page, err := s.journalPage(ctx, issn, window)
			if err != nil {
				return nil, err
			}
			if len(page) > 0 {
				return page, nil
			}
		}
		return nil, nil
	}), nil
}

func (s *Source) journalPage(ctx context.Context, issn string, window corpus.Window) ([]corpus.Candidate, error) {
	dois, err := s.recentDOIs(ctx, issn, window)
	if err != nil {
		return nil, fmt.Errorf("unpaywall issn %s: %w", issn, err)
	}

	var out []corpus.Candidate
	for _, doi := range dois {
		w, err := s.client.lookup(ctx, doi)
		if err != nil {
			return nil, fmt.Errorf("unpaywall issn %s: %w", issn, err)
		}
		if w == nil || !w.IsOA {
			continue
		}
		cand, ok := candidateFromWork(w)
		if ok {
			out = append(out, cand)
		}
	}
	s.logger.Debug("journal sweep",
		zap.String("issn", issn),
		zap.Int("dois", len(dois)),
		zap.Int("open_access", len(out)),
	)
	return out, nil
}

// recentDOIs asks CrossRef for the journal's DOIs published in the window.
// Unpaywall has no journal search of its own.
func (s *Source) recentDOIs(ctx context.Context, issn string, window corpus.Window) ([]string, error) {
	filter := fmt.Sprintf("issn:%s,from-pub-date:%s,until-pub-date:%s",
		issn, window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))
	params := url.Values{
		"filter": {filter},
		"rows":   {strconv.Itoa(worksPageSize)},
		"mailto": {s.client.cfg.Email},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.WorksURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build works request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("works lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: s.cfg.WorksURL}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("works read: %w", err)
	}

	var decoded struct {
		Message struct {
			Items []struct {
				DOI string `json:"DOI"`
			} `json:"items"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("works decode: %w", err)
	}
	var dois []string
	for _, item := range decoded.Message.Items {
		if item.DOI != "" {
			dois = append(dois, item.DOI)
		}
	}
	return dois, nil
}

func candidateFromWork(w *work) (corpus.Candidate, bool) {
	best := w.BestOALocation.best()
	if best == "" {
		return corpus.Candidate{}, false
	}
	cand := corpus.Candidate{
		Source:     "unpaywall",
		NativeID:   corpus.NormalizeDOI(w.DOI),
		DOI:        w.DOI,
		Title:      w.Title,
		Venue:      w.JournalName,
		URLGuesses: []string{best},
	}
	if published, err := time.Parse("2006-01-02", w.PublishedDate); err == nil {
		cand.Published = published
	}
	for _, author := range w.Authors {
		name := strings.TrimSpace(author.Given + " " + author.Family)
		if name != "" {
			cand.Authors = append(cand.Authors, name)
		}
	}
	return cand, true
}
