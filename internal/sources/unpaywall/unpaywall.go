// Package unpaywall resolves DOIs to open-access PDF locations.
package unpaywall

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
)

const defaultBaseURL = "https://api.unpaywall.org/v2"

// Config parameterizes the client. Email is mandatory; the API refuses
// anonymous callers.
type Config struct {
	BaseURL string
	Email   string
	Client  *http.Client
}

// Client looks up the best open-access location for a DOI.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Unpaywall client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("unpaywall: contact email is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, client: cfg.Client, logger: logger}, nil
}

type oaLocation struct {
	URLForPDF string `json:"url_for_pdf"`
	URL       string `json:"url"`
}

func (l *oaLocation) best() string {
	if l == nil {
		return ""
	}
	if l.URLForPDF != "" {
		return l.URLForPDF
	}
	return l.URL
}

type work struct {
	DOI            string      `json:"doi"`
	IsOA           bool        `json:"is_oa"`
	Title          string      `json:"title"`
	JournalName    string      `json:"journal_name"`
	PublishedDate  string      `json:"published_date"`
	BestOALocation *oaLocation `json:"best_oa_location"`
	Authors        []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"z_authors"`
}

// lookup fetches one work record. A nil work with a nil error means the DOI
// is unknown to Unpaywall.
func (c *Client) lookup(ctx context.Context, doi string) (*work, error) {
	doi = corpus.NormalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("unpaywall: empty doi")
	}
	endpoint := fmt.Sprintf("%s/%s?email=%s", c.cfg.BaseURL, url.PathEscape(doi), url.QueryEscape(c.cfg.Email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("unpaywall request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unpaywall lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	var decoded work
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("unpaywall decode: %w", err)
	}
	return &decoded, nil
}

// BestOAURL returns the best open-access PDF URL for the DOI, or "" when
// the work has no known open location. Unknown DOIs are not an error.
func (c *Client) BestOAURL(ctx context.Context, doi string) (string, error) {
	w, err := c.lookup(ctx, doi)
	if err != nil {
		return "", err
	}
	if w == nil {
		return "", nil
	}
	return w.BestOALocation.best(), nil
}
