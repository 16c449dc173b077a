// Package ivis scrapes the IVIS members library, which sits behind a
// form login with a CSRF token.
package ivis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/sources"
)

const csrfField = "csrfmiddlewaretoken"

// Config parameterizes the adapter. LibraryPaths are the listing pages to
// scrape once authenticated. When UseHeadless is set the login runs in a
// headless browser and the session cookies are transferred to the HTTP
// client; some deployments reject plain form posts.
type Config struct {
	BaseURL      string
	Username     string
	Password     string
	LibraryPaths []string
	UserAgent    string
	UseHeadless  bool
	Client       *http.Client
}

// Source implements corpus.Source for the IVIS library.
type Source struct {
	cfg      Config
	client   *http.Client
	headless *browserLogin
	logger   *zap.Logger

	loggedIn bool
}

// New builds an IVIS adapter. The client always carries a cookie jar; the
// session lives in cookies.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.ivis.org"
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("ivis: username and password are required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("ivis cookie jar: %w", err)
		}
		client.Jar = jar
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{cfg: cfg, client: client, logger: logger}
	if cfg.UseHeadless {
		s.headless = newBrowserLogin(cfg)
	}
	return s, nil
}

// Name returns the registry name.
func (s *Source) Name() string { return "ivis" }

// Close releases the headless browser allocator, if one was started.
func (s *Source) Close() {
	if s.headless != nil {
		s.headless.Close()
	}
}

// Query scrapes one library listing page per Next call. An expired session
// is re-authenticated once per page before the error is surfaced.
func (s *Source) Query(_ context.Context, _ corpus.Window, policy corpus.KeywordPolicy) (corpus.Cursor, error) {
	if len(s.cfg.LibraryPaths) == 0 {
		return nil, fmt.Errorf("ivis: no library paths configured")
	}
	terms := make([]string, len(policy.Terms))
	for i, t := range policy.Terms {
		terms[i] = strings.ToLower(t)
	}

	idx := 0
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		for idx < len(s.cfg.LibraryPaths) {
			pagePath := s.cfg.LibraryPaths[idx]
			idx++
			out, err := s.scrapeListing(ctx, pagePath, terms)
			if errors.Is(err, corpus.ErrSessionExpired) {
				s.loggedIn = false
				if err = s.ensureSession(ctx); err != nil {
					return nil, err
				}
				out, err = s.scrapeListing(ctx, pagePath, terms)
			}
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

func (s *Source) ensureSession(ctx context.Context) error {
	if s.loggedIn {
		return nil
	}
	var err error
	if s.headless != nil {
		err = s.loginHeadless(ctx)
	} else {
		err = s.loginForm(ctx)
	}
	if err != nil {
		return err
	}
	s.loggedIn = true
	return nil
}

// loginForm performs the plain two-step form login: fetch the login page
// for its CSRF token, then post the credentials.
func (s *Source) loginForm(ctx context.Context) error {
	loginURL := s.cfg.BaseURL + "/login"
	doc, _, err := s.getDocument(ctx, loginURL)
	if err != nil {
		return fmt.Errorf("ivis login page: %w", err)
	}
	token, ok := doc.Find("input[name=" + csrfField + "]").Attr("value")
	if !ok || token == "" {
		return fmt.Errorf("ivis login page: no csrf token")
	}

	form := url.Values{
		csrfField:  {token},
		"username": {s.cfg.Username},
		"password": {s.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("ivis login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ivis login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusFound {
		return &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: loginURL}
	}

	loggedInDoc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("ivis login response: %w", err)
	}
	if isLoginPage(loggedInDoc) {
		return fmt.Errorf("ivis login rejected for %s", s.cfg.Username)
	}
	s.logger.Info("ivis session established", zap.String("mode", "form"))
	return nil
}

// loginHeadless drives the login in a browser and copies the resulting
// session cookies into the HTTP client's jar.
func (s *Source) loginHeadless(ctx context.Context) error {
	cookies, err := s.headless.Login(ctx)
	if err != nil {
		return fmt.Errorf("ivis headless login: %w", err)
	}
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("ivis base url: %w", err)
	}
	s.client.Jar.SetCookies(base, cookies)
	s.logger.Info("ivis session established",
		zap.String("mode", "headless"),
		zap.Int("cookies", len(cookies)),
	)
	return nil
}

func (s *Source) scrapeListing(ctx context.Context, pagePath string, terms []string) ([]corpus.Candidate, error) {
	if err := s.ensureSession(ctx); err != nil {
		return nil, err
	}
	pageURL := s.cfg.BaseURL + pagePath
	doc, finalURL, err := s.getDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if isLoginPage(doc) {
		return nil, corpus.ErrSessionExpired
	}

	var out []corpus.Candidate
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.Contains(href, "/docs/") && !strings.HasSuffix(strings.ToLower(href), ".pdf") {
			return
		}
		abs := resolveURL(finalURL, href)
		if abs == "" || seen[abs] {
			return
		}
		title := strings.Join(strings.Fields(sel.Text()), " ")
		if len(terms) > 0 && !matchesAny(terms, title, abs) {
			return
		}
		seen[abs] = true
		out = append(out, corpus.Candidate{
			Source:     "ivis",
			NativeID:   strings.TrimPrefix(abs, s.cfg.BaseURL),
			Title:      title,
			Venue:      "IVIS",
			URLGuesses: []string{abs},
		})
	})
	s.logger.Debug("ivis listing scraped", zap.String("path", pagePath), zap.Int("documents", len(out)))
	return out, nil
}

func (s *Source) getDocument(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, resp.Request.URL, nil
}

// isLoginPage reports whether the server answered with the login form,
// which it does for any member page once the session expires.
func isLoginPage(doc *goquery.Document) bool {
	return doc.Find("input[name="+csrfField+"]").Length() > 0 &&
		doc.Find("input[name=password]").Length() > 0
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
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
