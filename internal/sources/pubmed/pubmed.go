// Package pubmed queries PubMed/PMC through the NCBI E-utilities.
package pubmed

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

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/sources"
)

const (
	defaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	// efetch accepts up to a few hundred IDs per call; the NCBI guidance is
	// to batch rather than fetch one by one.
	fetchBatchSize = 200
	searchPageSize = 500
)

// Config parameterizes the adapter.
type Config struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Client    *http.Client
}

// Source implements corpus.Source for PubMed.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a PubMed adapter.
func New(cfg Config, logger *zap.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, client: client, logger: logger}
}

// Name returns the registry name.
func (s *Source) Name() string { return "pubmed" }

// Query searches each policy term over the window and pages through efetch
// metadata batches. The cursor runs esearch pages lazily and yields one
// efetch batch per Next call.
func (s *Source) Query(_ context.Context, window corpus.Window, policy corpus.KeywordPolicy) (corpus.Cursor, error) {
	terms := searchTerms(policy)
	if len(terms) == 0 {
		return nil, fmt.Errorf("pubmed: keyword policy has no terms")
	}

	dateClause := fmt.Sprintf("%s:%s[PDAT]",
		window.Start.Format("2006/01/02"), window.End.Format("2006/01/02"))

	state := &cursorState{terms: terms, dateClause: dateClause, seen: make(map[string]bool)}
	return sources.NewCursor(func(ctx context.Context) ([]corpus.Candidate, error) {
		return s.nextPage(ctx, state)
	}), nil
}

type cursorState struct {
	terms      []string
	dateClause string
	termIdx    int
	retStart   int
	pending    []string
	seen       map[string]bool
}

func (s *Source) nextPage(ctx context.Context, st *cursorState) ([]corpus.Candidate, error) {
	for len(st.pending) == 0 && st.termIdx < len(st.terms) {
		ids, err := s.search(ctx, st.terms[st.termIdx], st.dateClause, st.retStart)
		if err != nil {
			return nil, err
		}
		if len(ids) < searchPageSize {
			st.termIdx++
			st.retStart = 0
		} else {
			st.retStart += searchPageSize
		}
		for _, id := range ids {
			if !st.seen[id] {
				st.seen[id] = true
				st.pending = append(st.pending, id)
			}
		}
	}
	if len(st.pending) == 0 {
		return nil, nil
	}

	batch := st.pending
	if len(batch) > fetchBatchSize {
		batch = batch[:fetchBatchSize]
	}
	st.pending = st.pending[len(batch):]
	return s.fetchMetadata(ctx, batch)
}

func (s *Source) search(ctx context.Context, term, dateClause string, retStart int) ([]string, error) {
	params := url.Values{
		"db":       {"pubmed"},
		"term":     {term + " AND " + dateClause},
		"retmode":  {"json"},
		"retmax":   {strconv.Itoa(searchPageSize)},
		"retstart": {strconv.Itoa(retStart)},
	}
	if s.cfg.APIKey != "" {
		params.Set("api_key", s.cfg.APIKey)
	}

	body, err := s.get(ctx, s.cfg.BaseURL+"/esearch.fcgi?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("pubmed esearch: %w", err)
	}

	var result struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("pubmed esearch decode: %w", err)
	}
	s.logger.Debug("esearch page",
		zap.String("term", term),
		zap.Int("retstart", retStart),
		zap.Int("ids", len(result.ESearchResult.IDList)),
	)
	return result.ESearchResult.IDList, nil
}

func (s *Source) fetchMetadata(ctx context.Context, pmids []string) ([]corpus.Candidate, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"xml"},
	}
	if s.cfg.APIKey != "" {
		params.Set("api_key", s.cfg.APIKey)
	}

	body, err := s.get(ctx, s.cfg.BaseURL+"/efetch.fcgi?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("pubmed efetch: %w", err)
	}

	doc, err := xmlquery.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("pubmed efetch parse: %w", err)
	}

	var out []corpus.Candidate
	for _, article := range xmlquery.Find(doc, "//PubmedArticle") {
		cand, ok := parseArticle(article)
		if ok {
			out = append(out, cand)
		}
	}
	return out, nil
}

func parseArticle(article *xmlquery.Node) (corpus.Candidate, bool) {
	pmidNode := xmlquery.FindOne(article, ".//PMID")
	if pmidNode == nil {
		return corpus.Candidate{}, false
	}
	cand := corpus.Candidate{
		Source:   "pubmed",
		NativeID: strings.TrimSpace(pmidNode.InnerText()),
	}
	if n := xmlquery.FindOne(article, ".//ArticleTitle"); n != nil {
		cand.Title = strings.TrimSpace(n.InnerText())
	}
	if n := xmlquery.FindOne(article, ".//Journal/Title"); n != nil {
		cand.Venue = strings.TrimSpace(n.InnerText())
	}
	var abstractParts []string
	for _, n := range xmlquery.Find(article, ".//Abstract/AbstractText") {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			abstractParts = append(abstractParts, text)
		}
	}
	cand.Abstract = strings.Join(abstractParts, "\n")
	for _, n := range xmlquery.Find(article, ".//MeshHeadingList/MeshHeading/DescriptorName") {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			cand.Subjects = append(cand.Subjects, text)
		}
	}
	for _, n := range xmlquery.Find(article, ".//KeywordList/Keyword") {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			cand.Subjects = append(cand.Subjects, text)
		}
	}
	for _, author := range xmlquery.Find(article, ".//AuthorList/Author") {
		fore := xmlquery.FindOne(author, "ForeName")
		last := xmlquery.FindOne(author, "LastName")
		if fore != nil && last != nil {
			cand.Authors = append(cand.Authors, fore.InnerText()+" "+last.InnerText())
		}
	}
	if n := xmlquery.FindOne(article, ".//PubDate/Year"); n != nil {
		if year, err := strconv.Atoi(strings.TrimSpace(n.InnerText())); err == nil {
			cand.Published = time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		}
	}
	for _, idNode := range xmlquery.Find(article, ".//ArticleIdList/ArticleId") {
		switch idNode.SelectAttr("IdType") {
		case "doi":
			cand.DOI = strings.TrimSpace(idNode.InnerText())
		case "pmc":
			cand.PMCID = strings.TrimSpace(idNode.InnerText())
		}
	}
	if cand.PMCID != "" {
		cand.URLGuesses = append(cand.URLGuesses,
			fmt.Sprintf("https://www.ncbi.nlm.nih.gov/pmc/articles/%s/pdf/", cand.PMCID))
	}
	return cand, true
}

func (s *Source) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	return io.ReadAll(resp.Body)
}

// searchTerms renders the keyword policy into MeSH-qualified query terms.
func searchTerms(policy corpus.KeywordPolicy) []string {
	var out []string
	for _, term := range policy.Terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%q[MeSH Terms]", term))
	}
	return out
}
