// Package corpus defines core types shared across the acquisition pipeline.
package corpus

import (
	"strings"
	"time"
)

// Window bounds a crawl to a publication/update date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// KeywordPolicy carries the search vocabulary a sweep targets. Each adapter
// translates it into its own query syntax (MeSH terms, SUBJECT fields, ...).
type KeywordPolicy struct {
	Terms []string `json:"terms"`
}

// Candidate is a document discovered from a source, prior to binary retrieval.
type Candidate struct {
	Source    string    `json:"source"`
	NativeID  string    `json:"native_id"`
	DOI       string    `json:"doi,omitempty"`
	PMCID     string    `json:"pmc_id,omitempty"`
	Title     string    `json:"title"`
	Abstract  string    `json:"abstract,omitempty"`
	Authors   []string  `json:"authors,omitempty"`
	Venue     string    `json:"venue,omitempty"`
	Published time.Time `json:"published,omitempty"`
	// Subjects carries source-side topic vocabulary (MeSH descriptors,
	// author keywords) used for downstream filtering.
	Subjects []string `json:"subjects,omitempty"`
	// URLGuesses is the ordered list of plausible content URLs, most likely
	// to succeed first. Adapters seed it; the resolver expands it.
	URLGuesses []string `json:"url_guesses,omitempty"`
}

// Key returns the deduplication identity: normalized DOI when present,
// otherwise source plus native ID.
func (c Candidate) Key() string {
	if doi := NormalizeDOI(c.DOI); doi != "" {
		return "doi:" + doi
	}
	return c.Source + ":" + c.NativeID
}

// NormalizeDOI lowercases a DOI and strips resolver URL prefixes.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(strings.ToLower(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return doi
}

// RawDocument describes stored raw bytes. Immutable once created.
type RawDocument struct {
	Hash        string    `json:"hash"`
	ByteLen     int64     `json:"byte_len"`
	Source      string    `json:"source"`
	Origin      Candidate `json:"origin"`
	OriginURL   string    `json:"origin_url"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Section is one heading plus its paragraphs in extraction order.
type Section struct {
	Heading    string   `json:"heading"`
	Paragraphs []string `json:"paragraphs"`
}

// Reference is one bibliographic entry.
type Reference struct {
	Title   string   `json:"title,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Venue   string   `json:"venue,omitempty"`
	Year    string   `json:"year,omitempty"`
}

// ExtractionMethod identifies which strategy produced a structured record.
type ExtractionMethod string

const (
	MethodGrobid       ExtractionMethod = "grobid"
	MethodPDFSectioned ExtractionMethod = "pdf-sectioned"
	MethodPDFPlain     ExtractionMethod = "pdf-plain"
	MethodNone         ExtractionMethod = "none"
)

// StructuredDocument is the structured record for one RawDocument.
// Re-extraction overwrites the prior record for the same hash.
type StructuredDocument struct {
	Hash        string           `json:"hash"`
	Title       string           `json:"title,omitempty"`
	Abstract    string           `json:"abstract,omitempty"`
	Authors     []string         `json:"authors,omitempty"`
	Sections    []Section        `json:"sections,omitempty"`
	References  []Reference      `json:"references,omitempty"`
	Method      ExtractionMethod `json:"method"`
	ByteLen     int64            `json:"byte_len"`
	ExtractedAt time.Time        `json:"extracted_at"`
}

// AttemptOutcome classifies one crawl/fetch attempt against a source.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeError   AttemptOutcome = "error"
)

// SourceHealth tracks per-source crawl history. Updated in place, never deleted.
type SourceHealth struct {
	Source          string     `json:"source"`
	Enabled         bool       `json:"enabled"`
	LastCrawl       time.Time  `json:"last_crawl,omitempty"`
	LastSuccess     time.Time  `json:"last_success,omitempty"`
	ErrorCount      int64      `json:"error_count"`
	RemainingBudget *float64   `json:"remaining_budget,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	DegradedSince   *time.Time `json:"degraded_since,omitempty"`
}

// Degraded reports whether the source's last attempt failed.
func (h SourceHealth) Degraded() bool {
	return h.DegradedSince != nil
}

// CatalogEntry records one stored object in the document catalog.
type CatalogEntry struct {
	Hash       string
	Source     string
	Kind       string // "raw" or "structured"
	RecordedAt time.Time
}

// CorpusStats is a derived snapshot over the stored corpus.
type CorpusStats struct {
	TotalDocuments  int64            `json:"total_documents"`
	BySource        map[string]int64 `json:"by_source"`
	Structured      int64            `json:"structured"`
	RawOnly         int64            `json:"raw_only"`
	ExtractionNone  int64            `json:"extraction_unavailable"`
	BytesStored     int64            `json:"bytes_stored"`
	AcquiredLast24h int64            `json:"acquired_last_24h"`
	AcquiredLast7d  int64            `json:"acquired_last_7d"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
