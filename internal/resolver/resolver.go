// Package resolver deduplicates candidates across sources and expands
// their download URL lists.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// OALookup resolves a DOI to an open-access PDF URL. An empty URL with a
// nil error means no open location is known.
type OALookup interface {
	BestOAURL(ctx context.Context, doi string) (string, error)
}

// DefaultPrecedence orders sources by metadata trust, most trusted first.
var DefaultPrecedence = []string{
	"pubmed", "europepmc", "crossref", "doaj", "biorxiv", "arxiv", "unpaywall", "conference", "ivis",
}

// Config parameterizes the resolver. A nil Lookup disables open-access
// expansion.
type Config struct {
	Precedence []string
	Lookup     OALookup
}

// Resolver merges duplicate candidates and orders their URL guesses.
type Resolver struct {
	rank   map[string]int
	lookup OALookup
	logger *zap.Logger
}

// New builds a resolver. The precedence list is resolved here, once.
func New(cfg Config, logger *zap.Logger) *Resolver {
	precedence := cfg.Precedence
	if len(precedence) == 0 {
		precedence = DefaultPrecedence
	}
	rank := make(map[string]int, len(precedence))
	for i, source := range precedence {
		rank[source] = i
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{rank: rank, lookup: cfg.Lookup, logger: logger}
}

// Dedupe collapses candidates that share an identity. Identity is the
// normalized DOI when present, else (source, native id). Within a group the
// most trusted source wins each metadata field; URL guesses are unioned in
// trust order. Output preserves first-seen group order.
func (r *Resolver) Dedupe(candidates []corpus.Candidate) []corpus.Candidate {
	groups := make(map[string][]corpus.Candidate)
	var order []string
	for _, cand := range candidates {
		key := cand.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], cand)
	}

	out := make([]corpus.Candidate, 0, len(order))
	for _, key := range order {
		merged := r.merge(groups[key])
		if len(groups[key]) > 1 {
			r.logger.Debug("merged duplicate candidates",
				zap.String("key", key),
				zap.Int("sources", len(groups[key])),
			)
		}
		out = append(out, merged)
	}
	return out
}

// merge folds a duplicate group into one candidate, most trusted first.
func (r *Resolver) merge(group []corpus.Candidate) corpus.Candidate {
	sorted := make([]corpus.Candidate, len(group))
	copy(sorted, group)
	// Stable: equal-trust candidates keep discovery order.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && r.trust(sorted[j].Source) < r.trust(sorted[j-1].Source); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	merged := sorted[0]
	seen := make(map[string]bool, len(merged.URLGuesses))
	urls := make([]string, 0, len(merged.URLGuesses))
	for _, u := range merged.URLGuesses {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, cand := range sorted[1:] {
		if merged.DOI == "" {
			merged.DOI = cand.DOI
		}
		if merged.PMCID == "" {
			merged.PMCID = cand.PMCID
		}
		if merged.Title == "" {
			merged.Title = cand.Title
		}
		if merged.Abstract == "" {
			merged.Abstract = cand.Abstract
		}
		if len(merged.Authors) == 0 {
			merged.Authors = cand.Authors
		}
		if len(merged.Subjects) == 0 {
			merged.Subjects = cand.Subjects
		}
		if merged.Venue == "" {
			merged.Venue = cand.Venue
		}
		if merged.Published.IsZero() {
			merged.Published = cand.Published
		}
		for _, u := range cand.URLGuesses {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}
	merged.URLGuesses = urls
	return merged
}

func (r *Resolver) trust(source string) int {
	if rank, ok := r.rank[source]; ok {
		return rank
	}
	// Unknown sources sort after every configured one.
	return len(r.rank)
}

// DownloadURLs returns the ordered URLs to try for a candidate:
// source-native guesses, then the open-access lookup, then the DOI
// redirect as a last resort.
func (r *Resolver) DownloadURLs(ctx context.Context, cand corpus.Candidate) []string {
	seen := make(map[string]bool, len(cand.URLGuesses)+2)
	urls := make([]string, 0, len(cand.URLGuesses)+2)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, u := range cand.URLGuesses {
		add(u)
	}
	doi := corpus.NormalizeDOI(cand.DOI)
	if doi != "" {
		if r.lookup != nil {
			oa, err := r.lookup.BestOAURL(ctx, doi)
			if err != nil {
				r.logger.Warn("open-access lookup failed", zap.String("doi", doi), zap.Error(err))
			} else {
				add(oa)
			}
		}
		add("https://doi.org/" + doi)
	}
	return urls
}
