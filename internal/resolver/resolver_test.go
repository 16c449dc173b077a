package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vetcorpus/crawler/internal/corpus"
)

func TestDedupeMergesByDOI(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	merged := r.Dedupe([]corpus.Candidate{
		{
			Source:     "crossref",
			NativeID:   "10.1111/jvim.12345",
			DOI:        "10.1111/jvim.12345",
			Title:      "Crossref title",
			Venue:      "Journal of Veterinary Internal Medicine",
			URLGuesses: []string{"https://publisher.example/cr.pdf"},
		},
		{
			Source:     "pubmed",
			NativeID:   "12345678",
			DOI:        "https://doi.org/10.1111/JVIM.12345",
			Title:      "PubMed title",
			Authors:    []string{"Ana Rivera"},
			URLGuesses: []string{"https://pmc.example/pm.pdf"},
		},
	})
	require.Len(t, merged, 1)

	cand := merged[0]
	// PubMed outranks CrossRef, so its fields win; CrossRef only fills gaps.
	require.Equal(t, "pubmed", cand.Source)
	require.Equal(t, "PubMed title", cand.Title)
	require.Equal(t, []string{"Ana Rivera"}, cand.Authors)
	require.Equal(t, "Journal of Veterinary Internal Medicine", cand.Venue)
	require.Equal(t, []string{"https://pmc.example/pm.pdf", "https://publisher.example/cr.pdf"}, cand.URLGuesses)
}

func TestDedupeKeepsDistinctCandidates(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	merged := r.Dedupe([]corpus.Candidate{
		{Source: "pubmed", NativeID: "1", DOI: "10.1/x"},
		{Source: "pubmed", NativeID: "2", DOI: "10.1/y"},
		{Source: "doaj", NativeID: "3"},
	})
	require.Len(t, merged, 3)
	require.Equal(t, "1", merged[0].NativeID)
	require.Equal(t, "3", merged[2].NativeID)
}

func TestDedupeWithoutDOIKeysOnSourceAndID(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	merged := r.Dedupe([]corpus.Candidate{
		{Source: "conference", NativeID: "proc/a.pdf"},
		{Source: "conference", NativeID: "proc/a.pdf"},
		{Source: "ivis", NativeID: "proc/a.pdf"},
	})
	require.Len(t, merged, 2)
}

type stubLookup struct {
	url string
	err error
}

func (s stubLookup) BestOAURL(context.Context, string) (string, error) { return s.url, s.err }

func TestDownloadURLsOrdersNativeThenOAThenDOI(t *testing.T) {
	t.Parallel()

	r := New(Config{Lookup: stubLookup{url: "https://oa.example/x.pdf"}}, nil)
	urls := r.DownloadURLs(context.Background(), corpus.Candidate{
		DOI:        "10.1/x",
		URLGuesses: []string{"https://native.example/x.pdf"},
	})
	require.Equal(t, []string{
		"https://native.example/x.pdf",
		"https://oa.example/x.pdf",
		"https://doi.org/10.1/x",
	}, urls)
}

func TestDownloadURLsToleratesLookupFailure(t *testing.T) {
	t.Parallel()

	r := New(Config{Lookup: stubLookup{err: errors.New("boom")}}, nil)
	urls := r.DownloadURLs(context.Background(), corpus.Candidate{DOI: "10.1/x"})
	require.Equal(t, []string{"https://doi.org/10.1/x"}, urls)
}

func TestDownloadURLsWithoutDOI(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	urls := r.DownloadURLs(context.Background(), corpus.Candidate{
		URLGuesses: []string{"https://a.example/1.pdf", "https://a.example/1.pdf"},
	})
	require.Equal(t, []string{"https://a.example/1.pdf"}, urls)
}
