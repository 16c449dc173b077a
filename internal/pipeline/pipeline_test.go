package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/extract"
	"github.com/vetcorpus/crawler/internal/fetcher"
	"github.com/vetcorpus/crawler/internal/hash/sha256"
	"github.com/vetcorpus/crawler/internal/provenance"
	healthmem "github.com/vetcorpus/crawler/internal/provenance/memory"
	pubmem "github.com/vetcorpus/crawler/internal/publisher/memory"
	"github.com/vetcorpus/crawler/internal/resolver"
	"github.com/vetcorpus/crawler/internal/sources"
	"github.com/vetcorpus/crawler/internal/store"
	blobmem "github.com/vetcorpus/crawler/internal/store/blob/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("sweep-%d", s.n), nil
}

type fakeSource struct {
	name       string
	candidates []corpus.Candidate
	queryErr   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Query(context.Context, corpus.Window, corpus.KeywordPolicy) (corpus.Cursor, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	page := f.candidates
	done := false
	return sources.NewCursor(func(context.Context) ([]corpus.Candidate, error) {
		if done {
			return nil, nil
		}
		done = true
		return page, nil
	}), nil
}

type stubStrategy struct{}

func (stubStrategy) Method() corpus.ExtractionMethod { return corpus.MethodPDFPlain }

func (stubStrategy) Extract(_ context.Context, _ corpus.RawDocument, data []byte) (corpus.StructuredDocument, error) {
	return corpus.StructuredDocument{
		Sections: []corpus.Section{{Paragraphs: []string{string(data)}}},
	}, nil
}

type harness struct {
	pipeline  *Pipeline
	registry  *sources.Registry
	blobs     *blobmem.BlobStore
	health    *healthmem.Store
	publisher *pubmem.Publisher
	clock     *fakeClock
}

func newHarness(t *testing.T, srcs ...corpus.Source) *harness {
	t.Helper()
	registry := sources.NewRegistry()
	for _, src := range srcs {
		require.NoError(t, registry.Register(src))
	}

	blobs := blobmem.New()
	content := store.New(blobs, sha256.New(), nil)
	health := healthmem.New()
	clock := &fakeClock{now: time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)}
	tracker := provenance.New(health, content, nil, clock, nil)
	engine, err := extract.NewEngine([]extract.Strategy{stubStrategy{}}, clock, nil)
	require.NoError(t, err)
	publisher := pubmem.New()

	p, err := New(
		Config{FetchWorkers: 2, ExtractWorkers: 2, EventTopic: "documents"},
		registry,
		resolver.New(resolver.Config{}, nil),
		fetcher.New(fetcher.Config{}, nil, nil),
		content,
		engine,
		tracker,
		publisher,
		clock,
		&seqIDs{},
		nil,
	)
	require.NoError(t, err)
	return &harness{pipeline: p, registry: registry, blobs: blobs, health: health, publisher: publisher, clock: clock}
}

func pdfServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 sample body"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunFetchesStoresExtractsPublishes(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	src := &fakeSource{name: "pubmed", candidates: []corpus.Candidate{
		{Source: "pubmed", NativeID: "1", Title: "Feline asthma review", URLGuesses: []string{srv.URL + "/1.pdf"}},
	}}
	h := newHarness(t, src)

	counters, err := h.pipeline.Run(context.Background(), corpus.Window{}, corpus.KeywordPolicy{Terms: []string{"feline"}}, []string{"pubmed"})
	require.NoError(t, err)
	require.Equal(t, int64(1), counters.Discovered)
	require.Equal(t, int64(1), counters.Merged)
	require.Equal(t, int64(1), counters.Fetched)
	require.Equal(t, int64(1), counters.Extracted)
	require.Equal(t, int64(1), counters.Published)

	raws, err := h.blobs.List(context.Background(), "raw/")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	structured, err := h.blobs.List(context.Background(), "structured/")
	require.NoError(t, err)
	require.Len(t, structured, 1)

	events := h.publisher.Messages("documents")
	require.Len(t, events, 1)

	catalog := h.health.Catalog()
	require.Len(t, catalog, 2)
	require.Equal(t, "raw", catalog[0].Kind)
	require.Equal(t, "structured", catalog[1].Kind)
	require.Equal(t, catalog[0].Hash, catalog[1].Hash)

	record, err := h.health.Get(context.Background(), "pubmed")
	require.NoError(t, err)
	require.False(t, record.Degraded())
	require.Equal(t, int64(0), record.ErrorCount)
}

func TestRunIsIdempotentAcrossSweeps(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	src := &fakeSource{name: "doaj", candidates: []corpus.Candidate{
		{Source: "doaj", NativeID: "a", URLGuesses: []string{srv.URL + "/a.pdf"}},
	}}
	h := newHarness(t, src)
	ctx := context.Background()
	window := corpus.Window{}
	policy := corpus.KeywordPolicy{Terms: []string{"veterinary"}}

	_, err := h.pipeline.Run(ctx, window, policy, []string{"doaj"})
	require.NoError(t, err)
	_, err = h.pipeline.Run(ctx, window, policy, []string{"doaj"})
	require.NoError(t, err)

	// Same bytes, same hash: one raw object, one structured record, one event.
	raws, err := h.blobs.List(ctx, "raw/")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	structured, err := h.blobs.List(ctx, "structured/")
	require.NoError(t, err)
	require.Len(t, structured, 1)
	require.Len(t, h.publisher.Messages("documents"), 1)
}

func TestRunMergesDuplicatesAcrossSources(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	a := &fakeSource{name: "pubmed", candidates: []corpus.Candidate{
		{Source: "pubmed", NativeID: "1", DOI: "10.1/x", URLGuesses: []string{srv.URL + "/x.pdf"}},
	}}
	b := &fakeSource{name: "crossref", candidates: []corpus.Candidate{
		{Source: "crossref", NativeID: "10.1/x", DOI: "10.1/x", URLGuesses: []string{srv.URL + "/x-alt.pdf"}},
	}}
	h := newHarness(t, a, b)

	counters, err := h.pipeline.Run(context.Background(), corpus.Window{}, corpus.KeywordPolicy{Terms: []string{"x"}}, []string{"pubmed", "crossref"})
	require.NoError(t, err)
	require.Equal(t, int64(2), counters.Discovered)
	require.Equal(t, int64(1), counters.Merged)
	require.Equal(t, int64(1), counters.Fetched)
}

func TestRunDegradesSourceOnFetchFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "conference", candidates: []corpus.Candidate{
		// No URL guesses and no DOI: nothing to try.
		{Source: "conference", NativeID: "orphan"},
	}}
	h := newHarness(t, src)

	counters, err := h.pipeline.Run(context.Background(), corpus.Window{}, corpus.KeywordPolicy{Terms: []string{"x"}}, []string{"conference"})
	require.NoError(t, err)
	require.Equal(t, int64(1), counters.FetchFailures)
	require.Equal(t, int64(0), counters.Fetched)

	record, err := h.health.Get(context.Background(), "conference")
	require.NoError(t, err)
	require.True(t, record.Degraded())
	require.Equal(t, int64(1), record.ErrorCount)
	require.Contains(t, record.LastError, "no download URLs")
}

func TestRunSurvivesFailingSource(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	broken := &fakeSource{name: "europepmc", queryErr: fmt.Errorf("api down")}
	working := &fakeSource{name: "pubmed", candidates: []corpus.Candidate{
		{Source: "pubmed", NativeID: "2", URLGuesses: []string{srv.URL + "/2.pdf"}},
	}}
	h := newHarness(t, broken, working)

	counters, err := h.pipeline.Run(context.Background(), corpus.Window{}, corpus.KeywordPolicy{Terms: []string{"x"}}, []string{"europepmc", "pubmed"})
	require.NoError(t, err)
	require.Equal(t, int64(1), counters.Fetched)

	record, err := h.health.Get(context.Background(), "europepmc")
	require.NoError(t, err)
	require.True(t, record.Degraded())
}

func TestRunRecoveryClearsDegradedSource(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "doaj", queryErr: fmt.Errorf("search 502")}
	h := newHarness(t, src)
	ctx := context.Background()
	policy := corpus.KeywordPolicy{Terms: []string{"x"}}

	_, err := h.pipeline.Run(ctx, corpus.Window{}, policy, []string{"doaj"})
	require.NoError(t, err)
	record, err := h.health.Get(ctx, "doaj")
	require.NoError(t, err)
	require.True(t, record.Degraded())
	firstCrawl := record.LastCrawl

	// The source recovers but has nothing new to offer. The clean query
	// alone must clear the degraded flag and advance the crawl times.
	src.queryErr = nil
	h.clock.now = h.clock.now.Add(time.Hour)
	_, err = h.pipeline.Run(ctx, corpus.Window{}, policy, []string{"doaj"})
	require.NoError(t, err)

	record, err = h.health.Get(ctx, "doaj")
	require.NoError(t, err)
	require.False(t, record.Degraded())
	require.True(t, record.LastCrawl.After(firstCrawl))
	require.Equal(t, h.clock.now, record.LastSuccess)
	require.Empty(t, record.LastError)
	require.Equal(t, int64(1), record.ErrorCount)
}

func TestRunCapsPerSourceDiscovery(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	var cands []corpus.Candidate
	for i := 0; i < 10; i++ {
		cands = append(cands, corpus.Candidate{
			Source: "arxiv", NativeID: fmt.Sprint(i), URLGuesses: []string{fmt.Sprintf("%s/%d.pdf", srv.URL, i)},
		})
	}
	src := &fakeSource{name: "arxiv", candidates: cands}
	h := newHarness(t, src)
	h.pipeline.cfg.MaxPerSource = 3

	counters, err := h.pipeline.Run(context.Background(), corpus.Window{}, corpus.KeywordPolicy{Terms: []string{"x"}}, []string{"arxiv"})
	require.NoError(t, err)
	require.Equal(t, int64(3), counters.Discovered)
}
