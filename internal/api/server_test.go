package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/hash/sha256"
	"github.com/vetcorpus/crawler/internal/provenance"
	healthmem "github.com/vetcorpus/crawler/internal/provenance/memory"
	"github.com/vetcorpus/crawler/internal/sources"
	"github.com/vetcorpus/crawler/internal/store"
	blobmem "github.com/vetcorpus/crawler/internal/store/blob/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type namedSource struct{ name string }

func (n namedSource) Name() string { return n.name }

func (n namedSource) Query(context.Context, corpus.Window, corpus.KeywordPolicy) (corpus.Cursor, error) {
	return nil, nil
}

func testServer(t *testing.T) (*Server, *healthmem.Store, *store.ContentStore) {
	t.Helper()
	registry := sources.NewRegistry()
	require.NoError(t, registry.Register(namedSource{"pubmed"}))
	require.NoError(t, registry.Register(namedSource{"doaj"}))

	content := store.New(blobmem.New(), sha256.New(), nil)
	health := healthmem.New()
	tracker := provenance.New(health, content, nil, &fakeClock{time.Now()}, nil)
	return New(tracker, registry, nil), health, content
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSourcesIncludesNeverCrawled(t *testing.T) {
	t.Parallel()

	srv, health, _ := testServer(t)
	degraded := time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC)
	require.NoError(t, health.Upsert(context.Background(), corpus.SourceHealth{
		Source:        "pubmed",
		Enabled:       true,
		ErrorCount:    4,
		LastError:     "esearch 502",
		DegradedSince: &degraded,
	}))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []struct {
		Source     string `json:"source"`
		ErrorCount int64  `json:"error_count"`
		Registered bool   `json:"registered"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	// Registry names are sorted: doaj has no history yet, pubmed does.
	require.Equal(t, "doaj", out[0].Source)
	require.Equal(t, int64(0), out[0].ErrorCount)
	require.True(t, out[0].Registered)
	require.Equal(t, "pubmed", out[1].Source)
	require.Equal(t, int64(4), out[1].ErrorCount)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, content := testServer(t)
	_, err := content.PutRaw(context.Background(), "pubmed", []byte("%PDF-1.7 body"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats corpus.CorpusStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, int64(1), stats.TotalDocuments)
	require.Equal(t, int64(1), stats.RawOnly)
	require.Equal(t, int64(1), stats.BySource["pubmed"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
