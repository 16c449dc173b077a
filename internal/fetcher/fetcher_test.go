package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vetcorpus/crawler/internal/corpus"
)

const pdfPayload = "%PDF-1.7 fake body"

func TestFetchFallsThroughToSecondURL(t *testing.T) {
	t.Parallel()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(pdfPayload))
	}))
	defer good.Close()

	f := New(Config{}, nil, nil)
	cand := corpus.Candidate{Source: "pubmed", NativeID: "1"}
	data, origin, err := f.Fetch(context.Background(), cand, []string{bad.URL, good.URL})
	require.NoError(t, err)
	require.Equal(t, pdfPayload, string(data))
	require.Equal(t, good.URL, origin)
}

func TestFetchRejectsNonPDFPayloads(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>paywall</html>"))
	}))
	defer srv.Close()

	f := New(Config{}, nil, nil)
	cand := corpus.Candidate{Source: "crossref", NativeID: "2"}
	_, _, err := f.Fetch(context.Background(), cand, []string{srv.URL})

	var failure *corpus.FetchFailure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Attempts, 1)
	require.Contains(t, failure.Attempts[0].Err.Error(), "not a pdf")
}

func TestFetchAcceptsMislabeledPDF(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(pdfPayload))
	}))
	defer srv.Close()

	f := New(Config{}, nil, nil)
	data, _, err := f.Fetch(context.Background(), corpus.Candidate{Source: "doaj", NativeID: "3"}, []string{srv.URL})
	require.NoError(t, err)
	require.Equal(t, pdfPayload, string(data))
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(pdfPayload))
	}))
	defer srv.Close()

	f := New(Config{}, nil, nil)
	data, _, err := f.Fetch(context.Background(), corpus.Candidate{Source: "pubmed", NativeID: "4"}, []string{srv.URL})
	require.NoError(t, err)
	require.Equal(t, pdfPayload, string(data))
	require.Equal(t, 2, calls)
}

func TestFetchWithNoURLs(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	_, _, err := f.Fetch(context.Background(), corpus.Candidate{Source: "arxiv", NativeID: "5"}, nil)

	var failure *corpus.FetchFailure
	require.ErrorAs(t, err, &failure)
	require.Empty(t, failure.Attempts)
	require.Contains(t, err.Error(), "no download URLs")
}

func TestFetchEnforcesBodyCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := New(Config{MaxBodyBytes: 1024}, nil, nil)
	_, _, err := f.Fetch(context.Background(), corpus.Candidate{Source: "doaj", NativeID: "6"}, []string{srv.URL})

	var failure *corpus.FetchFailure
	require.ErrorAs(t, err, &failure)
	require.Contains(t, failure.Attempts[0].Err.Error(), "byte cap")
}
