package doaj

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vetcorpus/crawler/internal/corpus"
)

func TestQueryExtractsFulltextLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		require.Contains(t, r.URL.Path, "bibjson.keywords:")
		switch page {
		case "1":
			fmt.Fprint(w, `{"total":1,"results":[{"id":"doaj-abc","bibjson":{
				"title":"Canine parvovirus prevalence in shelters",
				"journal":{"title":"Veterinary Sciences"},
				"author":[{"name":"Petra Kovacs"}],
				"identifier":[{"type":"DOI","id":"10.3390/vetsci0101"}],
				"link":[{"type":"fulltext","url":"https://example.org/doaj-abc.pdf"},
						{"type":"homepage","url":"https://example.org/home"}]}}]}`)
		default:
			fmt.Fprint(w, `{"total":1,"results":[]}`)
		}
	}))
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, nil)
	cursor, err := src.Query(context.Background(), corpus.Window{}, corpus.KeywordPolicy{Terms: []string{"veterinary medicine"}})
	require.NoError(t, err)

	page, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page, 1)

	cand := page[0]
	require.Equal(t, "doaj", cand.Source)
	require.Equal(t, "doaj-abc", cand.NativeID)
	require.Equal(t, "10.3390/vetsci0101", cand.DOI)
	require.Equal(t, "Veterinary Sciences", cand.Venue)
	require.Equal(t, []string{"Petra Kovacs"}, cand.Authors)
	require.Equal(t, []string{"https://example.org/doaj-abc.pdf"}, cand.URLGuesses)
}

func TestQueryStopsAtPageCap(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fmt.Fprint(w, `{"total":5000,"results":[{"id":"x","bibjson":{"title":"t"}}]}`)
	}))
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, nil)
	cursor, err := src.Query(context.Background(), corpus.Window{}, corpus.KeywordPolicy{Terms: []string{"veterinary"}})
	require.NoError(t, err)

	for {
		page, err := cursor.Next(context.Background())
		require.NoError(t, err)
		if page == nil {
			break
		}
	}
	require.Equal(t, maxPages, calls)
}
