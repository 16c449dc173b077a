package europepmc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vetcorpus/crawler/internal/corpus"
)

func TestQueryWalksCursorMarks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursorMark")
		require.Contains(t, r.URL.Query().Get("query"), "SUBJECT:")
		switch cursor {
		case "*":
			fmt.Fprint(w, `{"nextCursorMark":"page2","resultList":{"result":[
				{"id":"EPMC1","doi":"10.1186/s12917-024-1","title":"Bovine mastitis surveillance",
				 "authorString":"Novak J, Silva M.","journalTitle":"BMC Veterinary Research",
				 "fullTextUrlList":{"fullTextUrl":[{"documentStyle":"pdf","url":"https://example.org/epmc1.pdf"}]}}
			]}}`)
		case "page2":
			// Repeating cursor mark signals the final page.
			fmt.Fprint(w, `{"nextCursorMark":"page2","resultList":{"result":[
				{"id":"EPMC2","title":"Equine laminitis case series"}
			]}}`)
		default:
			t.Errorf("unexpected cursor mark %q", cursor)
		}
	}))
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, nil)
	window := corpus.Window{Start: time.Now().Add(-24 * time.Hour), End: time.Now()}
	cursor, err := src.Query(context.Background(), window, corpus.KeywordPolicy{Terms: []string{"veterinary"}})
	require.NoError(t, err)

	page1, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page1, 1)
	require.Equal(t, "europepmc", page1[0].Source)
	require.Equal(t, "EPMC1", page1[0].NativeID)
	require.Equal(t, []string{"Novak J", "Silva M"}, page1[0].Authors)
	require.Equal(t, []string{"https://example.org/epmc1.pdf"}, page1[0].URLGuesses)

	page2, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page2, 1)
	require.Equal(t, "EPMC2", page2[0].NativeID)

	done, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, done)
}

func TestQueryPropagatesHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, nil)
	cursor, err := src.Query(context.Background(), corpus.Window{}, corpus.KeywordPolicy{Terms: []string{"veterinary"}})
	require.NoError(t, err)

	_, err = cursor.Next(context.Background())
	var statusErr *corpus.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}
