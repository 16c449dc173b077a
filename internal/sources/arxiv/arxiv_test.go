package arxiv

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

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/2406.01234v1</id>
    <title>Modeling rabies spread
      in free-roaming dog populations</title>
    <published>2024-06-05T17:30:00Z</published>
    <author><name>Ingrid Larsen</name></author>
    <author><name>Tomas Ruiz</name></author>
    <link href="http://arxiv.org/abs/2406.01234v1" rel="alternate" type="text/html"/>
    <link href="http://arxiv.org/pdf/2406.01234v1" rel="related" type="application/pdf"/>
    <arxiv:doi>10.48550/arXiv.2406.01234</arxiv:doi>
  </entry>
</feed>`

func TestQueryParsesAtomEntries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("search_query")
		require.Contains(t, q, "cat:q-bio*")
		require.Contains(t, q, "submittedDate:")
		fmt.Fprint(w, feedFixture)
	}))
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, nil)
	window := corpus.Window{Start: time.Now().Add(-24 * time.Hour), End: time.Now()}
	cursor, err := src.Query(context.Background(), window, corpus.KeywordPolicy{Terms: []string{"rabies"}})
	require.NoError(t, err)

	page, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page, 1)

	cand := page[0]
	require.Equal(t, "arxiv", cand.Source)
	require.Equal(t, "2406.01234v1", cand.NativeID)
	require.Equal(t, "10.48550/arXiv.2406.01234", cand.DOI)
	require.Equal(t, "Modeling rabies spread in free-roaming dog populations", cand.Title)
	require.Equal(t, []string{"Ingrid Larsen", "Tomas Ruiz"}, cand.Authors)
	require.Equal(t, []string{"http://arxiv.org/pdf/2406.01234v1"}, cand.URLGuesses)
	require.Equal(t, time.Date(2024, 6, 5, 17, 30, 0, 0, time.UTC), cand.Published)

	page, err = cursor.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, page)
}

func TestQueryRequiresTerms(t *testing.T) {
	t.Parallel()

	src := New(Config{}, nil)
	_, err := src.Query(context.Background(), corpus.Window{}, corpus.KeywordPolicy{})
	require.Error(t, err)
}
