package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vetcorpus/crawler/internal/corpus"
)

const efetchFixture = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">12345678</PMID>
      <Article>
        <Journal><Title>Journal of Veterinary Internal Medicine</Title></Journal>
        <ArticleTitle>Feline hypertrophic cardiomyopathy outcomes</ArticleTitle>
        <AuthorList>
          <Author><LastName>Rivera</LastName><ForeName>Ana</ForeName></Author>
          <Author><LastName>Chen</LastName><ForeName>Wei</ForeName></Author>
        </AuthorList>
      </Article>
      <DateCompleted><Year>2024</Year></DateCompleted>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="doi">10.1111/jvim.12345</ArticleId>
        <ArticleId IdType="pmc">PMC7654321</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
</PubmedArticleSet>`

func TestQueryWalksSearchAndFetch(t *testing.T) {
	t.Parallel()

	var searchCalls, fetchCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			searchCalls++
			require.Contains(t, r.URL.Query().Get("term"), "[MeSH Terms]")
			require.Contains(t, r.URL.Query().Get("term"), "[PDAT]")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"esearchresult":{"idlist":["12345678"]}}`))
		case "/efetch.fcgi":
			fetchCalls++
			require.Contains(t, r.URL.Query().Get("id"), "12345678")
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(efetchFixture))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, nil)
	window := corpus.Window{
		Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	cursor, err := src.Query(context.Background(), window, corpus.KeywordPolicy{Terms: []string{"veterinary"}})
	require.NoError(t, err)

	page, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page, 1)

	cand := page[0]
	require.Equal(t, "pubmed", cand.Source)
	require.Equal(t, "12345678", cand.NativeID)
	require.Equal(t, "10.1111/jvim.12345", cand.DOI)
	require.Equal(t, "PMC7654321", cand.PMCID)
	require.Equal(t, "Feline hypertrophic cardiomyopathy outcomes", cand.Title)
	require.Equal(t, []string{"Ana Rivera", "Wei Chen"}, cand.Authors)
	require.NotEmpty(t, cand.URLGuesses)
	require.Contains(t, cand.URLGuesses[0], "PMC7654321")

	page, err = cursor.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, page)

	require.Equal(t, 1, searchCalls)
	require.Equal(t, 1, fetchCalls)
}

func TestQueryDeduplicatesAcrossTerms(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			// Both terms return the same PMID.
			_, _ = w.Write([]byte(`{"esearchresult":{"idlist":["99"]}}`))
		case "/efetch.fcgi":
			require.Equal(t, "99", r.URL.Query().Get("id"))
			_, _ = w.Write([]byte(`<PubmedArticleSet><PubmedArticle><MedlineCitation><PMID>99</PMID></MedlineCitation></PubmedArticle></PubmedArticleSet>`))
		}
	}))
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, nil)
	cursor, err := src.Query(context.Background(), corpus.Window{Start: time.Now(), End: time.Now()},
		corpus.KeywordPolicy{Terms: []string{"veterinary", "animal diseases"}})
	require.NoError(t, err)

	var total int
	for {
		page, err := cursor.Next(context.Background())
		require.NoError(t, err)
		if page == nil {
			break
		}
		total += len(page)
	}
	require.Equal(t, 1, total)
}

func TestQueryRequiresTerms(t *testing.T) {
	t.Parallel()

	src := New(Config{}, nil)
	_, err := src.Query(context.Background(), corpus.Window{}, corpus.KeywordPolicy{})
	require.Error(t, err)
}
