package unpaywall

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBestOAURLPrefersPDFLocation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/10.1111/jvim.12345", r.URL.Path)
		require.Equal(t, "oa@example.org", r.URL.Query().Get("email"))
		fmt.Fprint(w, `{"best_oa_location":{"url_for_pdf":"https://example.org/oa.pdf","url":"https://example.org/oa"}}`)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, Email: "oa@example.org"}, nil)
	require.NoError(t, err)

	// The doi.org prefix must be stripped before the lookup.
	got, err := client.BestOAURL(context.Background(), "https://doi.org/10.1111/JVIM.12345")
	require.NoError(t, err)
	require.Equal(t, "https://example.org/oa.pdf", got)
}

func TestBestOAURLHandlesMissingWork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, Email: "oa@example.org"}, nil)
	require.NoError(t, err)

	got, err := client.BestOAURL(context.Background(), "10.9999/unknown")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBestOAURLHandlesClosedWork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"best_oa_location":null}`)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, Email: "oa@example.org"}, nil)
	require.NoError(t, err)

	got, err := client.BestOAURL(context.Background(), "10.1/closed")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestNewRequiresEmail(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}
