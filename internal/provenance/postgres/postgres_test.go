package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vetcorpus/crawler/internal/corpus"
)

func TestUpsertWritesAllColumns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	budget := 4.5
	health := corpus.SourceHealth{
		Source:          "pubmed",
		Enabled:         true,
		LastCrawl:       now,
		LastSuccess:     now,
		ErrorCount:      3,
		RemainingBudget: &budget,
		LastError:       "esearch 502",
	}
	mock.ExpectExec("INSERT INTO source_health").
		WithArgs("pubmed", true, now, now, int64(3), &budget, "esearch 502", (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := New(mock)
	require.NoError(t, store.Upsert(context.Background(), health))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDocumentIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	entry := corpus.CatalogEntry{Hash: "abc123", Source: "doaj", Kind: "raw", RecordedAt: now}
	mock.ExpectExec("INSERT INTO document_catalog").
		WithArgs("abc123", "doaj", "raw", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO document_catalog").
		WithArgs("abc123", "doaj", "raw", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	store := New(mock)
	require.NoError(t, store.RecordDocument(context.Background(), entry))
	require.NoError(t, store.RecordDocument(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM source_health WHERE source").
		WithArgs("ivis").
		WillReturnRows(pgxmock.NewRows([]string{
			"source", "enabled", "last_crawl", "last_success",
			"error_count", "remaining_budget", "last_error", "degraded_since",
		}))

	store := New(mock)
	_, err = store.Get(context.Background(), "ivis")
	require.ErrorIs(t, err, corpus.ErrObjectNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAllScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	degraded := now.Add(-time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM source_health ORDER BY source").
		WillReturnRows(pgxmock.NewRows([]string{
			"source", "enabled", "last_crawl", "last_success",
			"error_count", "remaining_budget", "last_error", "degraded_since",
		}).
			AddRow("doaj", true, now, now, int64(0), (*float64)(nil), "", (*time.Time)(nil)).
			AddRow("ivis", true, now, now.Add(-2*time.Hour), int64(7), (*float64)(nil), "session expired", &degraded))

	store := New(mock)
	records, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "doaj", records[0].Source)
	require.False(t, records[0].Degraded())
	require.Equal(t, int64(7), records[1].ErrorCount)
	require.True(t, records[1].Degraded())
	require.Equal(t, degraded, *records[1].DegradedSince)
	require.NoError(t, mock.ExpectationsWereMet())
}
