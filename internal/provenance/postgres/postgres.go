// Package postgres persists SourceHealth records in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// DB is the pgx surface the store needs. *pgxpool.Pool satisfies it, as do
// pgxmock pools in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements corpus.HealthStore over a source_health table.
type Store struct {
	db DB
}

// New wraps an existing connection pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool for the DSN and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := New(pool)
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS source_health (
			source           TEXT PRIMARY KEY,
			enabled          BOOLEAN NOT NULL DEFAULT TRUE,
			last_crawl       TIMESTAMPTZ,
			last_success     TIMESTAMPTZ,
			error_count      BIGINT NOT NULL DEFAULT 0,
			remaining_budget DOUBLE PRECISION,
			last_error       TEXT NOT NULL DEFAULT '',
			degraded_since   TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("ensure source_health schema: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS document_catalog (
			hash        TEXT NOT NULL,
			source      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (hash, kind)
		)`)
	if err != nil {
		return fmt.Errorf("ensure document_catalog schema: %w", err)
	}
	return nil
}

// RecordDocument upserts one catalog row. Re-sweeps hit the same (hash, kind)
// pair and keep the original recorded_at.
func (s *Store) RecordDocument(ctx context.Context, entry corpus.CatalogEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO document_catalog (hash, source, kind, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash, kind) DO NOTHING`,
		entry.Hash, entry.Source, entry.Kind, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record %s document %s: %w", entry.Kind, entry.Hash, err)
	}
	return nil
}

// Upsert writes the health record in one statement.
func (s *Store) Upsert(ctx context.Context, health corpus.SourceHealth) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO source_health
			(source, enabled, last_crawl, last_success, error_count, remaining_budget, last_error, degraded_since)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source) DO UPDATE SET
			enabled          = EXCLUDED.enabled,
			last_crawl       = EXCLUDED.last_crawl,
			last_success     = EXCLUDED.last_success,
			error_count      = EXCLUDED.error_count,
			remaining_budget = EXCLUDED.remaining_budget,
			last_error       = EXCLUDED.last_error,
			degraded_since   = EXCLUDED.degraded_since`,
		health.Source, health.Enabled, health.LastCrawl, health.LastSuccess,
		health.ErrorCount, health.RemainingBudget, health.LastError, health.DegradedSince,
	)
	if err != nil {
		return fmt.Errorf("upsert health for %s: %w", health.Source, err)
	}
	return nil
}

const selectColumns = `source, enabled, last_crawl, last_success, error_count, remaining_budget, last_error, degraded_since`

// Get loads one source's record.
func (s *Store) Get(ctx context.Context, source string) (corpus.SourceHealth, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM source_health WHERE source = $1`, source)
	health, err := scanHealth(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return corpus.SourceHealth{}, corpus.ErrObjectNotFound
		}
		return corpus.SourceHealth{}, fmt.Errorf("get health for %s: %w", source, err)
	}
	return health, nil
}

// ListAll returns every record, sorted by source name.
func (s *Store) ListAll(ctx context.Context) ([]corpus.SourceHealth, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+selectColumns+` FROM source_health ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("list health: %w", err)
	}
	defer rows.Close()

	var out []corpus.SourceHealth
	for rows.Next() {
		health, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("scan health: %w", err)
		}
		out = append(out, health)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list health rows: %w", err)
	}
	return out, nil
}

func scanHealth(row pgx.Row) (corpus.SourceHealth, error) {
	var health corpus.SourceHealth
	err := row.Scan(
		&health.Source, &health.Enabled, &health.LastCrawl, &health.LastSuccess,
		&health.ErrorCount, &health.RemainingBudget, &health.LastError, &health.DegradedSince,
	)
	return health, err
}
