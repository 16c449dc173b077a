// Package memory implements an in-process HealthStore for tests and
// single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// Store keeps health records and catalog rows in maps.
type Store struct {
	mu      sync.RWMutex
	records map[string]corpus.SourceHealth
	catalog []corpus.CatalogEntry
}

// New creates an empty Store.
func New() *Store {
	return &Store{records: make(map[string]corpus.SourceHealth)}
}

// Upsert replaces the record for the source.
func (s *Store) Upsert(_ context.Context, health corpus.SourceHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[health.Source] = health
	return nil
}

// Get returns the record for the source, or ErrObjectNotFound.
func (s *Store) Get(_ context.Context, source string) (corpus.SourceHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	health, ok := s.records[source]
	if !ok {
		return corpus.SourceHealth{}, corpus.ErrObjectNotFound
	}
	return health, nil
}

// ListAll returns every record, sorted by source name.
func (s *Store) ListAll(_ context.Context) ([]corpus.SourceHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]corpus.SourceHealth, 0, len(s.records))
	for _, health := range s.records {
		out = append(out, health)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// RecordDocument appends a catalog row, skipping (hash, kind) duplicates.
func (s *Store) RecordDocument(_ context.Context, entry corpus.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.catalog {
		if have.Hash == entry.Hash && have.Kind == entry.Kind {
			return nil
		}
	}
	s.catalog = append(s.catalog, entry)
	return nil
}

// Catalog returns a copy of the recorded catalog rows.
func (s *Store) Catalog() []corpus.CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]corpus.CatalogEntry(nil), s.catalog...)
}
