// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// BlobStore keeps objects in a map and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	updated map[string]time.Time
}

// New creates a new in-memory blob store.
func New() *BlobStore {
	return &BlobStore{
		data:    make(map[string][]byte),
		updated: make(map[string]time.Time),
	}
}

// Put persists a copy of the content and returns a URI.
func (s *BlobStore) Put(_ context.Context, key string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	s.updated[key] = time.Now().UTC()
	return "memory://" + key, nil
}

// Get returns a copy of the stored content.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, corpus.ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

// Exists reports whether the key is stored.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// List returns objects under the prefix, ordered by key.
func (s *BlobStore) List(_ context.Context, prefix string) ([]corpus.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []corpus.ObjectInfo
	for key, data := range s.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, corpus.ObjectInfo{Key: key, Size: int64(len(data)), Updated: s.updated[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
