// Package store implements the content-addressed document store.
//
// Raw bytes live under raw/<source>/<hash>.pdf, structured records under
// structured/<hash>.json. The physical layer is any corpus.BlobStore; the
// rest of the pipeline only ever sees hash-addressed get/put.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
)

const (
	rawPrefix        = "raw/"
	structuredPrefix = "structured/"

	rawContentType        = "application/pdf"
	structuredContentType = "application/json"
)

// ContentStore owns RawDocument and StructuredDocument persistence.
type ContentStore struct {
	blobs  corpus.BlobStore
	hasher corpus.Hasher
	logger *zap.Logger
}

// New constructs a ContentStore.
func New(blobs corpus.BlobStore, hasher corpus.Hasher, logger *zap.Logger) *ContentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentStore{blobs: blobs, hasher: hasher, logger: logger}
}

// RawKey returns the storage key for a source+hash pair.
func RawKey(source, hash string) string {
	return fmt.Sprintf("%s%s/%s.pdf", rawPrefix, source, hash)
}

// StructuredKey returns the storage key for a structured record.
func StructuredKey(hash string) string {
	return structuredPrefix + hash + ".json"
}

// PutRaw stores raw bytes and returns their hash. Idempotent: re-putting
// identical bytes returns the same hash without a second physical write.
// Concurrent puts of the same hash are safe since the bytes are identical.
func (s *ContentStore) PutRaw(ctx context.Context, source string, data []byte) (string, error) {
	hash, err := s.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash raw bytes: %w", err)
	}
	key := RawKey(source, hash)
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check raw object: %w", err)
	}
	if exists {
		s.logger.Debug("raw object already stored", zap.String("hash", hash), zap.String("source", source))
		return hash, nil
	}
	if _, err := s.blobs.Put(ctx, key, rawContentType, data); err != nil {
		return "", fmt.Errorf("put raw object: %w", err)
	}
	return hash, nil
}

// GetRaw fetches raw bytes by hash, scanning source namespaces.
func (s *ContentStore) GetRaw(ctx context.Context, source, hash string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, RawKey(source, hash))
	if err != nil {
		return nil, fmt.Errorf("get raw object %s: %w", hash, err)
	}
	return data, nil
}

// PutStructured persists the structured record for a hash. The write replaces
// any prior record for the hash in one operation; raw bytes are untouched.
func (s *ContentStore) PutStructured(ctx context.Context, doc corpus.StructuredDocument) error {
	if doc.Hash == "" {
		return fmt.Errorf("structured document has no hash")
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal structured document: %w", err)
	}
	if _, err := s.blobs.Put(ctx, StructuredKey(doc.Hash), structuredContentType, payload); err != nil {
		return fmt.Errorf("put structured object: %w", err)
	}
	return nil
}

// GetStructured fetches the structured record for a hash. The second return
// is false when no record exists.
func (s *ContentStore) GetStructured(ctx context.Context, hash string) (corpus.StructuredDocument, bool, error) {
	data, err := s.blobs.Get(ctx, StructuredKey(hash))
	if err != nil {
		if errors.Is(err, corpus.ErrObjectNotFound) {
			return corpus.StructuredDocument{}, false, nil
		}
		return corpus.StructuredDocument{}, false, fmt.Errorf("get structured object %s: %w", hash, err)
	}
	var doc corpus.StructuredDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return corpus.StructuredDocument{}, false, fmt.Errorf("unmarshal structured document %s: %w", hash, err)
	}
	return doc, true, nil
}

// ListRaw returns stored raw objects, optionally narrowed to one source.
func (s *ContentStore) ListRaw(ctx context.Context, source string) ([]corpus.ObjectInfo, error) {
	prefix := rawPrefix
	if source != "" {
		prefix += source + "/"
	}
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list raw objects: %w", err)
	}
	return infos, nil
}

// ListStructured returns stored structured records.
func (s *ContentStore) ListStructured(ctx context.Context) ([]corpus.ObjectInfo, error) {
	infos, err := s.blobs.List(ctx, structuredPrefix)
	if err != nil {
		return nil, fmt.Errorf("list structured objects: %w", err)
	}
	return infos, nil
}
