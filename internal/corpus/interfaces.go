package corpus

import (
	"context"
	"time"
)

// Source is one external literature provider. Implementations own their query
// syntax, pagination, and authentication.
type Source interface {
	Name() string
	// Query returns a cursor over candidates discovered in the window.
	// The cursor is lazy: each Next call fetches at most one result page.
	Query(ctx context.Context, window Window, policy KeywordPolicy) (Cursor, error)
}

// Cursor walks a finite, restartable sequence of candidates one page at a time.
type Cursor interface {
	// Next returns the next page. A nil slice with nil error means exhausted.
	Next(ctx context.Context) ([]Candidate, error)
}

// BlobStore is the physical object-store layer beneath the content store.
type BlobStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectInfo describes one stored object for stats scans.
type ObjectInfo struct {
	Key     string
	Size    int64
	Updated time.Time
}

// HealthStore persists SourceHealth records.
type HealthStore interface {
	Upsert(ctx context.Context, health SourceHealth) error
	Get(ctx context.Context, source string) (SourceHealth, error)
	ListAll(ctx context.Context) ([]SourceHealth, error)
}

// Publisher pushes structured-document events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
