package sources

import (
	"context"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// PageFunc fetches one page of candidates. Returning (nil, nil) marks the
// cursor exhausted.
type PageFunc func(ctx context.Context) ([]corpus.Candidate, error)

// FuncCursor adapts a PageFunc to corpus.Cursor.
type FuncCursor struct {
	next PageFunc
	done bool
}

// NewCursor wraps a PageFunc.
func NewCursor(next PageFunc) *FuncCursor {
	return &FuncCursor{next: next}
}

// Next returns the next page, remembering exhaustion.
func (c *FuncCursor) Next(ctx context.Context) ([]corpus.Candidate, error) {
	if c.done {
		return nil, nil
	}
	page, err := c.next(ctx)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		c.done = true
		return nil, nil
	}
	return page, nil
}
