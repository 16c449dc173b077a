package corpus

import (
	"errors"
	"fmt"
	"strings"
)

// ErrObjectNotFound signals a missing key in a blob store.
var ErrObjectNotFound = errors.New("object not found")

// ErrSessionExpired signals that an authenticated source rejected the current
// session. Adapters treat it as retryable: re-authenticate once, then retry.
var ErrSessionExpired = errors.New("source session expired")

// ErrStrategyUnavailable signals that an extraction strategy cannot run in
// this process (missing tool, unreadable input format).
var ErrStrategyUnavailable = errors.New("extraction strategy unavailable")

// URLAttempt records the outcome of one download URL try.
type URLAttempt struct {
	URL string
	Err error
}

// FetchFailure reports a candidate whose URL guesses were all exhausted.
type FetchFailure struct {
	Candidate Candidate
	Attempts  []URLAttempt
}

// Error summarizes the per-URL failures.
func (f *FetchFailure) Error() string {
	if len(f.Attempts) == 0 {
		return fmt.Sprintf("fetch %s: no download URLs", f.Candidate.Key())
	}
	parts := make([]string, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.URL, a.Err))
	}
	return fmt.Sprintf("fetch %s: all %d URLs failed: %s", f.Candidate.Key(), len(f.Attempts), strings.Join(parts, "; "))
}
