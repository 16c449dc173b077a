// Package sources hosts the source adapter registry.
//
// Each external literature provider lives in its own subpackage and
// implements corpus.Source. The registry maps source names to adapters and is
// resolved once at startup; the pipeline never branches on source names.
package sources

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// Registry resolves source names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]corpus.Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]corpus.Source)}
}

// Register adds an adapter under its own name. Duplicate names are an error:
// registration happens once at startup and a collision is a wiring bug.
func (r *Registry) Register(src corpus.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := src.Name()
	if name == "" {
		return fmt.Errorf("source has empty name")
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.adapters[name] = src
	return nil
}

// Lookup returns the adapter for a name.
func (r *Registry) Lookup(name string) (corpus.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.adapters[name]
	return src, ok
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
