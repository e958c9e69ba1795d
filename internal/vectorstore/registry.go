package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// InitFunc initialises the collection called name.
type InitFunc func(ctx context.Context, name string) (*Collection, error)

type registryEntry struct {
	ready chan struct{}
	coll  *Collection
	err   error
}

// Registry maps collection names to initialised collections. Concurrent
// first requests for a name share one initialisation; a failed
// initialisation is evicted so the next request retries.
type Registry struct {
	init    InitFunc
	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry creates a Registry that initialises collections with init.
func NewRegistry(init InitFunc) *Registry {
	return &Registry{init: init, entries: make(map[string]*registryEntry)}
}

// Get returns the collection called name, initialising it on first use.
func (r *Registry) Get(ctx context.Context, name string) (*Collection, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		e = &registryEntry{ready: make(chan struct{})}
		r.entries[name] = e
		r.mu.Unlock()

		e.coll, e.err = r.init(ctx, name)
		if e.err != nil {
			r.mu.Lock()
			delete(r.entries, name)
			r.mu.Unlock()
		}
		close(e.ready)
		return e.coll, e.err
	}
	r.mu.Unlock()

	select {
	case <-e.ready:
		return e.coll, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Names returns the initialised collection names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name, e := range r.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				names = append(names, name)
			}
		default:
		}
	}
	sort.Strings(names)
	return names
}

// Len is the number of initialised collections.
func (r *Registry) Len() int {
	return len(r.Names())
}
