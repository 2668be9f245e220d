package llm

import (
	"sort"
	"sync"

	"github.com/loomworks/loom/internal/errors"
)

// Registry is a process-wide provider registry.
// Writes take the lock; reads return snapshots for lock-free enumeration.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// defaultRegistry is the shared process-wide registry.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the shared process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a provider under its name.
// Registering a duplicate name fails with a state error.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return errors.ValidationError("provider cannot be nil", "provider")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return errors.StateError("provider already registered: " + name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, errors.NotFoundError("provider", name)
	}
	return p, nil
}

// Unregister removes a provider by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
}

// Names returns a sorted snapshot of registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered provider and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.providers, name)
	}
	return firstErr
}
