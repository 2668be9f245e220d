package vectorstore

import (
	"sort"
	"sync"

	"github.com/loomworks/loom/internal/errors"
)

// Backend names registered by default.
const (
	BackendMemory = "memory"
	BackendHNSW   = "hnsw"
)

// FactoryFunc builds a vector store for the given dimension.
type FactoryFunc func(dimension int) (Store, error)

// Process-wide backend registry. Writes take the lock; reads return
// snapshots for lock-free enumeration.
var (
	factoryMu sync.RWMutex
	factories = map[string]FactoryFunc{
		BackendMemory: func(dimension int) (Store, error) { return NewMemoryStore(dimension) },
		BackendHNSW:   func(dimension int) (Store, error) { return NewHNSWStore(dimension) },
	}
)

// RegisterBackend installs a backend factory under name. Registering a
// duplicate name fails with a state error.
func RegisterBackend(name string, factory FactoryFunc) error {
	if name == "" || factory == nil {
		return errors.ValidationError("backend name and factory are required", "backend")
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, exists := factories[name]; exists {
		return errors.StateError("vector store backend already registered: " + name)
	}
	factories[name] = factory
	return nil
}

// UnregisterBackend removes a backend factory. Unknown names are a no-op.
func UnregisterBackend(name string) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	delete(factories, name)
}

// Backends returns a sorted snapshot of registered backend names.
func Backends() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a vector store by backend name. An empty name selects the
// in-memory backend.
func New(backend string, dimension int) (Store, error) {
	if backend == "" {
		backend = BackendMemory
	}
	factoryMu.RLock()
	factory, ok := factories[backend]
	factoryMu.RUnlock()
	if !ok {
		return nil, errors.ValidationError("unknown vector store backend: "+backend, "backend")
	}
	return factory(dimension)
}
