package registry

import (
	"errors"
	"sync"

	"tuneresolve/resolver/source"
)

// Registry manages registered source.Adapter implementations in a
// thread-safe manner. Registration order is the pipeline's try order.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]source.Adapter
	// Order preserving list so the pipeline tries adapters in registration order
	ordered []source.Adapter
}

// New creates a new Registry instance.
func New() *Registry {
	return &Registry{
		adapters: make(map[string]source.Adapter),
		ordered:  make([]source.Adapter, 0),
	}
}

// Register adds an adapter to the registry.
// Returns an error if the adapter is nil, has an empty name, or is already registered.
func (r *Registry) Register(a source.Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}

	name := a.Name()
	if name == "" {
		return errors.New("adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return errors.New("adapter already registered: " + name)
	}

	r.adapters[name] = a
	r.ordered = append(r.ordered, a)

	return nil
}

// Get retrieves an adapter by name.
// Returns the adapter and true if found, or nil and false if not found.
func (r *Registry) Get(name string) (source.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	return a, ok
}

// GetAll returns all registered adapters in registration order.
// The returned slice is a copy and safe for concurrent use.
func (r *Registry) GetAll() []source.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]source.Adapter, 0, len(r.ordered))
	result = append(result, r.ordered...)

	return result
}

// Enabled returns only the adapters whose Enabled method reports true,
// preserving registration order.
func (r *Registry) Enabled() []source.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]source.Adapter, 0, len(r.ordered))
	for _, a := range r.ordered {
		if a.Enabled() {
			result = append(result, a)
		}
	}

	return result
}

// Reset clears all registered adapters.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[string]source.Adapter)
	r.ordered = r.ordered[:0]
}
