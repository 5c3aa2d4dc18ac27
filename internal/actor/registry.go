package actor

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps actor type names to their factories.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(actorType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actorType == "" {
		panic("actor registry: empty type")
	}
	if _, exists := r.factories[actorType]; exists {
		panic(fmt.Sprintf("actor registry: duplicate type %q", actorType))
	}
	r.factories[actorType] = f
}

// Get returns the factory for the given type.
func (r *Registry) Get(actorType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[actorType]
	if !ok {
		return nil, fmt.Errorf("no actor registered for type %q", actorType)
	}
	return f, nil
}

// Types returns all registered actor type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
