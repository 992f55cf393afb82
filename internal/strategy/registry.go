package strategy

import (
	"fmt"
	"sync"
)

// Registry holds the registered strategies in registration order. The order
// is load-bearing: when priority scores tie, the orchestrator's stable sort
// keeps it, so the first-registered strategy wins. Safe for concurrent use.
type Registry struct {
	strategies []Strategy
	index      map[string]int
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Register appends a strategy under its own name. Re-registering a name
// replaces the strategy in place, keeping its original position.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[s.Name()]; ok {
		r.strategies[i] = s
		return
	}
	r.index[s.Name()] = len(r.strategies)
	r.strategies = append(r.strategies, s)
}

// Get retrieves a strategy by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return r.strategies[i], nil
}

// List returns the names of all registered strategies in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// All returns all registered strategies in registration order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}
