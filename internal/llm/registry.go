package llm

import (
	"context"
	"fmt"
	"sync"
)

// Registry holds every configured Adapter and implements the fallback
// selection of spec.md §4.3: preferred, then the process default, then
// mock, each probed with TestConnection until one succeeds.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	def      string
}

// New constructs an empty Registry. defaultName is the process default
// provider consulted by GetWorking's fallback order.
func New(defaultName string) *Registry {
	return &Registry{adapters: make(map[string]Adapter), def: defaultName}
}

// Register adds or replaces an adapter under its own Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get looks up an adapter by name with no probing — the orchestrator's
// per-turn path uses this directly per spec.md §4.3 ("do not probe").
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// GetWorking tries preferred, the process default, then "mock" in order,
// calling TestConnection on each until one succeeds. The orchestrator's
// per-turn path never calls it; it resolves providers with Get
// (spec.md §4.3).
func (r *Registry) GetWorking(ctx context.Context, preferred string) (Adapter, error) {
	tried := make(map[string]bool)
	for _, name := range []string{preferred, r.def, "mock"} {
		if name == "" || tried[name] {
			continue
		}
		tried[name] = true

		a, ok := r.Get(name)
		if !ok {
			continue
		}
		if status := a.TestConnection(ctx); status.Success {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no working provider found (tried preferred=%q, default=%q, mock)", preferred, r.def)
}

// Names returns the registered adapter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
