package gateway

import (
	"sort"
	"sync"

	"github.com/soochol/graphrun/internal/graphrun"
)

// Registry maps agent kinds to their implementations. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]graphrun.Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]graphrun.Agent)}
}

// Register binds an agent implementation to a kind, replacing any previous one.
func (r *Registry) Register(kind string, agent graphrun.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[kind] = agent
}

// Lookup returns the agent registered for kind.
func (r *Registry) Lookup(kind string) (graphrun.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[kind]
	return a, ok
}

// Kinds returns the sorted list of registered agent kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.agents))
	for k := range r.agents {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
