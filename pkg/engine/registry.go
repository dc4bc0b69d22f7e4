package engine

import "sync"

// MapRegistry is a mutex-guarded agent registry. The zero value is not
// usable; construct with NewRegistry.
type MapRegistry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *MapRegistry {
	return &MapRegistry{agents: make(map[string]Agent)}
}

// Register adds or replaces an agent under name.
func (r *MapRegistry) Register(name string, agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = agent
}

// Get looks up an agent by name.
func (r *MapRegistry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// Names returns the registered agent names.
func (r *MapRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}
