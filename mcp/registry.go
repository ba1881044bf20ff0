package mcp

import (
	"sort"
	"sync"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// AgentFactory builds a fresh agent instance per run. Factories keep run
// state out of the registry; each run gets its own agent value.
type AgentFactory func() *aikit.Agent

// AgentInfo describes one registered agent for agent.list.
type AgentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     bool   `json:"default,omitempty"`
}

// Registry holds the agents a protocol server can run, keyed by id. The
// first registered agent becomes the default unless SetDefault overrides it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]AgentFactory
	defaultID string
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]AgentFactory)}
}

// Register adds an agent factory under id. The first registration becomes
// the default agent.
func (r *Registry) Register(id string, factory AgentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.factories) == 0 {
		r.defaultID = id
	}
	r.factories[id] = factory
}

// SetDefault marks id as the default agent. Unknown ids are ignored.
func (r *Registry) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		r.defaultID = id
	}
}

// Resolve returns a fresh agent for id, or the default agent when id is
// empty. The second return is the resolved id.
func (r *Registry) Resolve(id string) (*aikit.Agent, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultID
	}
	factory, ok := r.factories[id]
	if !ok {
		if len(r.factories) == 0 {
			return nil, "", aikit.ErrNoAgents
		}
		return nil, "", &unknownAgentError{id: id}
	}
	return factory(), id, nil
}

// List returns all registered agents sorted by id.
func (r *Registry) List() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	infos := make([]AgentInfo, 0, len(ids))
	for _, id := range ids {
		a := r.factories[id]()
		infos = append(infos, AgentInfo{
			ID:          id,
			Name:        a.Name(),
			Description: a.Description(),
			Default:     id == r.defaultID,
		})
	}
	return infos
}

type unknownAgentError struct{ id string }

func (e *unknownAgentError) Error() string { return "mcp: unknown agent: " + e.id }
