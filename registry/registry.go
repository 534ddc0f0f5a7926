// Package registry holds immutable agent descriptor records used for
// lookup and capability-based routing.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentgrid/types"
	"go.uber.org/zap"
)

// Registry manages agent registration and capability lookup.
// Descriptor records are immutable: re-registering an agent id appends a
// new descriptor version, it never mutates a published one.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]types.Agent
	versions map[string][]types.AgentDescriptor
	logger   *zap.Logger
}

// New creates a new agent registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents:   make(map[string]types.Agent),
		versions: make(map[string][]types.AgentDescriptor),
		logger:   logger.With(zap.String("component", "registry")),
	}
}

// Register adds an agent. A first registration gets descriptor version 1;
// subsequent registrations of the same id append the next version.
// The returned descriptor is the committed copy.
func (r *Registry) Register(agent types.Agent) (types.AgentDescriptor, error) {
	if agent == nil {
		return types.AgentDescriptor{}, types.NewError(types.ErrValidation, "agent is nil")
	}
	desc := agent.Describe().Clone()
	if desc.ID == "" {
		return types.AgentDescriptor{}, types.NewError(types.ErrValidation, "agent descriptor has empty id")
	}
	if !desc.Kind.Valid() {
		return types.AgentDescriptor{}, types.NewError(types.ErrValidation,
			fmt.Sprintf("agent %s has unknown kind %q", desc.ID, desc.Kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	desc.Version = len(r.versions[desc.ID]) + 1
	desc.RegisteredAt = time.Now()
	r.versions[desc.ID] = append(r.versions[desc.ID], desc)
	r.agents[desc.ID] = agent

	r.logger.Info("agent registered",
		zap.String("agent_id", desc.ID),
		zap.String("kind", string(desc.Kind)),
		zap.Int("version", desc.Version),
		zap.Strings("capabilities", desc.Capabilities))

	return desc.Clone(), nil
}

// Get returns the live agent for an id.
func (r *Registry) Get(id string) (types.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Describe returns the latest descriptor version for an id.
func (r *Registry) Describe(id string) (types.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs := r.versions[id]
	if len(vs) == 0 {
		return types.AgentDescriptor{}, false
	}
	return vs[len(vs)-1].Clone(), true
}

// Versions returns every descriptor version recorded for an id, oldest
// first.
func (r *Registry) Versions(id string) []types.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs := r.versions[id]
	out := make([]types.AgentDescriptor, 0, len(vs))
	for _, d := range vs {
		out = append(out, d.Clone())
	}
	return out
}

// Contains reports whether an id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// List returns the latest descriptor of every registered agent, ordered
// by id for deterministic output.
func (r *Registry) List() []types.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AgentDescriptor, 0, len(r.versions))
	for _, vs := range r.versions {
		if len(vs) > 0 {
			out = append(out, vs[len(vs)-1].Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all registered agent ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FindByCapability returns the latest descriptors of all agents
// declaring the capability, ordered by id.
func (r *Registry) FindByCapability(capability string) []types.AgentDescriptor {
	var out []types.AgentDescriptor
	for _, d := range r.List() {
		if d.HasCapability(capability) {
			out = append(out, d)
		}
	}
	return out
}

// FindEquivalent returns agents that cover every capability of the given
// descriptor, excluding the descriptor's own id. Used to substitute a
// fallback specialist after exhausted retries.
func (r *Registry) FindEquivalent(desc types.AgentDescriptor) []types.AgentDescriptor {
	var out []types.AgentDescriptor
	for _, d := range r.List() {
		if d.ID == desc.ID {
			continue
		}
		if desc.CapabilityEquivalent(d) {
			out = append(out, d)
		}
	}
	return out
}
