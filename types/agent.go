package types

import (
	"context"
	"encoding/json"
	"time"
)

// AgentKind classifies an agent's role in coordination.
type AgentKind string

const (
	KindSpecialist  AgentKind = "specialist"
	KindCoordinator AgentKind = "coordinator"
	KindValidator   AgentKind = "validator"
)

// Valid reports whether the kind is one of the declared variants.
func (k AgentKind) Valid() bool {
	switch k {
	case KindSpecialist, KindCoordinator, KindValidator:
		return true
	}
	return false
}

// AgentDescriptor describes an agent's contract for lookup and
// capability-based routing. Descriptors are immutable once registered:
// updating an agent produces a new descriptor with a higher Version,
// never an in-place mutation.
type AgentDescriptor struct {
	ID           string          `json:"id"`
	Kind         AgentKind       `json:"kind"`
	Capabilities []string        `json:"capabilities"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Version      int             `json:"version"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// HasCapability reports whether the descriptor declares the capability.
func (d AgentDescriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CapabilityEquivalent reports whether other covers every capability this
// descriptor declares. Used for fallback substitution when a specialist
// exhausts its retries.
func (d AgentDescriptor) CapabilityEquivalent(other AgentDescriptor) bool {
	for _, c := range d.Capabilities {
		if !other.HasCapability(c) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers can never mutate registry state.
func (d AgentDescriptor) Clone() AgentDescriptor {
	out := d
	out.Capabilities = append([]string(nil), d.Capabilities...)
	out.Dependencies = append([]string(nil), d.Dependencies...)
	if d.InputSchema != nil {
		out.InputSchema = append(json.RawMessage(nil), d.InputSchema...)
	}
	if d.OutputSchema != nil {
		out.OutputSchema = append(json.RawMessage(nil), d.OutputSchema...)
	}
	return out
}

// Agent is the contract an agent must expose to participate in
// coordination. The internal reasoning behind Handle is opaque to the
// framework.
type Agent interface {
	// Describe returns the agent's descriptor.
	Describe() AgentDescriptor

	// Handle processes an incoming message and returns the reply.
	Handle(ctx context.Context, msg *Message) (*Message, error)
}
