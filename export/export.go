// Package export produces the specification document an external
// packaging or deployment collaborator consumes: the registered
// agents, the active pattern configurations, the message protocol,
// and the shared memory policy, stamped with compatibility metadata.
package export

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/BaSui01/agentgrid/executor"
	"github.com/BaSui01/agentgrid/memory"
	"github.com/BaSui01/agentgrid/registry"
	"github.com/BaSui01/agentgrid/retry"
	"github.com/BaSui01/agentgrid/types"
)

// SchemaVersion identifies the document layout. Consumers compare it
// against the versions they support.
const SchemaVersion = "1.0"

// Protocol describes the message schema agents exchange.
type Protocol struct {
	MessageTypes []string `json:"message_types"`
	Fields       []string `json:"fields"`
	Delivery     string   `json:"delivery"`
	Ordering     string   `json:"ordering"`
}

// MemoryConfig describes the shared memory namespace and its
// versioning policy.
type MemoryConfig struct {
	WritePolicy      string `json:"write_policy"`
	Versioning       string `json:"versioning"`
	TombstoneDeletes bool   `json:"tombstone_deletes"`
	HistoryLimit     int    `json:"history_limit,omitempty"`
}

// BreakerStatus reports one agent's circuit breaker state at export
// time.
type BreakerStatus struct {
	AgentID string `json:"agent_id"`
	State   string `json:"state"`
}

// Metadata stamps the document.
type Metadata struct {
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion string    `json:"schema_version"`
	// Compatible reports whether the document's schema version is one
	// the current toolchain can consume.
	Compatible bool `json:"compatible"`
}

// Specification is the exported document.
type Specification struct {
	Agents   []types.AgentDescriptor `json:"agents"`
	Patterns []executor.Config       `json:"patterns"`
	Protocol Protocol                `json:"communication_protocol"`
	Memory   MemoryConfig            `json:"shared_memory_config"`
	Breakers []BreakerStatus         `json:"breakers,omitempty"`
	Metadata Metadata                `json:"metadata"`
}

// Exporter assembles specification documents from live components.
type Exporter struct {
	registry *registry.Registry
	memory   *memory.Store
	invoker  *retry.Manager
}

// New creates an exporter. The memory store and invocation manager are
// optional; absent collaborators leave their sections at defaults.
func New(reg *registry.Registry, mem *memory.Store, invoker *retry.Manager) *Exporter {
	return &Exporter{registry: reg, memory: mem, invoker: invoker}
}

// Export builds the document for the given active pattern
// configurations.
func (e *Exporter) Export(patterns []executor.Config) Specification {
	spec := Specification{
		Agents:   e.registry.List(),
		Patterns: patterns,
		Protocol: defaultProtocol(),
		Memory:   e.memoryConfig(),
		Breakers: e.breakerStatuses(),
		Metadata: Metadata{
			CreatedAt:     time.Now().UTC(),
			SchemaVersion: SchemaVersion,
			Compatible:    true,
		},
	}
	return spec
}

// JSON renders the document for transport.
func (e *Exporter) JSON(patterns []executor.Config) ([]byte, error) {
	spec := e.Export(patterns)
	return json.MarshalIndent(spec, "", "  ")
}

func defaultProtocol() Protocol {
	return Protocol{
		MessageTypes: []string{
			string(types.MessageRequest),
			string(types.MessageResponse),
			string(types.MessageNotification),
			string(types.MessageError),
		},
		Fields: []string{
			"id", "sender", "recipient", "type", "payload",
			"correlation_id", "timestamp",
		},
		Delivery: "at-most-once",
		Ordering: "fifo-per-sender-recipient-pair",
	}
}

func (e *Exporter) memoryConfig() MemoryConfig {
	cfg := MemoryConfig{
		WritePolicy:      string(types.PolicyLastWriteWins),
		Versioning:       "per-key-monotonic",
		TombstoneDeletes: true,
	}
	if e.memory != nil {
		cfg.WritePolicy = string(e.memory.Policy())
		cfg.HistoryLimit = e.memory.HistoryLimit()
	}
	return cfg
}

func (e *Exporter) breakerStatuses() []BreakerStatus {
	if e.invoker == nil {
		return nil
	}
	states := e.invoker.Breakers().States()
	out := make([]BreakerStatus, 0, len(states))
	for agentID, state := range states {
		out = append(out, BreakerStatus{AgentID: agentID, State: state.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
