package export

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid/executor"
	"github.com/BaSui01/agentgrid/memory"
	"github.com/BaSui01/agentgrid/registry"
	"github.com/BaSui01/agentgrid/retry"
	"github.com/BaSui01/agentgrid/types"
)

type describedAgent struct {
	desc types.AgentDescriptor
}

func (a describedAgent) Describe() types.AgentDescriptor { return a.desc }

func (a describedAgent) Handle(_ context.Context, msg *types.Message) (*types.Message, error) {
	return types.NewResponse(msg, nil), nil
}

func newAgent(id string, caps ...string) describedAgent {
	return describedAgent{desc: types.AgentDescriptor{
		ID:           id,
		Kind:         types.KindSpecialist,
		Capabilities: caps,
	}}
}

func TestExportDocumentShape(t *testing.T) {
	reg := registry.New(zap.NewNop())
	_, err := reg.Register(newAgent("researcher", "research"))
	require.NoError(t, err)
	_, err = reg.Register(newAgent("writer", "writing"))
	require.NoError(t, err)

	mem := memory.New(memory.Config{Policy: types.PolicyStrict, HistoryLimit: 10}, zap.NewNop())
	invoker := retry.NewManager(retry.DefaultConfig(), zap.NewNop())
	invoker.Breakers().GetOrCreate("researcher")

	patterns := []executor.Config{{
		Pattern:    executor.PatternSequential,
		Sequential: &executor.SequentialConfig{Agents: []string{"researcher", "writer"}},
	}}

	spec := New(reg, mem, invoker).Export(patterns)

	require.Len(t, spec.Agents, 2)
	assert.Equal(t, "researcher", spec.Agents[0].ID)
	require.Len(t, spec.Patterns, 1)

	assert.Equal(t, "at-most-once", spec.Protocol.Delivery)
	assert.Contains(t, spec.Protocol.MessageTypes, "request")
	assert.Contains(t, spec.Protocol.Fields, "correlation_id")

	assert.Equal(t, string(types.PolicyStrict), spec.Memory.WritePolicy)
	assert.Equal(t, 10, spec.Memory.HistoryLimit)
	assert.True(t, spec.Memory.TombstoneDeletes)

	require.Len(t, spec.Breakers, 1)
	assert.Equal(t, "closed", spec.Breakers[0].State)

	assert.True(t, spec.Metadata.Compatible)
	assert.Equal(t, SchemaVersion, spec.Metadata.SchemaVersion)
	assert.False(t, spec.Metadata.CreatedAt.IsZero())
}

func TestExportWithoutOptionalCollaborators(t *testing.T) {
	reg := registry.New(zap.NewNop())

	spec := New(reg, nil, nil).Export(nil)

	assert.Empty(t, spec.Agents)
	assert.Empty(t, spec.Breakers)
	assert.Equal(t, string(types.PolicyLastWriteWins), spec.Memory.WritePolicy)
}

func TestExportJSONRoundtrip(t *testing.T) {
	reg := registry.New(zap.NewNop())
	_, err := reg.Register(newAgent("solo"))
	require.NoError(t, err)

	raw, err := New(reg, nil, nil).JSON(nil)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "agents")
	assert.Contains(t, decoded, "communication_protocol")
	assert.Contains(t, decoded, "shared_memory_config")
	assert.Contains(t, decoded, "metadata")
}
