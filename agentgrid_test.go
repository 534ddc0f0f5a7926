package agentgrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgrid/executor"
	"github.com/BaSui01/agentgrid/types"
)

type fixedAgent struct {
	id      string
	payload map[string]any
}

func (a fixedAgent) Describe() types.AgentDescriptor {
	return types.AgentDescriptor{ID: a.id, Kind: types.KindSpecialist}
}

func (a fixedAgent) Handle(_ context.Context, msg *types.Message) (*types.Message, error) {
	return types.NewResponse(msg, a.payload), nil
}

func TestCoordinatorEndToEnd(t *testing.T) {
	grid, err := New()
	require.NoError(t, err)
	defer grid.Close()

	_, err = grid.Register(fixedAgent{id: "draft", payload: map[string]any{"text": "v1"}})
	require.NoError(t, err)
	_, err = grid.Register(fixedAgent{id: "polish", payload: map[string]any{"text": "v2"}})
	require.NoError(t, err)

	result, err := grid.Execute(context.Background(), types.Task{ID: "t1", Goal: "write"}, executor.Config{
		Pattern:    executor.PatternSequential,
		Sequential: &executor.SequentialConfig{Agents: []string{"draft", "polish"}},
	})

	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, result.State)

	// The released result lands in shared memory.
	stored, ok := grid.Memory().Read("result:t1")
	require.True(t, ok)
	assert.Equal(t, result.Output, stored)
}

func TestCoordinatorOptionOverrides(t *testing.T) {
	grid, err := New(
		WithMemoryPolicy(types.PolicyStrict),
		WithConfidenceThreshold(80),
	)
	require.NoError(t, err)
	defer grid.Close()

	assert.Equal(t, types.PolicyStrict, grid.Memory().Policy())
}

func TestCoordinatorRejectsInvalidConfig(t *testing.T) {
	_, err := New(WithConfidenceThreshold(150))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence threshold")
}

func TestCoordinatorExport(t *testing.T) {
	grid, err := New()
	require.NoError(t, err)
	defer grid.Close()

	_, err = grid.Register(fixedAgent{id: "solo"})
	require.NoError(t, err)

	spec := grid.Export([]executor.Config{{
		Pattern:    executor.PatternSequential,
		Sequential: &executor.SequentialConfig{Agents: []string{"solo"}},
	}})

	require.Len(t, spec.Agents, 1)
	assert.Equal(t, "solo", spec.Agents[0].ID)
	require.Len(t, spec.Patterns, 1)
	assert.True(t, spec.Metadata.Compatible)
}
