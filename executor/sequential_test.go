package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgrid/types"
)

// pipelineAgent appends its id to the "trail" list carried between
// stages.
func pipelineAgent(id string) *stubAgent {
	return &stubAgent{
		id: id,
		handle: func(_ int, msg *types.Message) (map[string]any, error) {
			var trail []string
			if in, ok := msg.Payload["input"].(map[string]any); ok {
				trail = append(trail, stringList(in["trail"])...)
			}
			return map[string]any{"trail": append(trail, id)}, nil
		},
	}
}

func TestSequentialPipesOutputsInOrder(t *testing.T) {
	ex, _ := newTestExecutor(t, pipelineAgent("a"), pipelineAgent("b"), pipelineAgent("c"))

	result, err := ex.Execute(context.Background(), types.Task{ID: "t1", Goal: "g"}, Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"a", "b", "c"}},
	})

	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, result.State)
	require.Len(t, result.Stages, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{
		result.Stages[0].AgentID, result.Stages[1].AgentID, result.Stages[2].AgentID,
	})

	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, stringList(out["trail"]))
}

func TestSequentialHaltsOnFirstFailure(t *testing.T) {
	failing := &stubAgent{
		id: "b",
		handle: func(int, *types.Message) (map[string]any, error) {
			return nil, types.NewError(types.ErrValidation, "stage input rejected")
		},
	}
	third := pipelineAgent("c")
	ex, _ := newTestExecutor(t, pipelineAgent("a"), failing, third)

	result, err := ex.Execute(context.Background(), types.Task{ID: "t1", Goal: "g"}, Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"a", "b", "c"}},
	})

	require.Error(t, err)
	assert.Equal(t, types.StateFailed, result.State)
	// Stage three is never invoked once stage two fails.
	assert.Zero(t, third.callCount())

	// The completed prefix survives on the result and in the error.
	require.Len(t, result.Stages, 2)
	assert.False(t, result.Stages[0].Failed())
	assert.True(t, result.Stages[1].Failed())

	var structured *types.Error
	require.ErrorAs(t, err, &structured)
	assert.Contains(t, structured.Partial, "a")
}

func TestSequentialResumeSkipsCompletedStages(t *testing.T) {
	var allow sync.Map
	first := pipelineAgent("a")
	flaky := &stubAgent{id: "b"}
	flaky.handle = func(_ int, msg *types.Message) (map[string]any, error) {
		if _, ok := allow.Load("b"); !ok {
			return nil, types.NewError(types.ErrValidation, "not ready")
		}
		var trail []string
		if in, ok := msg.Payload["input"].(map[string]any); ok {
			trail = append(trail, stringList(in["trail"])...)
		}
		return map[string]any{"trail": append(trail, "b")}, nil
	}
	ex, _ := newTestExecutor(t, first, flaky, pipelineAgent("c"))

	cfg := Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"a", "b", "c"}},
	}
	_, err := ex.Execute(context.Background(), types.Task{ID: "t1", Goal: "g"}, cfg)
	require.Error(t, err)
	require.Equal(t, 1, first.callCount())

	// The failure cleared; resume from the stage-1 checkpoint.
	allow.Store("b", true)
	result, err := ex.Resume(context.Background(), "t1")

	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, result.State)
	// Stage one ran exactly once across both executions.
	assert.Equal(t, 1, first.callCount())

	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, stringList(out["trail"]))
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	ex, _ := newTestExecutor(t)

	_, err := ex.Resume(context.Background(), "never-ran")

	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
}

func TestCompletedRunDeletesCheckpoint(t *testing.T) {
	ex, _ := newTestExecutor(t, pipelineAgent("a"))

	_, err := ex.Execute(context.Background(), types.Task{ID: "t1", Goal: "g"}, Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"a"}},
	})
	require.NoError(t, err)

	_, err = ex.checkpoints.Load(context.Background(), "t1")
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
}
