package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid/registry"
	"github.com/BaSui01/agentgrid/retry"
	"github.com/BaSui01/agentgrid/types"
)

// stubAgent is a scripted agent: handle receives the 1-based call
// number and the incoming message.
type stubAgent struct {
	id           string
	kind         types.AgentKind
	capabilities []string

	mu     sync.Mutex
	calls  int
	handle func(call int, msg *types.Message) (map[string]any, error)
}

func (a *stubAgent) Describe() types.AgentDescriptor {
	kind := a.kind
	if kind == "" {
		kind = types.KindSpecialist
	}
	return types.AgentDescriptor{
		ID:           a.id,
		Kind:         kind,
		Capabilities: a.capabilities,
	}
}

func (a *stubAgent) Handle(_ context.Context, msg *types.Message) (*types.Message, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	a.mu.Unlock()

	payload, err := a.handle(n, msg)
	if err != nil {
		return nil, err
	}
	return types.NewResponse(msg, payload), nil
}

func (a *stubAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// echoAgent succeeds on every call with a fixed payload.
func echoAgent(id string, payload map[string]any) *stubAgent {
	return &stubAgent{
		id: id,
		handle: func(int, *types.Message) (map[string]any, error) {
			return payload, nil
		},
	}
}

// fastInvoker keeps retry delays short enough for tests.
func fastInvoker() *retry.Manager {
	cfg := retry.DefaultConfig()
	cfg.Policy.MaxRetries = 2
	cfg.Policy.InitialDelay = 10 * time.Millisecond
	cfg.Policy.MaxDelay = 20 * time.Millisecond
	cfg.Policy.Jitter = false
	cfg.InvokeTimeout = time.Second
	return retry.NewManager(cfg, zap.NewNop())
}

func newTestExecutor(t *testing.T, agents ...types.Agent) (*Executor, *registry.Registry) {
	t.Helper()
	reg := registry.New(zap.NewNop())
	for _, a := range agents {
		_, err := reg.Register(a)
		require.NoError(t, err)
	}
	return New(reg, fastInvoker(), zap.NewNop()), reg
}

func TestExecuteRejectsUnknownPattern(t *testing.T) {
	ex, _ := newTestExecutor(t)

	_, err := ex.Execute(context.Background(), types.Task{Goal: "g"}, Config{Pattern: "broadcast"})

	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestExecuteRejectsUnregisteredAgent(t *testing.T) {
	ex, _ := newTestExecutor(t, echoAgent("a", nil))

	_, err := ex.Execute(context.Background(), types.Task{Goal: "g"}, Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"a", "ghost"}},
	})

	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestExecuteAssignsTaskID(t *testing.T) {
	ex, _ := newTestExecutor(t, echoAgent("a", map[string]any{"ok": true}))

	result, err := ex.Execute(context.Background(), types.Task{Goal: "g"}, Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"a"}},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, result.TaskID)
	assert.Equal(t, types.StateCompleted, result.State)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestExecuteBlocksLowConfidenceResult(t *testing.T) {
	low := echoAgent("writer", map[string]any{
		"confidence_factors": map[string]any{
			"completeness":        80.0,
			"clarity":             80.0,
			"feasibility":         80.0,
			"validation_coverage": 80.0,
			"risk":                80.0,
			"alignment":           80.0,
		},
	})
	ex, _ := newTestExecutor(t, low)

	result, err := ex.Execute(context.Background(), types.Task{ID: "t1", Goal: "g"}, Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"writer"}},
	})

	require.Error(t, err)
	assert.Equal(t, types.ErrBelowBaseline, types.GetErrorCode(err))
	assert.Equal(t, types.StateFailed, result.State)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 80.0, result.Confidence.Value, 1e-9)
}

func TestExecuteReleasesHighConfidenceResult(t *testing.T) {
	high := echoAgent("writer", map[string]any{
		"answer": 42,
		"confidence_factors": map[string]any{
			"completeness":        98.0,
			"clarity":             98.0,
			"feasibility":         98.0,
			"validation_coverage": 98.0,
			"risk":                98.0,
			"alignment":           98.0,
		},
	})
	ex, _ := newTestExecutor(t, high)

	result, err := ex.Execute(context.Background(), types.Task{ID: "t1", Goal: "g"}, Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"writer"}},
	})

	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, result.State)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 98.0, result.Confidence.Value, 1e-9)
}

func TestTerminalStateIsImmutable(t *testing.T) {
	ex, _ := newTestExecutor(t, echoAgent("a", nil))

	result, err := ex.Execute(context.Background(), types.Task{ID: "t1", Goal: "g"}, Config{
		Pattern:    PatternSequential,
		Sequential: &SequentialConfig{Agents: []string{"a"}},
	})
	require.NoError(t, err)
	require.Equal(t, types.StateCompleted, result.State)

	assert.False(t, result.State.CanTransition(types.StateFailed))
	assert.False(t, result.State.CanTransition(types.StatePending))
}
