package retry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentgrid/persistence"
	"github.com/BaSui01/agentgrid/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyAgent fails a fixed number of times before succeeding.
type flakyAgent struct {
	id       string
	failures int
	calls    atomic.Int32
}

func (a *flakyAgent) Describe() types.AgentDescriptor {
	return types.AgentDescriptor{ID: a.id, Kind: types.KindSpecialist}
}

func (a *flakyAgent) Handle(ctx context.Context, msg *types.Message) (*types.Message, error) {
	n := int(a.calls.Add(1))
	if n <= a.failures {
		return nil, types.NewError(types.ErrTimeout, "simulated failure").WithRetryable(true)
	}
	return types.NewResponse(msg, map[string]any{"ok": true}), nil
}

func testManagerConfig(maxRetries int) Config {
	return Config{
		Policy: Policy{
			MaxRetries:   maxRetries,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			Cooldown:          100 * time.Millisecond,
			HalfOpenMaxProbes: 1,
			HalfOpenSuccesses: 1,
		},
		InvokeTimeout: time.Second,
	}
}

func request() *types.Message {
	msg := types.NewRequest("executor", "worker", map[string]any{"action": "execute"})
	msg.ID = "m-1"
	msg.CorrelationID = "corr-1"
	return msg
}

func TestInvokeSucceedsOnThirdAttempt(t *testing.T) {
	m := NewManager(testManagerConfig(3), zap.NewNop())
	agent := &flakyAgent{id: "worker", failures: 2}

	start := time.Now()
	resp, err := m.Invoke(context.Background(), agent, request())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, true, resp.Payload["ok"])
	assert.Equal(t, int32(3), agent.calls.Load(), "agent invoked exactly 3 times")
	// Two backoff delays: ~20ms + ~40ms.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestInvokeExhaustedEscalatesToDeadLetter(t *testing.T) {
	dl := persistence.NewMemoryMessageStore(0)
	m := NewManager(testManagerConfig(1), zap.NewNop(), WithDeadLetters(dl))
	agent := &flakyAgent{id: "worker", failures: 10}

	_, err := m.Invoke(context.Background(), agent, request())
	require.Error(t, err)
	assert.Equal(t, int32(2), agent.calls.Load())

	recs, listErr := dl.ListDeadLetters(context.Background(), 10)
	require.NoError(t, listErr)
	require.Len(t, recs, 1)
	assert.Equal(t, persistence.StatusDeadLetter, recs[0].Status)
	assert.Equal(t, 2, recs[0].Attempts)
	assert.Contains(t, recs[0].Error, "simulated failure")
	assert.Equal(t, "corr-1", recs[0].CorrelationID)
}

func TestInvokeDoesNotRetryValidation(t *testing.T) {
	m := NewManager(testManagerConfig(5), zap.NewNop())
	agent := &rejectingAgent{}

	_, err := m.Invoke(context.Background(), agent, request())
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, int32(1), agent.calls.Load())
}

type rejectingAgent struct {
	calls atomic.Int32
}

func (a *rejectingAgent) Describe() types.AgentDescriptor {
	return types.AgentDescriptor{ID: "strict", Kind: types.KindValidator}
}

func (a *rejectingAgent) Handle(ctx context.Context, msg *types.Message) (*types.Message, error) {
	a.calls.Add(1)
	return nil, types.NewError(types.ErrValidation, "schema mismatch")
}

func TestOpenBreakerFailsFastWithoutCallingAgent(t *testing.T) {
	cfg := testManagerConfig(0)
	m := NewManager(cfg, zap.NewNop())
	agent := &flakyAgent{id: "worker", failures: 100}

	// Five failing invocations trip the breaker.
	for i := 0; i < 5; i++ {
		_, err := m.Invoke(context.Background(), agent, request())
		require.Error(t, err)
	}
	require.Equal(t, int32(5), agent.calls.Load())
	require.Equal(t, BreakerOpen, m.Breakers().GetOrCreate("worker").State())

	_, err := m.Invoke(context.Background(), agent, request())
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentUnavailable, types.GetErrorCode(err))
	assert.Equal(t, int32(5), agent.calls.Load(), "agent must not be called while circuit is open")
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	cfg := testManagerConfig(0)
	m := NewManager(cfg, zap.NewNop())
	failing := &flakyAgent{id: "worker", failures: 5}

	for i := 0; i < 5; i++ {
		_, _ = m.Invoke(context.Background(), failing, request())
	}
	require.Equal(t, BreakerOpen, m.Breakers().GetOrCreate("worker").State())

	time.Sleep(120 * time.Millisecond)

	// Agent has recovered; the half-open probe succeeds and closes the
	// breaker.
	resp, err := m.Invoke(context.Background(), failing, request())
	require.NoError(t, err)
	assert.Equal(t, true, resp.Payload["ok"])
	assert.Equal(t, BreakerClosed, m.Breakers().GetOrCreate("worker").State())
}

type slowAgent struct{}

func (a *slowAgent) Describe() types.AgentDescriptor {
	return types.AgentDescriptor{ID: "slow", Kind: types.KindSpecialist}
}

func (a *slowAgent) Handle(ctx context.Context, msg *types.Message) (*types.Message, error) {
	select {
	case <-time.After(time.Second):
		return types.NewResponse(msg, nil), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestInvokeTimesOut(t *testing.T) {
	cfg := testManagerConfig(0)
	cfg.InvokeTimeout = 20 * time.Millisecond
	m := NewManager(cfg, zap.NewNop())

	start := time.Now()
	_, err := m.Invoke(context.Background(), &slowAgent{}, request())
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
