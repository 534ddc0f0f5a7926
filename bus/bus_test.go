package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentgrid/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(DefaultConfig(), zap.NewNop())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSendAssignsUniqueIDs(t *testing.T) {
	b := newTestBus(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := b.Send("a", "b", types.MessageRequest, map[string]any{"n": i})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		require.False(t, seen[id], "message ids must be globally unique")
		seen[id] = true
	}
}

func TestSendRejectsMalformed(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Send("", "b", types.MessageRequest, nil)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = b.Send("a", "", types.MessageRequest, nil)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = b.Send("a", "b", "telegram", nil)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	// A rejected message is never delivered.
	_, err = b.Receive(context.Background(), "b", 50*time.Millisecond)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestPerPairFIFO(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	for trial := 0; trial < 1000; trial++ {
		id1, err := b.Send("a", "b", types.MessageRequest, map[string]any{"seq": 1})
		require.NoError(t, err)
		id2, err := b.Send("a", "b", types.MessageRequest, map[string]any{"seq": 2})
		require.NoError(t, err)

		m1, err := b.Receive(ctx, "b", time.Second)
		require.NoError(t, err)
		m2, err := b.Receive(ctx, "b", time.Second)
		require.NoError(t, err)

		require.Equal(t, id1, m1.ID, "trial %d: M1 must arrive before M2", trial)
		require.Equal(t, id2, m2.ID, "trial %d", trial)
	}
}

func TestReceiveTimeout(t *testing.T) {
	b := newTestBus(t)

	start := time.Now()
	_, err := b.Receive(context.Background(), "lonely", 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestReceiveCancelled(t *testing.T) {
	b := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Receive(ctx, "b", 5*time.Second)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestRegisterHandlerPushDelivery(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var got []*types.Message
	done := make(chan struct{}, 1)

	err := b.RegisterHandler("b", types.MessageNotification, func(ctx context.Context, msg *types.Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		done <- struct{}{}
	})
	require.NoError(t, err)

	_, err = b.Send("a", "b", types.MessageNotification, map[string]any{"event": "cleared"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, "cleared", got[0].Payload["event"])
	mu.Unlock()

	// Other types still go to the pull queue.
	_, err = b.Send("a", "b", types.MessageRequest, nil)
	require.NoError(t, err)
	msg, err := b.Receive(context.Background(), "b", time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.MessageRequest, msg.Type)
}

func TestHandlerPreservesSendOrder(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(50)

	require.NoError(t, b.RegisterHandler("b", types.MessageRequest, func(ctx context.Context, msg *types.Message) {
		mu.Lock()
		order = append(order, msg.Payload["seq"].(int))
		mu.Unlock()
		wg.Done()
	}))

	for i := 0; i < 50; i++ {
		_, err := b.Send("a", "b", types.MessageRequest, map[string]any{"seq": i})
		require.NoError(t, err)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range order {
		require.Equal(t, i, seq)
	}
}

func TestResponseCorrelation(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	reqID, err := b.Send("asker", "answerer", types.MessageRequest, map[string]any{"q": "?"})
	require.NoError(t, err)

	req, err := b.Receive(ctx, "answerer", time.Second)
	require.NoError(t, err)
	assert.Equal(t, reqID, req.CorrelationID)

	_, err = b.SendMessage(types.NewResponse(req, map[string]any{"a": "!"}))
	require.NoError(t, err)

	resp, err := b.Receive(ctx, "asker", time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.MessageResponse, resp.Type)
	assert.Equal(t, reqID, resp.CorrelationID)
}

func TestBroadcast(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	b.Register("x")
	b.Register("y")
	b.Register("sender")

	ids := b.Broadcast("sender", types.MessageNotification, map[string]any{"event": "memory_cleared"})
	assert.Len(t, ids, 2)

	for _, agent := range []string{"x", "y"} {
		msg, err := b.Receive(ctx, agent, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "memory_cleared", msg.Payload["event"])
		assert.Equal(t, "sender", msg.Sender)
	}
}

func TestMailboxFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MailboxCapacity = 1
	b := New(cfg, zap.NewNop())
	defer b.Close()

	// Stall the dispatcher so ingress fills up.
	blocked := make(chan struct{})
	require.NoError(t, b.RegisterHandler("b", types.MessageRequest, func(ctx context.Context, msg *types.Message) {
		<-blocked
	}))
	defer close(blocked)

	var full bool
	for i := 0; i < 10; i++ {
		if _, err := b.Send("a", "b", types.MessageRequest, nil); err != nil {
			require.Equal(t, types.ErrMailboxFull, types.GetErrorCode(err))
			full = true
			break
		}
	}
	assert.True(t, full, "expected mailbox to fill")
}

func TestHistory(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Send("a", "b", types.MessageRequest, map[string]any{"n": fmt.Sprintf("%d", i)})
		require.NoError(t, err)
	}
	// Drain so delivery (and archival) completes.
	for i := 0; i < 3; i++ {
		_, err := b.Receive(ctx, "b", time.Second)
		require.NoError(t, err)
	}

	recs, err := b.History(ctx, "b", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, "2", recs[0].Payload["n"], "history is newest first")
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendRate = 1
	cfg.SendBurst = 2
	b := New(cfg, zap.NewNop())
	defer b.Close()

	_, err := b.Send("a", "b", types.MessageRequest, nil)
	require.NoError(t, err)
	_, err = b.Send("a", "b", types.MessageRequest, nil)
	require.NoError(t, err)
	_, err = b.Send("a", "b", types.MessageRequest, nil)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}

func TestClosedBus(t *testing.T) {
	b := New(DefaultConfig(), zap.NewNop())
	b.Register("b")
	require.NoError(t, b.Close())

	_, err := b.Send("a", "b", types.MessageRequest, nil)
	assert.Equal(t, types.ErrBusClosed, types.GetErrorCode(err))

	require.NoError(t, b.Close(), "closing twice is fine")
}
