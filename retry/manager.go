package retry

import (
	"context"
	"time"

	"github.com/BaSui01/agentgrid/internal/metrics"
	"github.com/BaSui01/agentgrid/observe"
	"github.com/BaSui01/agentgrid/persistence"
	"github.com/BaSui01/agentgrid/types"
	"go.uber.org/zap"
)

// Config tunes the invocation manager.
type Config struct {
	Policy  Policy        `yaml:"policy" json:"policy"`
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
	// InvokeTimeout bounds a single agent call; 0 means no bound beyond
	// the caller's context.
	InvokeTimeout time.Duration `yaml:"invoke_timeout" json:"invoke_timeout"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Policy:        DefaultPolicy(),
		Breaker:       DefaultBreakerConfig(),
		InvokeTimeout: 30 * time.Second,
	}
}

// Manager wraps any single agent invocation with retries, a per-agent
// circuit breaker, and dead-letter escalation once retries are
// exhausted. The dead-letter store is the hand-off point for an
// external human-review process.
type Manager struct {
	config      Config
	retryer     *Retryer
	breakers    *BreakerRegistry
	deadLetters persistence.MessageStore
	emitter     observe.Emitter
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDeadLetters sets the dead-letter store.
func WithDeadLetters(store persistence.MessageStore) Option {
	return func(m *Manager) { m.deadLetters = store }
}

// WithEmitter sets the observability event emitter.
func WithEmitter(em observe.Emitter) Option {
	return func(m *Manager) { m.emitter = em }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager creates an invocation manager.
func NewManager(config Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		config:  config,
		emitter: observe.Nop(),
		logger:  logger.With(zap.String("component", "retry_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}

	policy := config.Policy
	if policy.Classify == nil {
		policy.Classify = retryableCode
	}
	m.retryer = NewRetryer(policy, logger)
	m.breakers = NewBreakerRegistry(config.Breaker, m.observeBreaker, logger)
	return m
}

// retryableCode retries timeouts, unavailability, and anything marked
// retryable. Validation failures are never retried; an unclassified
// error is assumed transient.
func retryableCode(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrTimeout, types.ErrAgentUnavailable:
		return true
	case "":
		return true
	default:
		return types.IsRetryable(err)
	}
}

// Breakers exposes the per-agent breaker registry.
func (m *Manager) Breakers() *BreakerRegistry {
	return m.breakers
}

// Invoke calls agent.Handle(msg) under the retry policy and the agent's
// circuit breaker. An open breaker fails fast with AGENT_UNAVAILABLE
// without calling the agent. Exhausted retries escalate the message to
// the dead-letter store before surfacing the final error.
func (m *Manager) Invoke(ctx context.Context, agent types.Agent, msg *types.Message) (*types.Message, error) {
	agentID := agent.Describe().ID
	breaker := m.breakers.GetOrCreate(agentID)
	attempts := 0

	resp, err := DoWithResult(ctx, m.retryer, func() (*types.Message, error) {
		if allowed, allowErr := breaker.Allow(); !allowed {
			m.metrics.RecordInvocationAttempt(agentID, "rejected")
			return nil, types.NewError(types.ErrAgentUnavailable,
				"circuit breaker rejected invocation of agent "+agentID).
				WithCause(allowErr).
				WithComponent("retry_manager").
				WithRetryable(true)
		}

		attempts++
		resp, callErr := m.call(ctx, agent, msg)
		if callErr != nil {
			breaker.RecordFailure()
			m.metrics.RecordInvocationAttempt(agentID, "failure")
			return nil, callErr
		}
		breaker.RecordSuccess()
		m.metrics.RecordInvocationAttempt(agentID, "success")
		return resp, nil
	})
	if err == nil {
		return resp, nil
	}

	m.escalate(ctx, agentID, msg, attempts, err)
	return nil, err
}

// call runs one attempt under the per-invocation timeout.
func (m *Manager) call(ctx context.Context, agent types.Agent, msg *types.Message) (*types.Message, error) {
	if m.config.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.InvokeTimeout)
		defer cancel()
	}

	type outcome struct {
		resp *types.Message
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := agent.Handle(ctx, msg)
		done <- outcome{resp, err}
	}()

	select {
	case out := <-done:
		return out.resp, out.err
	case <-ctx.Done():
		return nil, types.NewError(types.ErrTimeout,
			"agent "+agent.Describe().ID+" did not respond in time").
			WithCause(ctx.Err()).
			WithRetryable(true)
	}
}

// escalate hands an exhausted invocation to the dead-letter store.
func (m *Manager) escalate(ctx context.Context, agentID string, msg *types.Message, attempts int, cause error) {
	m.logger.Error("invocation escalated to dead letter queue",
		zap.String("agent_id", agentID),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	m.metrics.RecordDeadLetter(agentID)

	correlation := ""
	if msg != nil {
		correlation = msg.CorrelationID
	}
	observe.Record(m.emitter, correlation, agentID, observe.ActionDeadLetter, observe.OutcomeError, cause.Error())

	if m.deadLetters == nil || msg == nil {
		return
	}
	rec := persistence.RecordFromMessage(msg)
	if rec.ID == "" {
		rec.ID = "deadletter-" + time.Now().Format("20060102T150405.000000000")
	}
	rec.Status = persistence.StatusDeadLetter
	rec.Error = cause.Error()
	rec.Attempts = attempts
	if err := m.deadLetters.Save(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn("dead letter save failed", zap.Error(err))
	}
}

// observeBreaker forwards breaker transitions to metrics.
func (m *Manager) observeBreaker(agentID string, from, to BreakerState, reason string) {
	m.metrics.RecordBreakerTransition(agentID, from.String(), to.String())
}
