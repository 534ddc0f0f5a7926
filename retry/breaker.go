package retry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed lets requests through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all requests until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets a bounded number of probe requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a per-agent circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// HalfOpenMaxProbes bounds concurrent probes in half-open state.
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" json:"half_open_max_probes"`
	// HalfOpenSuccesses is the consecutive probe successes that close
	// the breaker again.
	HalfOpenSuccesses int `yaml:"half_open_successes" json:"half_open_successes"`
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		Cooldown:          30 * time.Second,
		HalfOpenMaxProbes: 3,
		HalfOpenSuccesses: 1,
	}
}

// BreakerObserver is notified of breaker state changes.
type BreakerObserver func(agentID string, from, to BreakerState, reason string)

// Breaker isolates one persistently failing agent.
type Breaker struct {
	agentID     string
	config      BreakerConfig
	state       BreakerState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	observer    BreakerObserver
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewBreaker creates a circuit breaker for one agent.
func NewBreaker(agentID string, config BreakerConfig, observer BreakerObserver, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = DefaultBreakerConfig().HalfOpenMaxProbes
	}
	if config.HalfOpenSuccesses <= 0 {
		config.HalfOpenSuccesses = DefaultBreakerConfig().HalfOpenSuccesses
	}
	return &Breaker{
		agentID:  agentID,
		config:   config,
		state:    BreakerClosed,
		observer: observer,
		logger:   logger.With(zap.String("agent_id", agentID)),
	}
}

// Allow reports whether a request may proceed. An open breaker whose
// cooldown has elapsed moves to half-open and admits the request as a
// probe.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, nil

	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.config.Cooldown {
			b.transitionTo(BreakerHalfOpen, "cooldown elapsed")
			b.probes = 1
			b.successes = 0
			return true, nil
		}
		return false, fmt.Errorf("circuit open for agent %s: %d consecutive failures, retry in %v",
			b.agentID, b.failures, b.config.Cooldown-time.Since(b.lastFailure))

	case BreakerHalfOpen:
		if b.probes < b.config.HalfOpenMaxProbes {
			b.probes++
			return true, nil
		}
		return false, fmt.Errorf("circuit half-open for agent %s: max probes (%d) in flight",
			b.agentID, b.config.HalfOpenMaxProbes)

	default:
		return false, fmt.Errorf("unknown breaker state: %d", b.state)
	}
}

// RecordSuccess feeds a successful call into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0

	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.config.HalfOpenSuccesses {
			b.transitionTo(BreakerClosed, fmt.Sprintf("%d successful probes", b.successes))
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure feeds a failed call into the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen, fmt.Sprintf("%d consecutive failures", b.failures))
		}

	case BreakerHalfOpen:
		// Any failed probe re-opens the breaker.
		b.successes = 0
		b.transitionTo(BreakerOpen, "probe failed")
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerClosed {
		b.transitionTo(BreakerClosed, "manual reset")
	}
	b.failures = 0
	b.successes = 0
	b.probes = 0
}

// transitionTo must be called with the lock held.
func (b *Breaker) transitionTo(next BreakerState, reason string) {
	prev := b.state
	b.state = next

	b.logger.Info("circuit breaker state change",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures))

	if b.observer != nil {
		// Async so an observer can't deadlock against the breaker lock.
		go b.observer(b.agentID, prev, next, reason)
	}
}

// BreakerRegistry manages one breaker per agent id.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   BreakerConfig
	observer BreakerObserver
	logger   *zap.Logger
}

// NewBreakerRegistry creates a breaker registry.
func NewBreakerRegistry(config BreakerConfig, observer BreakerObserver, logger *zap.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		config:   config,
		observer: observer,
		logger:   logger,
	}
}

// GetOrCreate returns the breaker for an agent, creating it on first
// use.
func (r *BreakerRegistry) GetOrCreate(agentID string) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[agentID]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[agentID]; ok {
		return b
	}
	b := NewBreaker(agentID, r.config, r.observer, r.logger)
	r.breakers[agentID] = b
	return b
}

// States returns the current state of every breaker.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]BreakerState, len(r.breakers))
	for id, b := range r.breakers {
		states[id] = b.State()
	}
	return states
}

// ResetAll forces every breaker closed.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
