package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records coordination metrics. All Record* methods are safe
// on a nil receiver so components can treat metrics as optional.
type Collector struct {
	// Bus
	messagesTotal *prometheus.CounterVec

	// Shared memory
	memoryWritesTotal    *prometheus.CounterVec
	memoryConflictsTotal *prometheus.CounterVec

	// Pattern executor
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	stateTransitions  *prometheus.CounterVec

	// Retry & failure manager
	invocationAttempts *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	deadLettersTotal   *prometheus.CounterVec

	// Confidence gate
	confidenceScore   *prometheus.HistogramVec
	confidenceBlocked *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered against the
// default prometheus registerer.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith registers the collector's metrics against reg.
// Tests pass a fresh registry to avoid duplicate registration.
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.messagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of bus messages by delivery status",
		},
		[]string{"sender", "recipient", "type", "status"},
	)

	c.memoryWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Total number of shared memory writes",
		},
		[]string{"writer", "status"},
	)

	c.memoryConflictsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_conflicts_total",
			Help:      "Total number of detected write conflicts",
		},
		[]string{"policy"},
	)

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_executions_total",
			Help:      "Total number of pattern executions",
		},
		[]string{"pattern", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pattern_execution_duration_seconds",
			Help:      "Pattern execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"pattern"},
	)

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_state_transitions_total",
			Help:      "Total number of execution state transitions",
		},
		[]string{"pattern", "from_state", "to_state"},
	)

	c.invocationAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocation_attempts_total",
			Help:      "Total number of agent invocation attempts",
		},
		[]string{"agent_id", "status"},
	)

	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	c.deadLettersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Total number of invocations escalated to the dead letter queue",
		},
		[]string{"agent_id"},
	)

	c.confidenceScore = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Distribution of computed confidence scores",
			Buckets:   []float64{50, 60, 70, 80, 85, 90, 92, 94, 95, 96, 98, 100},
		},
		[]string{"pattern"},
	)

	c.confidenceBlocked = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confidence_blocked_total",
			Help:      "Total number of results blocked below the confidence baseline",
		},
		[]string{"pattern"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordMessage records one bus message by delivery status.
func (c *Collector) RecordMessage(sender, recipient, msgType, status string) {
	if c == nil {
		return
	}
	c.messagesTotal.WithLabelValues(sender, recipient, msgType, status).Inc()
}

// RecordMemoryWrite records a shared memory write.
func (c *Collector) RecordMemoryWrite(writer, status string) {
	if c == nil {
		return
	}
	c.memoryWritesTotal.WithLabelValues(writer, status).Inc()
}

// RecordMemoryConflict records a detected write conflict.
func (c *Collector) RecordMemoryConflict(policy string) {
	if c == nil {
		return
	}
	c.memoryConflictsTotal.WithLabelValues(policy).Inc()
}

// RecordExecution records a finished pattern execution.
func (c *Collector) RecordExecution(pattern, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(pattern, status).Inc()
	c.executionDuration.WithLabelValues(pattern).Observe(duration.Seconds())
}

// RecordStateTransition records an execution state machine move.
func (c *Collector) RecordStateTransition(pattern, fromState, toState string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(pattern, fromState, toState).Inc()
}

// RecordInvocationAttempt records one agent invocation attempt.
func (c *Collector) RecordInvocationAttempt(agentID, status string) {
	if c == nil {
		return
	}
	c.invocationAttempts.WithLabelValues(agentID, status).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func (c *Collector) RecordBreakerTransition(agentID, fromState, toState string) {
	if c == nil {
		return
	}
	c.breakerTransitions.WithLabelValues(agentID, fromState, toState).Inc()
}

// RecordDeadLetter records a dead-letter escalation.
func (c *Collector) RecordDeadLetter(agentID string) {
	if c == nil {
		return
	}
	c.deadLettersTotal.WithLabelValues(agentID).Inc()
}

// RecordConfidence records a computed confidence score and whether it
// was blocked.
func (c *Collector) RecordConfidence(pattern string, score float64, blocked bool) {
	if c == nil {
		return
	}
	c.confidenceScore.WithLabelValues(pattern).Observe(score)
	if blocked {
		c.confidenceBlocked.WithLabelValues(pattern).Inc()
	}
}
