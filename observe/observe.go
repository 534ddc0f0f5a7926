// Package observe defines the structured event boundary consumed by an
// external telemetry collaborator. The framework emits one event per
// message send/receive, per pattern state transition, and per memory
// write; how those events are shipped is up to the Emitter installed.
package observe

import (
	"time"

	"go.uber.org/zap"
)

// Action names the observable operation.
type Action string

const (
	ActionMessageSend     Action = "message_send"
	ActionMessageReceive  Action = "message_receive"
	ActionStateTransition Action = "state_transition"
	ActionMemoryWrite     Action = "memory_write"
	ActionMemoryClear     Action = "memory_clear"
	ActionDeadLetter      Action = "dead_letter"
)

// Outcome marks whether the operation succeeded.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Event is one structured observability record.
type Event struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Actor         string    `json:"actor"`
	Action        Action    `json:"action"`
	Timestamp     time.Time `json:"timestamp"`
	Outcome       Outcome   `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
}

// Emitter receives observability events. Implementations must not block:
// emission sits on the hot path of every send and write.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(event Event) { f(event) }

// Nop returns an emitter that discards all events.
func Nop() Emitter {
	return EmitterFunc(func(Event) {})
}

// NewZapEmitter logs each event at debug level through the given logger.
func NewZapEmitter(logger *zap.Logger) Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "observe"))
	return EmitterFunc(func(e Event) {
		log.Debug("event",
			zap.String("correlation_id", e.CorrelationID),
			zap.String("actor", e.Actor),
			zap.String("action", string(e.Action)),
			zap.Time("timestamp", e.Timestamp),
			zap.String("outcome", string(e.Outcome)),
			zap.String("detail", e.Detail))
	})
}

// Record builds and emits an event stamped with the current time.
func Record(em Emitter, correlationID, actor string, action Action, outcome Outcome, detail string) {
	if em == nil {
		return
	}
	em.Emit(Event{
		CorrelationID: correlationID,
		Actor:         actor,
		Action:        action,
		Timestamp:     time.Now(),
		Outcome:       outcome,
		Detail:        detail,
	})
}
