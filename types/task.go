package types

import (
	"fmt"
	"time"
)

// Task is the unit of work submitted to the pattern executor.
type Task struct {
	ID       string         `json:"id"`
	Goal     string         `json:"goal"`
	Input    any            `json:"input,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecutionState tracks a pattern execution through its lifecycle.
// Completed and Failed are terminal and immutable once entered.
type ExecutionState string

const (
	StatePending         ExecutionState = "PENDING"
	StateDispatched      ExecutionState = "DISPATCHED"
	StateAwaitingResults ExecutionState = "AWAITING_RESULTS"
	StateAggregating     ExecutionState = "AGGREGATING"
	StateCompleted       ExecutionState = "COMPLETED"
	StateFailed          ExecutionState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s ExecutionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the move from s to next is legal.
// Failed is reachable from any non-terminal state.
func (s ExecutionState) CanTransition(next ExecutionState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	switch s {
	case StatePending:
		return next == StateDispatched
	case StateDispatched:
		return next == StateAwaitingResults
	case StateAwaitingResults:
		return next == StateAggregating
	case StateAggregating:
		return next == StateCompleted
	}
	return false
}

// StageResult records the outcome of one stage or subtask within a
// pattern execution.
type StageResult struct {
	AgentID  string        `json:"agent_id"`
	Stage    string        `json:"stage,omitempty"`
	Output   any           `json:"output,omitempty"`
	Err      string        `json:"error,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Failed reports whether the stage ended in error.
func (r StageResult) Failed() bool {
	return r.Err != ""
}

// Result is the aggregated, confidence-checked outcome of a pattern
// execution.
type Result struct {
	TaskID     string           `json:"task_id"`
	Pattern    string           `json:"pattern"`
	State      ExecutionState   `json:"state"`
	Output     any              `json:"output,omitempty"`
	Stages     []StageResult    `json:"stages,omitempty"`
	Confidence *ConfidenceScore `json:"confidence,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// PartialOutputs returns per-agent outputs for stages that succeeded,
// keyed by agent id. Used to populate the Partial field on terminal
// failures.
func (r *Result) PartialOutputs() map[string]any {
	if r == nil || len(r.Stages) == 0 {
		return nil
	}
	out := make(map[string]any)
	for _, s := range r.Stages {
		if !s.Failed() {
			out[s.AgentID] = s.Output
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// InvalidTransitionError builds the error for an illegal state move.
func InvalidTransitionError(from, to ExecutionState) *Error {
	return NewError(ErrInvalidTransition,
		fmt.Sprintf("illegal execution state transition %s -> %s", from, to))
}
