package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Coordination error codes
const (
	ErrValidation       ErrorCode = "VALIDATION"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrAgentUnavailable ErrorCode = "AGENT_UNAVAILABLE"
	ErrAggregation      ErrorCode = "AGGREGATION_FAILURE"
	ErrNoMatch          ErrorCode = "CONDITIONAL_NO_MATCH"
	ErrMemoryConflict   ErrorCode = "MEMORY_CONFLICT"
	ErrBelowBaseline    ErrorCode = "CONFIDENCE_BELOW_BASELINE"
)

// Infrastructure error codes
const (
	ErrAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	ErrInvalidConfig      ErrorCode = "INVALID_CONFIG"
	ErrBusClosed          ErrorCode = "BUS_CLOSED"
	ErrMailboxFull        ErrorCode = "MAILBOX_FULL"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrInternal           ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
// Terminal pattern failures carry the failing component, any partial
// results obtained before the failure, and a remediation hint.
type Error struct {
	Code        ErrorCode      `json:"code"`
	Message     string         `json:"message"`
	Component   string         `json:"component,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
	Retryable   bool           `json:"retryable"`
	Partial     map[string]any `json:"partial,omitempty"`
	Cause       error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithComponent names the component that produced the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithRemediation attaches a remediation hint for the caller.
func (e *Error) WithRemediation(hint string) *Error {
	e.Remediation = hint
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithPartial attaches the partial results obtained before the failure.
func (e *Error) WithPartial(partial map[string]any) *Error {
	e.Partial = partial
	return e
}

// IsRetryable checks if an error (or any error it wraps) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as
// needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
