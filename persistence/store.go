// Package persistence provides durable storage for delivered and
// dead-lettered coordination messages.
//
// The bus archives each delivered message here, and the retry manager
// hands exhausted invocations to the dead-letter queue so an external
// review process can pick them up.
//
// Supported backends:
// - Memory: for development and testing (default)
// - Redis: for deployments that need the archive to survive restarts
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentgrid/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// RecordStatus marks why a message record was archived.
type RecordStatus string

const (
	StatusDelivered  RecordStatus = "delivered"
	StatusDeadLetter RecordStatus = "dead_letter"
)

// MessageRecord is the archived form of a bus message, plus failure
// metadata for dead letters.
type MessageRecord struct {
	ID            string            `json:"id"`
	Sender        string            `json:"sender"`
	Recipient     string            `json:"recipient"`
	Type          types.MessageType `json:"type"`
	Payload       map[string]any    `json:"payload,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Status        RecordStatus      `json:"status"`
	Error         string            `json:"error,omitempty"`
	Attempts      int               `json:"attempts,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// RecordFromMessage builds a delivered-message record.
func RecordFromMessage(msg *types.Message) *MessageRecord {
	return &MessageRecord{
		ID:            msg.ID,
		Sender:        msg.Sender,
		Recipient:     msg.Recipient,
		Type:          msg.Type,
		Payload:       msg.Payload,
		CorrelationID: msg.CorrelationID,
		Status:        StatusDelivered,
		CreatedAt:     msg.Timestamp,
	}
}

// MessageStore persists message records.
type MessageStore interface {
	// Save persists a record. Records are immutable once saved.
	Save(ctx context.Context, rec *MessageRecord) error

	// Get retrieves a record by message id.
	Get(ctx context.Context, id string) (*MessageRecord, error)

	// ListByAgent returns the most recent records addressed to an agent,
	// newest first, up to limit.
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*MessageRecord, error)

	// ListDeadLetters returns dead-letter records, newest first, up to limit.
	ListDeadLetters(ctx context.Context, limit int) ([]*MessageRecord, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
