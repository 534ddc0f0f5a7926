package types

import (
	"time"
)

// MessageType identifies the kind of inter-agent message.
type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageNotification MessageType = "notification"
	MessageError        MessageType = "error"
)

// Valid reports whether the type is one of the declared variants.
func (t MessageType) Valid() bool {
	switch t {
	case MessageRequest, MessageResponse, MessageNotification, MessageError:
		return true
	}
	return false
}

// Message is a communication unit between agents. The ID is generated at
// send time and is globally unique. CorrelationID links a request/response
// chain across agents.
type Message struct {
	ID            string         `json:"id"`
	Sender        string         `json:"sender"`
	Recipient     string         `json:"recipient"`
	Type          MessageType    `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewMessage creates a message with the given participants and payload.
// ID and Timestamp are assigned by the bus at send time.
func NewMessage(sender, recipient string, mt MessageType, payload map[string]any) *Message {
	return &Message{
		Sender:    sender,
		Recipient: recipient,
		Type:      mt,
		Payload:   payload,
	}
}

// NewRequest creates a request message.
func NewRequest(sender, recipient string, payload map[string]any) *Message {
	return NewMessage(sender, recipient, MessageRequest, payload)
}

// NewResponse creates a response correlated with the given request.
func NewResponse(req *Message, payload map[string]any) *Message {
	resp := NewMessage(req.Recipient, req.Sender, MessageResponse, payload)
	resp.CorrelationID = req.CorrelationID
	if resp.CorrelationID == "" {
		resp.CorrelationID = req.ID
	}
	return resp
}

// NewNotification creates a notification message.
func NewNotification(sender, recipient string, payload map[string]any) *Message {
	return NewMessage(sender, recipient, MessageNotification, payload)
}

// WithCorrelation sets the correlation id.
func (m *Message) WithCorrelation(correlationID string) *Message {
	m.CorrelationID = correlationID
	return m
}

// Validate checks the message shape. Invalid messages are rejected
// synchronously by the bus and never delivered.
func (m *Message) Validate() error {
	if m == nil {
		return NewError(ErrValidation, "message is nil")
	}
	if m.Sender == "" {
		return NewError(ErrValidation, "message sender is empty")
	}
	if m.Recipient == "" {
		return NewError(ErrValidation, "message recipient is empty")
	}
	if !m.Type.Valid() {
		return NewError(ErrValidation, "unknown message type: "+string(m.Type))
	}
	return nil
}
