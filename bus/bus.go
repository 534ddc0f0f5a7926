// Package bus provides asynchronous point-to-point message passing
// between agent identifiers.
//
// Delivery semantics are at-most-once: the bus never retries, retry
// policy belongs to the retry manager layered above it. Messages from a
// given sender to a given recipient are delivered in send order; no
// ordering is guaranteed across different sender/recipient pairs.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentgrid/internal/metrics"
	"github.com/BaSui01/agentgrid/observe"
	"github.com/BaSui01/agentgrid/persistence"
	"github.com/BaSui01/agentgrid/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler receives push-delivered messages. When a handler is registered
// for an agent and message type, matching messages are dispatched to it
// instead of sitting in the pull queue.
type Handler func(ctx context.Context, msg *types.Message)

// Config tunes bus capacities and throughput.
type Config struct {
	// MailboxCapacity bounds each agent's inbox. A send to a full
	// mailbox is dropped with MAILBOX_FULL.
	MailboxCapacity int `yaml:"mailbox_capacity" json:"mailbox_capacity"`
	// HistoryLimit bounds the per-agent delivered-message archive index.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
	// SendRate limits sends per second across the bus; 0 disables it.
	SendRate float64 `yaml:"send_rate" json:"send_rate"`
	// SendBurst is the limiter burst when SendRate is set.
	SendBurst int `yaml:"send_burst" json:"send_burst"`
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		MailboxCapacity: 256,
		HistoryLimit:    512,
		SendRate:        0,
		SendBurst:       64,
	}
}

// mailbox is the per-agent delivery pipeline. A single dispatcher
// goroutine drains ingress, which is what preserves per-pair FIFO.
type mailbox struct {
	agentID  string
	ingress  chan *types.Message
	queue    chan *types.Message
	handlers map[types.MessageType]Handler
	hmu      sync.RWMutex
	done     chan struct{}
}

// Bus routes messages between agent mailboxes.
type Bus struct {
	mu      sync.RWMutex
	boxes   map[string]*mailbox
	closed  bool
	config  Config
	archive persistence.MessageStore
	emitter observe.Emitter
	metrics *metrics.Collector
	limiter *rate.Limiter
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithArchive sets the delivered-message archive store.
func WithArchive(store persistence.MessageStore) Option {
	return func(b *Bus) { b.archive = store }
}

// WithEmitter sets the observability event emitter.
func WithEmitter(em observe.Emitter) Option {
	return func(b *Bus) { b.emitter = em }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(b *Bus) { b.metrics = c }
}

// New creates a communication bus.
func New(config Config, logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MailboxCapacity <= 0 {
		config.MailboxCapacity = DefaultConfig().MailboxCapacity
	}
	b := &Bus{
		boxes:   make(map[string]*mailbox),
		config:  config,
		emitter: observe.Nop(),
		logger:  logger.With(zap.String("component", "bus")),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.archive == nil {
		b.archive = persistence.NewMemoryMessageStore(config.HistoryLimit)
	}
	if config.SendRate > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(config.SendRate), config.SendBurst)
	}
	return b
}

// Register creates the mailbox for an agent id. Registering is implicit
// on first send or receive; explicit registration ensures broadcast
// notifications reach agents that have not yet exchanged messages.
func (b *Bus) Register(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.box(agentID)
	}
}

// box returns the mailbox for an agent, creating it if needed. Caller
// holds the write lock.
func (b *Bus) box(agentID string) *mailbox {
	mb, ok := b.boxes[agentID]
	if ok {
		return mb
	}
	mb = &mailbox{
		agentID:  agentID,
		ingress:  make(chan *types.Message, b.config.MailboxCapacity),
		queue:    make(chan *types.Message, b.config.MailboxCapacity),
		handlers: make(map[types.MessageType]Handler),
		done:     make(chan struct{}),
	}
	b.boxes[agentID] = mb
	b.wg.Add(1)
	go b.dispatch(mb)
	return mb
}

// lookup returns an existing mailbox, or creates one.
func (b *Bus) lookup(agentID string) (*mailbox, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, types.NewError(types.ErrBusClosed, "bus is closed")
	}
	mb, ok := b.boxes[agentID]
	b.mu.RUnlock()
	if ok {
		return mb, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, types.NewError(types.ErrBusClosed, "bus is closed")
	}
	return b.box(agentID), nil
}

// Send validates the message shape synchronously and enqueues it for
// delivery, returning the generated message id. It does not wait for
// processing. Malformed messages are rejected with VALIDATION and never
// delivered.
func (b *Bus) Send(sender, recipient string, mt types.MessageType, payload map[string]any) (string, error) {
	return b.SendMessage(types.NewMessage(sender, recipient, mt, payload))
}

// SendMessage enqueues a pre-built message, assigning its id and
// timestamp.
func (b *Bus) SendMessage(msg *types.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		b.record(msg, "rejected")
		return "", err
	}
	if b.limiter != nil && !b.limiter.Allow() {
		b.record(msg, "rate_limited")
		return "", types.NewError(types.ErrRateLimited, "bus send rate exceeded").
			WithRetryable(true)
	}

	mb, err := b.lookup(msg.Recipient)
	if err != nil {
		return "", err
	}

	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()
	if msg.CorrelationID == "" && msg.Type == types.MessageRequest {
		msg.CorrelationID = msg.ID
	}

	select {
	case mb.ingress <- msg:
		b.record(msg, "sent")
		observe.Record(b.emitter, msg.CorrelationID, msg.Sender, observe.ActionMessageSend, observe.OutcomeOK, string(msg.Type))
		return msg.ID, nil
	default:
		b.record(msg, "dropped")
		observe.Record(b.emitter, msg.CorrelationID, msg.Sender, observe.ActionMessageSend, observe.OutcomeError, "mailbox full")
		return "", types.NewError(types.ErrMailboxFull, "mailbox full for agent "+msg.Recipient).
			WithRetryable(true).
			WithComponent("bus")
	}
}

// dispatch is the single consumer of a mailbox's ingress channel.
// Handler delivery happens inline here so push-delivered messages keep
// their send order.
func (b *Bus) dispatch(mb *mailbox) {
	defer b.wg.Done()
	for {
		select {
		case msg := <-mb.ingress:
			b.deliver(mb, msg)
		case <-mb.done:
			// Drain anything already enqueued before shutting down.
			for {
				select {
				case msg := <-mb.ingress:
					b.deliver(mb, msg)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(mb *mailbox, msg *types.Message) {
	if b.archive != nil {
		rec := persistence.RecordFromMessage(msg)
		if err := b.archive.Save(context.Background(), rec); err != nil {
			b.logger.Warn("archive save failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	mb.hmu.RLock()
	handler := mb.handlers[msg.Type]
	mb.hmu.RUnlock()

	if handler != nil {
		handler(context.Background(), msg)
		b.record(msg, "handled")
		observe.Record(b.emitter, msg.CorrelationID, mb.agentID, observe.ActionMessageReceive, observe.OutcomeOK, "handler")
		return
	}

	select {
	case mb.queue <- msg:
	case <-mb.done:
	}
}

// Receive blocks until a message arrives for the agent or the timeout
// elapses, in which case it returns TIMEOUT.
func (b *Bus) Receive(ctx context.Context, agentID string, timeout time.Duration) (*types.Message, error) {
	mb, err := b.lookup(agentID)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-mb.queue:
		b.record(msg, "received")
		observe.Record(b.emitter, msg.CorrelationID, agentID, observe.ActionMessageReceive, observe.OutcomeOK, "pull")
		return msg, nil
	case <-timer.C:
		return nil, types.NewError(types.ErrTimeout,
			"no message for agent "+agentID+" within "+timeout.String()).
			WithRetryable(true).
			WithComponent("bus")
	case <-ctx.Done():
		return nil, types.NewError(types.ErrTimeout, "receive cancelled").
			WithCause(ctx.Err()).
			WithComponent("bus")
	case <-mb.done:
		return nil, types.NewError(types.ErrBusClosed, "bus is closed")
	}
}

// RegisterHandler installs push-style delivery for one message type.
// Subsequent messages of that type bypass the pull queue.
func (b *Bus) RegisterHandler(agentID string, mt types.MessageType, handler Handler) error {
	if !mt.Valid() {
		return types.NewError(types.ErrValidation, "unknown message type: "+string(mt))
	}
	mb, err := b.lookup(agentID)
	if err != nil {
		return err
	}
	mb.hmu.Lock()
	defer mb.hmu.Unlock()
	if handler == nil {
		delete(mb.handlers, mt)
	} else {
		mb.handlers[mt] = handler
	}
	return nil
}

// Broadcast sends a notification to every registered agent except the
// sender. Returns the ids of the messages that were enqueued.
func (b *Bus) Broadcast(sender string, mt types.MessageType, payload map[string]any) []string {
	b.mu.RLock()
	targets := make([]string, 0, len(b.boxes))
	for id := range b.boxes {
		if id != sender {
			targets = append(targets, id)
		}
	}
	b.mu.RUnlock()

	var ids []string
	for _, id := range targets {
		msgID, err := b.Send(sender, id, mt, payload)
		if err != nil {
			b.logger.Warn("broadcast delivery failed",
				zap.String("recipient", id), zap.Error(err))
			continue
		}
		ids = append(ids, msgID)
	}
	return ids
}

// History returns the most recent messages delivered to an agent,
// newest first.
func (b *Bus) History(ctx context.Context, agentID string, limit int) ([]*persistence.MessageRecord, error) {
	return b.archive.ListByAgent(ctx, agentID, limit)
}

// Close shuts the bus down. In-flight ingress messages are drained;
// subsequent sends fail with BUS_CLOSED.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, mb := range b.boxes {
		close(mb.done)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *Bus) record(msg *types.Message, status string) {
	if b.metrics != nil && msg != nil {
		b.metrics.RecordMessage(msg.Sender, msg.Recipient, string(msg.Type), status)
	}
}
