// Package memory provides the versioned key/value store shared across
// agents for coordination state.
//
// All mutation passes through Write. Locking is per key, never global,
// so writers to unrelated keys never contend. Versions for a given key
// strictly increase by 1 per successful write, and every prior version
// is retained in an append-only history.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentgrid/internal/metrics"
	"github.com/BaSui01/agentgrid/observe"
	"github.com/BaSui01/agentgrid/types"
	"go.uber.org/zap"
)

// NoExpectation disables conflict checking for a write.
const NoExpectation int64 = -1

// Notifier broadcasts a notification to all registered agents. The bus
// satisfies this interface; memory depends on the abstraction to keep
// the store free of transport concerns.
type Notifier interface {
	Broadcast(sender string, mt types.MessageType, payload map[string]any) []string
}

// Config tunes the shared memory store.
type Config struct {
	// Policy controls concurrent-write resolution.
	Policy types.WritePolicy `yaml:"policy" json:"policy"`
	// HistoryLimit caps retained versions per key; 0 keeps all.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
}

// DefaultConfig returns the default memory configuration.
func DefaultConfig() Config {
	return Config{
		Policy:       types.PolicyLastWriteWins,
		HistoryLimit: 0,
	}
}

// keyState serializes writers to one key.
type keyState struct {
	mu      sync.Mutex
	history []types.MemoryEntry
}

// Store is an explicitly owned shared memory instance. It is injected
// into the execution context rather than held as a process-wide
// singleton, so tests can run isolated parallel instances.
type Store struct {
	mu       sync.RWMutex
	keys     map[string]*keyState
	config   Config
	notifier Notifier
	emitter  observe.Emitter
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier wires the broadcast channel used by Clear.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithEmitter sets the observability event emitter.
func WithEmitter(em observe.Emitter) Option {
	return func(s *Store) { s.emitter = em }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// New creates a shared memory store.
func New(config Config, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Policy == "" {
		config.Policy = types.PolicyLastWriteWins
	}
	s := &Store{
		keys:    make(map[string]*keyState),
		config:  config,
		emitter: observe.Nop(),
		logger:  logger.With(zap.String("component", "memory")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the active write policy.
func (s *Store) Policy() types.WritePolicy {
	return s.config.Policy
}

// HistoryLimit returns the per-key version retention cap; 0 keeps all.
func (s *Store) HistoryLimit() int {
	return s.config.HistoryLimit
}

// state returns the keyState for a key, creating it if needed.
func (s *Store) state(key string) *keyState {
	s.mu.RLock()
	ks, ok := s.keys[key]
	s.mu.RUnlock()
	if ok {
		return ks
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ks, ok = s.keys[key]; ok {
		return ks
	}
	ks = &keyState{}
	s.keys[key] = ks
	return ks
}

// Write commits a new version of key without a version expectation.
func (s *Store) Write(key string, value any, writerID string) (int64, error) {
	return s.WriteVersioned(key, value, writerID, NoExpectation)
}

// WriteVersioned commits a new version of key. When expectedVersion is
// not NoExpectation and differs from the current version, the write is a
// conflict: under PolicyStrict it is rejected with MEMORY_CONFLICT,
// under PolicyLastWriteWins it is logged and committed anyway.
func (s *Store) WriteVersioned(key string, value any, writerID string, expectedVersion int64) (int64, error) {
	if key == "" {
		return 0, types.NewError(types.ErrValidation, "memory key is empty")
	}
	if writerID == "" {
		return 0, types.NewError(types.ErrValidation, "memory writer id is empty")
	}

	ks := s.state(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	current := int64(0)
	if n := len(ks.history); n > 0 {
		current = ks.history[n-1].Version
	}

	if expectedVersion != NoExpectation && expectedVersion != current {
		s.metrics.RecordMemoryConflict(string(s.config.Policy))
		if s.config.Policy == types.PolicyStrict {
			observe.Record(s.emitter, "", writerID, observe.ActionMemoryWrite, observe.OutcomeError, key)
			s.metrics.RecordMemoryWrite(writerID, "conflict")
			return 0, types.NewError(types.ErrMemoryConflict,
				fmt.Sprintf("key %q is at version %d, writer expected %d", key, current, expectedVersion)).
				WithComponent("memory").
				WithRemediation("re-read the key and retry the write against the current version")
		}
		s.logger.Warn("write conflict resolved last-write-wins",
			zap.String("key", key),
			zap.String("writer", writerID),
			zap.Int64("current_version", current),
			zap.Int64("expected_version", expectedVersion))
	}

	entry := types.MemoryEntry{
		Key:       key,
		Value:     value,
		Writer:    writerID,
		Version:   current + 1,
		Timestamp: time.Now(),
	}
	s.commit(ks, entry)

	s.metrics.RecordMemoryWrite(writerID, "ok")
	observe.Record(s.emitter, "", writerID, observe.ActionMemoryWrite, observe.OutcomeOK, key)
	return entry.Version, nil
}

// commit appends the entry under the key lock, trimming history if a
// limit is configured. The latest entry is always retained.
func (s *Store) commit(ks *keyState, entry types.MemoryEntry) {
	ks.history = append(ks.history, entry)
	if s.config.HistoryLimit > 0 && len(ks.history) > s.config.HistoryLimit {
		ks.history = append(ks.history[:0:0], ks.history[len(ks.history)-s.config.HistoryLimit:]...)
	}
}

// Read returns the latest fully committed value for key. A tombstoned
// or unknown key reads as absent.
func (s *Store) Read(key string) (any, bool) {
	entry, ok := s.ReadWithMetadata(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// ReadWithMetadata returns the latest committed entry for key with
// writer, timestamp, and version metadata.
func (s *Store) ReadWithMetadata(key string) (types.MemoryEntry, bool) {
	s.mu.RLock()
	ks, ok := s.keys[key]
	s.mu.RUnlock()
	if !ok {
		return types.MemoryEntry{}, false
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if len(ks.history) == 0 {
		return types.MemoryEntry{}, false
	}
	latest := ks.history[len(ks.history)-1]
	if latest.Tombstone {
		return types.MemoryEntry{}, false
	}
	return latest, true
}

// GetHistory returns every committed version of key in order, including
// tombstones. The returned slice is a copy.
func (s *Store) GetHistory(key string) []types.MemoryEntry {
	s.mu.RLock()
	ks, ok := s.keys[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	return append([]types.MemoryEntry(nil), ks.history...)
}

// Keys returns all keys holding a live (non-tombstoned) value, in no
// particular order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.keys))
	for k := range s.keys {
		names = append(names, k)
	}
	s.mu.RUnlock()

	out := names[:0]
	for _, k := range names {
		if _, ok := s.ReadWithMetadata(k); ok {
			out = append(out, k)
		}
	}
	return out
}

// Clear tombstones every live entry and broadcasts a notification to all
// registered agents. History is preserved: a tombstone is one more
// version, not an erasure.
func (s *Store) Clear(writerID string) error {
	if writerID == "" {
		return types.NewError(types.ErrValidation, "memory writer id is empty")
	}

	s.mu.RLock()
	states := make(map[string]*keyState, len(s.keys))
	for k, ks := range s.keys {
		states[k] = ks
	}
	s.mu.RUnlock()

	cleared := 0
	for key, ks := range states {
		ks.mu.Lock()
		n := len(ks.history)
		if n > 0 && !ks.history[n-1].Tombstone {
			s.commit(ks, types.MemoryEntry{
				Key:       key,
				Writer:    writerID,
				Version:   ks.history[n-1].Version + 1,
				Tombstone: true,
				Timestamp: time.Now(),
			})
			cleared++
		}
		ks.mu.Unlock()
	}

	s.logger.Info("memory cleared",
		zap.String("writer", writerID),
		zap.Int("keys", cleared))
	observe.Record(s.emitter, "", writerID, observe.ActionMemoryClear, observe.OutcomeOK,
		fmt.Sprintf("%d keys", cleared))

	if s.notifier != nil {
		s.notifier.Broadcast(writerID, types.MessageNotification, map[string]any{
			"event":   "memory_cleared",
			"writer":  writerID,
			"cleared": cleared,
		})
	}
	return nil
}
