package persistence

import (
	"context"
	"sync"
	"time"
)

// MemoryMessageStore is the in-memory MessageStore implementation.
// Suitable for development and testing; data is lost on restart.
type MemoryMessageStore struct {
	mu          sync.RWMutex
	records     map[string]*MessageRecord
	byAgent     map[string][]string
	deadLetters []string
	maxPerAgent int
	closed      bool
}

// NewMemoryMessageStore creates an in-memory message store.
// maxPerAgent bounds the per-agent index; 0 means unbounded.
func NewMemoryMessageStore(maxPerAgent int) *MemoryMessageStore {
	return &MemoryMessageStore{
		records:     make(map[string]*MessageRecord),
		byAgent:     make(map[string][]string),
		maxPerAgent: maxPerAgent,
	}
}

func (s *MemoryMessageStore) Save(ctx context.Context, rec *MessageRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.records[cp.ID] = &cp

	ids := append(s.byAgent[cp.Recipient], cp.ID)
	if s.maxPerAgent > 0 && len(ids) > s.maxPerAgent {
		for _, old := range ids[:len(ids)-s.maxPerAgent] {
			delete(s.records, old)
		}
		ids = ids[len(ids)-s.maxPerAgent:]
	}
	s.byAgent[cp.Recipient] = ids

	if cp.Status == StatusDeadLetter {
		s.deadLetters = append(s.deadLetters, cp.ID)
	}
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, id string) (*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryMessageStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.collect(s.byAgent[agentID], limit), nil
}

func (s *MemoryMessageStore) ListDeadLetters(ctx context.Context, limit int) ([]*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.collect(s.deadLetters, limit), nil
}

// collect returns copies for the given ids, newest first. Caller holds
// at least a read lock.
func (s *MemoryMessageStore) collect(ids []string, limit int) []*MessageRecord {
	out := make([]*MessageRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec, ok := s.records[ids[i]]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

func (s *MemoryMessageStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryMessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
