package executor

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentgrid/types"
)

// Checkpoint captures the progress of a sequential execution after a
// completed stage, enough to resume the pipeline without re-running
// finished stages.
type Checkpoint struct {
	TaskID string      `json:"task_id"`
	Task   types.Task  `json:"task"`
	Agents []string    `json:"agents"`
	// NextStage indexes into Agents at the first stage still to run.
	NextStage int `json:"next_stage"`
	// Carry is the output of the last completed stage, fed to the next.
	Carry  any                 `json:"carry,omitempty"`
	Stages []types.StageResult `json:"stages,omitempty"`
	SavedAt time.Time          `json:"saved_at"`
}

// CheckpointStore persists sequential-pipeline checkpoints.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, taskID string) (Checkpoint, error)
	Delete(ctx context.Context, taskID string) error
}

// MemoryCheckpointStore keeps checkpoints in process memory.
type MemoryCheckpointStore struct {
	mu  sync.RWMutex
	cps map[string]Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{cps: make(map[string]Checkpoint)}
}

// Save stores or overwrites the checkpoint for its task.
func (s *MemoryCheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	if cp.TaskID == "" {
		return types.NewError(types.ErrValidation, "checkpoint requires a task id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.Stages = append([]types.StageResult(nil), cp.Stages...)
	cp.Agents = append([]string(nil), cp.Agents...)
	s.cps[cp.TaskID] = cp
	return nil
}

// Load returns the checkpoint for a task.
func (s *MemoryCheckpointStore) Load(_ context.Context, taskID string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[taskID]
	if !ok {
		return Checkpoint{}, types.NewError(types.ErrCheckpointNotFound,
			"no checkpoint recorded for task "+taskID).
			WithRemediation("only sequential executions that completed at least one stage can resume")
	}
	cp.Stages = append([]types.StageResult(nil), cp.Stages...)
	cp.Agents = append([]string(nil), cp.Agents...)
	return cp, nil
}

// Delete removes a task's checkpoint. Deleting a missing checkpoint is
// not an error.
func (s *MemoryCheckpointStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, taskID)
	return nil
}
