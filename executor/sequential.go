package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid/types"
)

// runSequential runs the pipeline from the given stage index, feeding
// each stage the previous stage's output. A checkpoint is written
// after every successful stage; the first failure halts the pipeline
// and preserves the completed prefix in the result.
func (e *Executor) runSequential(ctx context.Context, run *execution, cfg *SequentialConfig, fromStage int, carry any) (any, error) {
	if err := run.to(types.StateDispatched); err != nil {
		return nil, err
	}
	if err := run.to(types.StateAwaitingResults); err != nil {
		return nil, err
	}

	for i := fromStage; i < len(cfg.Agents); i++ {
		agentID := cfg.Agents[i]
		stage := fmt.Sprintf("stage-%d", i+1)

		out, err := e.invoke(ctx, run, executorID, agentID, stage, map[string]any{
			"goal":  run.task.Goal,
			"input": carry,
			"stage": i + 1,
		})
		if err != nil {
			return nil, err
		}

		carry = normalizeOutput(out)
		e.checkpoint(ctx, run, cfg, i+1, carry)
	}

	if err := run.to(types.StateAggregating); err != nil {
		return nil, err
	}
	if err := e.checkpoints.Delete(ctx, run.task.ID); err != nil {
		e.logger.Warn("checkpoint cleanup failed", zap.Error(err))
	}
	return carry, nil
}

// checkpoint persists pipeline progress after a completed stage.
func (e *Executor) checkpoint(ctx context.Context, run *execution, cfg *SequentialConfig, nextStage int, carry any) {
	cp := Checkpoint{
		TaskID:    run.task.ID,
		Task:      run.task,
		Agents:    cfg.Agents,
		NextStage: nextStage,
		Carry:     carry,
		Stages:    run.result.Stages,
		SavedAt:   time.Now(),
	}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		e.logger.Warn("checkpoint save failed",
			zap.String("task_id", run.task.ID),
			zap.Int("next_stage", nextStage),
			zap.Error(err))
	}
}

// Resume continues a halted sequential execution from its last
// checkpoint. Completed stages are not re-run; their recorded results
// carry over into the resumed execution.
func (e *Executor) Resume(ctx context.Context, taskID string) (*types.Result, error) {
	cp, err := e.checkpoints.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("resuming sequential execution",
		zap.String("task_id", taskID),
		zap.Int("next_stage", cp.NextStage),
		zap.Int("total_stages", len(cp.Agents)))

	run := e.newExecution(cp.Task, PatternSequential)
	run.result.Stages = append(run.result.Stages, cp.Stages...)

	cfg := &SequentialConfig{Agents: cp.Agents}
	output, err := e.runSequential(ctx, run, cfg, cp.NextStage, cp.Carry)
	if err != nil {
		return e.fail(run, err)
	}
	return e.complete(run, output)
}
