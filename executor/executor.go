package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid/bus"
	"github.com/BaSui01/agentgrid/confidence"
	"github.com/BaSui01/agentgrid/internal/metrics"
	"github.com/BaSui01/agentgrid/memory"
	"github.com/BaSui01/agentgrid/observe"
	"github.com/BaSui01/agentgrid/registry"
	"github.com/BaSui01/agentgrid/retry"
	"github.com/BaSui01/agentgrid/types"
)

// executorID is the sender identity the executor uses on the bus.
const executorID = "executor"

// Executor coordinates pattern executions. All invocations go through
// the retry manager so per-agent breakers and dead-letter escalation
// apply uniformly across patterns.
type Executor struct {
	registry    *registry.Registry
	invoker     *retry.Manager
	bus         *bus.Bus
	memory      *memory.Store
	gate        *confidence.Gate
	scorer      Scorer
	checkpoints CheckpointStore
	metrics     *metrics.Collector
	emitter     observe.Emitter
	tracer      trace.Tracer
	logger      *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithBus attaches a message bus used for completion broadcasts.
func WithBus(b *bus.Bus) Option {
	return func(e *Executor) { e.bus = b }
}

// WithMemory attaches the shared memory store; completed results are
// written under "result:<task-id>".
func WithMemory(m *memory.Store) Option {
	return func(e *Executor) { e.memory = m }
}

// WithGate replaces the default confidence gate.
func WithGate(g *confidence.Gate) Option {
	return func(e *Executor) {
		if g != nil {
			e.gate = g
		}
	}
}

// WithScorer replaces the default confidence scorer.
func WithScorer(s Scorer) Option {
	return func(e *Executor) {
		if s != nil {
			e.scorer = s
		}
	}
}

// WithCheckpoints replaces the default in-memory checkpoint store.
func WithCheckpoints(cs CheckpointStore) Option {
	return func(e *Executor) {
		if cs != nil {
			e.checkpoints = cs
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// WithEmitter sets the observability event emitter.
func WithEmitter(em observe.Emitter) Option {
	return func(e *Executor) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithTracer sets the tracer for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// New creates an executor over the given registry and invocation
// manager.
func New(reg *registry.Registry, invoker *retry.Manager, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		registry:    reg,
		invoker:     invoker,
		gate:        confidence.NewGate(confidence.DefaultConfig()),
		scorer:      DefaultScorer,
		checkpoints: NewMemoryCheckpointStore(),
		emitter:     observe.Nop(),
		tracer:      otel.Tracer("agentgrid/executor"),
		logger:      logger.With(zap.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// execution tracks one run through the state machine. Transitions are
// guarded; an illegal move is a programming error surfaced as
// INVALID_TRANSITION rather than silently tolerated.
type execution struct {
	ex     *Executor
	task   types.Task
	result *types.Result

	// stageMu guards Stages; parallel branches append concurrently.
	stageMu sync.Mutex
}

func (e *Executor) newExecution(task types.Task, pattern Pattern) *execution {
	return &execution{
		ex:   e,
		task: task,
		result: &types.Result{
			TaskID:    task.ID,
			Pattern:   string(pattern),
			State:     types.StatePending,
			StartedAt: time.Now(),
		},
	}
}

// to moves the execution to the next state.
func (run *execution) to(next types.ExecutionState) error {
	from := run.result.State
	if !from.CanTransition(next) {
		return types.InvalidTransitionError(from, next)
	}
	run.result.State = next
	run.ex.metrics.RecordStateTransition(run.result.Pattern, string(from), string(next))
	observe.Record(run.ex.emitter, run.task.ID, executorID,
		observe.ActionStateTransition, observe.OutcomeOK,
		string(from)+" -> "+string(next))
	run.ex.logger.Debug("execution state transition",
		zap.String("task_id", run.task.ID),
		zap.String("pattern", run.result.Pattern),
		zap.String("from", string(from)),
		zap.String("to", string(next)))
	return nil
}

// addStage appends a stage result.
func (run *execution) addStage(sr types.StageResult) {
	run.stageMu.Lock()
	defer run.stageMu.Unlock()
	run.result.Stages = append(run.result.Stages, sr)
}

// Execute runs a task through the configured pattern. The returned
// Result is always non-nil once the configuration validates; on error
// it carries the terminal FAILED state and any partial stage outputs.
func (e *Executor) Execute(ctx context.Context, task types.Task, cfg Config) (*types.Result, error) {
	if err := cfg.Validate(e.registry); err != nil {
		return nil, err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "executor.Execute",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("pattern", string(cfg.Pattern)),
		))
	defer span.End()

	run := e.newExecution(task, cfg.Pattern)
	output, err := e.drive(ctx, run, cfg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return e.fail(run, err)
	}

	result, err := e.complete(run, output)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// complete gates the aggregated output and, if it clears the baseline,
// drives the execution to COMPLETED and releases the result.
func (e *Executor) complete(run *execution, output any) (*types.Result, error) {
	verdict := e.gate.Enforce(run.result.Pattern, e.assess(run, output))
	if !verdict.Pass {
		return e.fail(run, verdict.Err())
	}

	if err := run.to(types.StateCompleted); err != nil {
		return e.fail(run, err)
	}
	run.result.Output = output
	run.result.FinishedAt = time.Now()
	e.metrics.RecordExecution(run.result.Pattern, "completed", run.result.FinishedAt.Sub(run.result.StartedAt))
	e.release(run)
	return run.result, nil
}

// drive runs the pattern-specific driver over the shared state machine.
func (e *Executor) drive(ctx context.Context, run *execution, cfg Config) (any, error) {
	switch cfg.Pattern {
	case PatternHierarchical:
		return e.runHierarchical(ctx, run, cfg.Hierarchical)
	case PatternSequential:
		return e.runSequential(ctx, run, cfg.Sequential, 0, run.task.Input)
	case PatternParallel:
		return e.runParallel(ctx, run, cfg.Parallel)
	case PatternConditional:
		return e.runConditional(ctx, run, cfg.Conditional)
	}
	return nil, invalidConfig("unknown pattern " + string(cfg.Pattern))
}

// assess scores the finished stages while the execution is still in
// AGGREGATING.
func (e *Executor) assess(run *execution, output any) types.ConfidenceScore {
	run.result.Output = output
	score := confidence.Assess(e.scorer(run.task, run.result))
	run.result.Confidence = &score
	return score
}

// fail drives the execution to the terminal FAILED state and attaches
// partial stage outputs to the structured error.
func (e *Executor) fail(run *execution, cause error) (*types.Result, error) {
	if !run.result.State.Terminal() {
		if terr := run.to(types.StateFailed); terr != nil {
			e.logger.Error("failed to mark execution failed", zap.Error(terr))
		}
	}
	run.result.FinishedAt = time.Now()
	e.metrics.RecordExecution(run.result.Pattern, "failed", run.result.FinishedAt.Sub(run.result.StartedAt))

	var structured *types.Error
	if !errors.As(cause, &structured) {
		structured = types.NewError(types.ErrInternal, cause.Error()).WithCause(cause)
	}
	if partial := run.result.PartialOutputs(); len(partial) > 0 && structured.Partial == nil {
		structured = structured.WithPartial(partial)
	}

	e.logger.Warn("execution failed",
		zap.String("task_id", run.task.ID),
		zap.String("pattern", run.result.Pattern),
		zap.Error(structured))
	observe.Record(e.emitter, run.task.ID, executorID,
		observe.ActionStateTransition, observe.OutcomeError, structured.Error())
	return run.result, structured
}

// release publishes a completed result to shared memory and announces
// it on the bus.
func (e *Executor) release(run *execution) {
	if e.memory != nil {
		if _, err := e.memory.Write("result:"+run.task.ID, run.result.Output, executorID); err != nil {
			e.logger.Warn("result write to shared memory failed", zap.Error(err))
		}
	}
	if e.bus != nil {
		e.bus.Broadcast(executorID, types.MessageNotification, map[string]any{
			"event":   "execution_completed",
			"task_id": run.task.ID,
			"pattern": run.result.Pattern,
		})
	}
}

// invoke calls one agent through the retry manager and records the
// stage outcome on the run.
func (e *Executor) invoke(ctx context.Context, run *execution, sender, agentID, stage string, payload map[string]any) (map[string]any, error) {
	agent, ok := e.registry.Get(agentID)
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound,
			"agent "+agentID+" is not registered").
			WithComponent("executor")
	}

	req := types.NewRequest(sender, agentID, payload).WithCorrelation(run.task.ID)
	started := time.Now()
	resp, err := e.invoker.Invoke(ctx, agent, req)

	sr := types.StageResult{
		AgentID:  agentID,
		Stage:    stage,
		Duration: time.Since(started),
	}
	if err != nil {
		sr.Err = err.Error()
		run.addStage(sr)
		return nil, err
	}
	if resp != nil {
		sr.Output = normalizeOutput(resp.Payload)
	}
	run.addStage(sr)
	out, _ := sr.Output.(map[string]any)
	return out, nil
}

// normalizeOutput keeps stage outputs as plain payload maps.
func normalizeOutput(payload map[string]any) any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}
