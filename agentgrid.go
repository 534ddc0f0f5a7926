// Package agentgrid coordinates teams of agents through four
// delegation patterns: hierarchical, sequential, parallel, and
// conditional. A Coordinator wires together the agent registry, the
// message bus, versioned shared memory, the retry and circuit-breaker
// manager, and the confidence gate that decides whether a result may
// be released.
//
// Usage:
//
//	grid, err := agentgrid.New()
//	grid, err := agentgrid.New(agentgrid.WithLogger(logger))
//	grid, err := agentgrid.New(agentgrid.WithConfig(cfg))
//
//	grid.Register(myAgent)
//	result, err := grid.Execute(ctx, task, patternConfig)
package agentgrid

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid/bus"
	"github.com/BaSui01/agentgrid/confidence"
	"github.com/BaSui01/agentgrid/config"
	"github.com/BaSui01/agentgrid/executor"
	"github.com/BaSui01/agentgrid/export"
	"github.com/BaSui01/agentgrid/internal/metrics"
	"github.com/BaSui01/agentgrid/memory"
	"github.com/BaSui01/agentgrid/observe"
	"github.com/BaSui01/agentgrid/persistence"
	"github.com/BaSui01/agentgrid/registry"
	"github.com/BaSui01/agentgrid/retry"
	"github.com/BaSui01/agentgrid/types"
)

// Coordinator owns one wired instance of every framework component.
// Instances are independent; tests can run several in parallel.
type Coordinator struct {
	config    *config.Config
	logger    *zap.Logger
	registry  *registry.Registry
	bus       *bus.Bus
	memory    *memory.Store
	invoker   *retry.Manager
	gate      *confidence.Gate
	executor  *executor.Executor
	archive   persistence.MessageStore
	collector *metrics.Collector
}

// Option configures the Coordinator under construction.
type Option func(*builder)

type builder struct {
	cfg     *config.Config
	logger  *zap.Logger
	archive persistence.MessageStore
	emitter observe.Emitter
	metrics *metrics.Collector
	scorer  executor.Scorer
}

// WithConfig supplies a loaded configuration. Defaults apply
// otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(b *builder) {
		if cfg != nil {
			b.cfg = cfg
		}
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMemoryPolicy overrides the shared memory write policy.
func WithMemoryPolicy(policy types.WritePolicy) Option {
	return func(b *builder) { b.cfg.Memory.Policy = policy }
}

// WithConfidenceThreshold overrides the release baseline.
func WithConfidenceThreshold(threshold float64) Option {
	return func(b *builder) { b.cfg.Confidence.Threshold = threshold }
}

// WithArchive replaces the message archive backing the bus history and
// the dead-letter queue.
func WithArchive(store persistence.MessageStore) Option {
	return func(b *builder) { b.archive = store }
}

// WithEmitter installs the observability event emitter.
func WithEmitter(em observe.Emitter) Option {
	return func(b *builder) { b.emitter = em }
}

// WithMetrics installs a metrics collector; nil disables metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(b *builder) { b.metrics = c }
}

// WithScorer replaces the executor's confidence scorer.
func WithScorer(s executor.Scorer) Option {
	return func(b *builder) { b.scorer = s }
}

// New builds a fully wired Coordinator.
func New(opts ...Option) (*Coordinator, error) {
	b := &builder{
		cfg:    config.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if b.emitter == nil {
		b.emitter = observe.NewZapEmitter(b.logger)
	}

	archive := b.archive
	if archive == nil {
		var err error
		archive, err = buildArchive(b.cfg, b.logger)
		if err != nil {
			return nil, err
		}
	}

	reg := registry.New(b.logger)
	grid := &Coordinator{
		config:    b.cfg,
		logger:    b.logger,
		registry:  reg,
		archive:   archive,
		collector: b.metrics,
	}

	grid.bus = bus.New(b.cfg.Bus, b.logger,
		bus.WithArchive(archive),
		bus.WithEmitter(b.emitter),
		bus.WithMetrics(b.metrics))

	grid.memory = memory.New(b.cfg.Memory, b.logger,
		memory.WithNotifier(grid.bus),
		memory.WithEmitter(b.emitter),
		memory.WithMetrics(b.metrics))

	grid.invoker = retry.NewManager(b.cfg.Retry, b.logger,
		retry.WithDeadLetters(archive),
		retry.WithEmitter(b.emitter),
		retry.WithMetrics(b.metrics))

	grid.gate = confidence.NewGate(b.cfg.Confidence,
		confidence.WithLogger(b.logger),
		confidence.WithMetrics(b.metrics))

	execOpts := []executor.Option{
		executor.WithBus(grid.bus),
		executor.WithMemory(grid.memory),
		executor.WithGate(grid.gate),
		executor.WithEmitter(b.emitter),
		executor.WithMetrics(b.metrics),
	}
	if b.scorer != nil {
		execOpts = append(execOpts, executor.WithScorer(b.scorer))
	}
	grid.executor = executor.New(reg, grid.invoker, b.logger, execOpts...)

	return grid, nil
}

func buildArchive(cfg *config.Config, logger *zap.Logger) (persistence.MessageStore, error) {
	if cfg.Archive.Backend == "redis" {
		return persistence.NewRedisMessageStore(cfg.Redis, logger)
	}
	return persistence.NewMemoryMessageStore(cfg.Archive.MaxPerAgent), nil
}

// Register adds an agent to the registry and a mailbox on the bus.
func (c *Coordinator) Register(agent types.Agent) (types.AgentDescriptor, error) {
	desc, err := c.registry.Register(agent)
	if err != nil {
		return desc, err
	}
	c.bus.Register(desc.ID)
	return desc, nil
}

// Execute runs a task through a delegation pattern.
func (c *Coordinator) Execute(ctx context.Context, task types.Task, cfg executor.Config) (*types.Result, error) {
	return c.executor.Execute(ctx, task, cfg)
}

// Resume continues a halted sequential execution from its last
// checkpoint.
func (c *Coordinator) Resume(ctx context.Context, taskID string) (*types.Result, error) {
	return c.executor.Resume(ctx, taskID)
}

// Export produces the specification document for the given active
// pattern configurations.
func (c *Coordinator) Export(patterns []executor.Config) export.Specification {
	return export.New(c.registry, c.memory, c.invoker).Export(patterns)
}

// Registry exposes the agent registry.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Bus exposes the message bus.
func (c *Coordinator) Bus() *bus.Bus { return c.bus }

// Memory exposes the shared memory store.
func (c *Coordinator) Memory() *memory.Store { return c.memory }

// Invoker exposes the retry and circuit-breaker manager.
func (c *Coordinator) Invoker() *retry.Manager { return c.invoker }

// Close stops the bus and closes the message archive.
func (c *Coordinator) Close() error {
	busErr := c.bus.Close()
	archiveErr := c.archive.Close()
	if busErr != nil {
		return busErr
	}
	return archiveErr
}
