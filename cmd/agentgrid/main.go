// Demo entry point: loads configuration, registers a small team of
// stub agents, runs one execution of each delegation pattern, and
// exposes Prometheus metrics.
//
// Usage:
//
//	agentgrid demo                        # run the pattern demos
//	agentgrid demo --config config.yaml   # with a config file
//	agentgrid export                      # print the specification document
//	agentgrid version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid"
	"github.com/BaSui01/agentgrid/config"
	"github.com/BaSui01/agentgrid/executor"
	"github.com/BaSui01/agentgrid/internal/metrics"
	"github.com/BaSui01/agentgrid/internal/telemetry"
	"github.com/BaSui01/agentgrid/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "demo":
		runDemo(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "version":
		fmt.Printf("agentgrid %s (built %s)\n", Version, BuildTime)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`agentgrid - multi-agent coordination framework

Commands:
  demo     register stub agents and run each delegation pattern
  export   print the specification document for the demo team
  version  show version information

Flags:
  --config <path>        YAML configuration file
  --metrics-addr <addr>  metrics listen address (demo only, default :9090)`)
}

func loadConfig(args []string) (*config.Config, string) {
	fs := flag.NewFlagSet("agentgrid", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML configuration")
	metricsAddr := fs.String("metrics-addr", ":9090", "metrics listen address")
	_ = fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg, *metricsAddr
}

func buildCoordinator(cfg *config.Config, collector *metrics.Collector) (*agentgrid.Coordinator, *zap.Logger) {
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	grid, err := agentgrid.New(
		agentgrid.WithConfig(cfg),
		agentgrid.WithLogger(logger),
		agentgrid.WithMetrics(collector),
	)
	if err != nil {
		logger.Fatal("build coordinator", zap.Error(err))
	}

	registerDemoTeam(grid, logger)
	return grid, logger
}

func runDemo(args []string) {
	cfg, metricsAddr := loadConfig(args)
	collector := metrics.NewCollector("agentgrid", nil)
	grid, logger := buildCoordinator(cfg, collector)
	defer grid.Close()
	defer logger.Sync()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal("telemetry init", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(ctx)
	}()

	go serveMetrics(metricsAddr, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, demo := range demoPatterns() {
		result, err := grid.Execute(ctx, demo.task, demo.config)
		if err != nil {
			logger.Error("pattern demo failed",
				zap.String("pattern", string(demo.config.Pattern)),
				zap.Error(err))
			continue
		}
		logger.Info("pattern demo completed",
			zap.String("pattern", string(demo.config.Pattern)),
			zap.String("state", string(result.State)),
			zap.Any("output", result.Output))
	}
}

func runExport(args []string) {
	cfg, _ := loadConfig(args)
	grid, logger := buildCoordinator(cfg, nil)
	defer grid.Close()
	defer logger.Sync()

	var patterns []executor.Config
	for _, demo := range demoPatterns() {
		patterns = append(patterns, demo.config)
	}

	spec := grid.Export(patterns)
	raw, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		logger.Fatal("export", zap.Error(err))
	}
	fmt.Println(string(raw))
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

// demoAgent answers with a canned payload and full confidence.
type demoAgent struct {
	id           string
	kind         types.AgentKind
	capabilities []string
	respond      func(msg *types.Message) map[string]any
}

func (a demoAgent) Describe() types.AgentDescriptor {
	return types.AgentDescriptor{
		ID:           a.id,
		Kind:         a.kind,
		Capabilities: a.capabilities,
	}
}

func (a demoAgent) Handle(_ context.Context, msg *types.Message) (*types.Message, error) {
	return types.NewResponse(msg, a.respond(msg)), nil
}

func registerDemoTeam(grid *agentgrid.Coordinator, logger *zap.Logger) {
	team := []demoAgent{
		{
			id:   "planner",
			kind: types.KindCoordinator,
			respond: func(msg *types.Message) map[string]any {
				if msg.Payload["action"] == "decompose" {
					return map[string]any{"subtasks": []any{
						map[string]any{"goal": "gather background", "capability": "research"},
						map[string]any{"goal": "draft the answer", "capability": "writing"},
					}}
				}
				return map[string]any{"result": msg.Payload["results"]}
			},
		},
		{
			id:           "researcher",
			kind:         types.KindSpecialist,
			capabilities: []string{"research"},
			respond: func(*types.Message) map[string]any {
				return map[string]any{"findings": []string{"fact A", "fact B"}}
			},
		},
		{
			id:           "writer",
			kind:         types.KindSpecialist,
			capabilities: []string{"writing"},
			respond: func(*types.Message) map[string]any {
				return map[string]any{"draft": "combined summary"}
			},
		},
		{
			id:   "reviewer",
			kind: types.KindValidator,
			respond: func(*types.Message) map[string]any {
				return map[string]any{"approved": true, "agrees": true}
			},
		},
	}
	for _, a := range team {
		if _, err := grid.Register(a); err != nil {
			logger.Fatal("register agent", zap.String("agent_id", a.id), zap.Error(err))
		}
	}
}

type patternDemo struct {
	task   types.Task
	config executor.Config
}

func demoPatterns() []patternDemo {
	return []patternDemo{
		{
			task: types.Task{ID: "demo-hier", Goal: "answer a research question"},
			config: executor.Config{
				Pattern: executor.PatternHierarchical,
				Hierarchical: &executor.HierarchicalConfig{
					Manager:     "planner",
					Specialists: []string{"researcher", "writer"},
				},
			},
		},
		{
			task: types.Task{ID: "demo-seq", Goal: "draft then review"},
			config: executor.Config{
				Pattern:    executor.PatternSequential,
				Sequential: &executor.SequentialConfig{Agents: []string{"writer", "reviewer"}},
			},
		},
		{
			task: types.Task{ID: "demo-par", Goal: "independent opinions"},
			config: executor.Config{
				Pattern: executor.PatternParallel,
				Parallel: &executor.ParallelConfig{
					Agents:      []string{"researcher", "writer"},
					Aggregation: executor.AggregateMerge,
				},
			},
		},
		{
			task: types.Task{
				ID:       "demo-cond",
				Goal:     "route by priority",
				Metadata: map[string]any{"priority": "high"},
			},
			config: executor.Config{
				Pattern: executor.PatternConditional,
				Conditional: &executor.ConditionalConfig{
					Rules: []executor.Rule{{
						Name:  "urgent",
						When:  executor.MetadataEquals("priority", "high"),
						Agent: "researcher",
					}},
					Default: "writer",
				},
			},
		},
	}
}
