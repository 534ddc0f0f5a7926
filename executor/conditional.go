package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid/types"
)

// runConditional evaluates the rules in declared order and routes the
// task to the first whose predicate matches. When none match, the
// default agent handles the task; without a default the execution
// fails with CONDITIONAL_NO_MATCH.
func (e *Executor) runConditional(ctx context.Context, run *execution, cfg *ConditionalConfig) (any, error) {
	agentID, rule := e.route(run.task, cfg)
	if agentID == "" {
		return nil, types.NewError(types.ErrNoMatch,
			"no routing rule matched task "+run.task.ID).
			WithComponent("executor").
			WithRemediation("add a default agent or a catch-all rule to the conditional configuration")
	}

	e.logger.Debug("conditional route selected",
		zap.String("task_id", run.task.ID),
		zap.String("rule", rule),
		zap.String("agent_id", agentID))

	if err := run.to(types.StateDispatched); err != nil {
		return nil, err
	}
	if err := run.to(types.StateAwaitingResults); err != nil {
		return nil, err
	}

	out, err := e.invoke(ctx, run, executorID, agentID, "route:"+rule, map[string]any{
		"goal":  run.task.Goal,
		"input": run.task.Input,
		"rule":  rule,
	})
	if err != nil {
		return nil, err
	}

	if err := run.to(types.StateAggregating); err != nil {
		return nil, err
	}
	return normalizeOutput(out), nil
}

// route returns the first matching rule's agent, or the default.
func (e *Executor) route(task types.Task, cfg *ConditionalConfig) (agentID, rule string) {
	for i, r := range cfg.Rules {
		if r.When.Evaluate(task) {
			name := r.Name
			if name == "" {
				name = ruleName(i)
			}
			return r.Agent, name
		}
	}
	if cfg.Default != "" {
		return cfg.Default, "default"
	}
	return "", ""
}

func ruleName(i int) string {
	return fmt.Sprintf("rule-%d", i+1)
}
