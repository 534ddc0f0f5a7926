package executor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid/types"
)

// Manager protocol actions. A manager agent receives a decompose
// request, returns subtasks, and later receives an aggregate request
// carrying the specialist outputs.
const (
	actionDecompose = "decompose"
	actionAggregate = "aggregate"
)

// Subtask is one unit of work a manager carves out of a task.
type Subtask struct {
	Goal       string `json:"goal"`
	Capability string `json:"capability,omitempty"`
	Input      any    `json:"input,omitempty"`
}

// runHierarchical delegates the task through a manager agent: the
// manager decomposes, specialists execute their subtasks, and the
// manager aggregates. A specialist that stays unavailable after
// retries is replaced by a capability-equivalent agent when one is
// registered.
func (e *Executor) runHierarchical(ctx context.Context, run *execution, cfg *HierarchicalConfig) (any, error) {
	if err := run.to(types.StateDispatched); err != nil {
		return nil, err
	}

	subtasks, err := e.decompose(ctx, run, cfg.Manager)
	if err != nil {
		return nil, err
	}

	if err := run.to(types.StateAwaitingResults); err != nil {
		return nil, err
	}

	outputs := make(map[string]any)
	var failures []string
	for i, st := range subtasks {
		stage := fmt.Sprintf("subtask-%d", i+1)
		agentID, pickErr := e.assignSpecialist(cfg.Specialists, st.Capability)
		if pickErr != nil {
			return nil, pickErr
		}

		out, invErr := e.runSubtask(ctx, run, cfg, agentID, stage, st)
		if invErr != nil {
			failures = append(failures, fmt.Sprintf("%s via %s: %v", stage, agentID, invErr))
			continue
		}
		outputs[stage] = out
	}

	if len(outputs) == 0 {
		return nil, types.NewError(types.ErrAggregation,
			"all specialist subtasks failed").
			WithComponent("executor").
			WithRemediation("inspect dead letters for the escalated subtasks: " + strings.Join(failures, "; "))
	}

	if err := run.to(types.StateAggregating); err != nil {
		return nil, err
	}
	return e.aggregate(ctx, run, cfg.Manager, outputs, failures)
}

// decompose asks the manager to split the task into subtasks.
func (e *Executor) decompose(ctx context.Context, run *execution, managerID string) ([]Subtask, error) {
	out, err := e.invoke(ctx, run, executorID, managerID, "decompose", map[string]any{
		"action": actionDecompose,
		"goal":   run.task.Goal,
		"input":  run.task.Input,
	})
	if err != nil {
		return nil, err
	}

	subtasks := parseSubtasks(out["subtasks"])
	if len(subtasks) == 0 {
		return nil, types.NewError(types.ErrValidation,
			"manager "+managerID+" returned no subtasks").
			WithComponent("executor")
	}
	return subtasks, nil
}

// runSubtask invokes the assigned specialist, falling back to a
// capability-equivalent agent if the assignment stays unavailable.
func (e *Executor) runSubtask(ctx context.Context, run *execution, cfg *HierarchicalConfig, agentID, stage string, st Subtask) (map[string]any, error) {
	payload := map[string]any{
		"goal":  st.Goal,
		"input": st.Input,
	}

	out, err := e.invoke(ctx, run, cfg.Manager, agentID, stage, payload)
	if err == nil {
		return out, nil
	}
	if types.GetErrorCode(err) != types.ErrAgentUnavailable && types.GetErrorCode(err) != types.ErrTimeout {
		return nil, err
	}

	fallback, ok := e.fallbackFor(agentID)
	if !ok {
		return nil, err
	}
	e.logger.Warn("rerouting subtask to equivalent specialist",
		zap.String("task_id", run.task.ID),
		zap.String("from", agentID),
		zap.String("to", fallback))
	return e.invoke(ctx, run, cfg.Manager, fallback, stage+"-fallback", payload)
}

// fallbackFor finds a registered agent with an equivalent capability
// set.
func (e *Executor) fallbackFor(agentID string) (string, bool) {
	desc, ok := e.registry.Describe(agentID)
	if !ok {
		return "", false
	}
	equivalents := e.registry.FindEquivalent(desc)
	if len(equivalents) == 0 {
		return "", false
	}
	return equivalents[0].ID, true
}

// assignSpecialist picks the configured specialist advertising the
// subtask's capability, or the first specialist when the subtask names
// none.
func (e *Executor) assignSpecialist(specialists []string, capability string) (string, error) {
	if capability == "" {
		return specialists[0], nil
	}
	for _, id := range specialists {
		desc, ok := e.registry.Describe(id)
		if ok && desc.HasCapability(capability) {
			return id, nil
		}
	}
	return "", types.NewError(types.ErrAgentNotFound,
		"no configured specialist advertises capability "+capability).
		WithComponent("executor").
		WithRemediation("register a specialist with the capability or adjust the decomposition")
}

// aggregate asks the manager to combine specialist outputs into the
// final result.
func (e *Executor) aggregate(ctx context.Context, run *execution, managerID string, outputs map[string]any, failures []string) (any, error) {
	payload := map[string]any{
		"action":  actionAggregate,
		"goal":    run.task.Goal,
		"results": outputs,
	}
	if len(failures) > 0 {
		payload["failures"] = failures
	}

	out, err := e.invoke(ctx, run, executorID, managerID, "aggregate", payload)
	if err != nil {
		return nil, types.NewError(types.ErrAggregation,
			"manager "+managerID+" failed to aggregate specialist results").
			WithCause(err).
			WithComponent("executor").
			WithPartial(outputs)
	}
	if result, ok := out["result"]; ok {
		return result, nil
	}
	return normalizeOutput(out), nil
}

func parseSubtasks(raw any) []Subtask {
	var out []Subtask
	switch list := raw.(type) {
	case []Subtask:
		return list
	case []any:
		for _, item := range list {
			switch v := item.(type) {
			case Subtask:
				out = append(out, v)
			case map[string]any:
				st := Subtask{Input: v["input"]}
				if goal, ok := v["goal"].(string); ok {
					st.Goal = goal
				}
				if capability, ok := v["capability"].(string); ok {
					st.Capability = capability
				}
				out = append(out, st)
			}
		}
	}
	return out
}
