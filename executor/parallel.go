package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/agentgrid/types"
)

// branchOutcome holds one branch's result in declared-agent order.
type branchOutcome struct {
	agentID string
	output  map[string]any
	err     error
	order   int
}

// runParallel fans the task out to every configured agent and combines
// the branch outputs under the configured aggregation strategy.
// Branches run under the concurrency limit; each branch is bounded by
// the stage timeout when one is set.
func (e *Executor) runParallel(ctx context.Context, run *execution, cfg *ParallelConfig) (any, error) {
	if err := run.to(types.StateDispatched); err != nil {
		return nil, err
	}

	limit := int64(cfg.ConcurrencyLimit)
	if limit <= 0 {
		limit = int64(len(cfg.Agents))
	}
	sem := semaphore.NewWeighted(limit)

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []branchOutcome
		first    *branchOutcome
	)

	for i, agentID := range cfg.Agents {
		if err := sem.Acquire(branchCtx, 1); err != nil {
			// Only AggregateFirst cancels in-flight acquisition.
			break
		}

		wg.Add(1)
		go func(order int, agentID string) {
			defer wg.Done()
			defer sem.Release(1)

			callCtx := branchCtx
			if cfg.StageTimeout > 0 {
				var cancelCall context.CancelFunc
				callCtx, cancelCall = context.WithTimeout(branchCtx, cfg.StageTimeout)
				defer cancelCall()
			}

			out, err := e.invoke(callCtx, run, executorID, agentID, fmt.Sprintf("branch-%d", order+1), map[string]any{
				"goal":  run.task.Goal,
				"input": run.task.Input,
			})

			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, branchOutcome{
				agentID: agentID,
				output:  out,
				err:     err,
				order:   order,
			})
			if err == nil && cfg.Aggregation == AggregateFirst && first == nil {
				o := outcomes[len(outcomes)-1]
				first = &o
				cancel()
			}
		}(i, agentID)
	}

	if err := run.to(types.StateAwaitingResults); err != nil {
		cancel()
		wg.Wait()
		return nil, err
	}
	wg.Wait()

	if err := run.to(types.StateAggregating); err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].order < outcomes[j].order })
	switch cfg.Aggregation {
	case AggregateMerge:
		return mergeOutcomes(outcomes)
	case AggregateVote:
		return voteOutcomes(outcomes)
	case AggregateFirst:
		return firstOutcome(first, outcomes)
	}
	return nil, invalidConfig("unknown aggregation strategy " + string(cfg.Aggregation))
}

// mergeOutcomes unions successful branch outputs keyed by agent id.
// Failed branches are omitted; all branches failing is an aggregation
// failure.
func mergeOutcomes(outcomes []branchOutcome) (any, error) {
	merged := make(map[string]any)
	for _, o := range outcomes {
		if o.err == nil {
			merged[o.agentID] = normalizeOutput(o.output)
		}
	}
	if len(merged) == 0 {
		return nil, allBranchesFailed(outcomes)
	}
	return merged, nil
}

// voteOutcomes picks the plurality output among successful branches.
// Equal counts resolve in favor of the earliest declared agent holding
// a winning output.
func voteOutcomes(outcomes []branchOutcome) (any, error) {
	type bucket struct {
		output     any
		count      int
		firstOrder int
	}
	buckets := make(map[string]*bucket)

	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		out := normalizeOutput(o.output)
		key := fmt.Sprintf("%v", out)
		b, ok := buckets[key]
		if !ok {
			buckets[key] = &bucket{output: out, count: 1, firstOrder: o.order}
			continue
		}
		b.count++
	}
	if len(buckets) == 0 {
		return nil, allBranchesFailed(outcomes)
	}

	var winner *bucket
	for _, b := range buckets {
		if winner == nil || b.count > winner.count ||
			(b.count == winner.count && b.firstOrder < winner.firstOrder) {
			winner = b
		}
	}
	return winner.output, nil
}

// firstOutcome returns the earliest success recorded by the dispatch
// loop.
func firstOutcome(first *branchOutcome, outcomes []branchOutcome) (any, error) {
	if first == nil {
		return nil, allBranchesFailed(outcomes)
	}
	return normalizeOutput(first.output), nil
}

func allBranchesFailed(outcomes []branchOutcome) error {
	detail := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			detail = append(detail, o.agentID+": "+o.err.Error())
		}
	}
	return types.NewError(types.ErrAggregation, "no parallel branch produced a result").
		WithComponent("executor").
		WithRemediation("all branches failed: " + fmt.Sprint(detail)).
		WithRetryable(true)
}
