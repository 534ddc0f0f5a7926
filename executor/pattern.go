// Package executor runs tasks through the four delegation patterns,
// driving each execution through a guarded state machine and gating
// every released result on the confidence baseline.
package executor

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentgrid/registry"
	"github.com/BaSui01/agentgrid/types"
)

// Pattern identifies a delegation pattern.
type Pattern string

const (
	PatternHierarchical Pattern = "hierarchical"
	PatternSequential   Pattern = "sequential"
	PatternParallel     Pattern = "parallel"
	PatternConditional  Pattern = "conditional"
)

// Valid reports whether p names a known pattern.
func (p Pattern) Valid() bool {
	switch p {
	case PatternHierarchical, PatternSequential, PatternParallel, PatternConditional:
		return true
	}
	return false
}

// Aggregation selects how parallel branch outputs are combined.
type Aggregation string

const (
	// AggregateMerge unions branch outputs keyed by agent id.
	AggregateMerge Aggregation = "merge"
	// AggregateVote picks the plurality output, breaking ties by the
	// declared agent order.
	AggregateVote Aggregation = "vote"
	// AggregateFirst takes the earliest success and cancels the rest.
	AggregateFirst Aggregation = "first"
)

// Valid reports whether a names a known aggregation strategy.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregateMerge, AggregateVote, AggregateFirst:
		return true
	}
	return false
}

// HierarchicalConfig delegates through a manager agent that decomposes
// the task and aggregates specialist results.
type HierarchicalConfig struct {
	Manager     string   `json:"manager" yaml:"manager"`
	Specialists []string `json:"specialists" yaml:"specialists"`
}

// SequentialConfig runs agents as an ordered pipeline, each stage
// consuming the previous stage's output.
type SequentialConfig struct {
	Agents []string `json:"agents" yaml:"agents"`
}

// ParallelConfig fans the task out to independent branches.
type ParallelConfig struct {
	Agents      []string    `json:"agents" yaml:"agents"`
	Aggregation Aggregation `json:"aggregation" yaml:"aggregation"`
	// StageTimeout bounds each branch; 0 inherits the caller's context.
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`
	// ConcurrencyLimit caps in-flight branches; 0 means unlimited.
	ConcurrencyLimit int `json:"concurrency_limit" yaml:"concurrency_limit"`
}

// Rule binds a predicate to the agent that handles matching tasks.
type Rule struct {
	Name  string    `json:"name" yaml:"name"`
	When  Predicate `json:"-" yaml:"-"`
	Agent string    `json:"agent" yaml:"agent"`
}

// ConditionalConfig routes each task to the first rule whose predicate
// matches, falling back to Default when none do.
type ConditionalConfig struct {
	Rules   []Rule `json:"rules" yaml:"rules"`
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Config is a tagged union over the four pattern configurations.
// Exactly the variant named by Pattern must be set.
type Config struct {
	Pattern      Pattern             `json:"pattern" yaml:"pattern"`
	Hierarchical *HierarchicalConfig `json:"hierarchical,omitempty" yaml:"hierarchical,omitempty"`
	Sequential   *SequentialConfig   `json:"sequential,omitempty" yaml:"sequential,omitempty"`
	Parallel     *ParallelConfig     `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Conditional  *ConditionalConfig  `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

// Validate checks a pattern configuration against the registry before
// any execution starts. Every referenced agent must already be
// registered.
func (c Config) Validate(reg *registry.Registry) error {
	if !c.Pattern.Valid() {
		return invalidConfig(fmt.Sprintf("unknown pattern %q", c.Pattern))
	}

	switch c.Pattern {
	case PatternHierarchical:
		return c.validateHierarchical(reg)
	case PatternSequential:
		return c.validateSequential(reg)
	case PatternParallel:
		return c.validateParallel(reg)
	case PatternConditional:
		return c.validateConditional(reg)
	}
	return nil
}

func (c Config) validateHierarchical(reg *registry.Registry) error {
	h := c.Hierarchical
	if h == nil {
		return invalidConfig("hierarchical pattern requires a hierarchical section")
	}
	if h.Manager == "" {
		return invalidConfig("hierarchical pattern requires a manager agent")
	}
	if len(h.Specialists) == 0 {
		return invalidConfig("hierarchical pattern requires at least one specialist")
	}
	if err := agentsExist(reg, append([]string{h.Manager}, h.Specialists...)); err != nil {
		return err
	}
	for _, s := range h.Specialists {
		if s == h.Manager {
			return invalidConfig(fmt.Sprintf("manager %q cannot be its own specialist", h.Manager))
		}
	}
	return nil
}

func (c Config) validateSequential(reg *registry.Registry) error {
	s := c.Sequential
	if s == nil {
		return invalidConfig("sequential pattern requires a sequential section")
	}
	if len(s.Agents) == 0 {
		return invalidConfig("sequential pattern requires at least one stage")
	}
	return agentsExist(reg, s.Agents)
}

func (c Config) validateParallel(reg *registry.Registry) error {
	p := c.Parallel
	if p == nil {
		return invalidConfig("parallel pattern requires a parallel section")
	}
	if len(p.Agents) == 0 {
		return invalidConfig("parallel pattern requires at least one branch")
	}
	if !p.Aggregation.Valid() {
		return invalidConfig(fmt.Sprintf("unknown aggregation strategy %q", p.Aggregation))
	}
	if p.ConcurrencyLimit < 0 {
		return invalidConfig("concurrency limit cannot be negative")
	}
	return agentsExist(reg, p.Agents)
}

func (c Config) validateConditional(reg *registry.Registry) error {
	cond := c.Conditional
	if cond == nil {
		return invalidConfig("conditional pattern requires a conditional section")
	}
	if len(cond.Rules) == 0 {
		return invalidConfig("conditional pattern requires at least one rule")
	}

	var ids []string
	catchAll := false
	for i, r := range cond.Rules {
		if r.When == nil {
			return invalidConfig(fmt.Sprintf("rule %d has no predicate", i))
		}
		if r.Agent == "" {
			return invalidConfig(fmt.Sprintf("rule %d has no agent", i))
		}
		if alwaysTrue(r.When) {
			catchAll = true
		}
		ids = append(ids, r.Agent)
	}
	if cond.Default == "" && !catchAll {
		return invalidConfig("conditional pattern requires a default agent or a catch-all rule")
	}
	if cond.Default != "" {
		ids = append(ids, cond.Default)
	}
	return agentsExist(reg, ids)
}

func agentsExist(reg *registry.Registry, ids []string) error {
	for _, id := range ids {
		if !reg.Contains(id) {
			return types.NewError(types.ErrAgentNotFound,
				fmt.Sprintf("agent %q is not registered", id)).
				WithComponent("executor").
				WithRemediation("register the agent before referencing it in a pattern")
		}
	}
	return nil
}

func invalidConfig(msg string) *types.Error {
	return types.NewError(types.ErrInvalidConfig, msg).WithComponent("executor")
}
