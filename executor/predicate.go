package executor

import "github.com/BaSui01/agentgrid/types"

// Predicate decides whether a conditional routing rule applies to a
// task.
type Predicate interface {
	Evaluate(task types.Task) bool
}

// PredicateFunc adapts a plain function to the Predicate interface.
type PredicateFunc func(task types.Task) bool

// Evaluate implements Predicate.
func (f PredicateFunc) Evaluate(task types.Task) bool { return f(task) }

type truePredicate struct{}

func (truePredicate) Evaluate(types.Task) bool { return true }

// True returns the predicate that matches every task. A rule guarded
// by it acts as a catch-all.
func True() Predicate { return truePredicate{} }

// alwaysTrue reports whether p is the constant-true predicate.
func alwaysTrue(p Predicate) bool {
	_, ok := p.(truePredicate)
	return ok
}

type andPredicate struct{ ps []Predicate }

func (a andPredicate) Evaluate(task types.Task) bool {
	for _, p := range a.ps {
		if !p.Evaluate(task) {
			return false
		}
	}
	return true
}

// And matches when every predicate matches. With no arguments it
// matches everything.
func And(ps ...Predicate) Predicate { return andPredicate{ps: ps} }

type orPredicate struct{ ps []Predicate }

func (o orPredicate) Evaluate(task types.Task) bool {
	for _, p := range o.ps {
		if p.Evaluate(task) {
			return true
		}
	}
	return false
}

// Or matches when at least one predicate matches.
func Or(ps ...Predicate) Predicate { return orPredicate{ps: ps} }

type notPredicate struct{ p Predicate }

func (n notPredicate) Evaluate(task types.Task) bool { return !n.p.Evaluate(task) }

// Not inverts a predicate.
func Not(p Predicate) Predicate { return notPredicate{p: p} }

// MetadataEquals matches tasks whose metadata key holds the given
// value.
func MetadataEquals(key string, value any) Predicate {
	return PredicateFunc(func(task types.Task) bool {
		v, ok := task.Metadata[key]
		return ok && v == value
	})
}
