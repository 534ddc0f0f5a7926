// Package confidence computes and enforces the weighted confidence
// score that gates whether a result may leave the coordinator.
package confidence

import (
	"fmt"
	"sort"

	"github.com/BaSui01/agentgrid/types"
)

// Factor weights. They sum to 1.0 and are fixed by the scoring model.
const (
	WeightCompleteness       = 0.25
	WeightClarity            = 0.20
	WeightFeasibility        = 0.20
	WeightValidationCoverage = 0.15
	WeightRisk               = 0.10
	WeightAlignment          = 0.10
)

// Penalty and boost magnitudes.
const (
	// UnknownPenalty is subtracted per unresolved unknown.
	UnknownPenalty = 3.0
	// AssumptionPenalty is subtracted per unstated assumption.
	AssumptionPenalty = 2.0
	// CrossValidationBoost is added when independent sources agree.
	CrossValidationBoost = 5.0
	// CrossValidationAgreement is the agreement ratio required for the
	// boost.
	CrossValidationAgreement = 0.9
	// BoostCap is the ceiling a boosted score may reach.
	BoostCap = 98.0
)

// Input gathers everything the scorer considers for one result.
type Input struct {
	Factors types.ConfidenceFactors
	// Unknowns are unresolved open points in the result.
	Unknowns []string
	// Assumptions are assumptions the result relies on without stating.
	Assumptions []string
	// SourceAgreement records, per independent source, whether it
	// agrees with the result. Empty means no cross-validation ran.
	SourceAgreement map[string]bool
}

// Compute produces the weighted score for the factors alone, in
// [0,100], with the per-factor weighted contributions broken out.
func Compute(factors types.ConfidenceFactors) types.ConfidenceScore {
	weighted := map[string]float64{
		"completeness":        clamp(factors.Completeness) * WeightCompleteness,
		"clarity":             clamp(factors.Clarity) * WeightClarity,
		"feasibility":         clamp(factors.Feasibility) * WeightFeasibility,
		"validation_coverage": clamp(factors.ValidationCoverage) * WeightValidationCoverage,
		"risk":                clamp(factors.Risk) * WeightRisk,
		"alignment":           clamp(factors.Alignment) * WeightAlignment,
	}

	total := 0.0
	for _, v := range weighted {
		total += v
	}

	return types.ConfidenceScore{
		Value:    total,
		Factors:  factors,
		Weighted: weighted,
	}
}

// Assess runs the full scoring pipeline: weighted factors, then
// penalties, then the cross-validation boost. Penalties always apply
// before the boost.
func Assess(input Input) types.ConfidenceScore {
	score := Compute(input.Factors)
	applyPenalties(&score, input.Unknowns, input.Assumptions)
	crossValidate(&score, input.SourceAgreement)
	return score
}

// applyPenalties subtracts per-unknown and per-assumption penalties,
// flooring at 0.
func applyPenalties(score *types.ConfidenceScore, unknowns, assumptions []string) {
	for _, u := range unknowns {
		score.Value -= UnknownPenalty
		score.Penalties = append(score.Penalties,
			fmt.Sprintf("unresolved unknown: %s (-%g)", u, UnknownPenalty))
	}
	for _, a := range assumptions {
		score.Value -= AssumptionPenalty
		score.Penalties = append(score.Penalties,
			fmt.Sprintf("unstated assumption: %s (-%g)", a, AssumptionPenalty))
	}
	if score.Value < 0 {
		score.Value = 0
	}
}

// crossValidate applies a bounded boost when at least 90% of
// independent sources agree. A boost never raises the score above
// BoostCap.
func crossValidate(score *types.ConfidenceScore, agreement map[string]bool) {
	if len(agreement) == 0 {
		return
	}

	agreeing := 0
	for _, agrees := range agreement {
		if agrees {
			agreeing++
		}
	}
	ratio := float64(agreeing) / float64(len(agreement))
	if ratio < CrossValidationAgreement {
		return
	}

	boosted := score.Value + CrossValidationBoost
	if boosted > BoostCap {
		boosted = BoostCap
	}
	if boosted > score.Value {
		score.Boosters = append(score.Boosters,
			fmt.Sprintf("cross-validation: %d/%d sources agree (+%g, capped at %g)",
				agreeing, len(agreement), CrossValidationBoost, BoostCap))
		score.Value = boosted
	}
}

// deficientFactors lists the factors scoring below the threshold on
// their own 0-100 scale, weakest first.
func deficientFactors(factors types.ConfidenceFactors, threshold float64) []string {
	type fv struct {
		name  string
		value float64
	}
	all := []fv{
		{"completeness", factors.Completeness},
		{"clarity", factors.Clarity},
		{"feasibility", factors.Feasibility},
		{"validation_coverage", factors.ValidationCoverage},
		{"risk", factors.Risk},
		{"alignment", factors.Alignment},
	}
	sort.Slice(all, func(i, j int) bool { return all[i].value < all[j].value })

	var out []string
	for _, f := range all {
		if f.value < threshold {
			out = append(out, f.name)
		}
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
