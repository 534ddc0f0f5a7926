package executor

import (
	"github.com/BaSui01/agentgrid/confidence"
	"github.com/BaSui01/agentgrid/types"
)

// Scorer derives the confidence input for a finished execution. The
// default implementation reads self-reported factors out of stage
// outputs; callers with a dedicated validator wire their own.
type Scorer func(task types.Task, result *types.Result) confidence.Input

// DefaultScorer averages the confidence factors each successful stage
// reports under the "confidence_factors" payload key and collects
// declared unknowns, assumptions, and cross-validation votes. Stages
// that report nothing are skipped; when no stage reports factors the
// result is treated as fully confident.
func DefaultScorer(_ types.Task, result *types.Result) confidence.Input {
	input := confidence.Input{}
	var sum types.ConfidenceFactors
	reported := 0

	for _, stage := range result.Stages {
		if stage.Failed() {
			continue
		}
		payload, ok := stage.Output.(map[string]any)
		if !ok {
			continue
		}

		if raw, ok := payload["confidence_factors"]; ok {
			if f, ok := parseFactors(raw); ok {
				sum.Completeness += f.Completeness
				sum.Clarity += f.Clarity
				sum.Feasibility += f.Feasibility
				sum.ValidationCoverage += f.ValidationCoverage
				sum.Risk += f.Risk
				sum.Alignment += f.Alignment
				reported++
			}
		}
		input.Unknowns = append(input.Unknowns, stringList(payload["unknowns"])...)
		input.Assumptions = append(input.Assumptions, stringList(payload["assumptions"])...)
		if agrees, ok := payload["agrees"].(bool); ok {
			if input.SourceAgreement == nil {
				input.SourceAgreement = make(map[string]bool)
			}
			input.SourceAgreement[stage.AgentID] = agrees
		}
	}

	if reported == 0 {
		input.Factors = types.ConfidenceFactors{
			Completeness:       100,
			Clarity:            100,
			Feasibility:        100,
			ValidationCoverage: 100,
			Risk:               100,
			Alignment:          100,
		}
		return input
	}

	n := float64(reported)
	input.Factors = types.ConfidenceFactors{
		Completeness:       sum.Completeness / n,
		Clarity:            sum.Clarity / n,
		Feasibility:        sum.Feasibility / n,
		ValidationCoverage: sum.ValidationCoverage / n,
		Risk:               sum.Risk / n,
		Alignment:          sum.Alignment / n,
	}
	return input
}

func parseFactors(raw any) (types.ConfidenceFactors, bool) {
	switch v := raw.(type) {
	case types.ConfidenceFactors:
		return v, true
	case map[string]any:
		return types.ConfidenceFactors{
			Completeness:       number(v["completeness"]),
			Clarity:            number(v["clarity"]),
			Feasibility:        number(v["feasibility"]),
			ValidationCoverage: number(v["validation_coverage"]),
			Risk:               number(v["risk"]),
			Alignment:          number(v["alignment"]),
		}, true
	}
	return types.ConfidenceFactors{}, false
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
