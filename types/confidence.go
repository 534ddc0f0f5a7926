package types

// ConfidenceFactors are the six signals feeding the confidence score.
// Each factor is expressed on a 0-100 scale.
type ConfidenceFactors struct {
	Completeness       float64 `json:"completeness"`
	Clarity            float64 `json:"clarity"`
	Feasibility        float64 `json:"feasibility"`
	ValidationCoverage float64 `json:"validation_coverage"`
	Risk               float64 `json:"risk"`
	Alignment          float64 `json:"alignment"`
}

// ConfidenceScore is the weighted aggregate gating whether a result may
// be released, together with the booster and penalty reasons applied.
type ConfidenceScore struct {
	Value     float64            `json:"value"`
	Factors   ConfidenceFactors  `json:"factors"`
	Weighted  map[string]float64 `json:"weighted,omitempty"`
	Boosters  []string           `json:"boosters,omitempty"`
	Penalties []string           `json:"penalties,omitempty"`
}
