package confidence

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgrid/internal/metrics"
	"github.com/BaSui01/agentgrid/types"
)

// DefaultThreshold is the baseline a score must reach before a result
// is released.
const DefaultThreshold = 95.0

// Config controls gate enforcement.
type Config struct {
	// Threshold is the minimum acceptable score.
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// DefaultConfig returns the standard gate configuration.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold}
}

// Gate enforces the confidence baseline on assessed scores.
type Gate struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option customizes a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Gate) { g.metrics = c }
}

// NewGate builds a gate with the given configuration.
func NewGate(cfg Config, opts ...Option) *Gate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	g := &Gate{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "confidence_gate"))
	return g
}

// Threshold reports the configured baseline.
func (g *Gate) Threshold() float64 { return g.cfg.Threshold }

// Verdict is the outcome of enforcing the baseline on one score.
type Verdict struct {
	Pass             bool
	Score            float64
	Threshold        float64
	DeficientFactors []string
	Remediation      string
}

// Err converts a failing verdict into a structured error. A passing
// verdict yields nil.
func (v Verdict) Err() error {
	if v.Pass {
		return nil
	}
	return types.NewError(types.ErrBelowBaseline,
		fmt.Sprintf("confidence %.1f below baseline %.1f", v.Score, v.Threshold)).
		WithComponent("confidence_gate").
		WithRemediation(v.Remediation)
}

// Enforce checks an assessed score against the baseline. Failing
// verdicts name the deficient factors so the caller can request
// clarification instead of releasing a low-confidence result. The
// pattern label is used for metrics only.
func (g *Gate) Enforce(pattern string, score types.ConfidenceScore) Verdict {
	v := Verdict{
		Score:     score.Value,
		Threshold: g.cfg.Threshold,
	}
	if score.Value >= g.cfg.Threshold {
		v.Pass = true
		g.metrics.RecordConfidence(pattern, score.Value, false)
		return v
	}

	v.DeficientFactors = deficientFactors(score.Factors, g.cfg.Threshold)
	v.Remediation = remediation(v.DeficientFactors, score.Penalties)

	g.logger.Warn("result blocked below confidence baseline",
		zap.String("pattern", pattern),
		zap.Float64("score", score.Value),
		zap.Float64("threshold", g.cfg.Threshold),
		zap.Strings("deficient_factors", v.DeficientFactors),
		zap.Strings("penalties", score.Penalties))
	g.metrics.RecordConfidence(pattern, score.Value, true)

	return v
}

func remediation(deficient, penalties []string) string {
	var parts []string
	if len(deficient) > 0 {
		parts = append(parts, "improve factors: "+strings.Join(deficient, ", "))
	}
	if len(penalties) > 0 {
		parts = append(parts, "resolve penalties: "+strings.Join(penalties, "; "))
	}
	if len(parts) == 0 {
		return "request clarification before releasing the result"
	}
	return strings.Join(parts, "; ")
}
