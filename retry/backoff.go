// Package retry wraps agent invocations with exponential backoff,
// per-agent circuit breakers, and dead-letter escalation.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy defines retry behavior for a single invocation.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt
	// (0 means no retries).
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// Multiplier grows the delay per attempt.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// Jitter adds ±25% randomization to each delay so simultaneous
	// retries don't stampede.
	Jitter bool `yaml:"jitter" json:"jitter"`

	// Classify reports whether an error is worth retrying. Nil retries
	// everything.
	Classify func(error) bool `yaml:"-" json:"-"`
	// OnRetry is invoked before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// normalize fills invalid fields with defaults.
func (p Policy) normalize() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Retryer executes functions under a retry policy.
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// NewRetryer creates a backoff retryer.
func NewRetryer(policy Policy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{
		policy: policy.normalize(),
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do runs fn, retrying per policy.
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	_, err := DoWithResult(ctx, r, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Attempts returns the total number of attempts the policy allows.
func (r *Retryer) Attempts() int {
	return r.policy.MaxRetries + 1
}

// DoWithResult runs fn under the retryer's policy, returning its result.
// The first attempt runs immediately; each retry waits an exponentially
// growing, optionally jittered delay, and honors context cancellation
// while sleeping.
func DoWithResult[T any](ctx context.Context, r *Retryer, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if r.policy.Classify != nil && !r.policy.Classify(err) {
			r.logger.Debug("error is not retryable", zap.Error(err))
			return zero, err
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr))

	return zero, fmt.Errorf("still failing after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// calculateDelay computes the backoff for the given attempt:
// initial * multiplier^(attempt-1), capped at MaxDelay, with optional
// ±25% jitter. The result never drops below InitialDelay.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}
