// Package resilience is the single retrying boundary for outbound HTTP.
// API clients under pkg/ call through it with a fixed attempt count and
// exponential backoff; everything above treats collaborator calls as
// single-shot.
package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior for one client.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first try.
	// Values below 1 are treated as 1 (no retries).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default 500ms.
	InitialBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default 2.0.
	Multiplier float64
}

// DefaultPolicy returns the retry policy used by the API clients.
func DefaultPolicy(attempts int) Policy {
	if attempts < 1 {
		attempts = 1
	}
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// Do executes fn, retrying transient failures according to the policy.
// Non-transient errors and context cancellation return immediately. The
// value from the first successful attempt is returned.
func Do[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	mul := p.Multiplier
	if mul <= 0 {
		mul = 2.0
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(err) || attempt >= attempts-1 {
			return zero, lastErr
		}

		zap.L().Warn("retrying after transient error",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		delay := time.Duration(float64(backoff) * math.Pow(mul, float64(attempt)))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}
