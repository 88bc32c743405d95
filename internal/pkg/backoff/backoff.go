// Package backoff implements exponential backoff with full jitter for
// retrying transient failures against external gateways.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Budget bounds a retry loop: how many attempts total and how the delay
// between them grows.
type Budget struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default is the engine-wide send retry budget.
var Default = Budget{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
}

// Delay returns the backoff duration before the given retry attempt
// (attempt 1 is the first retry). Full jitter: random(0, min(maxDelay,
// baseDelay * 2^(attempt-1))), floored at 100ms to avoid busy-looping.
func (b Budget) Delay(attempt int) time.Duration {
	expDelay := float64(b.BaseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(b.MaxDelay) {
		expDelay = float64(b.MaxDelay)
	}
	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

// Sleep blocks for the attempt's backoff delay or until the context is
// done, whichever comes first. Returns the context error on cancellation.
func (b Budget) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
