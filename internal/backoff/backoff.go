// Package backoff provides exponential backoff with jitter for retry loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
	// Factor is the exponential growth factor per attempt.
	Factor float64
	// Jitter is the symmetric randomization fraction: 0.2 spreads each
	// delay uniformly across +/-20% of its nominal value.
	Jitter float64
}

// DefaultPolicy suits local transient failures such as a busy store.
// Initial: 100ms, Max: 30s, Factor: 2, Jitter: 20%.
func DefaultPolicy() Policy {
	return Policy{Initial: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.2}
}

// APIPolicy suits rate-limited upstream APIs, where the first retry already
// waits 10 seconds. Initial: 10s, Max: 300s, Factor: 2, Jitter: 20%.
func APIPolicy() Policy {
	return Policy{Initial: 10 * time.Second, Max: 300 * time.Second, Factor: 2, Jitter: 0.2}
}

// ComputeBackoff calculates the delay before the next attempt. Attempt
// numbers start at 1; the delay after attempt n is initial * factor^(n-1),
// jittered and clamped to the policy max.
func ComputeBackoff(policy Policy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeBackoffWithRand calculates the delay using a provided random value
// in [0.0, 1.0), which makes tests deterministic. A value of 0.5 yields the
// unjittered delay; 0.0 and 1.0 yield the low and high ends of the spread.
func ComputeBackoffWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	delay := float64(policy.Initial) * math.Pow(policy.Factor, exp)
	if policy.Jitter > 0 {
		delay *= 1 + policy.Jitter*(2*randomValue-1)
	}
	if policy.Max > 0 && delay > float64(policy.Max) {
		delay = float64(policy.Max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// SleepWithContext sleeps for the duration, returning ctx.Err() early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepWithBackoff computes the delay for the attempt and sleeps it off.
func SleepWithBackoff(ctx context.Context, policy Policy, attempt int) error {
	return SleepWithContext(ctx, ComputeBackoff(policy, attempt))
}
