// Package backoff provides exponential backoff with jitter for retrying
// recoverable provider errors (spec.md §5: 3 attempts, 500ms-4s, 10% jitter).
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the backoff duration for the first retry, in milliseconds.
	InitialMs float64
	// MaxMs caps the backoff duration regardless of attempt number.
	MaxMs float64
	// Factor is the multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0-1.0) added to the base delay.
	Jitter float64
}

// ComputeBackoff calculates the backoff duration for a given attempt (1-indexed).
func ComputeBackoff(policy Policy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not need cryptographic randomness
}

// ComputeBackoffWithRand calculates backoff using a caller-supplied random
// value in [0.0, 1.0), making the calculation deterministic for tests.
func ComputeBackoffWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// ProviderRetryPolicy is the policy used for recoverable provider call
// failures: 500ms initial, 4s max, factor 2, 10% jitter (spec.md §5).
func ProviderRetryPolicy() Policy {
	return Policy{
		InitialMs: 500,
		MaxMs:     4000,
		Factor:    2,
		Jitter:    0.1,
	}
}
