package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned once all retry attempts are spent.
var ErrMaxAttemptsExhausted = errors.New("backoff: max retry attempts exhausted")

// Result holds the outcome of a retried operation.
type Result[T any] struct {
	Value     T
	Attempts  int
	LastError error
}

// Retryable reports whether an error should trigger another attempt. A nil
// Retryable (see RetryWithBackoff) treats every non-nil error as retryable.
type Retryable func(error) bool

// RetryWithBackoff runs fn up to maxAttempts times, sleeping according to
// policy between attempts. fn receives the attempt number (1-indexed). If
// isRetryable is non-nil and returns false for an error, retrying stops
// immediately and that error is returned without further attempts.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	isRetryable Retryable,
	fn func(attempt int) (T, error),
) (Result[T], error) {
	var result Result[T]

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			result.LastError = nil
			return result, nil
		}

		result.LastError = err

		if isRetryable != nil && !isRetryable(err) {
			return result, err
		}

		if attempt < maxAttempts {
			if sleepErr := SleepWithBackoff(ctx, policy, attempt); sleepErr != nil {
				return result, sleepErr
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}
