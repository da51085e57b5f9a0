package backoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

var errTemporary = errors.New("temporary error")
var errFatal = errors.New("fatal error")

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	ctx := context.Background()
	policy := Policy{InitialMs: 1, MaxMs: 10, Factor: 2, Jitter: 0}

	var attempts int32
	result, err := RetryWithBackoff(ctx, policy, 3, nil, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "success", nil
	})

	if err != nil {
		t.Errorf("RetryWithBackoff() error = %v, want nil", err)
	}
	if result.Value != "success" {
		t.Errorf("RetryWithBackoff() value = %v, want success", result.Value)
	}
	if result.Attempts != 1 {
		t.Errorf("RetryWithBackoff() attempts = %v, want 1", result.Attempts)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("function called %v times, want 1", attempts)
	}
}

func TestRetryWithBackoff_SucceedsAfterRetries(t *testing.T) {
	ctx := context.Background()
	policy := Policy{InitialMs: 1, MaxMs: 10, Factor: 2, Jitter: 0}

	var attempts int32
	result, err := RetryWithBackoff(ctx, policy, 5, nil, func(attempt int) (int, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return 0, errTemporary
		}
		return int(n), nil
	})

	if err != nil {
		t.Errorf("RetryWithBackoff() error = %v, want nil", err)
	}
	if result.Value != 3 {
		t.Errorf("RetryWithBackoff() value = %v, want 3", result.Value)
	}
	if result.Attempts != 3 {
		t.Errorf("RetryWithBackoff() attempts = %v, want 3", result.Attempts)
	}
}

func TestRetryWithBackoff_AllAttemptsFail(t *testing.T) {
	ctx := context.Background()
	policy := Policy{InitialMs: 1, MaxMs: 10, Factor: 2, Jitter: 0}

	var attempts int32
	_, err := RetryWithBackoff(ctx, policy, 3, nil, func(attempt int) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errTemporary
	})

	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("RetryWithBackoff() error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("function called %v times, want 3", attempts)
	}
}

func TestRetryWithBackoff_NonRetryableStopsImmediately(t *testing.T) {
	ctx := context.Background()
	policy := Policy{InitialMs: 1, MaxMs: 10, Factor: 2, Jitter: 0}

	isRetryable := func(err error) bool { return !errors.Is(err, errFatal) }

	var attempts int32
	_, err := RetryWithBackoff(ctx, policy, 5, isRetryable, func(attempt int) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFatal
	})

	if !errors.Is(err, errFatal) {
		t.Errorf("RetryWithBackoff() error = %v, want errFatal", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("function called %v times, want 1 (no retry on non-retryable error)", attempts)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := Policy{InitialMs: 1, MaxMs: 10, Factor: 2, Jitter: 0}

	_, err := RetryWithBackoff(ctx, policy, 3, nil, func(attempt int) (int, error) {
		return 0, errTemporary
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryWithBackoff() error = %v, want context.Canceled", err)
	}
}
