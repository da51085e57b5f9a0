package backoff

import (
	"context"
	"testing"
	"time"
)

func TestSleepWithContext_Zero(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	if err := SleepWithContext(ctx, 0); err != nil {
		t.Errorf("SleepWithContext() error = %v, want nil", err)
	}
	if time.Since(start) > 5*time.Millisecond {
		t.Errorf("SleepWithContext(0) should return immediately")
	}
}

func TestSleepWithContext_CancelledBeforeSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepWithContext(ctx, time.Second)
	if err != context.Canceled {
		t.Errorf("SleepWithContext() error = %v, want context.Canceled", err)
	}
}

func TestSleepWithBackoff(t *testing.T) {
	ctx := context.Background()
	policy := Policy{InitialMs: 1, MaxMs: 10, Factor: 2, Jitter: 0}
	start := time.Now()
	if err := SleepWithBackoff(ctx, policy, 1); err != nil {
		t.Errorf("SleepWithBackoff() error = %v, want nil", err)
	}
	if time.Since(start) < time.Millisecond {
		t.Errorf("SleepWithBackoff() returned too quickly")
	}
}
