package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     attempts,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		Multiplier:      2.0,
		RandomizeFactor: 0,
		RetryIf:         IsRetryable,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient failure %d", calls)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("Expected 3 attempts, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	cause := errors.New("relay down")
	err := RetryWithConfig(context.Background(), fastConfig(3), func() error {
		calls++
		return cause
	})

	var exceeded ErrMaxRetriesExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("Expected ErrMaxRetriesExceeded, got %v", err)
	}
	if exceeded.Attempts != 3 {
		t.Fatalf("Expected 3 attempts recorded, got %d", exceeded.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Fatal("Expected the last error to be wrapped")
	}
	if calls != 3 {
		t.Fatalf("Expected 3 attempts, got %d", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), fastConfig(5), func() error {
		calls++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("Expected 1 attempt for a terminal error, got %d", calls)
	}
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, func() error { return errors.New("never retried") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	fail := func() error { return errors.New("publish failed") }

	cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after 1 failure, got %s", cb.State())
	}
	cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 2 failures, got %s", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.Execute(func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Expected half-open probe to run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerReopensOnFailedProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.Execute(func() error { return errors.New("boom") })

	time.Sleep(20 * time.Millisecond)

	cb.Execute(func() error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreakerAdmitsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.Execute(func() error { return errors.New("boom") })

	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("Expected ErrTooManyRequests while a probe is in flight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Expected the probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after the successful probe, got %s", cb.State())
	}
}
