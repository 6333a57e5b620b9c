package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoff_SuccessFirstTry(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, func(attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls (2 failures + 1 success), got %d", calls)
	}
}

func TestRetryWithBackoff_AllAttemptsExhausted(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 2, func(attempt int) error {
		calls++
		return errors.New("persistent error")
	})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls (maxRetries+1), got %d", calls)
	}
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := RetryWithBackoff(ctx, 3, func(attempt int) error {
		return errors.New("should not retry after cancellation")
	})
	if err == nil {
		t.Fatal("Expected context cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		// The first attempt runs, then context check kicks in
		// Error wrapping means we check the message
		if err.Error() != "context canceled" && !errors.Is(err, context.Canceled) {
			t.Logf("Got non-context error (acceptable if first attempt ran): %v", err)
		}
	}
}

func TestRetryWithBackoff_ZeroRetries(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 0, func(attempt int) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("Expected error with 0 retries")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call with 0 retries, got %d", calls)
	}
}

func TestRetryWithBackoff_BackoffIncreases(t *testing.T) {
	start := time.Now()
	_ = RetryWithBackoff(context.Background(), 1, func(attempt int) error {
		return errors.New("fail")
	})
	elapsed := time.Since(start)
	// Should have at least 1 second of backoff (2^0 = 1s)
	if elapsed < 900*time.Millisecond {
		t.Errorf("Expected at least ~1s of backoff, got %v", elapsed)
	}
}

func TestRetryWithBackoff_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	err := RetryWithBackoffBase(context.Background(), 5, time.Millisecond, func(attempt int) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for permanent error, got %d", calls)
	}
}

func TestRetryWithBackoffBase_ShortBase(t *testing.T) {
	start := time.Now()
	calls := 0
	err := RetryWithBackoffBase(context.Background(), 2, 5*time.Millisecond, func(attempt int) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Short base should not wait long, took %v", elapsed)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
