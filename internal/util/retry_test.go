package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errPermanent = errors.New("permanent")

func TestRetryWithContext_SuccessAfterRetries(t *testing.T) {
	calls := 0
	result, err := RetryWithContext(context.Background(), 3, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 99, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result != 99 {
		t.Fatalf("expected 99, got %d", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithContext_MaxTriesZeroOrNegative(t *testing.T) {
	for _, maxTries := range []int{0, -1} {
		calls := 0
		_, err := RetryWithContext(context.Background(), maxTries, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("fail")
		})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if calls != 1 {
			t.Fatalf("maxTries=%d: expected 1 call, got %d", maxTries, calls)
		}
	}
}

func TestRetryWithContext_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithContext(ctx, 3, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected 0 calls due to immediate cancellation, got %d", calls)
	}
}

func TestRetryWithContext_FunctionReturnsContextError(t *testing.T) {
	calls := 0
	_, err := RetryWithContext(context.Background(), 3, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 0, context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryErrWithContext_PersistentFailure(t *testing.T) {
	calls := 0
	err := RetryErrWithContext(context.Background(), 3, func(ctx context.Context) error {
		calls++
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func fastBackoff(retries int) Backoff {
	return Backoff{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetryBackoff(t *testing.T) {
	transient := errors.New("transient")
	retryable := func(err error) bool { return !errors.Is(err, errPermanent) }

	tests := []struct {
		name         string
		retries      int
		failures     []error
		wantAttempts int
		wantErr      error
	}{
		{
			name:         "success immediately",
			retries:      3,
			wantAttempts: 1,
		},
		{
			name:         "success after transient failures",
			retries:      3,
			failures:     []error{transient, transient},
			wantAttempts: 3,
		},
		{
			name:         "retries exhausted",
			retries:      2,
			failures:     []error{transient, transient, transient, transient},
			wantAttempts: 3,
			wantErr:      transient,
		},
		{
			name:         "permanent error stops early",
			retries:      5,
			failures:     []error{transient, errPermanent},
			wantAttempts: 2,
			wantErr:      errPermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, attempts, err := RetryBackoff(context.Background(), fastBackoff(tt.retries), retryable,
				func(ctx context.Context) (string, error) {
					calls++
					if calls <= len(tt.failures) {
						return "", tt.failures[calls-1]
					}
					return "ok", nil
				})
			if attempts != tt.wantAttempts {
				t.Fatalf("expected %d attempts, got %d", tt.wantAttempts, attempts)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil || got != "ok" {
				t.Fatalf("expected ok, got %q, %v", got, err)
			}
		})
	}
}

func TestRetryBackoff_HintOverridesDelay(t *testing.T) {
	cfg := fastBackoff(1)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	cfg.Hint = func(error) time.Duration { return time.Millisecond }

	calls := 0
	start := time.Now()
	_, _, err := RetryBackoff(context.Background(), cfg, nil, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("slow down")
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected hint delay to be used")
	}
}

func TestRetryBackoff_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	cfg := fastBackoff(10)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	_, attempts, err := RetryBackoff(ctx, cfg, nil, func(ctx context.Context) (int, error) {
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}
