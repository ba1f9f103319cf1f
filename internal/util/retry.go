package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryErrWithContext calls fn up to maxTries times until it returns nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithContext calls fn up to maxTries times until it returns a non-nil result and nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// Backoff configures RetryBackoff.
//
// MaxRetries is the number of retries after the first attempt. Delays start
// at InitialDelay and grow by Multiplier up to MaxDelay. JitterFactor (0-1)
// spreads each delay by +/- that fraction. When Hint returns a positive
// duration for an error it replaces the computed delay for that wait.
type Backoff struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
	Hint         func(error) time.Duration
}

// DefaultBackoff returns 3 retries starting at 500ms, doubling up to 10s, with 10% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// RetryBackoff calls fn until it succeeds, shouldRetry rejects the error or
// the retries are exhausted. It returns the last result, the number of
// attempts made and the last error. Waiting respects ctx.
func RetryBackoff[T any](
	ctx context.Context,
	cfg Backoff,
	shouldRetry func(error) bool,
	fn func(context.Context) (T, error),
) (T, int, error) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	var zero T
	delay := cfg.InitialDelay
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, attempts, err
		}
		attempts++
		result, err := fn(ctx)
		if err == nil {
			return result, attempts, nil
		}
		if attempts > cfg.MaxRetries || (shouldRetry != nil && !shouldRetry(err)) {
			return zero, attempts, err
		}

		wait := applyJitter(delay, cfg.JitterFactor)
		if cfg.Hint != nil {
			if hint := cfg.Hint(err); hint > 0 {
				wait = hint
			}
		}
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, attempts, ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
