package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SchemaValidationError is returned when a model response does not conform
// to the requested schema.
type SchemaValidationError struct {
	Schema string
	Reason string
	Raw    string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("response for %s violates schema: %s", e.Schema, e.Reason)
}

func (e *SchemaValidationError) IsRetryable() bool { return true }

// RateLimitError is returned when the provider throttles a request.
// RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error     { return e.Err }
func (e *RateLimitError) IsRetryable() bool { return true }

// TimeoutError is returned when a single call exceeds its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error     { return e.Err }
func (e *TimeoutError) IsRetryable() bool { return true }

// UnavailableError is returned for transient provider failures such as
// 5xx responses or dropped connections.
type UnavailableError struct {
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider unavailable (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error     { return e.Err }
func (e *UnavailableError) IsRetryable() bool { return true }

// IsRetryable reports whether err is a transient generation failure.
// Cancellation of the caller's context is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// RetryAfter returns the provider's retry hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// ClassifyCallError maps a failed call to the typed taxonomy. parent is the
// caller's context; a deadline hit while parent is still live means the
// per-call timeout fired.
func ClassifyCallError(parent context.Context, op string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	switch {
	case statusCode == 429:
		return &RateLimitError{Err: err}
	case statusCode == 408:
		return &TimeoutError{Op: op, Err: err}
	case statusCode >= 500:
		return &UnavailableError{StatusCode: statusCode, Err: err}
	}
	return err
}
