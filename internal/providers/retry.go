package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// RetryConfig is the retry policy for transient provider failures.
type RetryConfig struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // first backoff delay, doubles per attempt
}

// DefaultRetryConfig returns the stock policy: 4 retries, 2 s base delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 4, BaseDelay: 2 * time.Second}
}

// transientError marks a failure worth retrying (connection reset, HTTP 503).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err as retryable.
func Transient(err error) error {
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried. Network resets and
// timeouts are transient even when not wrapped explicitly.
func IsTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RetryDo runs fn with exponential backoff on transient errors. Any other
// failure is surfaced verbatim.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.BaseDelay

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) || attempt >= cfg.MaxRetries {
			return zero, err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay *= 2
	}
}
