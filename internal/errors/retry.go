package errors

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig controls backoff between attempts. MaxRetries counts
// additional attempts after the first.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry runs fn with exponential backoff, retrying only failures the
// taxonomy marks retryable (network, timeout, rate-limited, transport).
// Non-Loom errors are classified first; anything non-retryable is returned
// to the caller unchanged after the first attempt. Context cancellation
// aborts between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr *LoomError

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return New(ErrCodeCancelled, "retry aborted", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		le := Classify(err)
		if !le.Retryable {
			return err
		}
		lastErr = le

		if attempt >= cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return New(ErrCodeCancelled, "retry aborted", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return New(lastErr.Code,
		fmt.Sprintf("failed after %d retries: %s", cfg.MaxRetries, lastErr.Message), lastErr)
}
