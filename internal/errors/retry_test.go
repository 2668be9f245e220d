package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_EventualSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return NetworkError("connection reset", 0, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return TimeoutError("deadline exceeded", time.Second)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls) // initial attempt + 3 retries
	assert.Equal(t, KindTimeout, KindOf(err), "the exhausted error keeps the last failure's code")
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetry_NonRetryableShortCircuits(t *testing.T) {
	calls := 0
	original := ValidationError("bad input", "field")
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return original
	})
	assert.Equal(t, 1, calls, "validation failures must not be retried")
	assert.Same(t, original, err, "non-retryable errors pass through unchanged")
}

func TestRetry_ClassifiesUnknownErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return stderrors.New("some library failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "unclassifiable errors are not retryable")
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetryConfig(), func() error {
		t.Fatal("should not be called with cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
