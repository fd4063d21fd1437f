package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()
	client := New(Options{})
	assert.Equal(t, 30*time.Second, client.Timeout)
}

func TestWithRetrySucceedsWithoutExhaustingAttempts(t *testing.T) {
	t.Parallel()
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryReturnsLastErrorAfterExhausting(t *testing.T) {
	t.Parallel()
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(int) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, RetryConfig{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}, func(int) error {
		return errors.New("fails")
	})
	require.Error(t, err)
}
