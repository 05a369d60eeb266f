package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseProviderDefaultsMaxRetries(t *testing.T) {
	b := NewBaseProvider("anthropic", 0)
	assert.Equal(t, "anthropic", b.Name())
	assert.Equal(t, 3, b.maxRetries)

	b = NewBaseProvider("anthropic", 5)
	assert.Equal(t, 5, b.maxRetries)
}

func TestRetrySucceedsWithoutRetrying(t *testing.T) {
	b := NewBaseProvider("p", 3)
	b.retryDelay = time.Millisecond

	calls := 0
	err := b.Retry(context.Background(), func(error) bool { return true }, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	b := NewBaseProvider("p", 3)
	b.retryDelay = time.Millisecond

	boom := errors.New("boom")
	calls := 0
	err := b.Retry(context.Background(), func(error) bool { return true }, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls, "should stop after maxRetries attempts, not loop forever")
}

func TestRetryStopsWhenNotRetryable(t *testing.T) {
	b := NewBaseProvider("p", 5)
	b.retryDelay = time.Millisecond

	boom := errors.New("fatal")
	calls := 0
	err := b.Retry(context.Background(), func(error) bool { return false }, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "a non-retryable error must not be retried")
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	b := NewBaseProvider("p", 5)
	b.retryDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := b.Retry(ctx, func(error) bool { return true }, func() error {
		calls++
		return errors.New("retryable")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, 5, "cancellation should cut the retry loop short")
}
