package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	result := Run(context.Background(), Immediate(4), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.NoError(t, result.LastError)
}

func TestRun_StopsAtMaxAttempts(t *testing.T) {
	errLast := errors.New("still failing")
	result := Run(context.Background(), Immediate(3), func(ctx context.Context, attempt int) error {
		return errLast
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.ErrorIs(t, result.LastError, errLast)
}

func TestRun_PermanentStopsEarly(t *testing.T) {
	errFatal := errors.New("no account available")
	result := Run(context.Background(), Immediate(5), func(ctx context.Context, attempt int) error {
		return Permanent(errFatal)
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, errFatal, result.LastError)
	assert.True(t, IsPermanent(Permanent(errFatal)))
	assert.False(t, IsPermanent(errFatal))
	assert.Nil(t, Permanent(nil))
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2}

	result := Run(ctx, cfg, func(ctx context.Context, attempt int) error {
		cancel()
		return errors.New("fail")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, calculateDelay(cfg, 3))
	assert.Equal(t, 5*time.Second, calculateDelay(cfg, 4))
	assert.Zero(t, calculateDelay(Immediate(3), 2))
}

func TestDo(t *testing.T) {
	require.NoError(t, Do(context.Background(), Immediate(1), func(context.Context, int) error { return nil }))

	err := Do(context.Background(), Immediate(2), func(context.Context, int) error { return errors.New("x") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
