package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

var errBoom = errors.New("boom")

func failing(context.Context) error    { return errBoom }
func succeeding(context.Context) error { return nil }

func newTestBreaker(clock *manualClock) *CircuitBreaker {
	return NewCircuitBreaker(&Config{
		Name:             "wa1",
		MaxFailures:      3,
		Timeout:          10 * time.Second,
		HalfOpenMaxCalls: 1,
		Clock:            clock.Now,
	})
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	require.NoError(t, cb.Execute(ctx, succeeding), "a success resets the streak")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	require.Equal(t, StateOpen, cb.GetState())

	clock.now = clock.now.Add(10 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	clock.now = clock.now.Add(11 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeeding), ErrCircuitOpen)
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	errRejected := errors.New("recipient rejected")
	cb := NewCircuitBreaker(&Config{
		Name:        "wa2",
		MaxFailures: 1,
		Timeout:     time.Minute,
		IsFailure:   func(err error) bool { return !errors.Is(err, errRejected) },
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return errRejected })
	}
	assert.Equal(t, StateClosed, cb.GetState())

	stats := cb.GetStats()
	assert.Equal(t, 5, stats.TotalCalls)
	assert.Zero(t, stats.TotalFailures)
}

func TestManager(t *testing.T) {
	m := NewManager(&Config{MaxFailures: 2, Timeout: time.Minute})

	a := m.GetOrCreate("wa1")
	assert.Same(t, a, m.GetOrCreate("wa1"))

	_, err := m.Get("missing")
	assert.Error(t, err)

	_ = a.Execute(context.Background(), failing)
	stats := m.GetAllStats()
	require.Contains(t, stats, "wa1")
	assert.Equal(t, "wa1", stats["wa1"].Name)
	assert.Equal(t, 1, stats["wa1"].ConsecutiveFails)

	m.Remove("wa1")
	_, err = m.Get("wa1")
	assert.Error(t, err)
}
