package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

func failN(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return errFail })
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	failN(cb, 3)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	failN(cb, 2)
	assert.Equal(t, CircuitClosed, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(_ context.Context) error { return nil }))
	failN(cb, 2)
	assert.Equal(t, CircuitClosed, cb.State())
	failN(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenTrialCall(t *testing.T) {
	now := time.Now()
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 2)

	cb.nowFunc = func() time.Time { return now.Add(2 * time.Second) }
	assert.Equal(t, CircuitHalfOpen, cb.State())

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 1)

	cb.nowFunc = func() time.Time { return now.Add(2 * time.Second) }
	failN(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_ShouldTripFilters(t *testing.T) {
	ignored := errors.New("match error")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, ignored) },
	})
	err := cb.Execute(context.Background(), func(_ context.Context) error { return ignored })
	assert.ErrorIs(t, err, ignored)
	assert.Equal(t, CircuitClosed, cb.State())

	failN(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "unknown", CircuitState(9).String())
}
