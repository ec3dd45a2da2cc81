package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)
	assert.Equal(t, CircuitClosed, cb.GetState())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.True(t, cb.CanAttempt())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.False(t, cb.CanAttempt())
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 20*time.Millisecond)
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.False(t, cb.CanAttempt())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.CanAttempt())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	// A second concurrent caller is rejected while the probe is in flight.
	assert.False(t, cb.CanAttempt())
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require := assert.New(t)
	require.True(cb.CanAttempt())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetFailureCount())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.CanAttempt())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
}

func TestCircuitBreakerSnapshot(t *testing.T) {
	cb := NewCircuitBreaker("backend-a", 2, time.Second)
	cb.RecordFailure()
	snap := cb.GetSnapshot()
	assert.Equal(t, "backend-a", snap.Name)
	assert.Equal(t, 1, snap.FailureCount)
	assert.Equal(t, CircuitClosed, snap.State)
}
