// Package health implements per-backend circuit breaking and periodic
// liveness probing (§4.2 "Health checking").
package health

import (
	"sync"
	"time"
)

// CircuitState is one of the three circuit breaker states (§4.2).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreaker tracks a backend's recent call outcomes and decides
// whether new calls should be attempted, short-circuited, or used as a
// half-open probe.
//
// Grounded on the teacher's circuit breaker pattern: a Closed breaker lets
// everything through; repeated failures trip it Open, during which calls
// are rejected without being attempted; after a cooldown it allows exactly
// one trial call through as HalfOpen, and that call's outcome decides
// whether it closes again or reopens.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	state            CircuitState
	failureCount     int
	failureThreshold int
	timeout          time.Duration

	lastStateChange  time.Time
	lastFailureTime  time.Time
	halfOpenInFlight bool
}

// NewCircuitBreaker constructs a Closed breaker for the named backend.
// failureThreshold consecutive failures trip it Open; after timeout
// elapses it allows one HalfOpen probe.
func NewCircuitBreaker(name string, failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		lastStateChange:  time.Now(),
	}
}

// CanAttempt reports whether a call should be allowed through right now.
// Calling this when the breaker is Open and its timeout has elapsed
// transitions it to HalfOpen and grants exactly one caller the probe.
func (c *CircuitBreaker) CanAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		// Only the first caller after the HalfOpen transition gets to probe;
		// concurrent callers are rejected until that probe resolves.
		if c.halfOpenInFlight {
			return false
		}
		c.halfOpenInFlight = true
		return true
	case CircuitOpen:
		if time.Since(c.lastStateChange) >= c.timeout {
			c.transition(CircuitHalfOpen)
			c.halfOpenInFlight = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome. From HalfOpen this
// closes the breaker and resets the failure count; from Closed it simply
// resets the failure count.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount = 0
	c.halfOpenInFlight = false
	if c.state != CircuitClosed {
		c.transition(CircuitClosed)
	}
}

// RecordFailure reports a failed call outcome. From HalfOpen this reopens
// the breaker immediately; from Closed it increments the failure count and
// trips Open once the threshold is reached.
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastFailureTime = time.Now()
	c.halfOpenInFlight = false

	if c.state == CircuitHalfOpen {
		c.transition(CircuitOpen)
		return
	}

	c.failureCount++
	if c.failureCount >= c.failureThreshold {
		c.transition(CircuitOpen)
	}
}

func (c *CircuitBreaker) transition(to CircuitState) {
	c.state = to
	c.lastStateChange = time.Now()
}

// GetState returns the breaker's current state.
func (c *CircuitBreaker) GetState() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetFailureCount returns the current consecutive-failure count.
func (c *CircuitBreaker) GetFailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount
}

// GetLastStateChange returns the time of the breaker's most recent state
// transition.
func (c *CircuitBreaker) GetLastStateChange() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStateChange
}

// Snapshot is a point-in-time, copyable view of a breaker's state, used by
// the admin status endpoint (SPEC_FULL "Metrics-flavored status").
type Snapshot struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	FailureCount    int          `json:"failureCount"`
	LastStateChange time.Time    `json:"lastStateChange"`
	LastFailureTime time.Time    `json:"lastFailureTime,omitempty"`
}

// GetSnapshot returns a consistent snapshot of the breaker's state.
func (c *CircuitBreaker) GetSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Name:            c.name,
		State:           c.state,
		FailureCount:    c.failureCount,
		LastStateChange: c.lastStateChange,
		LastFailureTime: c.lastFailureTime,
	}
}
