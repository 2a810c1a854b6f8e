package concurrency

import (
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed lets operations through
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects operations until the reset timeout has elapsed
	StateOpen

	// StateHalfOpen lets operations through on probation
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker stops accepting loads after a run of consecutive failures,
// typically when the file system holding the definitions is unavailable.
type CircuitBreaker struct {
	mu                   sync.Mutex
	state                atomic.Int32
	consecutiveFailures  atomic.Int64
	consecutiveSuccesses atomic.Int64
	lastFailure          atomic.Int64 // unix nanos

	failureThreshold int64
	successThreshold int64
	resetTimeout     time.Duration
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker opening after failureThreshold
// consecutive failures and probing again after resetTimeout. Five consecutive
// successes while half-open close it.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: 5,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// IsOpen reports whether operations are currently rejected. An open breaker
// whose reset timeout has elapsed moves to half-open.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb.State() != StateOpen {
		return false
	}
	last := cb.lastFailure.Load()
	if last > 0 && cb.now().Sub(time.Unix(0, last)) > cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.consecutiveFailures.Store(0)
	if cb.State() != StateHalfOpen {
		return
	}
	if cb.consecutiveSuccesses.Add(1) >= cb.successThreshold {
		cb.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.consecutiveSuccesses.Store(0)
	cb.lastFailure.Store(cb.now().UnixNano())
	failures := cb.consecutiveFailures.Add(1)

	switch cb.State() {
	case StateClosed:
		if failures >= cb.failureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// ConsecutiveFailures returns the current run of failures
func (cb *CircuitBreaker) ConsecutiveFailures() int64 {
	return cb.consecutiveFailures.Load()
}

// Reset closes the breaker and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.transitionTo(StateClosed)
	cb.lastFailure.Store(0)
}

func (cb *CircuitBreaker) transitionTo(next CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if CircuitBreakerState(cb.state.Load()) == next {
		return
	}
	cb.state.Store(int32(next))
	switch next {
	case StateClosed:
		cb.consecutiveFailures.Store(0)
		cb.consecutiveSuccesses.Store(0)
	case StateHalfOpen:
		cb.consecutiveSuccesses.Store(0)
	}
}
