package concurrency

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState represents the state of the circuit breaker.
type BreakerState int32

const (
	// BreakerClosed indicates operations are allowed
	BreakerClosed BreakerState = iota

	// BreakerOpen indicates operations are blocked
	BreakerOpen

	// BreakerHalfOpen indicates the breaker is probing for recovery
	BreakerHalfOpen
)

// halfOpenSuccesses is the number of consecutive successes in the half-open
// state required to close the circuit again.
const halfOpenSuccesses = 5

// CircuitBreaker blocks work intake after a run of consecutive failures and
// probes for recovery once the reset timeout elapses.
type CircuitBreaker struct {
	state       atomic.Int32
	failures    atomic.Int64
	successes   atomic.Int64
	lastFailure atomic.Int64 // unix nanos

	failureThreshold int64
	resetTimeout     time.Duration
	mu               sync.Mutex
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and starts probing after resetTimeout.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// IsOpen reports whether the breaker is currently blocking operations. An
// open breaker transitions to half-open once the reset timeout has elapsed.
func (cb *CircuitBreaker) IsOpen() bool {
	if BreakerState(cb.state.Load()) != BreakerOpen {
		return false
	}
	last := cb.lastFailure.Load()
	if last > 0 && time.Since(time.Unix(0, last)) > cb.resetTimeout {
		cb.transition(BreakerHalfOpen)
		return false
	}
	return true
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	if BreakerState(cb.state.Load()) == BreakerHalfOpen {
		if cb.successes.Add(1) >= halfOpenSuccesses {
			cb.transition(BreakerClosed)
		}
	}
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.successes.Store(0)
	cb.lastFailure.Store(time.Now().UnixNano())

	state := BreakerState(cb.state.Load())
	failures := cb.failures.Add(1)
	switch {
	case state == BreakerClosed && failures >= cb.failureThreshold:
		cb.transition(BreakerOpen)
	case state == BreakerHalfOpen:
		// Any failure while probing reopens the circuit.
		cb.transition(BreakerOpen)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int64 {
	return cb.failures.Load()
}

// Reset returns the breaker to the closed state and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.transition(BreakerClosed)
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.lastFailure.Store(0)
}

func (cb *CircuitBreaker) transition(next BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if BreakerState(cb.state.Load()) == next {
		return
	}
	cb.state.Store(int32(next))
	switch next {
	case BreakerClosed:
		cb.failures.Store(0)
		cb.successes.Store(0)
	case BreakerHalfOpen:
		cb.successes.Store(0)
	}
}

// String returns the string representation of the breaker state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}
