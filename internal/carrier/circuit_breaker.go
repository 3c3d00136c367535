package carrier

import (
	"sync"
	"time"
)

// CircuitState mirrors the scheduler-level breaker's three states. This
// breaker trips on carrier request failures (5xx, timeout), distinct from
// the per-campaign promotion circuit in package waitlist.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements backpressure around the carrier client: 5
// failures opens for 60s per §5.
type CircuitBreaker struct {
	mu sync.Mutex

	state          CircuitState
	failureThresh  int
	cooldownPeriod time.Duration
	failureStreak  int
	openedAt       time.Time
	halfOpenNeeded int
	halfOpenOK     int
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		failureThresh:  5,
		cooldownPeriod: 60 * time.Second,
		halfOpenNeeded: 1,
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openedAt) > cb.cooldownPeriod {
		cb.state = CircuitHalfOpen
		cb.halfOpenOK = 0
	}
	return cb.state != CircuitOpen
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureStreak = 0
	if cb.state == CircuitHalfOpen {
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.halfOpenNeeded {
			cb.state = CircuitClosed
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		return
	}
	cb.failureStreak++
	if cb.failureStreak >= cb.failureThresh {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
