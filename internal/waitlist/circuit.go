package waitlist

import (
	"sync"
	"time"
)

// PromotionCircuitState mirrors the scheduler-level circuit breaker's
// shape but trips on a different signal: consecutive PopReserveAndPromote
// failures for one campaign, not queue depth or worker saturation. A
// campaign whose Redis shard is flaky should back off its own promoter
// without affecting any other campaign's admission control.
type PromotionCircuitState int

const (
	PromotionCircuitClosed PromotionCircuitState = iota
	PromotionCircuitHalfOpen
	PromotionCircuitOpen
)

func (s PromotionCircuitState) String() string {
	switch s {
	case PromotionCircuitClosed:
		return "closed"
	case PromotionCircuitHalfOpen:
		return "half_open"
	case PromotionCircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// PromotionCircuit trips after a run of consecutive promotion failures
// and holds the promoter off that campaign until the cooldown elapses.
type PromotionCircuit struct {
	mu sync.Mutex

	state           PromotionCircuitState
	failureStreak   int
	failureThresh   int
	cooldownPeriod  time.Duration
	openedAt        time.Time
	halfOpenSuccess int
	halfOpenNeeded  int
}

func NewPromotionCircuit() *PromotionCircuit {
	return &PromotionCircuit{
		failureThresh:  5,
		cooldownPeriod: 60 * time.Second,
		halfOpenNeeded: 2,
	}
}

// Allow drives the open-to-half-open cooldown transition and always
// reports true: the promoter keeps calling PopReserveAndPromote even
// while the circuit is open, just at a forced batch size of one (see
// ForcedBatch). An open promotion circuit means "probe gently," not
// "stop admitting."
func (c *PromotionCircuit) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == PromotionCircuitOpen && time.Since(c.openedAt) > c.cooldownPeriod {
		c.state = PromotionCircuitHalfOpen
		c.halfOpenSuccess = 0
	}
	return true
}

// ForcedBatch reports whether the circuit's current state requires the
// promoter to shrink its batch size to one instead of its default.
func (c *PromotionCircuit) ForcedBatch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == PromotionCircuitOpen || c.state == PromotionCircuitHalfOpen
}

func (c *PromotionCircuit) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureStreak = 0
	if c.state == PromotionCircuitHalfOpen {
		c.halfOpenSuccess++
		if c.halfOpenSuccess >= c.halfOpenNeeded {
			c.state = PromotionCircuitClosed
		}
	}
}

func (c *PromotionCircuit) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == PromotionCircuitHalfOpen {
		c.state = PromotionCircuitOpen
		c.openedAt = time.Now()
		return
	}
	c.failureStreak++
	if c.failureStreak >= c.failureThresh {
		c.state = PromotionCircuitOpen
		c.openedAt = time.Now()
	}
}

func (c *PromotionCircuit) State() PromotionCircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
