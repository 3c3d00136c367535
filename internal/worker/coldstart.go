package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/observability"
)

// Cold-start states. Deliberately distinct names from the carrier/waitlist
// circuit breaker's closed/half_open/open, per the spec's note that the
// two state machines must stay semantically separate even though both
// pass through an intermediate "testing recovery" phase.
const (
	ColdStartNone     = ""
	ColdStartActive   = "active"
	ColdStartHalfOpen = "half-open"
	ColdStartDone     = "done"
)

// RampConfig shapes the cold-start ramp (config surface
// cold-start.{initialLimit, rampSuccesses, stepMultiplier}).
type RampConfig struct {
	InitialLimit   int
	RampSuccesses  int // successes needed to flip active -> half-open
	DoneSuccesses  int // total successes needed to flip half-open -> done
	StepMultiplier int
	TTL            time.Duration
}

func DefaultRampConfig() RampConfig {
	return RampConfig{
		InitialLimit:   1,
		RampSuccesses:  2,
		DoneSuccesses:  5,
		StepMultiplier: 2,
		TTL:            10 * time.Minute,
	}
}

// ColdStartGuard tracks, per campaign, the transient reduced concurrency
// limit applied right after a campaign goes active, ramping it up as
// successful upgrades accumulate.
type ColdStartGuard struct {
	mu        sync.Mutex
	successes map[string]int

	coord  coordinator.Coordinator
	cfg    RampConfig
}

func NewColdStartGuard(coord coordinator.Coordinator, cfg RampConfig) *ColdStartGuard {
	return &ColdStartGuard{
		coord:     coord,
		cfg:       cfg,
		successes: make(map[string]int),
	}
}

// Begin marks a campaign as freshly activated, entering the ramp.
func (g *ColdStartGuard) Begin(ctx context.Context, campaignID string) error {
	g.mu.Lock()
	g.successes[campaignID] = 0
	g.mu.Unlock()
	return g.coord.SetColdStart(ctx, campaignID, ColdStartActive, g.cfg.TTL)
}

// EffectiveLimit returns the limit the promoter/worker should use right
// now: the configured limit unless cold-start is still ramping.
func (g *ColdStartGuard) EffectiveLimit(ctx context.Context, campaignID string, configured int) (int, error) {
	state, err := g.coord.GetColdStart(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	switch state {
	case ColdStartActive:
		observability.ColdStartState.WithLabelValues(campaignID).Set(1)
		return min(g.cfg.InitialLimit, configured), nil
	case ColdStartHalfOpen:
		observability.ColdStartState.WithLabelValues(campaignID).Set(2)
		return min(g.cfg.InitialLimit*g.cfg.StepMultiplier, configured), nil
	case ColdStartDone:
		observability.ColdStartState.WithLabelValues(campaignID).Set(3)
		return configured, nil
	default:
		observability.ColdStartState.WithLabelValues(campaignID).Set(0)
		return configured, nil
	}
}

// OnSuccessfulUpgrade bumps the ramp's success counter and advances the
// state machine: 2 successes -> half-open (limit doubles), 5 total ->
// done (full configured limit).
func (g *ColdStartGuard) OnSuccessfulUpgrade(ctx context.Context, campaignID string) error {
	g.mu.Lock()
	g.successes[campaignID]++
	n := g.successes[campaignID]
	g.mu.Unlock()

	switch {
	case n >= g.cfg.DoneSuccesses:
		return g.coord.SetColdStart(ctx, campaignID, ColdStartDone, 0)
	case n >= g.cfg.RampSuccesses:
		return g.coord.SetColdStart(ctx, campaignID, ColdStartHalfOpen, g.cfg.TTL)
	default:
		return nil
	}
}

// OnSustainedFailure rewinds the ramp by one step on carrier 5xx/auth
// failures, per §4.4.
func (g *ColdStartGuard) OnSustainedFailure(ctx context.Context, campaignID string) error {
	state, err := g.coord.GetColdStart(ctx, campaignID)
	if err != nil {
		return err
	}
	switch state {
	case ColdStartHalfOpen:
		g.mu.Lock()
		g.successes[campaignID] = 0
		g.mu.Unlock()
		return g.coord.SetColdStart(ctx, campaignID, ColdStartActive, g.cfg.TTL)
	case ColdStartDone:
		g.mu.Lock()
		g.successes[campaignID] = g.cfg.RampSuccesses
		g.mu.Unlock()
		return g.coord.SetColdStart(ctx, campaignID, ColdStartHalfOpen, g.cfg.TTL)
	default:
		return nil
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
