// Package lease wraps the coordinator's two-phase lease protocol with the
// heartbeat behavior a long-running dial needs: a pre-dial lease is short
// (15-45s) so a crashed worker frees its slot quickly, but a worker that
// is still dialing must keep renewing it until the call answers and the
// lease upgrades to active. The auto-renew shape is the same one
// xsemaphore's Permit.StartAutoExtend uses for long-running permits.
package lease

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
)

const (
	PreDialTTL     = 20 * time.Second
	PreDialMaxAge  = 45 * time.Second
	ActiveTTL      = 200 * time.Second
	heartbeatEvery = 10 * time.Second
)

var ErrExpired = errors.New("lease: pre-dial lease exceeded its maximum age")

// PreDial is a held pre-dial lease with an active heartbeat goroutine
// keeping it alive until Upgrade, Release, or its max age elapses.
type PreDial struct {
	coord      coordinator.Coordinator
	campaignID string
	callID     string
	token      string
	acquiredAt time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Engine centralizes pre-dial lease lifecycle for the worker pool: one
// Engine per process, shared by every dialing goroutine.
type Engine struct {
	coord coordinator.Coordinator
}

func NewEngine(coord coordinator.Coordinator) *Engine {
	return &Engine{coord: coord}
}

// AcquirePreDial reserves a slot for callID against campaignID's limit.
// Returns coordinator.ErrNoCapacity when the campaign is saturated.
func (e *Engine) AcquirePreDial(ctx context.Context, campaignID, callID string, limit int) (*PreDial, error) {
	token, err := e.coord.AcquirePreDial(ctx, campaignID, callID, limit, PreDialTTL)
	if err != nil {
		return nil, err
	}
	p := &PreDial{
		coord:      e.coord,
		campaignID: campaignID,
		callID:     callID,
		token:      token,
		acquiredAt: time.Now(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go p.heartbeat()
	return p, nil
}

func (p *PreDial) heartbeat() {
	defer close(p.done)
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if time.Since(p.acquiredAt) > PreDialMaxAge {
				log.Printf("[lease] pre-dial for call %s exceeded max age, stopping heartbeat", p.callID)
				return
			}
			ok, err := p.coord.RenewPreDial(context.Background(), p.campaignID, p.callID, p.token, PreDialTTL)
			if err != nil {
				log.Printf("[lease] renew failed for call %s: %v", p.callID, err)
				continue
			}
			if !ok {
				log.Printf("[lease] renew for call %s found token mismatch, lease likely reaped", p.callID)
				return
			}
		}
	}
}

// Upgrade swaps the pre-dial lease for an active one once the call
// answers. The heartbeat goroutine is stopped regardless of outcome.
func (p *PreDial) Upgrade(ctx context.Context) (string, error) {
	p.halt()
	if time.Since(p.acquiredAt) > PreDialMaxAge {
		return "", ErrExpired
	}
	return p.coord.UpgradeToActive(ctx, p.campaignID, p.callID, p.token, ActiveTTL)
}

// Release abandons the pre-dial lease without upgrading (dial failed,
// no-answer, busy). Idempotent: safe to call more than once.
func (p *PreDial) Release(ctx context.Context, publish bool) error {
	p.halt()
	return p.coord.ReleaseSlot(ctx, p.campaignID, p.callID, p.token, true, publish)
}

func (p *PreDial) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// ReleaseActive frees an active lease after the call finishes.
func (e *Engine) ReleaseActive(ctx context.Context, campaignID, callID, activeToken string, publish bool) error {
	return e.coord.ReleaseSlot(ctx, campaignID, callID, activeToken, false, publish)
}
