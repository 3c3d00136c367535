package waitlist

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/observability"
	"github.com/ringpath/dialcore/internal/queue"
)

const (
	mutexTTL       = 5 * time.Second
	mutexRenew     = 2 * time.Second
	pollInterval   = 5 * time.Second
	pollJitter     = 2 * time.Second
	defaultBatch   = 10
	circuitBatch   = 1
	gateStaleLimit = 3 // K in "promoteSeq < current promote-gate - K"
)

// PauseChecker reports whether a campaign is currently paused; the
// promoter must never promote jobs for a paused campaign.
type PauseChecker interface {
	IsPaused(ctx context.Context, campaignID string) (bool, error)
}

// Promoter drives admission control for one campaign: it wakes on
// pub/sub or a jittered poll, acquires the per-campaign promote-mutex,
// and runs pop_reserve_promote in a loop until the waitlist or the
// capacity ceiling is exhausted.
type Promoter struct {
	coord      coordinator.Coordinator
	queue      *queue.Queue
	ownerID    string
	campaignID string
	circuit    *PromotionCircuit

	getLimit func(ctx context.Context) (int, error)
}

func NewPromoter(coord coordinator.Coordinator, q *queue.Queue, campaignID, ownerID string, getLimit func(ctx context.Context) (int, error)) *Promoter {
	return &Promoter{
		coord:      coord,
		queue:      q,
		ownerID:    ownerID,
		campaignID: campaignID,
		circuit:    NewPromotionCircuit(),
		getLimit:   getLimit,
	}
}

// Run blocks until ctx is cancelled, driving promotion ticks from both
// pub/sub wakeups and a jittered poller.
func (p *Promoter) Run(ctx context.Context) {
	slotCh, cancelSub, err := p.coord.SubscribeSlotAvailable(ctx, p.campaignID)
	if err != nil {
		log.Printf("[Promoter %s] subscribe failed, falling back to poll-only: %v", p.campaignID, err)
	} else {
		defer cancelSub()
	}

	ticker := time.NewTicker(pollInterval + jitter())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
			ticker.Reset(pollInterval + jitter())
		case <-slotCh:
			p.tick(ctx)
		}
	}
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(pollJitter)))
}

func (p *Promoter) tick(ctx context.Context) {
	paused, err := p.coord.IsPaused(ctx, p.campaignID)
	if err != nil {
		log.Printf("[Promoter %s] IsPaused check failed: %v", p.campaignID, err)
		return
	}
	if paused {
		return
	}

	ok, err := p.coord.AcquirePromoteMutex(ctx, p.campaignID, p.ownerID, mutexTTL)
	if err != nil {
		log.Printf("[Promoter %s] mutex acquire failed: %v", p.campaignID, err)
		return
	}
	if !ok {
		return
	}
	defer p.coord.ReleasePromoteMutex(ctx, p.campaignID, p.ownerID)

	renewStop := p.startMutexRenew(ctx)
	defer close(renewStop)

	p.drain(ctx)
}

func (p *Promoter) startMutexRenew(ctx context.Context) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(mutexRenew)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if ok, err := p.coord.RenewPromoteMutex(ctx, p.campaignID, p.ownerID, mutexTTL); err != nil || !ok {
					return
				}
			}
		}
	}()
	return stop
}

// drain calls pop_reserve_promote repeatedly (shrinking batch size while
// the circuit is open) until a call returns zero promotions.
func (p *Promoter) drain(ctx context.Context) {
	for {
		p.circuit.Allow() // drives the open -> half-open cooldown transition

		limit, err := p.getLimit(ctx)
		if err != nil {
			log.Printf("[Promoter %s] getLimit failed: %v", p.campaignID, err)
			p.circuit.RecordFailure()
			return
		}

		batch := defaultBatch
		if p.circuit.ForcedBatch() {
			batch = circuitBatch
		}

		result, err := p.coord.PopReserveAndPromote(ctx, p.campaignID, limit, batch)
		if err != nil {
			log.Printf("[Promoter %s] pop_reserve_promote failed: %v", p.campaignID, err)
			p.circuit.RecordFailure()
			observability.AdmissionRejections.WithLabelValues(p.campaignID, "coordinator_error").Inc()
			return
		}
		p.circuit.RecordSuccess()
		observability.CircuitState.WithLabelValues(p.campaignID).Set(float64(p.circuit.State()))

		if len(result.IDs) == 0 {
			return
		}

		for _, entry := range result.IDs {
			if err := p.promoteOne(ctx, entry, result.Seq); err != nil {
				log.Printf("[Promoter %s] promote of job %s failed, reversing reservation: %v", p.campaignID, entry.JobID, err)
				if rerr := p.coord.ClaimReservation(ctx, p.campaignID, entry.Origin, entry.JobID); rerr != nil {
					log.Printf("[Promoter %s] reservation reversal also failed for job %s: %v", p.campaignID, entry.JobID, rerr)
				}
			}
		}

		priority := "high"
		if result.IDs[0].Origin == coordinator.OriginNormal {
			priority = "normal"
		}
		observability.PromotionsTotal.WithLabelValues(p.campaignID, priority, "leased").Add(float64(len(result.IDs)))
	}
}

var errJobMissing = errors.New("waitlist: promoted job id not found in queue")

func (p *Promoter) promoteOne(ctx context.Context, entry coordinator.LedgerEntry, seq int64) error {
	if _, err := p.queue.GetJob(ctx, entry.JobID); err != nil {
		return errJobMissing
	}
	_, err := p.queue.Promote(ctx, entry.JobID, seq, entry.Origin)
	return err
}
