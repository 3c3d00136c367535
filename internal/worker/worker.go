// Package worker implements the call worker (C5): it consumes promoted
// jobs, acquires a pre-dial lease, invokes the carrier, upgrades the
// lease on answer, and reports outcomes back to the queue. Only one
// worker instance dials per cluster: cmd/dialcore runs the Dispatcher only
// on the instance elected by coordination.LeaderElector.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ringpath/dialcore/internal/carrier"
	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/lease"
	"github.com/ringpath/dialcore/internal/observability"
	"github.com/ringpath/dialcore/internal/queue"
	"github.com/ringpath/dialcore/internal/store"
)

const (
	gateStaleAfter     = 15 * time.Second
	gateRepairsLimit   = 5
	carrierAckWait     = 1 * time.Second
	maxAttempts        = 3
)

// StaleGateSentinel marks a job's promoteSeq after a hard sync, per
// §4.3's stale-gate defence.
const StaleGateSentinel = queue.StaleGateSentinel

var ErrRetry = errors.New("worker: transient failure, retry scheduled")

// Worker pulls one job at a time (concurrency 1 per process instance,
// per §4.5) and drives it through the dial sequence.
type Worker struct {
	coord     coordinator.Coordinator
	queue     *queue.Queue
	store     store.Store
	leaseEng  *lease.Engine
	carrier   carrier.Carrier
	coldStart *ColdStartGuard

	gateRepairs map[string]int
}

func New(coord coordinator.Coordinator, q *queue.Queue, st store.Store, leaseEng *lease.Engine, car carrier.Carrier, coldStart *ColdStartGuard) *Worker {
	return &Worker{
		coord:       coord,
		queue:       q,
		store:       st,
		leaseEng:    leaseEng,
		carrier:     car,
		coldStart:   coldStart,
		gateRepairs: make(map[string]int),
	}
}

// HandleJob runs the 9-step dial sequence from §4.5 for one promoted job.
func (w *Worker) HandleJob(ctx context.Context, j *queue.Job, callLogID string) error {
	// Step 1: paused check + promotion gate freshness.
	paused, err := w.coord.IsPaused(ctx, j.CampaignID)
	if err != nil {
		return err
	}
	if paused {
		return w.reThrow(ctx, j, "campaign paused")
	}
	if fresh, err := w.checkGate(ctx, j); err != nil {
		return err
	} else if !fresh {
		return w.reThrow(ctx, j, "stale promotion gate")
	}

	// Step 2: cold-start guard.
	campaign, err := w.store.GetCampaign(ctx, "", j.CampaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return w.failJob(ctx, j, "campaign not found")
	}
	limit, err := w.coldStart.EffectiveLimit(ctx, j.CampaignID, campaign.Settings.ConcurrentCallsLimit)
	if err != nil {
		return err
	}

	// Step 3: acquire pre-dial lease.
	callID := callLogID
	preDial, err := w.leaseEng.AcquirePreDial(ctx, j.CampaignID, callID, limit)
	if errors.Is(err, coordinator.ErrNoCapacity) {
		if cerr := w.coord.ClaimReservation(ctx, j.CampaignID, j.Origin, j.ID); cerr != nil {
			log.Printf("[Worker] claim reservation failed after no-capacity for job %s: %v", j.ID, cerr)
		}
		return w.reThrow(ctx, j, "no lease capacity")
	}
	if err != nil {
		return err
	}

	// Step 4: contact goes 'calling'.
	if err := w.store.UpdateContactStatus(ctx, j.CampaignContactID, store.ContactCalling); err != nil {
		log.Printf("[Worker] contact status update failed for job %s: %v", j.ID, err)
	}

	// Step 5: heartbeat is started inside AcquirePreDial (lease.PreDial).

	// Step 6: initiate the call.
	started := time.Now()
	details, err := w.carrier.Initiate(ctx, carrier.InitiateParams{CustomField: callLogID})
	if err != nil {
		_ = preDial.Release(ctx, true)
		if cerr := w.coord.ClaimReservation(ctx, j.CampaignID, j.Origin, j.ID); cerr != nil {
			log.Printf("[Worker] claim reservation failed after carrier error for job %s: %v", j.ID, cerr)
		}
		_ = w.coldStart.OnSustainedFailure(ctx, j.CampaignID)
		return w.reThrowOrFail(ctx, j, err)
	}
	_ = w.store.UpdateCallLogCallSid(ctx, callLogID, details.SID)

	// Step 7: wait briefly for the carrier to advance.
	advanced := waitForAdvance(ctx, details.Status, carrierAckWait)
	if advanced {
		activeToken, err := preDial.Upgrade(ctx)
		if err != nil {
			_ = preDial.Release(ctx, true)
			if cerr := w.coord.ClaimReservation(ctx, j.CampaignID, j.Origin, j.ID); cerr != nil {
				log.Printf("[Worker] claim reservation failed after upgrade error for job %s: %v", j.ID, cerr)
			}
			return w.reThrow(ctx, j, "upgrade failed")
		}
		_ = w.store.UpdateCallLogActiveToken(ctx, callLogID, activeToken)
		if cerr := w.coord.ClaimReservation(ctx, j.CampaignID, j.Origin, j.ID); cerr != nil {
			log.Printf("[Worker] claim reservation failed after successful upgrade for job %s: %v", j.ID, cerr)
		}
		if cerr := w.coldStart.OnSuccessfulUpgrade(ctx, j.CampaignID); cerr != nil {
			log.Printf("[Worker] cold-start ramp update failed for job %s: %v", j.ID, cerr)
		}
		observability.DialLatency.WithLabelValues(j.CampaignID).Observe(time.Since(started).Seconds())
		return w.queue.MarkActive(ctx, j.ID)
	}

	// Step 8: carrier never advanced.
	_ = preDial.Release(ctx, true)
	if cerr := w.coord.ClaimReservation(ctx, j.CampaignID, j.Origin, j.ID); cerr != nil {
		log.Printf("[Worker] claim reservation failed after stalled carrier for job %s: %v", j.ID, cerr)
	}
	return w.failJob(ctx, j, "carrier did not advance past initiated")
}

func waitForAdvance(ctx context.Context, status carrier.CallStatus, wait time.Duration) bool {
	if status == carrier.StatusRinging || status == carrier.StatusInProgress {
		return true
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	select {
	case <-deadline.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// checkGate implements the stale-gate defence (§4.3): a job whose
// promoteSeq trails the live gate by more than K, or whose promotedAt is
// stale, is rejected; after gateRepairsLimit rejections it is hard-synced
// back onto the normal waitlist with the sentinel promoteSeq.
func (w *Worker) checkGate(ctx context.Context, j *queue.Job) (bool, error) {
	if j.PromoteSeq == nil || j.PromotedAt == nil {
		return false, nil
	}
	if *j.PromoteSeq == StaleGateSentinel {
		return false, nil
	}

	liveGate, err := w.coord.PromoteGate(ctx, j.CampaignID)
	if err != nil {
		return false, err
	}

	stale := liveGate-*j.PromoteSeq > gateRepairsLimit-2 || time.Since(*j.PromotedAt) > gateStaleAfter
	if !stale {
		delete(w.gateRepairs, j.ID)
		return true, nil
	}

	w.gateRepairs[j.ID]++
	if w.gateRepairs[j.ID] >= gateRepairsLimit {
		delete(w.gateRepairs, j.ID)
		if err := w.coord.RemoveFromWaitlist(ctx, j.CampaignID, coordinator.PriorityNormal, j.ID); err != nil {
			log.Printf("[Worker] hard-sync remove from waitlist failed for job %s: %v", j.ID, err)
		}
		if err := w.coord.PushWaitlist(ctx, j.CampaignID, coordinator.PriorityNormal, j.ID); err != nil {
			log.Printf("[Worker] hard-sync push to waitlist failed for job %s: %v", j.ID, err)
		}
		sentinel := int64(StaleGateSentinel)
		j.PromoteSeq = &sentinel
		if _, err := w.queue.Promote(ctx, j.ID, sentinel, coordinator.OriginNormal); err != nil {
			log.Printf("[Worker] hard-sync stamp failed for job %s: %v", j.ID, err)
		}
	}
	return false, nil
}

func (w *Worker) reThrow(ctx context.Context, j *queue.Job, reason string) error {
	n, err := w.queue.IncrementAttempts(ctx, j.ID)
	if err != nil {
		return err
	}
	if n >= maxAttempts {
		return w.failJob(ctx, j, reason+": attempts exhausted")
	}
	backoff := time.Duration(1<<uint(n)) * time.Second
	if err := w.queue.MoveToDelayed(ctx, j.ID, time.Now().Add(backoff)); err != nil {
		return err
	}
	return ErrRetry
}

func (w *Worker) reThrowOrFail(ctx context.Context, j *queue.Job, cause error) error {
	if errors.Is(cause, carrier.ErrCredentialsFatal) {
		return w.failJob(ctx, j, "carrier rejected credentials")
	}
	return w.reThrow(ctx, j, cause.Error())
}

func (w *Worker) failJob(ctx context.Context, j *queue.Job, reason string) error {
	log.Printf("[Worker] job %s failed for campaign %s: %s", j.ID, j.CampaignID, reason)
	if err := w.store.UpdateContactStatus(ctx, j.CampaignContactID, store.ContactFailed); err != nil {
		log.Printf("[Worker] contact status update to failed errored for job %s: %v", j.ID, err)
	}
	return w.queue.MarkFailed(ctx, j.ID)
}
