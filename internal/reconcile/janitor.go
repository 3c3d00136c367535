// Package reconcile implements the five background sweepers (C6): the
// lease janitor, the waitlist compactor, the queue reconciler, the
// counter reconciler, and the invariant monitor. All enumerate active
// campaigns from the Store and run bounded, idempotent sweeps.
package reconcile

import (
	"context"
	"log"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/observability"
	"github.com/ringpath/dialcore/internal/store"
	"github.com/ringpath/dialcore/internal/worker"
)

const (
	janitorInterval         = 30 * time.Second
	janitorSweepBudget      = 5 * time.Second
	janitorCampaignCap      = 100
	reservationOrphanAge    = 300 * time.Second
)

// LeaseJanitor removes lease-set members without a live token key, and
// recovers orphaned reservation-ledger entries back onto the waitlist.
type LeaseJanitor struct {
	coord coordinator.Coordinator
	store store.Store
}

func NewLeaseJanitor(coord coordinator.Coordinator, st store.Store) *LeaseJanitor {
	return &LeaseJanitor{coord: coord, store: st}
}

func (j *LeaseJanitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *LeaseJanitor) loop(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *LeaseJanitor) sweep(ctx context.Context) {
	deadline := time.Now().Add(janitorSweepBudget)
	campaigns, err := j.store.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[LeaseJanitor] ListActiveCampaigns failed: %v", err)
		return
	}

	for i, c := range campaigns {
		if i >= janitorCampaignCap || time.Now().After(deadline) {
			break
		}
		j.sweepCampaign(ctx, c.ID)
	}
	observability.ReconcilerSweeps.WithLabelValues("janitor").Inc()
}

func (j *LeaseJanitor) sweepCampaign(ctx context.Context, campaignID string) {
	coldStart, err := j.coord.GetColdStart(ctx, campaignID)
	if err != nil {
		log.Printf("[LeaseJanitor] GetColdStart failed for %s: %v", campaignID, err)
		return
	}
	if coldStart != worker.ColdStartActive && coldStart != worker.ColdStartHalfOpen {
		members, err := j.coord.ScanLeaseMembers(ctx, campaignID)
		if err != nil {
			log.Printf("[LeaseJanitor] ScanLeaseMembers failed for %s: %v", campaignID, err)
		} else {
			cleaned := 0
			for _, m := range members {
				exists, err := j.coord.LeaseTokenExists(ctx, campaignID, m)
				if err != nil {
					continue
				}
				if !exists {
					if err := j.coord.RemoveLeaseMember(ctx, campaignID, m); err == nil {
						cleaned++
					}
				}
			}
			if cleaned > 0 {
				observability.ReconcilerRepairs.WithLabelValues("janitor", "stale_members_cleaned").Add(float64(cleaned))
			}
		}
	}

	stale, err := j.coord.ScanStaleLedgerEntries(ctx, campaignID, reservationOrphanAge)
	if err != nil {
		log.Printf("[LeaseJanitor] ScanStaleLedgerEntries failed for %s: %v", campaignID, err)
		return
	}
	recovered := 0
	for _, entry := range stale {
		priority := coordinator.PriorityNormal
		if entry.Origin == coordinator.OriginHigh {
			priority = coordinator.PriorityHigh
		}
		if err := j.coord.PushWaitlist(ctx, campaignID, priority, entry.JobID); err != nil {
			log.Printf("[LeaseJanitor] re-push to waitlist failed for job %s: %v", entry.JobID, err)
			continue
		}
		if err := j.coord.RemoveLedgerEntry(ctx, campaignID, entry.Origin, entry.JobID); err != nil {
			log.Printf("[LeaseJanitor] remove ledger entry failed for job %s: %v", entry.JobID, err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		reserved, _ := j.coord.ReservedCount(ctx, campaignID)
		newReserved := reserved - recovered
		if newReserved < 0 {
			newReserved = 0
		}
		if err := j.coord.SetReserved(ctx, campaignID, newReserved); err != nil {
			log.Printf("[LeaseJanitor] SetReserved failed for %s: %v", campaignID, err)
		}
		observability.ReconcilerRepairs.WithLabelValues("janitor", "orphaned_reservations_recovered").Add(float64(recovered))
	}
}
