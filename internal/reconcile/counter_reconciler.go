package reconcile

import (
	"context"
	"log"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/observability"
	"github.com/ringpath/dialcore/internal/store"
)

const (
	counterReconcilerInterval = 15 * time.Minute
	criticalDriftThreshold    = 5
)

// CounterReconciler treats the reservation ledger as the source of truth:
// if `reserved` disagrees with the ledger's cardinality, it overwrites
// `reserved` with the ledger size.
type CounterReconciler struct {
	coord coordinator.Coordinator
	store store.Store
}

func NewCounterReconciler(coord coordinator.Coordinator, st store.Store) *CounterReconciler {
	return &CounterReconciler{coord: coord, store: st}
}

func (r *CounterReconciler) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *CounterReconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(counterReconcilerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *CounterReconciler) sweep(ctx context.Context) {
	campaigns, err := r.store.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[CounterReconciler] ListActiveCampaigns failed: %v", err)
		return
	}
	for _, camp := range campaigns {
		r.reconcileCampaign(ctx, camp.ID)
	}
	observability.ReconcilerSweeps.WithLabelValues("counter_reconciler").Inc()
}

func (r *CounterReconciler) reconcileCampaign(ctx context.Context, campaignID string) {
	reserved, err := r.coord.ReservedCount(ctx, campaignID)
	if err != nil {
		log.Printf("[CounterReconciler] ReservedCount failed for %s: %v", campaignID, err)
		return
	}
	ledgerSize, err := r.coord.LedgerSize(ctx, campaignID)
	if err != nil {
		log.Printf("[CounterReconciler] LedgerSize failed for %s: %v", campaignID, err)
		return
	}
	drift := reserved - ledgerSize
	if drift == 0 {
		return
	}
	if abs(drift) > criticalDriftThreshold {
		log.Printf("[CounterReconciler] CRITICAL: campaign %s reserved=%d ledger=%d drift=%d", campaignID, reserved, ledgerSize, drift)
	}
	if err := r.coord.SetReserved(ctx, campaignID, ledgerSize); err != nil {
		log.Printf("[CounterReconciler] SetReserved failed for %s: %v", campaignID, err)
		return
	}
	observability.ReconcilerRepairs.WithLabelValues("counter_reconciler", "reserved_realigned_to_ledger").Inc()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
