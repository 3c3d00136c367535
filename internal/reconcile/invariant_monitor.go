package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/observability"
	"github.com/ringpath/dialcore/internal/store"
)

const invariantMonitorInterval = 30 * time.Second

// InvariantMonitor evaluates the four key invariants from the data model
// every tick and emits metrics. It never auto-remediates by killing live
// calls; only logs and meters, leaving repair to the other reconcilers.
type InvariantMonitor struct {
	coord coordinator.Coordinator
	store store.Store

	mu            sync.Mutex
	saturatedSince map[string]time.Time
}

func NewInvariantMonitor(coord coordinator.Coordinator, st store.Store) *InvariantMonitor {
	return &InvariantMonitor{
		coord:          coord,
		store:          st,
		saturatedSince: make(map[string]time.Time),
	}
}

func (m *InvariantMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *InvariantMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(invariantMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *InvariantMonitor) sweep(ctx context.Context) {
	campaigns, err := m.store.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[InvariantMonitor] ListActiveCampaigns failed: %v", err)
		return
	}
	for _, camp := range campaigns {
		m.checkCampaign(ctx, camp.ID)
	}
	observability.ReconcilerSweeps.WithLabelValues("invariant_monitor").Inc()
}

func (m *InvariantMonitor) checkCampaign(ctx context.Context, campaignID string) {
	leases, err := m.coord.LeaseCount(ctx, campaignID)
	if err != nil {
		log.Printf("[InvariantMonitor] LeaseCount failed for %s: %v", campaignID, err)
		return
	}
	reserved, err := m.coord.ReservedCount(ctx, campaignID)
	if err != nil {
		log.Printf("[InvariantMonitor] ReservedCount failed for %s: %v", campaignID, err)
		return
	}
	ledgerSize, err := m.coord.LedgerSize(ctx, campaignID)
	if err != nil {
		log.Printf("[InvariantMonitor] LedgerSize failed for %s: %v", campaignID, err)
		return
	}
	limit, err := m.coord.GetLimit(ctx, campaignID)
	if err != nil {
		log.Printf("[InvariantMonitor] GetLimit failed for %s: %v", campaignID, err)
		return
	}

	observability.CapacityInFlight.WithLabelValues(campaignID).Set(float64(leases))
	observability.CapacityReserved.WithLabelValues(campaignID).Set(float64(reserved))
	observability.LedgerDrift.WithLabelValues(campaignID).Set(float64(abs(reserved - ledgerSize)))

	// Capacity: |leases| + reserved <= limit + 1.
	if limit > 0 && leases+reserved > limit+1 {
		log.Printf("[InvariantMonitor] CRITICAL capacity violation for %s: leases=%d reserved=%d limit=%d", campaignID, leases, reserved, limit)
	}

	// Ledger consistency.
	if reserved != ledgerSize {
		log.Printf("[InvariantMonitor] WARN ledger mismatch for %s: reserved=%d ledgerSize=%d", campaignID, reserved, ledgerSize)
	}

	// No orphan members: every lease-set member has a live token key.
	members, err := m.coord.ScanLeaseMembers(ctx, campaignID)
	if err != nil {
		log.Printf("[InvariantMonitor] ScanLeaseMembers failed for %s: %v", campaignID, err)
	} else {
		for _, member := range members {
			if exists, err := m.coord.LeaseTokenExists(ctx, campaignID, member); err == nil && !exists {
				log.Printf("[InvariantMonitor] WARN orphan lease member for %s: %s", campaignID, member)
			}
		}
	}

	// Saturation.
	if limit > 0 {
		saturation := float64(leases+reserved) / float64(limit)
		observability.CapacitySaturation.WithLabelValues(campaignID).Set(saturation)

		m.mu.Lock()
		if saturation > 1.05 {
			if m.saturatedSince[campaignID].IsZero() {
				m.saturatedSince[campaignID] = time.Now()
			} else if time.Since(m.saturatedSince[campaignID]) > 10*time.Second {
				log.Printf("[InvariantMonitor] PAGE sustained saturation for %s: %.3f for >10s", campaignID, saturation)
			}
		} else {
			delete(m.saturatedSince, campaignID)
		}
		critical := saturation > 1.10
		m.mu.Unlock()

		if critical {
			log.Printf("[InvariantMonitor] CRITICAL saturation for %s: %.3f", campaignID, saturation)
		}
	}
}
