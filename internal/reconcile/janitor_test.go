package reconcile

import (
	"context"
	"testing"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/store"
)

func TestLeaseJanitorSweepLeavesFreshReservationEntry(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	st := store.NewMemoryStore()
	j := NewLeaseJanitor(coord, st)

	const campaignID = "camp-1"
	coord.SetLimit(ctx, campaignID, 5)
	coord.PushWaitlist(ctx, campaignID, coordinator.PriorityNormal, "job-1")
	if _, err := coord.PopReserveAndPromote(ctx, campaignID, 5, 1); err != nil {
		t.Fatalf("PopReserveAndPromote failed: %v", err)
	}

	ledgerBefore, _ := coord.LedgerSize(ctx, campaignID)
	if ledgerBefore != 1 {
		t.Fatalf("expected one ledger entry seeded, got %d", ledgerBefore)
	}

	// Orphans older than reservationOrphanAge aren't reachable without a
	// fake clock; confirm the sweep at least runs cleanly over a fresh
	// (non-orphaned) entry and leaves it untouched.
	j.sweepCampaign(ctx, campaignID)

	ledgerAfter, _ := coord.LedgerSize(ctx, campaignID)
	if ledgerAfter != 1 {
		t.Fatalf("expected fresh ledger entry to survive a sweep, got %d", ledgerAfter)
	}
}

func TestLeaseJanitorSweepToleratesColdStartingCampaign(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	st := store.NewMemoryStore()
	j := NewLeaseJanitor(coord, st)

	const campaignID = "camp-2"
	coord.SetColdStart(ctx, campaignID, "active", 0)
	// Should not panic even though no leases exist yet for this campaign.
	j.sweepCampaign(ctx, campaignID)
}
