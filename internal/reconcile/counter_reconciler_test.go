package reconcile

import (
	"context"
	"testing"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/store"
)

func TestCounterReconcilerRealignsReservedToLedgerSize(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	st := store.NewMemoryStore()
	r := NewCounterReconciler(coord, st)

	const campaignID = "camp-1"
	coord.SetLimit(ctx, campaignID, 5)
	coord.PushWaitlist(ctx, campaignID, coordinator.PriorityNormal, "job-1")
	if _, err := coord.PopReserveAndPromote(ctx, campaignID, 5, 1); err != nil {
		t.Fatalf("PopReserveAndPromote failed: %v", err)
	}

	// Simulate counter drift: bump reserved without touching the ledger.
	if err := coord.SetReserved(ctx, campaignID, 9); err != nil {
		t.Fatalf("SetReserved failed: %v", err)
	}

	r.reconcileCampaign(ctx, campaignID)

	reserved, err := coord.ReservedCount(ctx, campaignID)
	if err != nil {
		t.Fatalf("ReservedCount failed: %v", err)
	}
	ledgerSize, _ := coord.LedgerSize(ctx, campaignID)
	if reserved != ledgerSize {
		t.Fatalf("expected reserved realigned to ledger size %d, got %d", ledgerSize, reserved)
	}
}

func TestCounterReconcilerNoopWhenAligned(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	st := store.NewMemoryStore()
	r := NewCounterReconciler(coord, st)

	const campaignID = "camp-2"
	r.reconcileCampaign(ctx, campaignID) // both zero, no-op, must not error or panic
	reserved, _ := coord.ReservedCount(ctx, campaignID)
	if reserved != 0 {
		t.Fatalf("expected reserved to stay 0, got %d", reserved)
	}
}
