package reconcile

import (
	"context"
	"testing"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/store"
)

func TestInvariantMonitorCheckCampaignHandlesSaturatedAndHealthyCases(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	st := store.NewMemoryStore()
	m := NewInvariantMonitor(coord, st)

	const campaignID = "camp-1"
	coord.SetLimit(ctx, campaignID, 2)
	coord.PushWaitlist(ctx, campaignID, coordinator.PriorityNormal, "job-1")
	coord.PushWaitlist(ctx, campaignID, coordinator.PriorityNormal, "job-2")
	if _, err := coord.PopReserveAndPromote(ctx, campaignID, 2, 2); err != nil {
		t.Fatalf("PopReserveAndPromote failed: %v", err)
	}

	// Exercises both the capacity and saturation branches without panicking.
	m.checkCampaign(ctx, campaignID)
	m.checkCampaign(ctx, campaignID)

	const emptyCampaign = "camp-2"
	m.checkCampaign(ctx, emptyCampaign)
}
