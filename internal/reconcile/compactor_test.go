package reconcile

import (
	"context"
	"testing"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/queue"
	"github.com/ringpath/dialcore/internal/store"
)

func TestCompactListRemovesEntriesForTerminalAndMissingJobs(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	st := store.NewMemoryStore()
	c := NewWaitlistCompactor(coord, q, st)

	const campaignID = "camp-1"

	completed, _ := q.Add(ctx, campaignID, "contact-1", queue.AddOptions{})
	q.Promote(ctx, completed.ID, 1, coordinator.OriginNormal)
	q.MarkActive(ctx, completed.ID)
	q.MarkCompleted(ctx, completed.ID)

	live, _ := q.Add(ctx, campaignID, "contact-2", queue.AddOptions{})

	coord.PushWaitlist(ctx, campaignID, coordinator.PriorityNormal, completed.ID)
	coord.PushWaitlist(ctx, campaignID, coordinator.PriorityNormal, live.ID)
	coord.PushWaitlist(ctx, campaignID, coordinator.PriorityNormal, "ghost-job")

	c.compactList(ctx, campaignID, coordinator.PriorityNormal)

	remaining, err := coord.SampleWaitlist(ctx, campaignID, coordinator.PriorityNormal, 100)
	if err != nil {
		t.Fatalf("SampleWaitlist failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != live.ID {
		t.Fatalf("expected only the live job to remain, got %v", remaining)
	}
}
