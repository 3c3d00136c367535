package reconcile

import (
	"context"
	"testing"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/queue"
	"github.com/ringpath/dialcore/internal/store"
)

func TestQueueReconcilerRecoversJobsMissingTheirMarker(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue() // no syncer attached: delayed jobs get no marker
	st := store.NewMemoryStore()
	r := NewQueueReconciler(coord, q, st, queue.DefaultPriorityOf(5))

	const campaignID = "camp-1"
	job, _ := q.Add(ctx, campaignID, "contact-1", queue.AddOptions{})

	exists, _ := coord.WaitlistMarkerExists(ctx, campaignID, job.ID)
	if exists {
		t.Fatal("expected no marker before reconciliation")
	}

	r.reconcileCampaign(ctx, campaignID)

	exists, err := coord.WaitlistMarkerExists(ctx, campaignID, job.ID)
	if err != nil {
		t.Fatalf("WaitlistMarkerExists failed: %v", err)
	}
	if !exists {
		t.Fatal("expected reconciler to push the missing marker")
	}
}

func TestQueueReconcilerIgnoresNonDelayedJobs(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	st := store.NewMemoryStore()
	r := NewQueueReconciler(coord, q, st, queue.DefaultPriorityOf(5))

	const campaignID = "camp-2"
	job, _ := q.Add(ctx, campaignID, "contact-1", queue.AddOptions{})
	q.Promote(ctx, job.ID, 1, coordinator.OriginNormal)

	r.reconcileCampaign(ctx, campaignID)

	exists, _ := coord.WaitlistMarkerExists(ctx, campaignID, job.ID)
	if exists {
		t.Fatal("expected waiting jobs to be left alone by the queue reconciler")
	}
}
