package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/queue"
)

func TestPromoterDrainsWaitlistUpToCapacity(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	syncer := queue.NewSyncer(coord, queue.DefaultPriorityOf(5))
	syncer.Attach(q)

	const campaignID = "camp-1"
	coord.SetLimit(ctx, campaignID, 2)

	for i := 0; i < 5; i++ {
		q.Add(ctx, campaignID, "contact", queue.AddOptions{})
	}

	p := NewPromoter(coord, q, campaignID, "owner-1", func(ctx context.Context) (int, error) {
		return coord.GetLimit(ctx, campaignID)
	})
	p.tick(ctx)

	waiting := 0
	for _, j := range q.ListByCampaign(ctx, campaignID) {
		if j.State == queue.JobWaiting {
			waiting++
		}
	}
	if waiting != 2 {
		t.Fatalf("expected exactly 2 jobs promoted to respect the limit, got %d", waiting)
	}

	reserved, err := coord.ReservedCount(ctx, campaignID)
	if err != nil {
		t.Fatalf("ReservedCount failed: %v", err)
	}
	if reserved != 2 {
		t.Fatalf("expected reserved count 2 after promotion, got %d", reserved)
	}
}

func TestPromoterSkipsWhenPaused(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	syncer := queue.NewSyncer(coord, queue.DefaultPriorityOf(5))
	syncer.Attach(q)

	const campaignID = "camp-2"
	coord.SetLimit(ctx, campaignID, 5)
	coord.SetPaused(ctx, campaignID, true)
	q.Add(ctx, campaignID, "contact", queue.AddOptions{})

	p := NewPromoter(coord, q, campaignID, "owner-1", func(ctx context.Context) (int, error) {
		return coord.GetLimit(ctx, campaignID)
	})
	p.tick(ctx)

	for _, j := range q.ListByCampaign(ctx, campaignID) {
		if j.State != queue.JobDelayed {
			t.Fatalf("expected job to remain delayed while paused, got %s", j.State)
		}
	}
}

func TestPromoterReleasesMutexAfterTick(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	p := NewPromoter(coord, q, "camp-3", "owner-1", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	p.tick(ctx)

	ok, err := coord.AcquirePromoteMutex(ctx, "camp-3", "owner-2", time.Second)
	if err != nil {
		t.Fatalf("AcquirePromoteMutex failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mutex to be released after tick so another owner can acquire it")
	}
}
