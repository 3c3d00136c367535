package reconcile

import (
	"context"
	"log"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/observability"
	"github.com/ringpath/dialcore/internal/queue"
	"github.com/ringpath/dialcore/internal/store"
)

const (
	compactorInterval = 2 * time.Minute
	compactorSample   = 1000
)

// WaitlistCompactor removes waitlist entries whose underlying job no
// longer exists or has reached a terminal state, keeping the two
// priority lists from accumulating garbage.
type WaitlistCompactor struct {
	coord coordinator.Coordinator
	queue *queue.Queue
	store store.Store
}

func NewWaitlistCompactor(coord coordinator.Coordinator, q *queue.Queue, st store.Store) *WaitlistCompactor {
	return &WaitlistCompactor{coord: coord, queue: q, store: st}
}

func (c *WaitlistCompactor) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *WaitlistCompactor) loop(ctx context.Context) {
	ticker := time.NewTicker(compactorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *WaitlistCompactor) sweep(ctx context.Context) {
	campaigns, err := c.store.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[WaitlistCompactor] ListActiveCampaigns failed: %v", err)
		return
	}
	for _, camp := range campaigns {
		for _, priority := range []string{coordinator.PriorityHigh, coordinator.PriorityNormal} {
			c.compactList(ctx, camp.ID, priority)
		}
	}
	observability.ReconcilerSweeps.WithLabelValues("compactor").Inc()
}

func (c *WaitlistCompactor) compactList(ctx context.Context, campaignID, priority string) {
	ids, err := c.coord.SampleWaitlist(ctx, campaignID, priority, compactorSample)
	if err != nil {
		log.Printf("[WaitlistCompactor] SampleWaitlist failed for %s/%s: %v", campaignID, priority, err)
		return
	}
	removed := 0
	for _, id := range ids {
		job, err := c.queue.GetJob(ctx, id)
		if err != nil {
			if err := c.coord.RemoveFromWaitlist(ctx, campaignID, priority, id); err == nil {
				removed++
			}
			continue
		}
		if job.State == queue.JobCompleted || job.State == queue.JobFailed {
			if err := c.coord.RemoveFromWaitlist(ctx, campaignID, priority, id); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		observability.ReconcilerRepairs.WithLabelValues("compactor", "stale_waitlist_entries_removed").Add(float64(removed))
	}
}
