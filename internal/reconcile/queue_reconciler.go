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
	queueReconcilerInterval = 5 * time.Minute
	queueReconcilerSample   = 500
)

// QueueReconciler recovers from dropped `delayed` events: any delayed job
// missing its waitlist marker is pushed onto the waitlist and its marker
// is recreated.
type QueueReconciler struct {
	coord      coordinator.Coordinator
	queue      *queue.Queue
	store      store.Store
	priorityOf func(queue.Job) string
}

func NewQueueReconciler(coord coordinator.Coordinator, q *queue.Queue, st store.Store, priorityOf func(queue.Job) string) *QueueReconciler {
	return &QueueReconciler{coord: coord, queue: q, store: st, priorityOf: priorityOf}
}

func (r *QueueReconciler) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *QueueReconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(queueReconcilerInterval)
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

func (r *QueueReconciler) sweep(ctx context.Context) {
	campaigns, err := r.store.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[QueueReconciler] ListActiveCampaigns failed: %v", err)
		return
	}
	for _, camp := range campaigns {
		r.reconcileCampaign(ctx, camp.ID)
	}
	observability.ReconcilerSweeps.WithLabelValues("queue_reconciler").Inc()
}

func (r *QueueReconciler) reconcileCampaign(ctx context.Context, campaignID string) {
	jobs := r.queue.ListByCampaign(ctx, campaignID)
	recovered := 0
	scanned := 0
	for _, j := range jobs {
		if j.State != queue.JobDelayed {
			continue
		}
		if scanned >= queueReconcilerSample {
			break
		}
		scanned++

		exists, err := r.coord.WaitlistMarkerExists(ctx, campaignID, j.ID)
		if err != nil {
			log.Printf("[QueueReconciler] marker check failed for job %s: %v", j.ID, err)
			continue
		}
		if exists {
			continue
		}
		priority := r.priorityOf(*j)
		if err := r.coord.PushWaitlist(ctx, campaignID, priority, j.ID); err != nil {
			log.Printf("[QueueReconciler] recovery push failed for job %s: %v", j.ID, err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		observability.ReconcilerRepairs.WithLabelValues("queue_reconciler", "dropped_delayed_events_recovered").Add(float64(recovered))
	}
}
