package queue

import (
	"context"
	"log"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
)

// Syncer bridges the deferred job queue's lifecycle events to the
// per-campaign waitlist. On `delayed` it idempotently pushes the job id
// (guarded by waitlist:marker:<jobId>); on any of
// waiting/active/completed/failed/stalled it removes that marker.
type Syncer struct {
	coord      coordinator.Coordinator
	priorityOf func(job Job) string
}

// NewSyncer builds a Syncer. priorityOf maps a job's int priority to one
// of coordinator.PriorityHigh/PriorityNormal; callers own the threshold.
func NewSyncer(coord coordinator.Coordinator, priorityOf func(job Job) string) *Syncer {
	return &Syncer{coord: coord, priorityOf: priorityOf}
}

// Attach registers the syncer as a Queue listener.
func (s *Syncer) Attach(q *Queue) {
	q.OnEvent(func(event JobState, job Job) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.handle(ctx, event, job)
	})
}

func (s *Syncer) handle(ctx context.Context, event JobState, job Job) {
	switch event {
	case JobDelayed:
		priority := s.priorityOf(job)
		if err := s.coord.PushWaitlist(ctx, job.CampaignID, priority, job.ID); err != nil {
			log.Printf("[queue.Syncer] push waitlist failed for job %s: %v", job.ID, err)
		}
	case JobWaiting, JobActive, JobCompleted, JobFailed, JobStalled:
		if err := s.coord.RemoveWaitlistMarker(ctx, job.CampaignID, job.ID); err != nil {
			log.Printf("[queue.Syncer] remove marker failed for job %s: %v", job.ID, err)
		}
	}
}

// DefaultPriorityOf buckets non-negative int priority into high/normal:
// the spec's waitlist is two lists, not N priority tiers, so a threshold
// collapses finer-grained contact priority into the two partitions.
func DefaultPriorityOf(threshold int) func(job Job) string {
	return func(job Job) string {
		if job.Priority >= threshold {
			return coordinator.PriorityHigh
		}
		return coordinator.PriorityNormal
	}
}
