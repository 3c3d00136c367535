package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ringpath/dialcore/internal/queue"
	"github.com/ringpath/dialcore/internal/store"
)

const dispatchBuffer = 256

// Dispatcher bridges queue.JobWaiting events to one Worker, processed
// serially (concurrency 1 per process instance, per §4.5). It is attached
// the same way queue.Syncer attaches to the queue, but reacts to the
// opposite transition: waiting, not delayed.
type Dispatcher struct {
	worker *Worker
	store  store.Store
	jobs   chan queue.Job
}

func NewDispatcher(w *Worker, st store.Store) *Dispatcher {
	return &Dispatcher{worker: w, store: st, jobs: make(chan queue.Job, dispatchBuffer)}
}

// Attach registers the dispatcher as a Queue listener.
func (d *Dispatcher) Attach(q *queue.Queue) {
	q.OnEvent(func(event queue.JobState, job queue.Job) {
		if event != queue.JobWaiting {
			return
		}
		select {
		case d.jobs <- job:
		default:
			log.Printf("[Dispatcher] job buffer full, dropping job %s for campaign %s", job.ID, job.CampaignID)
		}
	})
}

// Run drains promoted jobs one at a time until ctx is cancelled (e.g. on
// loss of leadership via coordination.LeaderElector.FencedContext).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			d.process(ctx, job)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job queue.Job) {
	cl := &store.CallLog{
		ID:              uuid.NewString(),
		CampaignID:      job.CampaignID,
		CampaignContact: job.CampaignContactID,
		Status:          store.CallQueued,
		CreatedAt:       time.Now(),
	}
	if err := d.store.CreateCallLog(ctx, cl); err != nil {
		log.Printf("[Dispatcher] call log creation failed for job %s: %v", job.ID, err)
		return
	}
	j := job
	if err := d.worker.HandleJob(ctx, &j, cl.ID); err != nil && !errors.Is(err, ErrRetry) {
		log.Printf("[Dispatcher] job %s ended with error: %v", job.ID, err)
	}
}
