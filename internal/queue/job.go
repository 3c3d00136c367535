// Package queue implements the deferred job queue (C2): a FIFO-per-priority,
// delayed-capable broker that the campaign API enqueues into and the
// waitlist promoter promotes out of. Jobs are always added with a long
// default delay; they never become ready on their own (see Queue.Add).
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

type JobState string

const (
	JobDelayed   JobState = "delayed"
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobStalled   JobState = "stalled"
)

// StaleGateSentinel marks a job whose promotion was hard-synced by the
// stale-gate defence after repeated gate-repair attempts.
const StaleGateSentinel = -1

// Job is one dial attempt for one contact, queue-resident until it
// reaches a terminal state.
type Job struct {
	ID               string
	CampaignID       string
	CampaignContactID string
	Priority         int
	DeliverAt        time.Time
	PromoteSeq       *int64
	PromotedAt       *time.Time
	AttemptsMade     int
	State            JobState

	// Origin is the reservation ledger's partition for this job's
	// promotion ("H" or "N"), as returned by PopReserveAndPromote. It is
	// the only correct input to ClaimReservation — it must never be
	// re-derived from Priority.
	Origin string
}

// IsReady reports whether the job may be picked up by a worker: waiting,
// gated, and promoted recently enough to trust the gate (spec data model
// invariant: state=waiting AND promoteSeq set AND promotedAt recent).
func (j *Job) IsReady(staleAfter time.Duration) bool {
	if j.State != JobWaiting || j.PromoteSeq == nil || j.PromotedAt == nil {
		return false
	}
	return time.Since(*j.PromotedAt) <= staleAfter
}

var (
	ErrJobNotFound = errors.New("queue: job not found")
	ErrJobExists   = errors.New("queue: job id already exists")
)

// AddOptions configure a single Add call.
type AddOptions struct {
	JobID    string
	Priority int
	Delay    time.Duration
}

// Listener receives lifecycle events as jobs transition state. The
// waitlist syncer is the canonical listener (see queue.Syncer).
type Listener func(event JobState, job Job)

// Queue is the in-process deferred job broker. A single Queue instance is
// shared cluster-wide only in spirit: every process instance runs its own
// in-memory Queue, kept separate from the durable Store. Jobs are not
// persisted, so a restarted process starts with an empty Queue.
type Queue struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	listeners []Listener
}

func NewQueue() *Queue {
	return &Queue{jobs: make(map[string]*Job)}
}

func (q *Queue) OnEvent(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

func (q *Queue) emit(event JobState, job Job) {
	for _, l := range q.listeners {
		l(event, job)
	}
}

// Add inserts a single job. Per the design decision in §4.2, every job
// starts in `delayed` state regardless of the caller's intended priority;
// only the Promoter ever moves a job to `waiting`.
func (q *Queue) Add(ctx context.Context, campaignID, contactID string, opts AddOptions) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.JobID != "" {
		if _, exists := q.jobs[opts.JobID]; exists {
			return nil, ErrJobExists
		}
	}
	id := opts.JobID
	if id == "" {
		id = newJobID()
	}
	job := &Job{
		ID:                id,
		CampaignID:        campaignID,
		CampaignContactID: contactID,
		Priority:          opts.Priority,
		DeliverAt:         time.Now().Add(opts.Delay),
		State:             JobDelayed,
	}
	q.jobs[id] = job
	cp := *job
	q.emit(JobDelayed, cp)
	return job, nil
}

// AddBulk adds many jobs; callers batch at 100 per the campaign API's
// enqueue pipeline.
func (q *Queue) AddBulk(ctx context.Context, campaignID string, items []struct {
	ContactID string
	Opts      AddOptions
}) ([]*Job, error) {
	out := make([]*Job, 0, len(items))
	for _, it := range items {
		j, err := q.Add(ctx, campaignID, it.ContactID, it.Opts)
		if err != nil {
			return out, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (q *Queue) GetState(ctx context.Context, id string) (JobState, error) {
	j, err := q.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	return j.State, nil
}

// Promote moves a job from delayed to waiting, stamping it with the
// promotion gate sequence, the promotion time, and the ledger origin
// ("H" or "N") PopReserveAndPromote popped it from. Called by the
// promoter immediately after pop_reserve_promote succeeds.
func (q *Queue) Promote(ctx context.Context, id string, seq int64, origin string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	now := time.Now()
	j.State = JobWaiting
	j.PromoteSeq = &seq
	j.PromotedAt = &now
	j.Origin = origin
	cp := *j
	q.emit(JobWaiting, cp)
	return &cp, nil
}

// MoveToDelayed re-delays a job, clearing its promotion stamp. Used by
// pause (re-delay promoted-but-not-active jobs) and by gate repair.
func (q *Queue) MoveToDelayed(ctx context.Context, id string, when time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.State = JobDelayed
	j.DeliverAt = when
	j.PromoteSeq = nil
	j.PromotedAt = nil
	j.Origin = ""
	cp := *j
	q.emit(JobDelayed, cp)
	return nil
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(q.jobs, id)
	return nil
}

func (q *Queue) MarkActive(ctx context.Context, id string) error {
	return q.transition(id, JobActive)
}

func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	return q.transition(id, JobCompleted)
}

func (q *Queue) MarkFailed(ctx context.Context, id string) error {
	return q.transition(id, JobFailed)
}

func (q *Queue) MarkStalled(ctx context.Context, id string) error {
	return q.transition(id, JobStalled)
}

func (q *Queue) transition(id string, state JobState) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.State = state
	cp := *j
	q.emit(state, cp)
	return nil
}

// IncrementAttempts bumps the attempt counter, used by the worker's retry
// policy (exponential backoff, 3 attempts, then dead-letter).
func (q *Queue) IncrementAttempts(ctx context.Context, id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return 0, ErrJobNotFound
	}
	j.AttemptsMade++
	return j.AttemptsMade, nil
}

// ListByCampaign returns a snapshot of every job for a campaign, used by
// cancel() to remove delayed/waiting/failed jobs in bulk.
func (q *Queue) ListByCampaign(ctx context.Context, campaignID string) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Job
	for _, j := range q.jobs {
		if j.CampaignID == campaignID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out
}

var jobSeq struct {
	mu sync.Mutex
	n  uint64
}

// newJobID generates a process-local monotonic id. Date.Now()-free so
// tests stay deterministic; production callers may prefer to pass an
// explicit JobID (e.g. a uuid) via AddOptions instead.
func newJobID() string {
	jobSeq.mu.Lock()
	defer jobSeq.mu.Unlock()
	jobSeq.n++
	return "job-" + itoa(jobSeq.n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
