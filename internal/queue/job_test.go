package queue

import (
	"context"
	"testing"
	"time"
)

func TestAddStartsDelayedRegardlessOfPriority(t *testing.T) {
	q := NewQueue()
	job, err := q.Add(context.Background(), "camp-1", "contact-1", AddOptions{Priority: 10})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if job.State != JobDelayed {
		t.Fatalf("expected job to start delayed, got %s", job.State)
	}
}

func TestAddRejectsDuplicateJobID(t *testing.T) {
	q := NewQueue()
	opts := AddOptions{JobID: "fixed-id"}
	if _, err := q.Add(context.Background(), "camp-1", "contact-1", opts); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	if _, err := q.Add(context.Background(), "camp-1", "contact-2", opts); err != ErrJobExists {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
}

func TestPromoteStampsGateAndTime(t *testing.T) {
	q := NewQueue()
	job, _ := q.Add(context.Background(), "camp-1", "contact-1", AddOptions{})
	promoted, err := q.Promote(context.Background(), job.ID, 42, "H")
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if promoted.State != JobWaiting {
		t.Fatalf("expected waiting state, got %s", promoted.State)
	}
	if promoted.PromoteSeq == nil || *promoted.PromoteSeq != 42 {
		t.Fatalf("expected promoteSeq 42, got %v", promoted.PromoteSeq)
	}
	if promoted.PromotedAt == nil {
		t.Fatal("expected promotedAt to be set")
	}
	if promoted.Origin != "H" {
		t.Fatalf("expected origin to be carried through, got %q", promoted.Origin)
	}
	if !promoted.IsReady(time.Minute) {
		t.Fatal("expected freshly promoted job to be ready")
	}
}

func TestIsReadyRejectsStalePromotion(t *testing.T) {
	seq := int64(1)
	old := time.Now().Add(-time.Hour)
	job := Job{State: JobWaiting, PromoteSeq: &seq, PromotedAt: &old}
	if job.IsReady(15 * time.Second) {
		t.Fatal("expected stale promotion to be rejected")
	}
}

func TestMoveToDelayedClearsPromotionStamp(t *testing.T) {
	q := NewQueue()
	job, _ := q.Add(context.Background(), "camp-1", "contact-1", AddOptions{})
	q.Promote(context.Background(), job.ID, 1, "N")

	if err := q.MoveToDelayed(context.Background(), job.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("MoveToDelayed failed: %v", err)
	}
	got, _ := q.GetJob(context.Background(), job.ID)
	if got.State != JobDelayed || got.PromoteSeq != nil || got.PromotedAt != nil || got.Origin != "" {
		t.Fatalf("expected cleared promotion stamp, got %+v", got)
	}
}

func TestListenerReceivesEveryTransition(t *testing.T) {
	q := NewQueue()
	var events []JobState
	q.OnEvent(func(event JobState, job Job) {
		events = append(events, event)
	})

	job, _ := q.Add(context.Background(), "camp-1", "contact-1", AddOptions{})
	q.Promote(context.Background(), job.ID, 1, "N")
	q.MarkActive(context.Background(), job.ID)
	q.MarkCompleted(context.Background(), job.ID)

	want := []JobState{JobDelayed, JobWaiting, JobActive, JobCompleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(events), events)
	}
	for i, w := range want {
		if events[i] != w {
			t.Errorf("event %d: expected %s, got %s", i, w, events[i])
		}
	}
}

func TestIncrementAttemptsCountsUp(t *testing.T) {
	q := NewQueue()
	job, _ := q.Add(context.Background(), "camp-1", "contact-1", AddOptions{})
	for i := 1; i <= 3; i++ {
		n, err := q.IncrementAttempts(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("IncrementAttempts failed: %v", err)
		}
		if n != i {
			t.Fatalf("expected attempt count %d, got %d", i, n)
		}
	}
}

func TestListByCampaignFiltersByCampaign(t *testing.T) {
	q := NewQueue()
	q.Add(context.Background(), "camp-1", "contact-1", AddOptions{})
	q.Add(context.Background(), "camp-1", "contact-2", AddOptions{})
	q.Add(context.Background(), "camp-2", "contact-3", AddOptions{})

	jobs := q.ListByCampaign(context.Background(), "camp-1")
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs for camp-1, got %d", len(jobs))
	}
}

func TestGetJobUnknownIDReturnsErrJobNotFound(t *testing.T) {
	q := NewQueue()
	if _, err := q.GetJob(context.Background(), "missing"); err != ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
