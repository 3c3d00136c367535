package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/ringpath/dialcore/internal/carrier"
	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/lease"
	"github.com/ringpath/dialcore/internal/queue"
	"github.com/ringpath/dialcore/internal/store"
)

type fakeCarrier struct {
	details CallDetailsOrErr
}

type CallDetailsOrErr struct {
	details carrier.CallDetails
	err     error
}

func (f fakeCarrier) Initiate(ctx context.Context, params carrier.InitiateParams) (carrier.CallDetails, error) {
	return f.details.details, f.details.err
}

func (f fakeCarrier) Hangup(ctx context.Context, sid string) error { return nil }

func (f fakeCarrier) GetDetails(ctx context.Context, sid string) (carrier.CallDetails, error) {
	return f.details.details, f.details.err
}

func buildJob(t *testing.T, ctx context.Context, q *queue.Queue, campaignID, contactID, origin string) *queue.Job {
	t.Helper()
	job, err := q.Add(ctx, campaignID, contactID, queue.AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	promoted, err := q.Promote(ctx, job.ID, 1, origin)
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	return promoted
}

func TestHandleJobSuccessfulDialMarksJobActive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	const campaignID = "camp-1"
	const contactID = "contact-1"
	st.CreateCampaign(ctx, &store.Campaign{ID: campaignID, Status: store.CampaignActive, Settings: store.CampaignSettings{ConcurrentCallsLimit: 5}})
	st.CreateContact(ctx, &store.CampaignContact{ID: contactID, CampaignID: campaignID})

	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	leaseEng := lease.NewEngine(coord)
	coldStart := NewColdStartGuard(coord, DefaultRampConfig())
	car := fakeCarrier{details: CallDetailsOrErr{details: carrier.CallDetails{SID: "sid-1", Status: carrier.StatusRinging}}}
	w := New(coord, q, st, leaseEng, car, coldStart)

	job := buildJob(t, ctx, q, campaignID, contactID, coordinator.OriginNormal)
	callLogID := "cl-1"
	if err := st.CreateCallLog(ctx, &store.CallLog{ID: callLogID, CampaignID: campaignID, CampaignContact: contactID, Status: store.CallQueued}); err != nil {
		t.Fatalf("CreateCallLog failed: %v", err)
	}

	if err := w.HandleJob(ctx, job, callLogID); err != nil {
		t.Fatalf("HandleJob failed: %v", err)
	}

	state, err := q.GetState(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state != queue.JobActive {
		t.Fatalf("expected job active, got %s", state)
	}

	contact, _ := st.GetContact(ctx, contactID)
	if contact.Status != store.ContactCalling {
		t.Fatalf("expected contact calling, got %s", contact.Status)
	}

	cl, err := st.GetCallLogByCallSid(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetCallLogByCallSid failed: %v", err)
	}
	if cl == nil || cl.ID != callLogID {
		t.Fatalf("expected call log correlated by carrier sid, got %+v", cl)
	}

	leases, _ := coord.LeaseCount(ctx, campaignID)
	if leases != 1 {
		t.Fatalf("expected one active lease after upgrade, got %d", leases)
	}
}

func TestHandleJobTransientCarrierFailureRetries(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	const campaignID = "camp-2"
	const contactID = "contact-2"
	st.CreateCampaign(ctx, &store.Campaign{ID: campaignID, Status: store.CampaignActive, Settings: store.CampaignSettings{ConcurrentCallsLimit: 5}})
	st.CreateContact(ctx, &store.CampaignContact{ID: contactID, CampaignID: campaignID})

	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	leaseEng := lease.NewEngine(coord)
	coldStart := NewColdStartGuard(coord, DefaultRampConfig())
	car := fakeCarrier{details: CallDetailsOrErr{err: errors.New("transient network error")}}
	w := New(coord, q, st, leaseEng, car, coldStart)

	job := buildJob(t, ctx, q, campaignID, contactID, coordinator.OriginNormal)
	callLogID := "cl-2"
	st.CreateCallLog(ctx, &store.CallLog{ID: callLogID, CampaignID: campaignID, CampaignContact: contactID, Status: store.CallQueued})

	err := w.HandleJob(ctx, job, callLogID)
	if !errors.Is(err, ErrRetry) {
		t.Fatalf("expected ErrRetry, got %v", err)
	}

	state, _ := q.GetState(ctx, job.ID)
	if state != queue.JobDelayed {
		t.Fatalf("expected job re-delayed after transient failure, got %s", state)
	}

	leases, _ := coord.LeaseCount(ctx, campaignID)
	if leases != 0 {
		t.Fatalf("expected lease released after failed dial, got %d", leases)
	}
}

func TestHandleJobFatalCredentialErrorFailsImmediately(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	const campaignID = "camp-3"
	const contactID = "contact-3"
	st.CreateCampaign(ctx, &store.Campaign{ID: campaignID, Status: store.CampaignActive, Settings: store.CampaignSettings{ConcurrentCallsLimit: 5}})
	st.CreateContact(ctx, &store.CampaignContact{ID: contactID, CampaignID: campaignID})

	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	leaseEng := lease.NewEngine(coord)
	coldStart := NewColdStartGuard(coord, DefaultRampConfig())
	car := fakeCarrier{details: CallDetailsOrErr{err: carrier.ErrCredentialsFatal}}
	w := New(coord, q, st, leaseEng, car, coldStart)

	job := buildJob(t, ctx, q, campaignID, contactID, coordinator.OriginNormal)
	callLogID := "cl-3"
	st.CreateCallLog(ctx, &store.CallLog{ID: callLogID, CampaignID: campaignID, CampaignContact: contactID, Status: store.CallQueued})

	if err := w.HandleJob(ctx, job, callLogID); err != nil {
		t.Fatalf("HandleJob failed: %v", err)
	}

	state, _ := q.GetState(ctx, job.ID)
	if state != queue.JobFailed {
		t.Fatalf("expected job failed on fatal credential error, got %s", state)
	}
	contact, _ := st.GetContact(ctx, contactID)
	if contact.Status != store.ContactFailed {
		t.Fatalf("expected contact failed, got %s", contact.Status)
	}
}

func TestHandleJobRejectsStaleGate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	const campaignID = "camp-4"
	const contactID = "contact-4"
	st.CreateCampaign(ctx, &store.Campaign{ID: campaignID, Status: store.CampaignActive, Settings: store.CampaignSettings{ConcurrentCallsLimit: 5}})
	st.CreateContact(ctx, &store.CampaignContact{ID: contactID, CampaignID: campaignID})

	coord := coordinator.NewMemoryCoordinator()
	q := queue.NewQueue()
	leaseEng := lease.NewEngine(coord)
	coldStart := NewColdStartGuard(coord, DefaultRampConfig())
	car := fakeCarrier{}
	w := New(coord, q, st, leaseEng, car, coldStart)

	job, _ := q.Add(ctx, campaignID, contactID, queue.AddOptions{})
	promoted, _ := q.Promote(ctx, job.ID, StaleGateSentinel, coordinator.OriginNormal)
	callLogID := "cl-4"
	st.CreateCallLog(ctx, &store.CallLog{ID: callLogID, CampaignID: campaignID, CampaignContact: contactID, Status: store.CallQueued})

	err := w.HandleJob(ctx, promoted, callLogID)
	if !errors.Is(err, ErrRetry) {
		t.Fatalf("expected ErrRetry for sentinel-gated job, got %v", err)
	}
}

// TestHandleJobClearsHighPriorityLedgerEntry guards against re-deriving a
// job's ledger origin from Priority instead of carrying the origin
// PopReserveAndPromote actually popped it from: a job admitted from the
// high-priority waitlist must have its "H:<jobID>" ledger entry cleared,
// not a nonexistent "N:<jobID>" one, or ReservedCount and LedgerSize
// diverge permanently.
func TestHandleJobClearsHighPriorityLedgerEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	const campaignID = "camp-5"
	const contactID = "contact-5"
	st.CreateCampaign(ctx, &store.Campaign{ID: campaignID, Status: store.CampaignActive, Settings: store.CampaignSettings{ConcurrentCallsLimit: 5}})
	st.CreateContact(ctx, &store.CampaignContact{ID: contactID, CampaignID: campaignID})

	coord := coordinator.NewMemoryCoordinator()
	coord.SetLimit(ctx, campaignID, 5)
	q := queue.NewQueue()
	leaseEng := lease.NewEngine(coord)
	coldStart := NewColdStartGuard(coord, DefaultRampConfig())
	car := fakeCarrier{details: CallDetailsOrErr{details: carrier.CallDetails{SID: "sid-5", Status: carrier.StatusRinging}}}
	w := New(coord, q, st, leaseEng, car, coldStart)

	job, err := q.Add(ctx, campaignID, contactID, queue.AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := coord.PushWaitlist(ctx, campaignID, coordinator.PriorityHigh, job.ID); err != nil {
		t.Fatalf("PushWaitlist failed: %v", err)
	}
	batch, err := coord.PopReserveAndPromote(ctx, campaignID, 5, 1)
	if err != nil {
		t.Fatalf("PopReserveAndPromote failed: %v", err)
	}
	if len(batch.IDs) != 1 || batch.IDs[0].Origin != coordinator.OriginHigh {
		t.Fatalf("expected one high-priority ledger entry, got %+v", batch.IDs)
	}
	promoted, err := q.Promote(ctx, job.ID, batch.Seq, batch.IDs[0].Origin)
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if promoted.Origin != coordinator.OriginHigh {
		t.Fatalf("expected promoted job to carry origin %q, got %q", coordinator.OriginHigh, promoted.Origin)
	}

	callLogID := "cl-5"
	st.CreateCallLog(ctx, &store.CallLog{ID: callLogID, CampaignID: campaignID, CampaignContact: contactID, Status: store.CallQueued})

	if err := w.HandleJob(ctx, promoted, callLogID); err != nil {
		t.Fatalf("HandleJob failed: %v", err)
	}

	ledgerSize, err := coord.LedgerSize(ctx, campaignID)
	if err != nil {
		t.Fatalf("LedgerSize failed: %v", err)
	}
	if ledgerSize != 0 {
		t.Fatalf("expected the high-priority ledger entry to be cleared by ClaimReservation, got %d still present", ledgerSize)
	}
}
