// Package campaign implements the Campaign API (C1): start, pause,
// resume, cancel, addContacts, and retryFailed, all driving contacts into
// the deferred job queue and seeding the coordinator's per-campaign limit.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/queue"
	"github.com/ringpath/dialcore/internal/store"
)

const enqueueBatchSize = 100

// defaultJobDelay is the 24h gate described in §4.2: jobs never become
// ready on their own, only the Promoter moves them to waiting. Per the
// open question in §9, retries keep the same 24h gate rather than using
// retryDelayMinutes alone as the delay — the promoter is the sole
// admission authority, and a shorter true delay would let a retried
// contact jump the waitlist ahead of first-attempt contacts enqueued
// earlier the same day. RetryFailed uses retryDelayMinutes twice: it sets
// the contact's nextRetryAt, and it is added on top of defaultJobDelay
// for the retry job's delay.
const defaultJobDelay = 24 * time.Hour

var (
	ErrAlreadyActive  = errors.New("campaign: already active")
	ErrNotStartable   = errors.New("campaign: status does not allow start")
	ErrNoContacts     = errors.New("campaign: no contacts to dial")
	ErrRetryExhausted = errors.New("campaign: retry attempts exhausted")
	ErrVoicemailSkip  = errors.New("campaign: voicemail excluded from retry")
)

type API struct {
	store      store.Store
	coord      coordinator.Coordinator
	queue      *queue.Queue
	threshold  int // priority >= threshold maps to the high waitlist
}

func NewAPI(st store.Store, coord coordinator.Coordinator, q *queue.Queue, highPriorityThreshold int) *API {
	return &API{store: st, coord: coord, queue: q, threshold: highPriorityThreshold}
}

// Start validates the campaign's current status, seeds the coordinator
// limit, and enqueues every pending contact in batches of 100.
func (a *API) Start(ctx context.Context, tenantID, campaignID string) error {
	c, err := a.store.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", campaignID)
	}
	switch c.Status {
	case store.CampaignDraft, store.CampaignScheduled, store.CampaignPaused:
	case store.CampaignActive:
		return ErrAlreadyActive
	default:
		return ErrNotStartable
	}
	if c.Totals.TotalContacts == 0 {
		return ErrNoContacts
	}

	now := time.Now()
	if err := a.store.UpdateCampaignStatus(ctx, tenantID, campaignID, store.CampaignActive, now); err != nil {
		return err
	}
	if err := a.coord.SetLimit(ctx, campaignID, c.Settings.ConcurrentCallsLimit); err != nil {
		return err
	}
	if err := a.coord.SetPaused(ctx, campaignID, false); err != nil {
		return err
	}

	contacts, err := a.store.ListContactsByStatus(ctx, campaignID, store.ContactPending)
	if err != nil {
		return err
	}
	return a.enqueueBatches(ctx, campaignID, contacts, defaultJobDelay)
}

func (a *API) enqueueBatches(ctx context.Context, campaignID string, contacts []*store.CampaignContact, delay time.Duration) error {
	for i := 0; i < len(contacts); i += enqueueBatchSize {
		end := i + enqueueBatchSize
		if end > len(contacts) {
			end = len(contacts)
		}
		for _, contact := range contacts[i:end] {
			firstSeen, err := a.coord.MarkSeen(ctx, campaignID, contact.ID, 24*time.Hour)
			if err != nil {
				return err
			}
			if !firstSeen {
				continue
			}
			if _, err := a.queue.Add(ctx, campaignID, contact.ID, queue.AddOptions{
				Priority: contact.Priority,
				Delay:    delay,
			}); err != nil {
				return err
			}
			if err := a.store.UpdateContactStatus(ctx, contact.ID, store.ContactQueued); err != nil {
				log.Printf("[campaign] contact status update to queued failed for %s: %v", contact.ID, err)
			}
		}
	}
	return nil
}

// Pause sets the paused marker and flips campaign status. In-flight calls
// are left alone; the promoter refuses to promote further while paused.
func (a *API) Pause(ctx context.Context, tenantID, campaignID string) error {
	if err := a.coord.SetPaused(ctx, campaignID, true); err != nil {
		return err
	}
	return a.store.UpdateCampaignStatus(ctx, tenantID, campaignID, store.CampaignPaused, time.Now())
}

// Resume clears the paused marker so the promoter admits again.
func (a *API) Resume(ctx context.Context, tenantID, campaignID string) error {
	if err := a.coord.SetPaused(ctx, campaignID, false); err != nil {
		return err
	}
	return a.store.UpdateCampaignStatus(ctx, tenantID, campaignID, store.CampaignActive, time.Now())
}

// Cancel marks the campaign cancelled, removes its delayed/waiting/failed
// jobs, and skips every pending/queued contact. Returns the count removed.
func (a *API) Cancel(ctx context.Context, tenantID, campaignID string) (int, error) {
	if err := a.store.UpdateCampaignStatus(ctx, tenantID, campaignID, store.CampaignCancelled, time.Now()); err != nil {
		return 0, err
	}

	removed := 0
	for _, j := range a.queue.ListByCampaign(ctx, campaignID) {
		switch j.State {
		case queue.JobDelayed, queue.JobWaiting, queue.JobFailed:
			if err := a.queue.Remove(ctx, j.ID); err == nil {
				removed++
			}
		}
	}

	for _, status := range []store.ContactStatus{store.ContactPending, store.ContactQueued} {
		contacts, err := a.store.ListContactsByStatus(ctx, campaignID, status)
		if err != nil {
			return removed, err
		}
		for _, c := range contacts {
			if err := a.store.UpdateContactStatus(ctx, c.ID, store.ContactSkipped); err != nil {
				log.Printf("[campaign] skip on cancel failed for contact %s: %v", c.ID, err)
			}
		}
	}
	return removed, nil
}

// AddContacts enqueues new contacts the same way Start does, without
// touching campaign status.
func (a *API) AddContacts(ctx context.Context, campaignID string, contacts []*store.CampaignContact) error {
	return a.enqueueBatches(ctx, campaignID, contacts, defaultJobDelay)
}

// RetryFailed re-enqueues a single failed contact, subject to
// maxRetryAttempts and excludeVoicemail.
func (a *API) RetryFailed(ctx context.Context, tenantID, campaignID string, contact *store.CampaignContact, settings store.CampaignSettings) error {
	if contact.Voicemail && settings.ExcludeVoicemail {
		return ErrVoicemailSkip
	}
	if contact.RetryCount >= settings.MaxRetryAttempts {
		return ErrRetryExhausted
	}

	delayBeforeEligible := time.Duration(settings.RetryDelayMinutes) * time.Minute
	nextRetryAt := time.Now().Add(delayBeforeEligible)
	if err := a.store.BumpContactRetry(ctx, contact.ID, nextRetryAt); err != nil {
		return err
	}

	firstSeen, err := a.coord.MarkSeen(ctx, campaignID, contact.ID+":retry", 24*time.Hour)
	if err != nil {
		return err
	}
	if !firstSeen {
		return nil
	}
	_, err = a.queue.Add(ctx, campaignID, contact.ID, queue.AddOptions{
		Priority: contact.Priority,
		Delay:    delayBeforeEligible + defaultJobDelay,
	})
	return err
}
