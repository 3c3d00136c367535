package store

import (
	"context"
	"time"
)

// Store defines the durable persistence surface the dispatch core
// consumes. Contacts, campaigns, and call logs live here; the
// coordinator (internal/coordinator) owns the ephemeral, fast-moving
// lease/reservation/waitlist state.
type Store interface {
	// Campaign operations
	CreateCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, tenantID, campaignID string) (*Campaign, error)
	UpdateCampaignStatus(ctx context.Context, tenantID, campaignID string, status CampaignStatus, at time.Time) error
	UpdateCampaignTotals(ctx context.Context, tenantID, campaignID string, totals CampaignTotals) error
	ListActiveCampaigns(ctx context.Context) ([]*Campaign, error)

	// Contact operations
	CreateContact(ctx context.Context, c *CampaignContact) error
	GetContact(ctx context.Context, contactID string) (*CampaignContact, error)
	ListContactsByStatus(ctx context.Context, campaignID string, status ContactStatus) ([]*CampaignContact, error)
	UpdateContactStatus(ctx context.Context, contactID string, status ContactStatus) error
	BumpContactRetry(ctx context.Context, contactID string, nextRetryAt time.Time) error
	MarkContactVoicemail(ctx context.Context, contactID string) error

	// Call log operations
	CreateCallLog(ctx context.Context, cl *CallLog) error
	GetCallLogByCallSid(ctx context.Context, callSid string) (*CallLog, error)
	UpdateCallLogCallSid(ctx context.Context, callLogID string, callSid string) error
	UpdateCallLogActiveToken(ctx context.Context, callLogID string, token string) error
	FinalizeCallLog(ctx context.Context, callLogID string, status CallLogStatus, duration int, recordingURL string, voicemail bool, at time.Time) error

	// IncrementLeaderEpoch returns a durable, monotonically increasing
	// fencing token for primary-worker election. Backed by Postgres so
	// the epoch survives a Redis flush, unlike a coordinator-only counter.
	IncrementLeaderEpoch(ctx context.Context, name string) (int64, error)
}
