package store

import "time"

// CampaignStatus is the lifecycle state of a Campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// PriorityMode controls how a campaign orders its contacts for dispatch.
type PriorityMode string

const (
	PriorityFIFO     PriorityMode = "fifo"
	PriorityLIFO     PriorityMode = "lifo"
	PriorityExplicit PriorityMode = "priority"
)

// CampaignSettings holds the tunables named in spec.md §6's config surface.
type CampaignSettings struct {
	RetryFailedCalls     bool         `json:"retry_failed_calls" db:"retry_failed_calls"`
	MaxRetryAttempts     int          `json:"max_retry_attempts" db:"max_retry_attempts"`
	RetryDelayMinutes    int          `json:"retry_delay_minutes" db:"retry_delay_minutes"`
	ExcludeVoicemail     bool         `json:"exclude_voicemail" db:"exclude_voicemail"`
	PriorityMode         PriorityMode `json:"priority_mode" db:"priority_mode"`
	ConcurrentCallsLimit int          `json:"concurrent_calls_limit" db:"concurrent_calls_limit"`
}

// CampaignTotals tracks the running tally invariant:
// queued+active+completed+failed+voicemail <= totalContacts.
type CampaignTotals struct {
	TotalContacts int `json:"total_contacts" db:"total_contacts"`
	Queued        int `json:"queued" db:"queued"`
	Active        int `json:"active" db:"active"`
	Completed     int `json:"completed" db:"completed"`
	Failed        int `json:"failed" db:"failed"`
	Voicemail     int `json:"voicemail" db:"voicemail"`
}

// Campaign is a batch of contacts dialed by one agent under one ceiling.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	TenantID    string         `json:"tenant_id" db:"tenant_id"`
	AgentID     string         `json:"agent_id" db:"agent_id"`
	PhoneID     string         `json:"phone_id" db:"phone_id"`
	Name        string         `json:"name" db:"name"`
	Status      CampaignStatus `json:"status" db:"status"`
	Totals      CampaignTotals `json:"totals" db:"-"`
	Settings    CampaignSettings `json:"settings" db:"-"`
	ScheduledAt *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time     `json:"started_at" db:"started_at"`
	PausedAt    *time.Time     `json:"paused_at" db:"paused_at"`
	CompletedAt *time.Time     `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// ContactStatus is the per-contact dial state.
type ContactStatus string

const (
	ContactPending  ContactStatus = "pending"
	ContactQueued   ContactStatus = "queued"
	ContactCalling  ContactStatus = "calling"
	ContactComplete ContactStatus = "completed"
	ContactFailed   ContactStatus = "failed"
	ContactSkipped  ContactStatus = "skipped"
)

// CampaignContact is one phone number within a campaign, with its own
// retry state. Unique per (campaignId, phoneNumber).
type CampaignContact struct {
	ID          string            `json:"id" db:"id"`
	CampaignID  string            `json:"campaign_id" db:"campaign_id"`
	PhoneNumber string            `json:"phone_number" db:"phone_number"`
	Priority    int               `json:"priority" db:"priority"`
	RetryCount  int               `json:"retry_count" db:"retry_count"`
	NextRetryAt *time.Time        `json:"next_retry_at" db:"next_retry_at"`
	Status      ContactStatus     `json:"status" db:"status"`
	Voicemail   bool              `json:"voicemail" db:"voicemail"`
	CustomData  map[string]string `json:"custom_data,omitempty" db:"custom_data"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// CallLogStatus mirrors the carrier's terminal/non-terminal states.
type CallLogStatus string

const (
	CallQueued     CallLogStatus = "queued"
	CallRinging    CallLogStatus = "ringing"
	CallInProgress CallLogStatus = "in-progress"
	CallCompleted  CallLogStatus = "completed"
	CallFailed     CallLogStatus = "failed"
	CallBusy       CallLogStatus = "busy"
	CallNoAnswer   CallLogStatus = "no-answer"
)

// CallLog is the durable record of one dial attempt, correlated to the
// carrier's callSid via CustomField and to the active lease via
// ActiveToken so a webhook can release the slot out of band.
type CallLog struct {
	ID              string        `json:"id" db:"id"`
	TenantID        string        `json:"tenant_id" db:"tenant_id"`
	CampaignID      string        `json:"campaign_id" db:"campaign_id"`
	CampaignContact string        `json:"campaign_contact_id" db:"campaign_contact_id"`
	CallSid         string        `json:"call_sid" db:"call_sid"`
	ActiveToken     string        `json:"active_token,omitempty" db:"active_token"`
	Status          CallLogStatus `json:"status" db:"status"`
	Duration        int           `json:"duration" db:"duration"`
	RecordingURL    string        `json:"recording_url,omitempty" db:"recording_url"`
	Voicemail       bool          `json:"voicemail" db:"voicemail"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	FinishedAt      *time.Time    `json:"finished_at" db:"finished_at"`
}
