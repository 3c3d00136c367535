// Package carrier declares the abstract telephony carrier contract the
// worker consumes, and a rate-limited, circuit-broken decorator around it.
// The concrete HTTP client that talks to a real carrier is out of scope;
// tests and the worker unit tests use a fake Carrier.
package carrier

import (
	"context"
	"errors"
	"time"
)

type CallStatus string

const (
	StatusQueued     CallStatus = "queued"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in-progress"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
	StatusBusy       CallStatus = "busy"
	StatusNoAnswer   CallStatus = "no-answer"
)

// InitiateParams carries everything the carrier needs to place a call.
// CustomField carries the call-log id so the webhook can correlate it
// back to a CallLog row without a separate lookup.
type InitiateParams struct {
	From          string
	To            string
	CallerID      string
	AppID         string
	CustomField   string
	Credentials   map[string]string
}

type CallDetails struct {
	SID         string
	Status      CallStatus
	Direction   string
	DateCreated time.Time
}

// Carrier is the abstract outbound-call transport the worker invokes.
type Carrier interface {
	Initiate(ctx context.Context, params InitiateParams) (CallDetails, error)
	Hangup(ctx context.Context, sid string) error
	GetDetails(ctx context.Context, sid string) (CallDetails, error)
}

var (
	ErrCredentialsFatal = errors.New("carrier: credentials rejected (401/403), phone disabled")
	ErrRateLimited       = errors.New("carrier: rate limited, backoff and retry")
	ErrCircuitOpen       = errors.New("carrier: circuit open, failing fast")
)
