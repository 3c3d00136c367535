package carrier

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StubCarrier is a placeholder Carrier for wiring the dispatch core
// standalone. It always answers immediately; operators swap it for a real
// HTTP client against their telephony provider, which is out of scope here.
type StubCarrier struct{}

func NewStubCarrier() *StubCarrier {
	return &StubCarrier{}
}

func (StubCarrier) Initiate(ctx context.Context, params InitiateParams) (CallDetails, error) {
	return CallDetails{
		SID:         uuid.NewString(),
		Status:      StatusRinging,
		Direction:   "outbound-api",
		DateCreated: time.Now(),
	}, nil
}

func (StubCarrier) Hangup(ctx context.Context, sid string) error {
	return nil
}

func (StubCarrier) GetDetails(ctx context.Context, sid string) (CallDetails, error) {
	return CallDetails{SID: sid, Status: StatusCompleted}, nil
}

var _ Carrier = (*StubCarrier)(nil)
