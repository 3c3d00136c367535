package carrier

import (
	"context"
	"errors"
	"testing"
)

type fakeInner struct {
	err   error
	calls int
}

func (f *fakeInner) Initiate(ctx context.Context, params InitiateParams) (CallDetails, error) {
	f.calls++
	return CallDetails{SID: "sid"}, f.err
}

func (f *fakeInner) Hangup(ctx context.Context, sid string) error { return f.err }

func (f *fakeInner) GetDetails(ctx context.Context, sid string) (CallDetails, error) {
	return CallDetails{SID: sid}, f.err
}

func TestRateLimitedCarrierPassesThroughOnSuccess(t *testing.T) {
	inner := &fakeInner{}
	rl := NewRateLimitedCarrier(inner)
	details, err := rl.Initiate(context.Background(), InitiateParams{To: "+15550001111"})
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if details.SID != "sid" {
		t.Fatalf("expected sid passed through, got %q", details.SID)
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner carrier invoked once, got %d", inner.calls)
	}
}

func TestRateLimitedCarrierOpensCircuitAfterRepeatedFailures(t *testing.T) {
	inner := &fakeInner{err: errors.New("carrier unreachable")}
	rl := NewRateLimitedCarrier(inner)
	for i := 0; i < 5; i++ {
		if _, err := rl.Initiate(context.Background(), InitiateParams{}); err == nil {
			t.Fatalf("expected failure at call %d", i+1)
		}
	}
	_, err := rl.Initiate(context.Background(), InitiateParams{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open after repeated failures, got %v", err)
	}
	if inner.calls != 5 {
		t.Fatalf("expected inner carrier not invoked once circuit opened, got %d calls", inner.calls)
	}
}

func TestRateLimitedCarrierClassifiesFatalCredentialErrorWithoutTrippingBreaker(t *testing.T) {
	inner := &fakeInner{err: NewHTTPStatusError(401, errors.New("unauthorized"))}
	rl := NewRateLimitedCarrier(inner)
	if _, err := rl.Initiate(context.Background(), InitiateParams{}); err == nil {
		t.Fatal("expected fatal credential error to surface")
	}
	if rl.breaker.State() != CircuitClosed {
		t.Fatalf("expected fatal credential errors to bypass the breaker, got %s", rl.breaker.State())
	}
}
