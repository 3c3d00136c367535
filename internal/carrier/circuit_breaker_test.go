package carrier

import "testing"

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker()
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		if cb.State() != CircuitClosed {
			t.Fatalf("expected closed before threshold, got %s at failure %d", cb.State(), i+1)
		}
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected Allow false while open within cooldown")
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker()
	cb.cooldownPeriod = 0
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if !cb.Allow() {
		t.Fatal("expected Allow to move to half-open with zero cooldown")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after halfOpenNeeded successes, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopensImmediately(t *testing.T) {
	cb := NewCircuitBreaker()
	cb.cooldownPeriod = 0
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	cb.Allow()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected a half-open failure to reopen, got %s", cb.State())
	}
}
