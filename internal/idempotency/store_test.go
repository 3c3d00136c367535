package idempotency

import (
	"context"
	"testing"
	"time"
)

// memBackend is a minimal in-process stand-in for a Redis-backed Backend.
type memBackend struct {
	data map[string]string
}

func (b *memBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	b.data[key] = value
	return nil
}

func (b *memBackend) Get(ctx context.Context, key string) (string, error) {
	return b.data[key], nil
}

func TestKeyIncludesSidAndStatus(t *testing.T) {
	if got, want := Key("CA123", "completed"), "finalize:CA123:completed"; got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
}

func TestStoreWithoutBackendFallsBackToInProcessCache(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	key := Key("CA1", "completed")

	if _, ok := s.Seen(ctx, key); ok {
		t.Fatal("expected unseen key to report false")
	}
	s.MarkSeen(ctx, key, Record{CallLogID: "cl-1", Status: "completed"})

	rec, ok := s.Seen(ctx, key)
	if !ok {
		t.Fatal("expected key to be seen after MarkSeen")
	}
	if rec.CallLogID != "cl-1" {
		t.Fatalf("expected call log id cl-1, got %q", rec.CallLogID)
	}
}

func TestStoreWithBackendDelegatesAndSurvivesMiss(t *testing.T) {
	backend := &memBackend{data: make(map[string]string)}
	s := NewStore(backend)
	ctx := context.Background()
	key := Key("CA2", "failed")

	if _, ok := s.Seen(ctx, key); ok {
		t.Fatal("expected miss on empty backend")
	}
	s.MarkSeen(ctx, key, Record{CallLogID: "cl-2", Status: "failed"})

	rec, ok := s.Seen(ctx, key)
	if !ok {
		t.Fatal("expected hit after MarkSeen through backend")
	}
	if rec.CallLogID != "cl-2" {
		t.Fatalf("expected call log id cl-2, got %q", rec.CallLogID)
	}
}
