package lease

import (
	"context"
	"testing"

	"github.com/ringpath/dialcore/internal/coordinator"
)

func TestAcquirePreDialThenUpgradeToActive(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	e := NewEngine(coord)

	p, err := e.AcquirePreDial(ctx, "camp-1", "call-1", 5)
	if err != nil {
		t.Fatalf("AcquirePreDial failed: %v", err)
	}
	defer p.halt()

	leases, err := coord.LeaseCount(ctx, "camp-1")
	if err != nil {
		t.Fatalf("LeaseCount failed: %v", err)
	}
	if leases != 1 {
		t.Fatalf("expected one pre-dial lease held, got %d", leases)
	}

	activeToken, err := p.Upgrade(ctx)
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if activeToken == "" {
		t.Fatal("expected a non-empty active token")
	}

	leases, _ = coord.LeaseCount(ctx, "camp-1")
	if leases != 1 {
		t.Fatalf("expected the lease to still be held after upgrade, got %d", leases)
	}
}

func TestAcquirePreDialRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	e := NewEngine(coord)

	first, err := e.AcquirePreDial(ctx, "camp-2", "call-1", 0)
	if err != nil {
		t.Fatalf("first AcquirePreDial failed: %v", err)
	}
	defer first.halt()

	if _, err := e.AcquirePreDial(ctx, "camp-2", "call-2", 0); err == nil {
		t.Fatal("expected second pre-dial to be rejected once the limit+1 slack is exhausted")
	}
}

func TestReleaseFreesTheSlot(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	e := NewEngine(coord)

	p, err := e.AcquirePreDial(ctx, "camp-3", "call-1", 0)
	if err != nil {
		t.Fatalf("AcquirePreDial failed: %v", err)
	}
	if err := p.Release(ctx, false); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	leases, _ := coord.LeaseCount(ctx, "camp-3")
	if leases != 0 {
		t.Fatalf("expected slot freed after release, got %d leases", leases)
	}

	// A fresh pre-dial should now succeed again against the same limit,
	// proving the slot was actually returned rather than merely unused.
	second, err := e.AcquirePreDial(ctx, "camp-3", "call-2", 0)
	if err != nil {
		t.Fatalf("expected capacity available after release, got: %v", err)
	}
	defer second.halt()
}

func TestReleaseActiveFreesTheSlot(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.NewMemoryCoordinator()
	e := NewEngine(coord)

	p, err := e.AcquirePreDial(ctx, "camp-4", "call-1", 1)
	if err != nil {
		t.Fatalf("AcquirePreDial failed: %v", err)
	}
	activeToken, err := p.Upgrade(ctx)
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}

	if err := e.ReleaseActive(ctx, "camp-4", "call-1", activeToken, false); err != nil {
		t.Fatalf("ReleaseActive failed: %v", err)
	}
	leases, _ := coord.LeaseCount(ctx, "camp-4")
	if leases != 0 {
		t.Fatalf("expected slot freed after ReleaseActive, got %d leases", leases)
	}
}
