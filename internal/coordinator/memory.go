package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCoordinator is an in-process Coordinator used by tests. It
// reproduces the same atomicity guarantees as the Redis implementation by
// holding a single mutex for the whole campaign map — adequate for tests,
// not for production concurrency.
type MemoryCoordinator struct {
	mu sync.Mutex

	limit      map[string]int
	paused     map[string]bool
	leases     map[string]map[string]string // campaignID -> member -> token
	reserved   map[string]int
	ledger     map[string]map[string]ledgerRow // campaignID -> "origin:jobID" -> row
	waitlist   map[string]map[string][]string  // campaignID -> priority -> jobIDs
	markers    map[string]map[string]bool      // campaignID -> jobID -> present
	seen       map[string]map[string]bool      // campaignID -> contactID -> present
	gate       map[string]int64
	mutexOwner map[string]string
	coldStart  map[string]string

	subs map[string][]chan struct{}
}

type ledgerRow struct {
	poppedAt time.Time
}

func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		limit:      make(map[string]int),
		paused:     make(map[string]bool),
		leases:     make(map[string]map[string]string),
		reserved:   make(map[string]int),
		ledger:     make(map[string]map[string]ledgerRow),
		waitlist:   make(map[string]map[string][]string),
		markers:    make(map[string]map[string]bool),
		seen:       make(map[string]map[string]bool),
		gate:       make(map[string]int64),
		mutexOwner: make(map[string]string),
		coldStart:  make(map[string]string),
		subs:       make(map[string][]chan struct{}),
	}
}

func (m *MemoryCoordinator) SetLimit(ctx context.Context, campaignID string, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit[campaignID] = limit
	return nil
}

func (m *MemoryCoordinator) GetLimit(ctx context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit[campaignID], nil
}

func (m *MemoryCoordinator) SetPaused(ctx context.Context, campaignID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[campaignID] = paused
	return nil
}

func (m *MemoryCoordinator) IsPaused(ctx context.Context, campaignID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[campaignID], nil
}

func (m *MemoryCoordinator) AcquirePreDial(ctx context.Context, campaignID, callID string, limit int, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leases[campaignID] == nil {
		m.leases[campaignID] = make(map[string]string)
	}
	if len(m.leases[campaignID])+m.reserved[campaignID] >= limit+1 {
		return "", ErrNoCapacity
	}
	token := uuid.NewString()
	m.leases[campaignID]["pre-"+callID] = token
	return token, nil
}

func (m *MemoryCoordinator) RenewPreDial(ctx context.Context, campaignID, callID, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[campaignID]["pre-"+callID]
	return ok && cur == token, nil
}

func (m *MemoryCoordinator) UpgradeToActive(ctx context.Context, campaignID, callID, preToken string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[campaignID]["pre-"+callID]
	if !ok || cur != preToken {
		return "", ErrLeaseMismatch
	}
	delete(m.leases[campaignID], "pre-"+callID)
	activeToken := uuid.NewString()
	m.leases[campaignID][callID] = activeToken
	return activeToken, nil
}

func (m *MemoryCoordinator) ReleaseSlot(ctx context.Context, campaignID, callID, token string, isPreDial, publish bool) error {
	m.mu.Lock()
	member := callID
	if isPreDial {
		member = "pre-" + callID
	}
	if cur, ok := m.leases[campaignID][member]; ok && cur == token {
		delete(m.leases[campaignID], member)
	}
	m.mu.Unlock()
	if publish {
		return m.PublishSlotAvailable(ctx, campaignID)
	}
	return nil
}

func (m *MemoryCoordinator) ClaimReservation(ctx context.Context, campaignID, origin, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved[campaignID] > 0 {
		m.reserved[campaignID]--
	}
	delete(m.ledger[campaignID], origin+":"+jobID)
	return nil
}

func (m *MemoryCoordinator) LeaseCount(ctx context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases[campaignID]), nil
}

func (m *MemoryCoordinator) ReservedCount(ctx context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved[campaignID], nil
}

func (m *MemoryCoordinator) LedgerSize(ctx context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger[campaignID]), nil
}

func (m *MemoryCoordinator) PushWaitlist(ctx context.Context, campaignID, priority, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markers[campaignID] == nil {
		m.markers[campaignID] = make(map[string]bool)
	}
	if m.markers[campaignID][jobID] {
		return nil
	}
	m.markers[campaignID][jobID] = true
	if m.waitlist[campaignID] == nil {
		m.waitlist[campaignID] = make(map[string][]string)
	}
	m.waitlist[campaignID][priority] = append(m.waitlist[campaignID][priority], jobID)
	return nil
}

func (m *MemoryCoordinator) RemoveWaitlistMarker(ctx context.Context, campaignID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers[campaignID], jobID)
	return nil
}

func (m *MemoryCoordinator) WaitlistMarkerExists(ctx context.Context, campaignID, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[campaignID][jobID], nil
}

func (m *MemoryCoordinator) MarkSeen(ctx context.Context, campaignID, contactID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[campaignID] == nil {
		m.seen[campaignID] = make(map[string]bool)
	}
	if m.seen[campaignID][contactID] {
		return false, nil
	}
	m.seen[campaignID][contactID] = true
	return true, nil
}

func (m *MemoryCoordinator) PopReserveAndPromote(ctx context.Context, campaignID string, limit, batchSize int) (PromotionBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inflight := len(m.leases[campaignID])
	reserved := m.reserved[campaignID]
	available := limit - inflight - reserved
	if available < 0 {
		available = 0
	}
	take := batchSize
	if take > available {
		take = available
	}
	if take <= 0 {
		return PromotionBatch{Seq: m.gate[campaignID]}, nil
	}

	now := time.Now()
	var entries []LedgerEntry
	for _, pr := range []struct{ name, origin string }{{PriorityHigh, OriginHigh}, {PriorityNormal, OriginNormal}} {
		for len(entries) < take && len(m.waitlist[campaignID][pr.name]) > 0 {
			id := m.waitlist[campaignID][pr.name][0]
			m.waitlist[campaignID][pr.name] = m.waitlist[campaignID][pr.name][1:]
			entries = append(entries, LedgerEntry{Origin: pr.origin, JobID: id, PoppedAt: now})
		}
	}
	if len(entries) == 0 {
		return PromotionBatch{Seq: m.gate[campaignID]}, nil
	}

	m.reserved[campaignID] += len(entries)
	m.gate[campaignID]++
	if m.ledger[campaignID] == nil {
		m.ledger[campaignID] = make(map[string]ledgerRow)
	}
	for _, e := range entries {
		m.ledger[campaignID][e.Origin+":"+e.JobID] = ledgerRow{poppedAt: now}
	}

	return PromotionBatch{Seq: m.gate[campaignID], IDs: entries}, nil
}

func (m *MemoryCoordinator) AcquirePromoteMutex(ctx context.Context, campaignID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.mutexOwner[campaignID]; ok && cur != "" {
		return false, nil
	}
	m.mutexOwner[campaignID] = owner
	return true, nil
}

func (m *MemoryCoordinator) RenewPromoteMutex(ctx context.Context, campaignID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutexOwner[campaignID] == owner, nil
}

func (m *MemoryCoordinator) ReleasePromoteMutex(ctx context.Context, campaignID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mutexOwner[campaignID] == owner {
		delete(m.mutexOwner, campaignID)
	}
	return nil
}

func (m *MemoryCoordinator) PromoteGate(ctx context.Context, campaignID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate[campaignID], nil
}

func (m *MemoryCoordinator) GetColdStart(ctx context.Context, campaignID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coldStart[campaignID], nil
}

func (m *MemoryCoordinator) SetColdStart(ctx context.Context, campaignID, state string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coldStart[campaignID] = state
	return nil
}

func (m *MemoryCoordinator) PublishSlotAvailable(ctx context.Context, campaignID string) error {
	m.mu.Lock()
	subs := append([]chan struct{}(nil), m.subs[campaignID]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *MemoryCoordinator) SubscribeSlotAvailable(ctx context.Context, campaignID string) (<-chan struct{}, func(), error) {
	m.mu.Lock()
	ch := make(chan struct{}, 8)
	m.subs[campaignID] = append(m.subs[campaignID], ch)
	m.mu.Unlock()
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[campaignID]
		for i, c := range list {
			if c == ch {
				m.subs[campaignID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}

func (m *MemoryCoordinator) ScanLeaseMembers(ctx context.Context, campaignID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.leases[campaignID]))
	for member := range m.leases[campaignID] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryCoordinator) LeaseTokenExists(ctx context.Context, campaignID, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.leases[campaignID][member]
	return ok, nil
}

func (m *MemoryCoordinator) RemoveLeaseMember(ctx context.Context, campaignID, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases[campaignID], member)
	return nil
}

func (m *MemoryCoordinator) ScanStaleLedgerEntries(ctx context.Context, campaignID string, olderThan time.Duration) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []LedgerEntry
	for key, row := range m.ledger[campaignID] {
		if row.poppedAt.Before(cutoff) {
			origin := key[:1]
			jobID := key[2:]
			out = append(out, LedgerEntry{Origin: origin, JobID: jobID, PoppedAt: row.poppedAt})
		}
	}
	return out, nil
}

func (m *MemoryCoordinator) RemoveLedgerEntry(ctx context.Context, campaignID, origin, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ledger[campaignID], origin+":"+jobID)
	return nil
}

func (m *MemoryCoordinator) SetReserved(ctx context.Context, campaignID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved[campaignID] = n
	return nil
}

func (m *MemoryCoordinator) SampleWaitlist(ctx context.Context, campaignID, priority string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.waitlist[campaignID][priority]
	if n > len(list) {
		n = len(list)
	}
	out := make([]string, n)
	copy(out, list[:n])
	return out, nil
}

func (m *MemoryCoordinator) RemoveFromWaitlist(ctx context.Context, campaignID, priority, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.waitlist[campaignID][priority]
	for i, id := range list {
		if id == jobID {
			m.waitlist[campaignID][priority] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

var _ Coordinator = (*MemoryCoordinator)(nil)
