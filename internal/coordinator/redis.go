package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ringpath/dialcore/internal/observability"
)

// RedisCoordinator implements Coordinator against a Redis-compatible
// server. CRITICAL: the hot-path scripts (acquire_pre, pop_reserve_promote,
// release_slot) are preloaded with SCRIPT LOAD at construction time so the
// per-call cost is an EVALSHA, not a script upload — same reasoning as the
// teacher's preloaded versioned-set/get scripts.
type RedisCoordinator struct {
	client *redis.Client

	acquirePreSHA    string
	upgradeSHA       string
	releaseSlotSHA   string
	popPromoteSHA    string
	claimReservedSHA string
}

func NewRedisCoordinator(addr, password string, db int) (*RedisCoordinator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	c := &RedisCoordinator{client: client}

	scripts := []struct {
		src *string
		sha *string
	}{
		{&acquirePreScript, &c.acquirePreSHA},
		{&upgradeToActiveScript, &c.upgradeSHA},
		{&releaseSlotScript, &c.releaseSlotSHA},
		{&popReserveAndPromoteScript, &c.popPromoteSHA},
		{&claimReservationScript, &c.claimReservedSHA},
	}
	for _, s := range scripts {
		sha, err := client.ScriptLoad(ctx, *s.src).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to preload coordinator script: %w", err)
		}
		*s.sha = sha
	}

	return c, nil
}

func (c *RedisCoordinator) SetLimit(ctx context.Context, campaignID string, limit int) error {
	return c.client.Set(ctx, LimitKey(campaignID), limit, 0).Err()
}

func (c *RedisCoordinator) GetLimit(ctx context.Context, campaignID string) (int, error) {
	v, err := c.client.Get(ctx, LimitKey(campaignID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisCoordinator) SetPaused(ctx context.Context, campaignID string, paused bool) error {
	if paused {
		return c.client.Set(ctx, PausedKey(campaignID), "1", 0).Err()
	}
	return c.client.Del(ctx, PausedKey(campaignID)).Err()
}

func (c *RedisCoordinator) IsPaused(ctx context.Context, campaignID string) (bool, error) {
	n, err := c.client.Exists(ctx, PausedKey(campaignID)).Result()
	return n > 0, err
}

// --- Lease engine (C4) ---
//
// acquirePreDial: member = "pre-"+callID. If |leases|+reserved >=
// limit+1 the campaign is saturated and nil is returned (spec.md §4.4).
var acquirePreScript = `
-- KEYS[1]=leases KEYS[2]=reserved KEYS[3]=lease-token-key
-- ARGV[1]=member ARGV[2]=limit ARGV[3]=token ARGV[4]=ttl_seconds
local inflight = redis.call("SCARD", KEYS[1])
local reserved = tonumber(redis.call("GET", KEYS[2]) or "0")
local limit = tonumber(ARGV[2])
if inflight + reserved >= limit + 1 then
	return ""
end
redis.call("SADD", KEYS[1], ARGV[1])
redis.call("SET", KEYS[3], ARGV[3], "EX", tonumber(ARGV[4]))
return ARGV[3]
`

func (c *RedisCoordinator) AcquirePreDial(ctx context.Context, campaignID, callID string, limit int, ttl time.Duration) (string, error) {
	member := "pre-" + callID
	token := uuid.NewString()
	res, err := c.client.EvalSha(ctx, c.acquirePreSHA,
		[]string{LeasesKey(campaignID), ReservedKey(campaignID), LeaseTokenKey(campaignID, member)},
		member, limit, token, int64(ttl/time.Second),
	).Text()
	if err != nil {
		return "", err
	}
	if res == "" {
		return "", ErrNoCapacity
	}
	observability.LeasesAcquired.WithLabelValues(campaignID, "pre-dial").Inc()
	return res, nil
}

// renewPreDial extends the TTL of a live pre-dial lease if the supplied
// token still matches. The worker's heartbeat calls this every 10s
// (spec.md §4.5 step 5), capped at 45s cumulative by the caller.
var renewLeaseScript = `
local val = redis.call("GET", KEYS[1])
if not val then
	return 0
end
if val ~= ARGV[1] then
	return 0
end
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
return 1
`

func (c *RedisCoordinator) RenewPreDial(ctx context.Context, campaignID, callID, token string, ttl time.Duration) (bool, error) {
	member := "pre-" + callID
	res, err := c.client.Eval(ctx, renewLeaseScript, []string{LeaseTokenKey(campaignID, member)}, token, int64(ttl/time.Second)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// upgradeToActive swaps "pre-<callID>" for "<callID>" in the leases set.
// Cardinality is unchanged by the swap, so no capacity re-check is
// required (spec.md §4.4, §5 ordering guarantee (iv)).
var upgradeToActiveScript = `
-- KEYS[1]=leases KEYS[2]=pre-token-key KEYS[3]=active-token-key
-- ARGV[1]=pre_member ARGV[2]=pre_token ARGV[3]=active_member ARGV[4]=active_token ARGV[5]=ttl_seconds
local val = redis.call("GET", KEYS[2])
if val ~= ARGV[2] then
	return ""
end
redis.call("SREM", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2])
redis.call("SADD", KEYS[1], ARGV[3])
redis.call("SET", KEYS[3], ARGV[4], "EX", tonumber(ARGV[5]))
return ARGV[4]
`

func (c *RedisCoordinator) UpgradeToActive(ctx context.Context, campaignID, callID, preToken string, ttl time.Duration) (string, error) {
	preMember := "pre-" + callID
	activeToken := uuid.NewString()
	res, err := c.client.EvalSha(ctx, c.upgradeSHA,
		[]string{LeasesKey(campaignID), LeaseTokenKey(campaignID, preMember), LeaseTokenKey(campaignID, callID)},
		preMember, preToken, callID, activeToken, int64(ttl/time.Second),
	).Text()
	if err != nil {
		return "", err
	}
	if res == "" {
		return "", ErrLeaseMismatch
	}
	observability.LeasesAcquired.WithLabelValues(campaignID, "active").Inc()
	return res, nil
}

// releaseSlot is intentionally permissive about a mismatched token: a
// double-release from a retried webhook plus the original caller must
// both succeed as no-ops (spec.md §4.4 "Failure semantics").
var releaseSlotScript = `
-- KEYS[1]=leases KEYS[2]=lease-token-key
-- ARGV[1]=member ARGV[2]=token
local val = redis.call("GET", KEYS[2])
if val ~= ARGV[2] then
	return 0
end
redis.call("SREM", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2])
return 1
`

func (c *RedisCoordinator) ReleaseSlot(ctx context.Context, campaignID, callID, token string, isPreDial, publish bool) error {
	member := callID
	if isPreDial {
		member = "pre-" + callID
	}
	_, err := c.client.EvalSha(ctx, c.releaseSlotSHA,
		[]string{LeasesKey(campaignID), LeaseTokenKey(campaignID, member)},
		member, token,
	).Result()
	if err != nil {
		return err
	}
	observability.LeasesReleased.WithLabelValues(campaignID).Inc()
	if publish {
		return c.PublishSlotAvailable(ctx, campaignID)
	}
	return nil
}

// claimReservation decrements `reserved` (clamped at 0) and removes the
// ledger entry for the job. Called exactly once per promoted job at the
// earliest of: lease acquired, promotion failed, job abandoned.
var claimReservationScript = `
-- KEYS[1]=reserved KEYS[2]=ledger
-- ARGV[1]=member (origin:jobID)
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur > 0 then
	redis.call("DECR", KEYS[1])
end
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`

func (c *RedisCoordinator) ClaimReservation(ctx context.Context, campaignID, origin, jobID string) error {
	member := origin + ":" + jobID
	_, err := c.client.EvalSha(ctx, c.claimReservedSHA,
		[]string{ReservedKey(campaignID), ReservedLedgerKey(campaignID)},
		member,
	).Result()
	return err
}

func (c *RedisCoordinator) LeaseCount(ctx context.Context, campaignID string) (int, error) {
	n, err := c.client.SCard(ctx, LeasesKey(campaignID)).Result()
	return int(n), err
}

func (c *RedisCoordinator) ReservedCount(ctx context.Context, campaignID string) (int, error) {
	v, err := c.client.Get(ctx, ReservedKey(campaignID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisCoordinator) LedgerSize(ctx context.Context, campaignID string) (int, error) {
	n, err := c.client.ZCard(ctx, ReservedLedgerKey(campaignID)).Result()
	return int(n), err
}

// --- Waitlist + promoter (C3) ---

// PushWaitlist idempotently pushes jobID by guarding on a short-TTL NX
// marker (spec.md §4.2). Safe against duplicate `delayed` events.
var pushWaitlistScript = `
-- KEYS[1]=marker KEYS[2]=waitlist-list
-- ARGV[1]=jobID ARGV[2]=marker_ttl_seconds
if redis.call("SET", KEYS[1], "1", "NX", "EX", tonumber(ARGV[2])) then
	redis.call("RPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`

func (c *RedisCoordinator) PushWaitlist(ctx context.Context, campaignID, priority, jobID string) error {
	_, err := c.client.Eval(ctx, pushWaitlistScript,
		[]string{WaitlistMarkerKey(campaignID, jobID), WaitlistKey(campaignID, priority)},
		jobID, 30,
	).Result()
	return err
}

func (c *RedisCoordinator) RemoveWaitlistMarker(ctx context.Context, campaignID, jobID string) error {
	return c.client.Del(ctx, WaitlistMarkerKey(campaignID, jobID)).Err()
}

func (c *RedisCoordinator) WaitlistMarkerExists(ctx context.Context, campaignID, jobID string) (bool, error) {
	n, err := c.client.Exists(ctx, WaitlistMarkerKey(campaignID, jobID)).Result()
	return n > 0, err
}

func (c *RedisCoordinator) MarkSeen(ctx context.Context, campaignID, contactID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SAdd(ctx, WaitlistSeenKey(campaignID), contactID).Result()
	if err != nil {
		return false, err
	}
	if ok > 0 {
		c.client.Expire(ctx, WaitlistSeenKey(campaignID), ttl)
	} else {
		observability.DuplicateEnqueues.WithLabelValues(campaignID).Inc()
	}
	return ok > 0, nil
}

// popReserveAndPromoteScript is the single atomic script underpinning
// admission control (spec.md §4.3). It computes available capacity, pops
// from high then normal, bumps `reserved`, bumps the promotion gate, and
// records ledger entries — all inside one EVAL so two concurrent
// promoters can never over-reserve.
var popReserveAndPromoteScript = `
-- KEYS[1]=leases KEYS[2]=reserved KEYS[3]=ledger KEYS[4]=gate
-- KEYS[5]=waitlist:high KEYS[6]=waitlist:normal
-- ARGV[1]=limit ARGV[2]=batch_size ARGV[3]=now_ms
local inflight = redis.call("SCARD", KEYS[1])
local reserved = tonumber(redis.call("GET", KEYS[2]) or "0")
local limit = tonumber(ARGV[1])
local available = limit - inflight - reserved
if available < 0 then available = 0 end
local take = tonumber(ARGV[2])
if take > available then take = available end
if take <= 0 then
	return {0, tonumber(redis.call("GET", KEYS[4]) or "0"), {}}
end

local popped = {}
local origins = {}
local n = 0
while n < take do
	local id = redis.call("LPOP", KEYS[5])
	local origin = "H"
	if not id then
		id = redis.call("LPOP", KEYS[6])
		origin = "N"
	end
	if not id then
		break
	end
	n = n + 1
	popped[n] = id
	origins[n] = origin
end

if n == 0 then
	return {0, tonumber(redis.call("GET", KEYS[4]) or "0"), {}}
end

redis.call("INCRBY", KEYS[2], n)
local seq = redis.call("INCR", KEYS[4])

local result = {}
for i = 1, n do
	local member = origins[i] .. ":" .. popped[i]
	redis.call("ZADD", KEYS[3], ARGV[3], member)
	result[i] = origins[i] .. ":" .. popped[i]
end

return {n, seq, result}
`

func (c *RedisCoordinator) PopReserveAndPromote(ctx context.Context, campaignID string, limit, batchSize int) (PromotionBatch, error) {
	res, err := c.client.EvalSha(ctx, c.popPromoteSHA,
		[]string{
			LeasesKey(campaignID), ReservedKey(campaignID), ReservedLedgerKey(campaignID), PromoteGateKey(campaignID),
			WaitlistKey(campaignID, PriorityHigh), WaitlistKey(campaignID, PriorityNormal),
		},
		limit, batchSize, time.Now().UnixMilli(),
	).Result()
	if err != nil {
		return PromotionBatch{}, err
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return PromotionBatch{}, errors.New("coordinator: unexpected pop_reserve_promote reply shape")
	}
	seq, _ := arr[1].(int64)
	ids, _ := arr[2].([]interface{})
	entries := make([]LedgerEntry, 0, len(ids))
	now := time.Now()
	for _, raw := range ids {
		s, _ := raw.(string)
		if len(s) < 2 {
			continue
		}
		entries = append(entries, LedgerEntry{Origin: s[:1], JobID: s[2:], PoppedAt: now})
	}
	return PromotionBatch{Seq: seq, IDs: entries}, nil
}

func (c *RedisCoordinator) AcquirePromoteMutex(ctx context.Context, campaignID, owner string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, PromoteMutexKey(campaignID), owner, ttl).Result()
}

func (c *RedisCoordinator) RenewPromoteMutex(ctx context.Context, campaignID, owner string, ttl time.Duration) (bool, error) {
	res, err := c.client.Eval(ctx, renewLeaseScript, []string{PromoteMutexKey(campaignID)}, owner, int64(ttl/time.Second)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (c *RedisCoordinator) ReleasePromoteMutex(ctx context.Context, campaignID, owner string) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	_, err := c.client.Eval(ctx, script, []string{PromoteMutexKey(campaignID)}, owner).Result()
	return err
}

func (c *RedisCoordinator) PromoteGate(ctx context.Context, campaignID string) (int64, error) {
	v, err := c.client.Get(ctx, PromoteGateKey(campaignID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisCoordinator) GetColdStart(ctx context.Context, campaignID string) (string, error) {
	v, err := c.client.Get(ctx, ColdStartKey(campaignID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (c *RedisCoordinator) SetColdStart(ctx context.Context, campaignID, state string, ttl time.Duration) error {
	return c.client.Set(ctx, ColdStartKey(campaignID), state, ttl).Err()
}

func (c *RedisCoordinator) PublishSlotAvailable(ctx context.Context, campaignID string) error {
	err := c.client.Publish(ctx, SlotAvailableChannel(campaignID), "").Err()
	if err != nil {
		observability.EventPublishFailures.WithLabelValues("slot_available").Inc()
	}
	return err
}

func (c *RedisCoordinator) SubscribeSlotAvailable(ctx context.Context, campaignID string) (<-chan struct{}, func(), error) {
	sub := c.client.Subscribe(ctx, SlotAvailableChannel(campaignID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}
	out := make(chan struct{}, 8)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for range ch {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, func() { sub.Close() }, nil
}

// --- Reconciler support (C6) ---

func (c *RedisCoordinator) ScanLeaseMembers(ctx context.Context, campaignID string) ([]string, error) {
	return c.client.SMembers(ctx, LeasesKey(campaignID)).Result()
}

func (c *RedisCoordinator) LeaseTokenExists(ctx context.Context, campaignID, member string) (bool, error) {
	n, err := c.client.Exists(ctx, LeaseTokenKey(campaignID, member)).Result()
	return n > 0, err
}

func (c *RedisCoordinator) RemoveLeaseMember(ctx context.Context, campaignID, member string) error {
	return c.client.SRem(ctx, LeasesKey(campaignID), member).Err()
}

func (c *RedisCoordinator) ScanStaleLedgerEntries(ctx context.Context, campaignID string, olderThan time.Duration) ([]LedgerEntry, error) {
	max := float64(time.Now().Add(-olderThan).UnixMilli())
	members, err := c.client.ZRangeByScore(ctx, ReservedLedgerKey(campaignID), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", max),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LedgerEntry, 0, len(members))
	for _, m := range members {
		if len(m) < 2 {
			continue
		}
		out = append(out, LedgerEntry{Origin: m[:1], JobID: m[2:]})
	}
	return out, nil
}

func (c *RedisCoordinator) RemoveLedgerEntry(ctx context.Context, campaignID, origin, jobID string) error {
	return c.client.ZRem(ctx, ReservedLedgerKey(campaignID), origin+":"+jobID).Err()
}

func (c *RedisCoordinator) SetReserved(ctx context.Context, campaignID string, n int) error {
	return c.client.Set(ctx, ReservedKey(campaignID), n, 0).Err()
}

func (c *RedisCoordinator) SampleWaitlist(ctx context.Context, campaignID, priority string, n int) ([]string, error) {
	return c.client.LRange(ctx, WaitlistKey(campaignID, priority), 0, int64(n-1)).Result()
}

func (c *RedisCoordinator) RemoveFromWaitlist(ctx context.Context, campaignID, priority, jobID string) error {
	return c.client.LRem(ctx, WaitlistKey(campaignID, priority), 1, jobID).Err()
}
