// Package coordination implements primary-only worker election: in a
// multi-process deployment, only one instance runs the dialing Worker so
// the platform does not thunder at startup. Every instance still runs
// promoters and reconcilers regardless of leadership.
package coordination

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ringpath/dialcore/internal/observability"
	"github.com/ringpath/dialcore/internal/store"
)

const lockKey = "dialcore:lock:worker-leader"

// LeaderElector holds a Redis SETNX lock, fenced by a durable Postgres
// epoch so a stale leader can never out-rank a fresher one even across a
// Redis flush.
type LeaderElector struct {
	redis  *redis.Client
	store  store.Store
	nodeID string
	ttl    time.Duration

	mu           sync.RWMutex
	isLeader     bool
	currentEpoch int64
	leaderCtx    context.Context
	leaderCancel context.CancelFunc

	onElected func(context.Context)
	onLost    func()
}

func NewLeaderElector(r *redis.Client, s store.Store, nodeID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{redis: r, store: s, nodeID: nodeID, ttl: ttl}
}

func (l *LeaderElector) SetCallbacks(onElected func(context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

// FencedContext returns a context valid only while this instance holds
// leadership; it is cancelled the moment leadership is lost.
func (l *LeaderElector) FencedContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leaderCtx
}

// Start runs the election loop until ctx is cancelled.
func (l *LeaderElector) Start(ctx context.Context) {
	go l.loop(ctx)
}

func (l *LeaderElector) Stop() {
	if l.IsLeader() {
		l.release(context.Background())
	}
}

func (l *LeaderElector) loop(ctx context.Context) {
	interval := l.ttl / 3
	minInterval := interval
	maxInterval := 10 * l.ttl

	renewFailures := 0
	const maxRenewFailures = 3

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.release(context.Background())
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.renew(ctx)
				if err == nil {
					renewFailures = 0
					if !renewed {
						l.stepDown()
					}
				} else {
					renewFailures++
					log.Printf("[coordination] leader renew failed (%d/%d): %v", renewFailures, maxRenewFailures, err)
					if renewFailures >= maxRenewFailures {
						l.stepDown()
						renewFailures = 0
					}
				}
			} else {
				var acquired bool
				acquired, err = l.acquire(ctx)
				if err == nil && acquired {
					l.becomeLeader(ctx)
					renewFailures = 0
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
			} else {
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, error) {
	epoch, err := l.store.IncrementLeaderEpoch(ctx, "worker-leader")
	if err != nil {
		return false, err
	}
	ok, err := l.redis.SetNX(ctx, lockKey, l.nodeID, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.mu.Lock()
		l.currentEpoch = epoch
		l.mu.Unlock()
	}
	return ok, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		end
		return 0
	`
	res, err := l.redis.Eval(ctx, script, []string{lockKey}, l.nodeID, int64(l.ttl/time.Second)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *LeaderElector) release(ctx context.Context) {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	l.redis.Eval(ctx, script, []string{lockKey}, l.nodeID)
	l.stepDown()
}

func (l *LeaderElector) becomeLeader(ctx context.Context) {
	l.mu.Lock()
	l.isLeader = true
	l.leaderCtx, l.leaderCancel = context.WithCancel(ctx)
	epoch := l.currentEpoch
	cb := l.onElected
	fctx := l.leaderCtx
	l.mu.Unlock()

	observability.LeaderEpoch.WithLabelValues(l.nodeID).Set(float64(epoch))
	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	log.Printf("[coordination] %s elected leader at epoch %d", l.nodeID, epoch)

	if cb != nil {
		go cb(fctx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	cancel := l.leaderCancel
	cb := l.onLost
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()
	log.Printf("[coordination] %s stepped down from leadership", l.nodeID)
	if cb != nil {
		cb()
	}
}
