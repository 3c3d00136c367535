// Package idempotency guards finalizeCall against duplicate webhook
// deliveries: the same callSid and terminal status arriving twice must
// only release the lease and bump counters once.
package idempotency

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttl = 24 * time.Hour

// Backend is the minimal Redis surface idempotency needs.
type Backend interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisBackend adapts *redis.Client's *Cmd-returning methods to Backend.
type RedisBackend struct {
	Client *redis.Client
}

func (b *RedisBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return b.Client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// Record is what was done the first time a (callSid, status) pair was seen.
type Record struct {
	CallLogID string
	Status    string
	SeenAt    time.Time
}

// Store dedupes finalizeCall deliveries. Prefers a Redis-backed Backend
// for cross-instance dedup; falls back to an in-process sync.Map when no
// backend is configured (standalone mode). A backend error is logged and
// treated as a miss; the sync.Map is not consulted in that case.
type Store struct {
	backend Backend
	cache   sync.Map
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Key builds the dedup key for a webhook delivery.
func Key(callSid, status string) string {
	return "finalize:" + callSid + ":" + status
}

func (s *Store) Seen(ctx context.Context, key string) (Record, bool) {
	if s.backend != nil {
		val, err := s.backend.Get(ctx, key)
		if err != nil {
			log.Printf("[idempotency] backend Get error for %s: %v", key, err)
			return Record{}, false
		}
		if val == "" {
			return Record{}, false
		}
		var r Record
		if err := json.Unmarshal([]byte(val), &r); err != nil {
			return Record{}, false
		}
		return r, true
	}

	val, ok := s.cache.Load(key)
	if !ok {
		return Record{}, false
	}
	r := val.(Record)
	if time.Since(r.SeenAt) > ttl {
		s.cache.Delete(key)
		return Record{}, false
	}
	return r, true
}

func (s *Store) MarkSeen(ctx context.Context, key string, rec Record) {
	rec.SeenAt = time.Now()
	if s.backend != nil {
		bytes, _ := json.Marshal(rec)
		if err := s.backend.Set(ctx, key, string(bytes), ttl); err != nil {
			log.Printf("[idempotency] backend Set error for %s: %v", key, err)
		}
		return
	}
	s.cache.Store(key, rec)
}
