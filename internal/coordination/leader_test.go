package coordination

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewLeaderElector's acquire/renew/release paths run Lua scripts and SETNX
// against a real Redis connection (see NewLeaderElector in leader.go), so
// they aren't exercisable against an in-memory fake here; they're covered
// by integration testing against a live Redis instance instead. This test
// only covers the zero-value behavior observable without ever starting
// the election loop.
func TestNewLeaderElectorStartsFollower(t *testing.T) {
	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer redisClient.Close()

	l := NewLeaderElector(redisClient, nil, "node-1", 30*time.Second)
	if l.IsLeader() {
		t.Fatal("expected a freshly constructed elector to not be leader")
	}
	if l.FencedContext() != nil {
		t.Fatal("expected no fenced context before election")
	}
}
