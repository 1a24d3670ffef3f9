package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"medgate/internal/ratelimit/models"
	"medgate/pkg/platform/sentinel"
)

// incrementScript bumps the counter, starts the window on the first hit and
// repairs keys that lost their expiry. Returns {count, pttl}.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore is the shared CounterStore used across gateway replicas.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore creates a store whose keys are namespaced by prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Increment runs the script atomically on the server.
func (s *RedisStore) Increment(ctx context.Context, key models.Key, window time.Duration) (models.Counter, error) {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	vals, err := incrementScript.Run(ctx, s.client, []string{s.redisKey(key)}, ms).Int64Slice()
	if err != nil {
		return models.Counter{}, fmt.Errorf("increment %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	if len(vals) != 2 {
		return models.Counter{}, fmt.Errorf("increment %s: unexpected reply of %d values: %w", key, len(vals), sentinel.ErrUnavailable)
	}
	return models.Counter{
		Count: int(vals[0]),
		TTL:   time.Duration(vals[1]) * time.Millisecond,
	}, nil
}

func (s *RedisStore) redisKey(key models.Key) string {
	if s.prefix == "" {
		return key.String()
	}
	return s.prefix + ":" + key.String()
}
