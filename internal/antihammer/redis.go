package antihammer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces antihammer keys in a shared Redis.
const DefaultKeyPrefix = "tasklane:antihammer:"

// hitScript increments the counter and stretches its TTL to count*cooldown,
// the time the in-memory store would need to decay it to zero.
var hitScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	redis.call('PEXPIRE', KEYS[1], n * tonumber(ARGV[1]))
	return n
`)

// RedisStore keeps failure counters in Redis so that every instance behind
// a load balancer sees the same window.
type RedisStore struct {
	client   redisClient
	prefix   string
	cooldown time.Duration
}

// redisClient is the subset of *redis.Client the store uses.
type redisClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
}

// NewRedisStore creates a store on client. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisStore(client redisClient, prefix string, cooldown time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		cooldown: normaliseCooldown(cooldown),
	}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string) (int64, error) {
	n, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, s.cooldown.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("recording failure: %w", err)
	}
	return n, nil
}

// Count implements Store. A missing key counts as zero.
func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, s.prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading failure count: %w", err)
	}
	return n, nil
}
