package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"courtbook/internal/config"

	"github.com/redis/go-redis/v9"
)

// acquireScript sets every key only when none of them exists.
// ARGV[1] token, ARGV[2] lease in ms (0 = no expiry).
var acquireScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	if redis.call('EXISTS', key) == 1 then
		return 0
	end
end
local ttl = tonumber(ARGV[2])
for i, key in ipairs(KEYS) do
	if ttl > 0 then
		redis.call('SET', key, ARGV[1], 'PX', ttl)
	else
		redis.call('SET', key, ARGV[1])
	end
end
return 1
`)

// releaseScript deletes keys still holding the token and returns how many.
var releaseScript = redis.NewScript(`
local released = 0
for i, key in ipairs(KEYS) do
	if redis.call('GET', key) == ARGV[1] then
		redis.call('DEL', key)
		released = released + 1
	end
end
return released
`)

// renewScript extends keys still holding the token and returns how many.
var renewScript = redis.NewScript(`
local renewed = 0
for i, key in ipairs(KEYS) do
	if redis.call('GET', key) == ARGV[1] then
		redis.call('PEXPIRE', key, ARGV[2])
		renewed = renewed + 1
	end
end
return renewed
`)

// RedisLocker is a Locker shared by every process pointing at the same Redis.
type RedisLocker struct {
	client *redis.Client
	opts   Options
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		ContextTimeoutEnabled: true,
	})
}

func NewRedisLocker(client *redis.Client, opts Options) *RedisLocker {
	return &RedisLocker{client: client, opts: opts.withDefaults()}
}

func (l *RedisLocker) Acquire(ctx context.Context, keys []string) (*HandleSet, error) {
	if l.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	leaseMs := strconv.FormatInt(l.opts.Lease.Milliseconds(), 10)
	return acquireWithin(ctx, l.opts, keys, func(ctx context.Context, keys []string, token string) (bool, error) {
		res, err := acquireScript.Run(ctx, l.client, keys, token, leaseMs).Int()
		if err != nil {
			return false, err
		}
		return res == 1, nil
	})
}

func (l *RedisLocker) Renew(ctx context.Context, set *HandleSet, ttl time.Duration) error {
	if set.Len() == 0 {
		return nil
	}
	if ttl <= 0 {
		return fmt.Errorf("lock: renew ttl must be positive")
	}
	renewed, err := renewScript.Run(ctx, l.client, set.Keys, set.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to renew lock lease: %w", err)
	}
	if renewed != len(set.Keys) {
		return fmt.Errorf("lock: renewed %d of %d keys: %w", renewed, len(set.Keys), ErrNotAcquired)
	}
	set.Lease = ttl
	return nil
}

// Release removes the keys still owned by the set. Calling it again, or with
// keys that already expired, is a no-op.
func (l *RedisLocker) Release(ctx context.Context, set *HandleSet) (int, error) {
	if set.Len() == 0 || l.client == nil {
		return 0, nil
	}
	released, err := releaseScript.Run(ctx, l.client, set.Keys, set.Token).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to release locks: %w", err)
	}
	return released, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
