package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript implements the fixed-window counter with sticky
// block atomically on the Redis side.
// KEYS[1] = counter key, KEYS[2] = block key
// ARGV = now (ms), window (ms), limit, block duration (ms)
// Returns: [allowed (0/1), remaining, retryAfterMs]
var fixedWindowScript = redis.NewScript(`
local counter = KEYS[1]
local blockKey = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local block = tonumber(ARGV[4])

local blockedUntil = redis.call('GET', blockKey)
if blockedUntil and tonumber(blockedUntil) > now then
    return {0, 0, tonumber(blockedUntil) - now}
end

local count = redis.call('INCR', counter)
if count == 1 then
    redis.call('PEXPIRE', counter, window)
end

if count > limit then
    redis.call('SET', blockKey, now + block, 'PX', block)
    redis.call('DEL', counter)
    return {0, 0, block}
end

return {1, limit - count, 0}
`)

const redisOpTimeout = 100 * time.Millisecond

// RedisStore shares rate limit counters across instances. Sticky
// blocks live in a companion key with the block duration as TTL, so
// semantics match MemoryStore exactly.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreConfig holds config for creating a RedisStore.
type RedisStoreConfig struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "bastion:rl:"
	}
	return &RedisStore{
		client: cfg.Client,
		prefix: prefix,
	}
}

// Consume implements Store. The caller fails open on error.
func (s *RedisStore) Consume(ctx context.Context, key string, limit CategoryLimit) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	result, err := fixedWindowScript.Run(ctx, s.client,
		[]string{s.prefix + key, s.prefix + "block:" + key},
		time.Now().UnixMilli(),
		limit.Window.Milliseconds(),
		limit.Limit,
		limit.BlockDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
	}
	if !out.Allowed {
		out.RetryAfter = time.Duration(result[2]) * time.Millisecond
	}
	return out, nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
