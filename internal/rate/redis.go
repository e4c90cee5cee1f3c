package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript returns {allowed, count, pttl}. A full bucket is not incremented.
var hitScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if count >= max then
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], window)
		ttl = window
	end
	return {0, count, ttl}
end
count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], window)
	ttl = window
end
return {1, count, ttl}
`)

// RedisBackend keeps buckets as Redis counters whose TTL is the window remainder.
type RedisBackend struct {
	redis redis.UniversalClient
}

// NewRedisBackend creates a Redis-backed bucket store.
func NewRedisBackend(redisClient redis.UniversalClient) *RedisBackend {
	return &RedisBackend{redis: redisClient}
}

func (b *RedisBackend) Hit(ctx context.Context, key string, rule Rule) (Decision, error) {
	res, err := hitScript.Run(ctx, b.redis, []string{key}, rule.Max, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrBackendUnavailable)
	}

	d := Decision{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return d, nil
}
