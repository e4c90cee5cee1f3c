package limiters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordFailureScript returns {count, until}. The lock expiry is only ever raised.
// ARGV: now (ms), threshold, base (ms), multiplier, max (ms).
var recordFailureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSET', KEYS[1], 'last', ARGV[1])
local current = tonumber(redis.call('HGET', KEYS[1], 'until') or '0')
if threshold > 0 and count >= threshold then
	local d = tonumber(ARGV[3]) * tonumber(ARGV[4]) ^ (count - threshold)
	local max = tonumber(ARGV[5])
	if max > 0 and (d ~= d or d >= max) then
		d = max
	end
	local want = now + math.floor(d)
	if want > current then
		redis.call('HSET', KEYS[1], 'until', string.format('%d', want))
		current = want
	end
end
return {count, current}
`)

// RedisLockoutStore keeps lockout state in a Redis hash per account:
// {prefix}:{account} -> count, until (unix ms), last (unix ms).
// No TTL is applied; failures reset only on success.
type RedisLockoutStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisLockoutStore creates a lockout store.
func NewRedisLockoutStore(redisClient redis.UniversalClient, prefix string) *RedisLockoutStore {
	if prefix == "" {
		prefix = "alo"
	}
	return &RedisLockoutStore{redis: redisClient, prefix: prefix}
}

func (s *RedisLockoutStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, accountID string, now time.Time, policy LockoutConfig) (LockoutState, error) {
	res, err := recordFailureScript.Run(ctx, s.redis, []string{s.key(accountID)},
		now.UnixMilli(),
		policy.Threshold,
		policy.BaseDuration.Milliseconds(),
		policy.Multiplier,
		policy.MaxDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 2 {
		return LockoutState{}, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}

	return LockoutState{
		AccountID:     accountID,
		Failures:      int(res[0]),
		LockedUntil:   millis(res[1]),
		LastFailureAt: now,
	}, nil
}

func (s *RedisLockoutStore) Reset(ctx context.Context, accountID string) (LockoutState, error) {
	key := s.key(accountID)

	var prev *redis.MapStringStringCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return decodeLockoutHash(accountID, prev.Val()), nil
}

func (s *RedisLockoutStore) Get(ctx context.Context, accountID string) (LockoutState, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(accountID)).Result()
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return decodeLockoutHash(accountID, fields), nil
}

func decodeLockoutHash(accountID string, fields map[string]string) LockoutState {
	state := LockoutState{AccountID: accountID}
	if v, err := strconv.Atoi(fields["count"]); err == nil {
		state.Failures = v
	}
	if v, err := strconv.ParseInt(fields["until"], 10, 64); err == nil {
		state.LockedUntil = millis(v)
	}
	if v, err := strconv.ParseInt(fields["last"], 10, 64); err == nil {
		state.LastFailureAt = millis(v)
	}
	return state
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
