package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable indicates the session store could not be reached.
var ErrRedisUnavailable = errors.New("session redis unavailable")

// RedisInvalidator revokes every session of an account in a Redis-backed session
// store that indexes sessions per account.
//
// Keys:
//
//	{prefix}:{sessionID}     session blob (owned by the session layer)
//	{prefix}:au:{accountID}  set of the account's session IDs
//	{prefix}:av:{accountID}  account version, bumped on every invalidation so
//	                         stateless credentials minted earlier can be rejected
type RedisInvalidator struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisInvalidator creates an invalidator. prefix is the session key namespace.
func NewRedisInvalidator(redisClient redis.UniversalClient, prefix string) *RedisInvalidator {
	if prefix == "" {
		prefix = "as"
	}
	return &RedisInvalidator{redis: redisClient, prefix: prefix}
}

func (s *RedisInvalidator) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *RedisInvalidator) accountKey(accountID string) string {
	return s.prefix + ":au:" + accountID
}

func (s *RedisInvalidator) versionKey(accountID string) string {
	return s.prefix + ":av:" + accountID
}

// Track indexes sessionID under accountID. The session layer calls it when a
// session is created; ttl bounds the index entry's lifetime.
func (s *RedisInvalidator) Track(ctx context.Context, accountID, sessionID string, ttl time.Duration) error {
	accountKey := s.accountKey(accountID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, accountKey, sessionID)
		if ttl > 0 {
			pipe.Expire(ctx, accountKey, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// InvalidateSessions deletes every tracked session for accountID and bumps the
// account version. It is idempotent.
//
// A session indexed between the read and delete phases survives this call; it is
// still rejected by the version bump for verifiers that check {prefix}:av:{account}.
func (s *RedisInvalidator) InvalidateSessions(ctx context.Context, accountID string) error {
	accountKey := s.accountKey(accountID)

	sessionIDs, err := s.redis.SMembers(ctx, accountKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessionKeys := make([]string, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		sessionKeys = append(sessionKeys, s.key(sessionID))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(sessionKeys) > 0 {
			pipe.Del(ctx, sessionKeys...)
			pipe.SRem(ctx, accountKey, toAny(sessionIDs)...)
		}
		pipe.Incr(ctx, s.versionKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AccountVersion returns the current account version (0 if never invalidated).
func (s *RedisInvalidator) AccountVersion(ctx context.Context, accountID string) (int64, error) {
	v, err := s.redis.Get(ctx, s.versionKey(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return v, nil
}

// ActiveSessionIDs returns the tracked session IDs for accountID.
func (s *RedisInvalidator) ActiveSessionIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
