package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/accountguard/internal/tokens"
)

const (
	tokenRecordVersionV1 = 1

	tokenFlagConsumed   = 1 << 0
	tokenFlagSuperseded = 1 << 1

	maxTxRetries = 8
)

// RedisTokenStore keeps recovery tokens in Redis.
//
// Keys:
//
//	{prefix}:t:{hash}     encoded TokenRecord, TTL = token lifetime + retention
//	{prefix}:a:{account}  hash of the account's current unconsumed token
type RedisTokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisTokenStore creates a store. Records stay readable for retention after expiry.
func NewRedisTokenStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *RedisTokenStore {
	if prefix == "" {
		prefix = "art"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisTokenStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *RedisTokenStore) tokenKey(hash string) string {
	return s.prefix + ":t:" + hash
}

func (s *RedisTokenStore) currentKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Save stores record and makes it the account's only consumable token.
func (s *RedisTokenStore) Save(ctx context.Context, record *TokenRecord) (string, error) {
	if record == nil || record.AccountID == "" {
		return "", errors.New("recovery token record requires an account")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	encoded, err := encodeTokenRecord(record)
	if err != nil {
		return "", err
	}

	hash := record.Hash.String()
	key := s.tokenKey(hash)
	currentKey := s.currentKey(record.AccountID)
	ttl := record.ExpiresAt.Sub(record.IssuedAt) + s.retention
	if ttl <= 0 {
		ttl = time.Second
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prev, err := tx.Get(ctx, currentKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			var prevRecord *TokenRecord
			prevKey := ""
			if prev != "" && prev != hash {
				prevKey = s.tokenKey(prev)
				if err := tx.Watch(ctx, prevKey).Err(); err != nil {
					return err
				}
				data, err := tx.Get(ctx, prevKey).Bytes()
				switch {
				case errors.Is(err, redis.Nil):
				case err != nil:
					return err
				default:
					prevRecord, err = decodeTokenRecord(data)
					if err != nil {
						return err
					}
				}
			}

			var prevEncoded []byte
			if prevRecord != nil && !prevRecord.Consumed() && !prevRecord.Superseded() {
				prevRecord.SupersededAt = record.IssuedAt
				prevEncoded, err = encodeTokenRecord(prevRecord)
				if err != nil {
					return err
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if prevEncoded != nil {
					pipe.Set(ctx, prevKey, prevEncoded, redis.KeepTTL)
				}
				pipe.Set(ctx, key, encoded, ttl)
				pipe.Set(ctx, currentKey, hash, ttl)
				return nil
			})
			return err
		}, currentKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
		}
		return record.ID, nil
	}

	return "", fmt.Errorf("%w: save contention", ErrTokenStoreUnavailable)
}

// Consume atomically transitions the token identified by hash from valid to consumed.
func (s *RedisTokenStore) Consume(ctx context.Context, hash tokens.Hash, now time.Time) (*TokenRecord, error) {
	hexHash := hash.String()
	key := s.tokenKey(hexHash)

	for i := 0; i < maxTxRetries; i++ {
		var consumed *TokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrTokenNotFound
				}
				return err
			}

			record, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}
			if record.Consumed() {
				return ErrTokenAlreadyConsumed
			}
			if record.Superseded() {
				return ErrTokenSuperseded
			}

			currentKey := s.currentKey(record.AccountID)
			if err := tx.Watch(ctx, currentKey).Err(); err != nil {
				return err
			}
			current, err := tx.Get(ctx, currentKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if current != hexHash {
				return ErrTokenSuperseded
			}
			if !now.Before(record.ExpiresAt) {
				return ErrTokenExpired
			}

			record.ConsumedAt = now
			updated, err := encodeTokenRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				pipe.Del(ctx, currentKey)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if IsTokenRejection(err) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
		}

		return consumed, nil
	}

	// Uncertain outcome: fail closed.
	return nil, fmt.Errorf("%w: consume contention", ErrTokenStoreUnavailable)
}

// Get returns the stored record for hash without modifying it.
func (s *RedisTokenStore) Get(ctx context.Context, hash tokens.Hash) (*TokenRecord, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(hash.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	return decodeTokenRecord(data)
}

func encodeTokenRecord(record *TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)

	var flags byte
	if record.Consumed() {
		flags |= tokenFlagConsumed
	}
	if record.Superseded() {
		flags |= tokenFlagSuperseded
	}
	buf.WriteByte(flags)

	for _, ts := range []time.Time{record.IssuedAt, record.ExpiresAt, record.ConsumedAt, record.SupersededAt} {
		if err := binary.Write(&buf, binary.BigEndian, unixMilli(ts)); err != nil {
			return nil, err
		}
	}

	buf.Write(record.Hash[:])

	for _, field := range []string{record.ID, record.AccountID, record.IP, record.UserAgent} {
		if len(field) > 65535 {
			return nil, errors.New("recovery token record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid recovery token record version")
	}
	if _, err := reader.ReadByte(); err != nil {
		return nil, err
	}

	var stamps [4]int64
	for i := range stamps {
		if err := binary.Read(reader, binary.BigEndian, &stamps[i]); err != nil {
			return nil, err
		}
	}

	record := &TokenRecord{
		IssuedAt:     fromUnixMilli(stamps[0]),
		ExpiresAt:    fromUnixMilli(stamps[1]),
		ConsumedAt:   fromUnixMilli(stamps[2]),
		SupersededAt: fromUnixMilli(stamps[3]),
	}

	if _, err := io.ReadFull(reader, record.Hash[:]); err != nil {
		return nil, err
	}

	fields := []*string{&record.ID, &record.AccountID, &record.IP, &record.UserAgent}
	for _, field := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		value := make([]byte, n)
		if _, err := io.ReadFull(reader, value); err != nil {
			return nil, err
		}
		*field = string(value)
	}

	return record, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
