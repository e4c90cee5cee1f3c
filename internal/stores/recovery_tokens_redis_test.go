package stores

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountguard/internal/tokens"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func issueRecord(t *testing.T, issuer *tokens.Issuer, accountID string) (tokens.Token, *TokenRecord) {
	t.Helper()

	tok, err := issuer.Issue(accountID)
	require.NoError(t, err)
	return tok, &TokenRecord{
		AccountID: accountID,
		Hash:      tok.Hash,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
		IP:        "203.0.113.7",
		UserAgent: "test-agent",
	}
}

func TestRedisTokenStoreConsumeOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	issuer := tokens.NewIssuer(time.Hour, func() time.Time { return now }, nil)
	store := NewRedisTokenStore(rdb, "", 24*time.Hour)

	tok, rec := issueRecord(t, issuer, "u1")
	id, err := store.Save(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Consume(ctx, tok.Hash, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", got.AccountID)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "203.0.113.7", got.IP)
	assert.True(t, got.Consumed())

	_, err = store.Consume(ctx, tok.Hash, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)

	// consumed records are retained for audit, not deleted
	stored, err := store.Get(ctx, tok.Hash)
	require.NoError(t, err)
	assert.True(t, stored.Consumed())
}

func TestRedisTokenStoreRejectsUnknownAndExpired(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	issuer := tokens.NewIssuer(time.Hour, func() time.Time { return now }, nil)
	store := NewRedisTokenStore(rdb, "art", time.Hour)

	unknown, _ := issueRecord(t, issuer, "u1")
	_, err := store.Consume(ctx, unknown.Hash, now)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	tok, rec := issueRecord(t, issuer, "u2")
	_, err = store.Save(ctx, rec)
	require.NoError(t, err)

	_, err = store.Consume(ctx, tok.Hash, now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, "expired", FailureReason(err))
}

func TestRedisTokenStoreSupersedesOlderToken(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	issuer := tokens.NewIssuer(time.Hour, func() time.Time { return now }, nil)
	store := NewRedisTokenStore(rdb, "art", time.Hour)

	first, firstRec := issueRecord(t, issuer, "u1")
	_, err := store.Save(ctx, firstRec)
	require.NoError(t, err)

	second, secondRec := issueRecord(t, issuer, "u1")
	_, err = store.Save(ctx, secondRec)
	require.NoError(t, err)

	_, err = store.Consume(ctx, first.Hash, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrTokenSuperseded)

	old, err := store.Get(ctx, first.Hash)
	require.NoError(t, err)
	assert.True(t, old.Superseded())

	got, err := store.Consume(ctx, second.Hash, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", got.AccountID)
}

func TestRedisTokenStoreConcurrentConsume(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	issuer := tokens.NewIssuer(time.Hour, func() time.Time { return now }, nil)
	store := NewRedisTokenStore(rdb, "art", time.Hour)

	tok, rec := issueRecord(t, issuer, "u1")
	_, err := store.Save(ctx, rec)
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		failures  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.Consume(ctx, tok.Hash, now.Add(time.Second)); err != nil {
				failures.Add(1)
				return
			}
			successes.Add(1)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), failures.Load())
}

func TestRedisTokenStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()
	issuer := tokens.NewIssuer(time.Hour, func() time.Time { return now }, nil)
	store := NewRedisTokenStore(rdb, "art", time.Hour)

	tok, rec := issueRecord(t, issuer, "u1")
	mr.Close()

	_, err := store.Save(ctx, rec)
	assert.ErrorIs(t, err, ErrTokenStoreUnavailable)

	_, err = store.Consume(ctx, tok.Hash, now)
	assert.ErrorIs(t, err, ErrTokenStoreUnavailable)
	assert.False(t, IsTokenRejection(err))
}

func TestTokenRecordCodecRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000).UTC()
	rec := &TokenRecord{
		ID:         "id-1",
		AccountID:  "acct",
		Hash:       tokens.Hash{1, 2, 3},
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Hour),
		ConsumedAt: now.Add(time.Minute),
		UserAgent:  "ua",
	}

	data, err := encodeTokenRecord(rec)
	require.NoError(t, err)
	got, err := decodeTokenRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	data[0] = 9
	_, err = decodeTokenRecord(data)
	assert.True(t, err != nil && !errors.Is(err, ErrTokenNotFound))
}
