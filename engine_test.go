package accountguard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalaudit "github.com/MrEthical07/accountguard/internal/audit"
	"github.com/MrEthical07/accountguard/password"
)

type memAccounts struct {
	mu          sync.Mutex
	byEmail     map[string]Account
	credentials map[string]string
	lookupErr   error
}

func newMemAccounts(accounts ...Account) *memAccounts {
	m := &memAccounts{byEmail: map[string]Account{}, credentials: map[string]string{}}
	for _, a := range accounts {
		m.byEmail[strings.ToLower(a.Email)] = a
	}
	return m
}

func (m *memAccounts) AccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return Account{}, m.lookupErr
	}
	a, ok := m.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (m *memAccounts) UpdateCredentialHash(_ context.Context, accountID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[accountID] = hash
	return nil
}

func (m *memAccounts) credential(accountID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentials[accountID]
}

type captureNotifier struct {
	notices chan RecoveryNotice
}

func (n *captureNotifier) SendRecoveryEmail(_ context.Context, notice RecoveryNotice) error {
	n.notices <- notice
	return nil
}

func (n *captureNotifier) next(t *testing.T) RecoveryNotice {
	t.Helper()
	select {
	case notice := <-n.notices:
		return notice
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery notice delivered")
		return RecoveryNotice{}
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEngine struct {
	*Engine
	accounts *memAccounts
	notifier *captureNotifier
	audit    *lockedBuffer
	redis    *miniredis.Miniredis
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Enumeration = EnumerationConfig{}
	cfg.Token.ResetURL = "https://app.example.com/reset"
	return cfg
}

func newTestEngine(t testing.TB, mutate func(*Config)) *testEngine {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	te := &testEngine{
		accounts: newMemAccounts(
			Account{ID: "u1", Email: "alice@example.com"},
			Account{ID: "u2", Email: "bob@example.com", Disabled: true},
		),
		notifier: &captureNotifier{notices: make(chan RecoveryNotice, 64)},
		audit:    &lockedBuffer{},
		redis:    mr,
		clock:    &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(te.accounts).
		WithNotifier(te.notifier).
		WithAuditSink(NewJSONWriterSink(te.audit)).
		WithClock(te.clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	te.Engine = engine
	return te
}

func tokenFromNotice(t *testing.T, notice RecoveryNotice) string {
	t.Helper()
	u, err := url.Parse(notice.ResetURL)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func TestRequestResetResponsesAreIdentical(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	known, err := te.RequestReset(ctx, "Alice@Example.com", "203.0.113.1", "ua")
	require.NoError(t, err)
	unknown, err := te.RequestReset(ctx, "mallory@example.com", "203.0.113.1", "ua")
	require.NoError(t, err)
	disabled, err := te.RequestReset(ctx, "bob@example.com", "203.0.113.1", "ua")
	require.NoError(t, err)

	knownBody, _ := json.Marshal(known)
	unknownBody, _ := json.Marshal(unknown)
	disabledBody, _ := json.Marshal(disabled)
	assert.Equal(t, knownBody, unknownBody)
	assert.Equal(t, knownBody, disabledBody)

	notice := te.notifier.next(t)
	assert.Equal(t, "u1", notice.AccountID)
	assert.Equal(t, "alice@example.com", notice.To)
	assert.True(t, strings.HasPrefix(notice.ResetURL, "https://app.example.com/reset?token="))
	assert.Equal(t, te.clock.Now().Add(time.Hour), notice.ExpiresAt)

	select {
	case extra := <-te.notifier.notices:
		t.Fatalf("unexpected notice for %s", extra.AccountID)
	default:
	}
}

func TestRequestResetRateLimitIsSilent(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		resp, err := te.RequestReset(ctx, "alice@example.com", "203.0.113.1", "ua")
		require.NoError(t, err)
		assert.Equal(t, GenericResetMessage, resp.Message)
	}

	for i := 0; i < 3; i++ {
		te.notifier.next(t)
	}
	assert.Equal(t, uint64(2), te.MetricsSnapshot().Counters[MetricResetRequestRateLimited])
}

func TestRequestResetStorageFailureFailsClosed(t *testing.T) {
	te := newTestEngine(t, nil)
	te.accounts.lookupErr = errors.New("connection refused")

	_, err := te.RequestReset(context.Background(), "alice@example.com", "", "")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestRequestResetEnumerationFloor(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.Enumeration = EnumerationConfig{ResponseFloor: 20 * time.Millisecond, MaxJitter: 5 * time.Millisecond}
	})

	started := time.Now()
	_, err := te.RequestReset(context.Background(), "mallory@example.com", "", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)

	hist := te.MetricsSnapshot().Histograms[MetricResetRequestLatency]
	require.Len(t, hist, 8)
	assert.Equal(t, uint64(1), hist[0])
}

func TestCompleteResetChangesCredentialOnce(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := te.RequestReset(ctx, "alice@example.com", "203.0.113.1", "ua")
	require.NoError(t, err)
	token := tokenFromNotice(t, te.notifier.next(t))

	require.NoError(t, te.CompleteReset(ctx, token, "correct-Horse-battery", "203.0.113.1", "ua"))

	ok, err := te.hasher.Verify("correct-Horse-battery", te.accounts.credential("u1"))
	require.NoError(t, err)
	assert.True(t, ok)

	err = te.CompleteReset(ctx, token, "another-Horse-battery", "203.0.113.1", "ua")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, "invalid or expired token", err.Error())
}

func TestCompleteResetSupersededAndExpiredCollapse(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := te.RequestReset(ctx, "alice@example.com", "", "")
	require.NoError(t, err)
	first := tokenFromNotice(t, te.notifier.next(t))
	_, err = te.RequestReset(ctx, "alice@example.com", "", "")
	require.NoError(t, err)
	second := tokenFromNotice(t, te.notifier.next(t))

	assert.ErrorIs(t, te.CompleteReset(ctx, first, "correct-Horse-battery", "", ""), ErrInvalidToken)

	te.clock.Advance(time.Hour + time.Second)
	assert.ErrorIs(t, te.CompleteReset(ctx, second, "correct-Horse-battery", "", ""), ErrInvalidToken)
	assert.ErrorIs(t, te.CompleteReset(ctx, "not-a-token", "correct-Horse-battery", "", ""), ErrInvalidToken)

	assert.Empty(t, te.accounts.credential("u1"))
}

func TestCompleteResetConcurrentRedemption(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.RateLimit.ResetComplete.Max = 100
	})
	ctx := context.Background()

	_, err := te.RequestReset(ctx, "alice@example.com", "", "")
	require.NoError(t, err)
	token := tokenFromNotice(t, te.notifier.next(t))

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalid   int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := te.CompleteReset(ctx, token, "correct-Horse-battery", "", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvalidToken):
				invalid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, invalid)
}

func TestCompleteResetWeakCredentialKeepsToken(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := te.RequestReset(ctx, "alice@example.com", "", "")
	require.NoError(t, err)
	token := tokenFromNotice(t, te.notifier.next(t))

	err = te.CompleteReset(ctx, token, "short", "", "")
	assert.ErrorIs(t, err, ErrWeakCredential)
	assert.ErrorIs(t, err, password.ErrWeakCredential)

	require.NoError(t, te.CompleteReset(ctx, token, "correct-Horse-battery", "", ""))
}

func TestCompleteResetRateLimitReturnsRetryAfter(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.RateLimit.ResetComplete = RateLimitRule{Max: 2, Window: 10 * time.Minute}
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, te.CompleteReset(ctx, "bogus", "correct-Horse-battery", "198.51.100.4", ""), ErrInvalidToken)
	}

	err := te.CompleteReset(ctx, "bogus", "correct-Horse-battery", "198.51.100.4", "")
	require.ErrorIs(t, err, ErrRateLimited)
	retry, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, 10*time.Minute)
}

func TestCompleteResetClearsLockoutAndSessions(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := te.RecordLoginAttempt(ctx, LoginAttempt{AccountID: "u1"})
		require.NoError(t, err)
	}
	decision, err := te.CheckAccess(ctx, "u1")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	te.redis.SAdd("as:au:u1", "s1", "s2")
	require.NoError(t, te.redis.Set("as:s1", "blob"))
	require.NoError(t, te.redis.Set("as:s2", "blob"))

	_, err = te.RequestReset(ctx, "alice@example.com", "", "")
	require.NoError(t, err)
	token := tokenFromNotice(t, te.notifier.next(t))
	require.NoError(t, te.CompleteReset(ctx, token, "correct-Horse-battery", "", ""))

	decision, err = te.CheckAccess(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.False(t, te.redis.Exists("as:s1"))
	assert.False(t, te.redis.Exists("as:s2"))
}

func TestLockoutEscalationScenario(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	t0 := te.clock.Now()

	var status LockoutStatus
	var err error
	for i := 0; i < 5; i++ {
		status, err = te.RecordLoginAttempt(ctx, LoginAttempt{AccountID: "u1", IP: "203.0.113.7"})
		require.NoError(t, err)
	}
	assert.Equal(t, "locked", status.Phase)
	assert.Equal(t, t0.Add(15*time.Minute), status.LockedUntil)

	te.clock.Advance(time.Minute)
	decision, err := te.CheckAccess(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 14*time.Minute, decision.RetryAfter)
	assert.ErrorIs(t, decision.Err(), ErrAccountLocked)

	te.clock.Advance(15 * time.Minute)
	decision, err = te.CheckAccess(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	status, err = te.RecordLoginAttempt(ctx, LoginAttempt{AccountID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 6, status.Failures)
	assert.Equal(t, t0.Add(16*time.Minute+30*time.Minute), status.LockedUntil)

	status, err = te.RecordLoginAttempt(ctx, LoginAttempt{AccountID: "u1", Success: true})
	require.NoError(t, err)
	assert.Equal(t, "open", status.Phase)
	assert.Zero(t, status.Failures)
}

func TestUnlockByOperator(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := te.RecordLoginAttempt(ctx, LoginAttempt{AccountID: "u1"})
		require.NoError(t, err)
	}

	require.NoError(t, te.Unlock(ctx, "u1", "ops"))

	status, err := te.LockoutStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "open", status.Phase)
	assert.False(t, status.Locked())

	assert.ErrorIs(t, te.Unlock(ctx, "", "ops"), ErrInvalidInput)
}

func TestLockoutFailsClosedWhenRedisDown(t *testing.T) {
	te := newTestEngine(t, nil)
	te.redis.Close()

	_, err := te.CheckAccess(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = te.RecordLoginAttempt(context.Background(), LoginAttempt{AccountID: "u1"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestAuditTrailIsChained(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := WithRequestID(context.Background(), "req-1")

	_, err := te.RequestReset(ctx, "alice@example.com", "203.0.113.1", "ua")
	require.NoError(t, err)
	token := tokenFromNotice(t, te.notifier.next(t))
	require.NoError(t, te.CompleteReset(ctx, token, "correct-Horse-battery", "203.0.113.1", "ua"))
	_, err = te.RecordLoginAttempt(ctx, LoginAttempt{AccountID: "u1"})
	require.NoError(t, err)

	te.Close()

	out := te.audit.String()
	n, err := internalaudit.VerifyJSONLines(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NotContains(t, out, token)
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Equal(t, uint64(5), te.AuditHead().Seq)
}

func TestAuditWriteFailureDoesNotFailOperation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := testConfig()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
		WithAccountProvider(newMemAccounts(Account{ID: "u1", Email: "alice@example.com"})).
		WithAuditSink(failingSink{}).
		Build()
	require.NoError(t, err)

	_, err = engine.RecordLoginAttempt(context.Background(), LoginAttempt{AccountID: "u1"})
	require.NoError(t, err)
	engine.Close()

	assert.Equal(t, uint64(1), engine.MetricsSnapshot().Counters[MetricAuditWriteFailed])
}

type failingSink struct{}

func (failingSink) Write(context.Context, AuditEvent) error {
	return errors.New("disk full")
}

func TestBuildRequiresCollaborators(t *testing.T) {
	_, err := New().Build()
	assert.Error(t, err)

	_, err = New().WithAccountProvider(newMemAccounts()).Build()
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Storage.Backend = StoragePostgres
	cfg.RateLimit.Backend = "memory"
	_, err = New().WithConfig(cfg).WithAccountProvider(newMemAccounts()).Build()
	assert.Error(t, err)

	b := New().WithConfig(testConfig()).WithRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})).
		WithAccountProvider(newMemAccounts())
	engine, err := b.Build()
	require.NoError(t, err)
	engine.Close()
	_, err = b.Build()
	assert.Error(t, err)
}

type stubSessions struct{}

func (stubSessions) InvalidateSessions(context.Context, string) error { return nil }

func TestBuildWarnsWithoutSessionInvalidator(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := testConfig()
	cfg.Storage.Backend = StoragePostgres
	cfg.RateLimit.Backend = "memory"

	build := func(b *Builder) string {
		var logs bytes.Buffer
		engine, err := b.WithConfig(cfg).
			WithPostgres(mock).
			WithAccountProvider(newMemAccounts()).
			WithAuditSink(NoOpSink{}).
			WithLogger(slog.New(slog.NewTextHandler(&logs, nil))).
			Build()
		require.NoError(t, err)
		engine.Close()
		return logs.String()
	}

	out := build(New())
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "no session invalidator configured")

	out = build(New().WithSessionInvalidator(stubSessions{}))
	assert.NotContains(t, out, "no session invalidator configured")
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	_, err := e.RequestReset(context.Background(), "a@b.c", "", "")
	assert.ErrorIs(t, err, ErrEngineNotReady)
	assert.ErrorIs(t, e.CompleteReset(context.Background(), "t", "c", "", ""), ErrEngineNotReady)
	assert.Zero(t, e.AuditDropped())
	assert.Empty(t, e.MetricsSnapshot().Counters)
}
