package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/password"
)

const newCredential = "Loadtest-correct-horse-42"

type memAccounts struct {
	mu      sync.Mutex
	byEmail map[string]accountguard.Account
}

func (m *memAccounts) AccountByEmail(_ context.Context, email string) (accountguard.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byEmail[email]
	if !ok {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}
	return a, nil
}

func (m *memAccounts) UpdateCredentialHash(context.Context, string, string) error {
	return nil
}

type tokenCollector struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (c *tokenCollector) SendRecoveryEmail(_ context.Context, notice accountguard.RecoveryNotice) error {
	u, err := url.Parse(notice.ResetURL)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tokens[notice.AccountID] = u.Query().Get("token")
	c.mu.Unlock()
	return nil
}

func (c *tokenCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

func main() {
	var (
		accounts    = flag.Int("accounts", 1000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (login failures + access checks)")
		racers      = flag.Int("racers", 8, "concurrent redemptions per recovery token")
		redeemed    = flag.Int("tokens", 200, "recovery tokens to issue and race")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 || *racers <= 0 || *redeemed <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, ops, racers and tokens must be > 0")
		os.Exit(2)
	}
	if *redeemed > *accounts {
		*redeemed = *accounts
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	ids := make([]string, *accounts)
	provider := &memAccounts{byEmail: make(map[string]accountguard.Account, *accounts)}
	for i := range ids {
		ids[i] = fmt.Sprintf("lt-%d", i)
		provider.byEmail[emailFor(i)] = accountguard.Account{ID: ids[i], Email: emailFor(i)}
	}

	collector := &tokenCollector{tokens: make(map[string]string, *redeemed)}
	engine, err := accountguard.New().
		WithConfig(loadtestConfig()).
		WithRedis(client).
		WithAccountProvider(provider).
		WithNotifier(collector).
		WithAuditSink(accountguard.NoOpSink{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	failureStats, lost := runLoginFailurePhase(ctx, engine, ids, *ops, *concurrency)
	accessStats := runCheckAccessPhase(ctx, engine, ids, *ops, *concurrency)
	redeemStats, doubles := runRedeemPhase(ctx, engine, collector, *redeemed, *racers)

	fmt.Println("---- results ----")
	printStats("login-failure", failureStats)
	printStats("check-access", accessStats)
	printStats("redeem", redeemStats)
	fmt.Printf("lost failure increments=%d tokens redeemed more than once=%d\n", lost, doubles)
	if lost != 0 || doubles != 0 {
		os.Exit(1)
	}
}

func loadtestConfig() accountguard.Config {
	cfg := accountguard.DefaultConfig()
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Enumeration = accountguard.EnumerationConfig{}
	cfg.Token.ResetURL = "https://loadtest.invalid/reset"
	cfg.RateLimit.ResetRequest.Max = 1 << 30
	cfg.RateLimit.ResetComplete.Max = 1 << 30
	// stay below the threshold so every failure lands in the counter
	cfg.Lockout.Threshold = 1 << 30
	return cfg
}

func emailFor(i int) string {
	return fmt.Sprintf("user%d@loadtest.invalid", i)
}

// runLoginFailurePhase records failures on random accounts and reports how many
// increments are missing from the stored counters afterwards.
func runLoginFailurePhase(ctx context.Context, engine *accountguard.Engine, ids []string, ops, concurrency int) (phaseStats, int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				id := ids[r.Intn(len(ids))]
				t0 := time.Now()
				_, err := engine.RecordLoginAttempt(ctx, accountguard.LoginAttempt{AccountID: id, IP: "203.0.113.10"})
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	var stored int64
	for _, id := range ids {
		status, err := engine.LockoutStatus(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lockout status failed: %v\n", err)
			os.Exit(1)
		}
		stored += int64(status.Failures)
	}
	return computeStats(total, latencies, failures), int64(ops) - failures - stored
}

func runCheckAccessPhase(ctx context.Context, engine *accountguard.Engine, ids []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				_, err := engine.CheckAccess(ctx, ids[r.Intn(len(ids))])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runRedeemPhase issues one token per account and races racers redemptions of
// each. It returns the number of tokens that were redeemed more than once.
func runRedeemPhase(ctx context.Context, engine *accountguard.Engine, collector *tokenCollector, n, racers int) (phaseStats, int64) {
	for i := 0; i < n; i++ {
		if _, err := engine.RequestReset(ctx, emailFor(i), "203.0.113.20", "loadtest"); err != nil {
			fmt.Fprintf(os.Stderr, "request reset failed: %v\n", err)
			os.Exit(1)
		}
	}
	deadline := time.Now().Add(30 * time.Second)
	for collector.len() < n {
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "only %d of %d recovery notices arrived\n", collector.len(), n)
			os.Exit(1)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var (
		wg        sync.WaitGroup
		failures  int64
		doubles   int64
		latencies = make([]time.Duration, 0, n*racers)
		mu        sync.Mutex
	)

	start := time.Now()
	for _, token := range collector.tokens {
		var wins int64
		var racersWG sync.WaitGroup
		for r := 0; r < racers; r++ {
			racersWG.Add(1)
			go func() {
				defer racersWG.Done()
				t0 := time.Now()
				err := engine.CompleteReset(ctx, token, newCredential, "203.0.113.30", "loadtest")
				d := time.Since(t0)
				if err == nil {
					atomic.AddInt64(&wins, 1)
				} else if !isExpectedRedeemError(err) {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			racersWG.Wait()
			if atomic.LoadInt64(&wins) > 1 {
				atomic.AddInt64(&doubles, 1)
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), doubles
}

func isExpectedRedeemError(err error) bool {
	return errors.Is(err, accountguard.ErrInvalidToken)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
