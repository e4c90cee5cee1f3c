package accountguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/accountguard/internal/audit"
	"github.com/MrEthical07/accountguard/internal/limiters"
	"github.com/MrEthical07/accountguard/internal/rate"
	"github.com/MrEthical07/accountguard/internal/stores"
	"github.com/MrEthical07/accountguard/internal/tokens"
	"github.com/MrEthical07/accountguard/password"
	"github.com/MrEthical07/accountguard/session"
	"github.com/redis/go-redis/v9"
)

// Builder collects collaborators for an Engine.
//
// Builder instances are intended to be configured during initialization and
// then discarded; Build may be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	pg     PostgresDB

	accounts  AccountProvider
	notifier  RecoveryNotifier
	sessions  SessionInvalidator
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time
	entropy   io.Reader

	built bool
}

// New returns a Builder with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the shared store used for rate-limit buckets, sessions
// and, with StorageRedis, tokens and lockout state.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres supplies the database used with StoragePostgres.
func (b *Builder) WithPostgres(db PostgresDB) *Builder {
	b.pg = db
	return b
}

func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

func (b *Builder) WithNotifier(n RecoveryNotifier) *Builder {
	b.notifier = n
	return b
}

// WithSessionInvalidator overrides the default Redis session invalidator.
func (b *Builder) WithSessionInvalidator(s SessionInvalidator) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for token expiry, lockout and rate-limit windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithEntropy replaces crypto/rand as the token randomness source.
func (b *Builder) WithEntropy(r io.Reader) *Builder {
	b.entropy = r
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}
	if b.redis == nil {
		if cfg.Storage.Backend == StorageRedis {
			return nil, errors.New("redis storage backend requires redis client")
		}
		if cfg.RateLimit.Backend != "memory" {
			return nil, errors.New("redis rate limiting requires redis client")
		}
	}
	if cfg.Storage.Backend == StoragePostgres && b.pg == nil {
		return nil, errors.New("postgres storage backend requires a database")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		accounts: b.accounts,
		notifier: b.notifier,
		sessions: b.sessions,
		logger:   logger,
		now:      now,
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- TOKENS --------
	engine.issuer = tokens.NewIssuer(cfg.Token.TTL, now, b.entropy)

	// -------- STORES --------
	var lockoutStore limiters.LockoutStore
	switch cfg.Storage.Backend {
	case StoragePostgres:
		engine.tokenStore = stores.NewPostgresTokenStore(b.pg)
		lockoutStore = limiters.NewPostgresLockoutStore(b.pg)
	default:
		engine.tokenStore = stores.NewRedisTokenStore(b.redis, cfg.Storage.TokenPrefix, cfg.Token.Retention)
		lockoutStore = limiters.NewRedisLockoutStore(b.redis, cfg.Storage.LockoutPrefix)
	}
	engine.lockout = limiters.NewLockoutPolicy(lockoutStore, limiters.LockoutConfig{
		Threshold:    cfg.Lockout.Threshold,
		BaseDuration: cfg.Lockout.BaseDuration,
		Multiplier:   cfg.Lockout.Multiplier,
		MaxDuration:  cfg.Lockout.MaxDuration,
	}, now)

	// -------- RATE LIMITER --------
	var backend rate.Backend
	if cfg.RateLimit.Backend == "memory" || b.redis == nil {
		backend = rate.NewMemoryBackend(now)
	} else {
		backend = rate.NewRedisBackend(b.redis)
	}
	engine.limiter = rate.New(backend, map[rate.Action]rate.Rule{
		rate.ActionPasswordResetRequest:  {Max: cfg.RateLimit.ResetRequest.Max, Window: cfg.RateLimit.ResetRequest.Window},
		rate.ActionPasswordResetComplete: {Max: cfg.RateLimit.ResetComplete.Max, Window: cfg.RateLimit.ResetComplete.Window},
	}, cfg.RateLimit.Prefix)

	// -------- SESSIONS --------
	if engine.sessions == nil && b.redis != nil {
		engine.sessions = session.NewRedisInvalidator(b.redis, cfg.Storage.SessionPrefix)
	}
	if engine.sessions == nil {
		logger.Warn("no session invalidator configured, completed resets will not revoke existing sessions",
			"storage_backend", cfg.Storage.Backend)
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher
	engine.policy = cfg.Policy

	// -------- AUDIT --------
	if cfg.Audit.Enabled {
		head := internalaudit.Head{}
		if src, ok := b.auditSink.(AuditHeadSource); ok {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Storage.Timeout)
			h, err := src.Head(ctx)
			cancel()
			if err != nil {
				return nil, errors.Join(ErrStorageUnavailable, err)
			}
			head = h
		}
		engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
			BufferSize:   cfg.Audit.BufferSize,
			DropIfFull:   cfg.Audit.DropIfFull,
			WriteTimeout: cfg.Audit.WriteTimeout,
		}, b.auditSink, internalaudit.NewChain(head), engine.auditFailed)
	}

	b.built = true

	return engine, nil
}
