package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/config"
	"github.com/MrEthical07/accountguard/internal/audit"
	logs "github.com/MrEthical07/accountguard/internal/infra/log"
	"github.com/MrEthical07/accountguard/internal/infra/notify"
	"github.com/MrEthical07/accountguard/internal/infra/postgres"
)

const (
	auditSinkPostgres = "postgres"
	auditSinkFile     = "file"
	auditSinkStdout   = "stdout"
)

// coreOptions provides everything needed to build the engine.
func coreOptions(opts *rootOptions) fx.Option {
	return fx.Options(
		fx.Supply(opts),
		fx.Provide(
			context.Background,
			loadConfig,
			logs.New,
			newRedisClient,
			newPostgresPool,
			newAccountProvider,
			newAuditSink,
			newEngine,
		),
		notify.Module,
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
	)
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	return config.Load(opts.ConfigPath)
}

func newRedisClient(lc fx.Lifecycle, cfg *config.Config) redis.UniversalClient {
	if cfg.Redis.Addr == "" {
		return nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pkgerrors.Wrap(client.Ping(ctx).Err(), "failed to ping redis")
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func newPostgresPool(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := postgres.Open(ctx, postgres.PoolConfig{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

// accountProvider maps the users table onto accountguard.AccountProvider.
type accountProvider struct {
	repo *postgres.AccountRepository
}

func newAccountProvider(pool *pgxpool.Pool) accountguard.AccountProvider {
	return &accountProvider{repo: postgres.NewAccountRepository(pool)}
}

func (p *accountProvider) AccountByEmail(ctx context.Context, email string) (accountguard.Account, error) {
	row, err := p.repo.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, postgres.ErrNoAccount) {
			return accountguard.Account{}, accountguard.ErrAccountNotFound
		}
		return accountguard.Account{}, err
	}
	return accountguard.Account{ID: row.ID, Email: row.Email, Disabled: row.Disabled}, nil
}

func (p *accountProvider) UpdateCredentialHash(ctx context.Context, accountID, hash string) error {
	err := p.repo.UpdateCredentialHash(ctx, accountID, hash)
	if errors.Is(err, postgres.ErrNoAccount) {
		return accountguard.ErrAccountNotFound
	}
	return err
}

func newAuditSink(lc fx.Lifecycle, cfg *config.Config, pool *pgxpool.Pool) (accountguard.AuditSink, error) {
	sink := auditSinkStdout
	if cfg.Audit != nil && cfg.Audit.Sink != "" {
		sink = cfg.Audit.Sink
	}

	switch sink {
	case auditSinkPostgres:
		return postgres.NewAuditSink(pool), nil
	case auditSinkFile:
		fileSink, err := openFileAuditSink(cfg.Audit.File)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return fileSink.Close()
			},
		})
		return fileSink, nil
	case auditSinkStdout:
		return accountguard.NewJSONWriterSink(os.Stdout), nil
	default:
		return nil, pkgerrors.Errorf("unknown audit sink %q", sink)
	}
}

// fileAuditSink appends JSON lines to a file and resumes the chain from the
// last line already in it.
type fileAuditSink struct {
	*accountguard.JSONWriterSink
	file *os.File
	head audit.Head
}

func openFileAuditSink(path string) (*fileAuditSink, error) {
	if path == "" {
		return nil, pkgerrors.New("audit.file is required for the file sink")
	}

	head, err := lastFileHead(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to open audit file")
	}
	return &fileAuditSink{
		JSONWriterSink: accountguard.NewJSONWriterSink(f),
		file:           f,
		head:           head,
	}, nil
}

func (s *fileAuditSink) Head(context.Context) (audit.Head, error) {
	return s.head, nil
}

func (s *fileAuditSink) Close() error {
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return pkgerrors.WithStack(err)
	}
	return pkgerrors.WithStack(s.file.Close())
}

func lastFileHead(path string) (audit.Head, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return audit.Head{}, nil
		}
		return audit.Head{}, pkgerrors.Wrap(err, "failed to read audit file")
	}
	defer f.Close()

	var last []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := scanner.Bytes(); len(line) > 0 {
			last = append(last[:0], line...)
		}
	}
	if err := scanner.Err(); err != nil {
		return audit.Head{}, pkgerrors.Wrap(err, "failed to scan audit file")
	}
	if last == nil {
		return audit.Head{}, nil
	}

	var ev audit.Event
	if err := json.Unmarshal(last, &ev); err != nil {
		return audit.Head{}, pkgerrors.Wrap(err, "failed to decode last audit event")
	}
	return audit.Head{Seq: ev.Seq, Hash: ev.Hash}, nil
}

// engineParams holds the engine collaborators, injected by fx.
type engineParams struct {
	fx.In
	fx.Lifecycle

	Config    *config.Config
	Logger    *slog.Logger
	Redis     redis.UniversalClient `optional:"true"`
	Pool      *pgxpool.Pool
	Accounts  accountguard.AccountProvider
	Notifier  notify.Notifier
	AuditSink accountguard.AuditSink
}

func newEngine(params engineParams) (*accountguard.Engine, error) {
	builder := accountguard.New().
		WithConfig(params.Config.EngineConfig()).
		WithPostgres(params.Pool).
		WithAccountProvider(params.Accounts).
		WithNotifier(params.Notifier).
		WithAuditSink(params.AuditSink).
		WithLogger(params.Logger)
	if params.Redis != nil {
		builder = builder.WithRedis(params.Redis)
	}

	engine, err := builder.Build()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to build engine")
	}

	params.Append(fx.Hook{
		OnStop: func(context.Context) error {
			engine.Close()
			return nil
		},
	})
	return engine, nil
}
