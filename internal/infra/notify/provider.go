package notify

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"go.uber.org/fx"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/config"
)

const (
	ProviderGoogle = "google"
	ProviderLocal  = "local"
	ProviderLog    = "log"
)

// Notifier is a RecoveryNotifier that owns resources.
type Notifier interface {
	accountguard.RecoveryNotifier
	Close() error
}

// Params holds dependencies for the notifier, injected by fx.
type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Ctx    context.Context
	Config *config.Config
	Logger *slog.Logger
}

// New builds the notifier selected by notification.provider.
func New(params Params) (Notifier, error) {
	cfg := params.Config.Notification
	logger := params.Logger

	if cfg == nil || cfg.Provider == "" || cfg.Provider == ProviderLog {
		logger.Info("recovery notifications are logged only")
		return NewLogNotifier(logger), nil
	}

	var (
		notifier Notifier
		err      error
	)
	switch cfg.Provider {
	case ProviderLocal:
		if cfg.LocalEndpoint == "" {
			return nil, errors.New("local endpoint is required for local provider")
		}
		notifier = NewLocalHTTPNotifier(cfg.LocalEndpoint, logger)

	case ProviderGoogle:
		if cfg.ProjectID == "" {
			return nil, errors.New("project ID is required for google provider")
		}
		if cfg.TopicID == "" {
			return nil, errors.New("topic ID is required for google provider")
		}
		notifier, err = NewPubSubNotifier(params.Ctx, cfg.ProjectID, cfg.TopicID, logger)
		if err != nil {
			return nil, err
		}

	default:
		return nil, errors.Errorf("unknown notification provider: %s", cfg.Provider)
	}

	params.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("closing recovery notifier")
			return notifier.Close()
		},
	})
	return notifier, nil
}

// Module provides the notifier to fx.
var Module = fx.Options(
	fx.Provide(New),
)
