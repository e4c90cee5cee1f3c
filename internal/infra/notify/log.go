package notify

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/accountguard"
)

// LogNotifier records that a notice was produced without delivering it. The
// reset link and address are never logged.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier for setups without an email worker.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendRecoveryEmail(_ context.Context, notice accountguard.RecoveryNotice) error {
	n.logger.Info("recovery email suppressed",
		slog.String("account_id", notice.AccountID),
		slog.Time("expires_at", notice.ExpiresAt),
	)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
