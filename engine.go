package accountguard

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"net/url"
	"sync"
	"time"

	internalaudit "github.com/MrEthical07/accountguard/internal/audit"
	"github.com/MrEthical07/accountguard/internal/limiters"
	"github.com/MrEthical07/accountguard/internal/rate"
	"github.com/MrEthical07/accountguard/internal/stores"
	"github.com/MrEthical07/accountguard/internal/tokens"
	"github.com/MrEthical07/accountguard/password"
)

// Engine is the account security and recovery engine. It is safe for
// concurrent use; create it with New().Build().
type Engine struct {
	config     Config
	accounts   AccountProvider
	notifier   RecoveryNotifier
	sessions   SessionInvalidator
	logger     *slog.Logger
	now        func() time.Time
	metrics    *Metrics
	issuer     *tokens.Issuer
	tokenStore stores.TokenStore
	lockout    *limiters.LockoutPolicy
	limiter    *rate.Limiter
	hasher     *password.Argon2
	policy     password.Policy
	audit      *internalaudit.Dispatcher

	notifyMu     sync.Mutex
	notifyWG     sync.WaitGroup
	notifyClosed bool
}

// Close waits for in-flight notifications, then drains the audit buffer.
// Operations called after Close still run but no longer notify or audit.
func (e *Engine) Close() {
	if e == nil {
		return
	}

	e.notifyMu.Lock()
	e.notifyClosed = true
	e.notifyMu.Unlock()
	e.notifyWG.Wait()

	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditHead returns the chain position of the last sealed audit event.
func (e *Engine) AuditHead() internalaudit.Head {
	if e == nil || e.audit == nil {
		return internalaudit.Head{}
	}
	return e.audit.Head()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// emitAudit enqueues event. Enqueueing waits for buffer space at most
// Audit.WriteTimeout; the caller's outcome never depends on the result.
func (e *Engine) emitAudit(ctx context.Context, event internalaudit.Event) {
	if e == nil || e.audit == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = requestIDFromContext(ctx)
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Audit.WriteTimeout)
	defer cancel()

	// failures are reported through auditFailed
	_ = e.audit.Emit(emitCtx, event)
}

// auditFailed runs for every dropped or rejected audit event.
func (e *Engine) auditFailed(event internalaudit.Event, err error) {
	e.metricInc(MetricAuditWriteFailed)
	e.logger.Error("audit event lost",
		slog.String("error", ErrAuditWriteFailed.Error()),
		slog.String("cause", err.Error()),
		slog.String("action", string(event.Action)),
		slog.String("actor", event.Actor),
		slog.Uint64("seq", event.Seq),
		slog.String("request_id", event.RequestID),
	)
}

// dispatchNotification sends the recovery email in the background. The
// requester's context only contributes values; cancellation is replaced by
// Notification.Timeout.
func (e *Engine) dispatchNotification(ctx context.Context, account Account, token tokens.Token) {
	if e.notifier == nil {
		e.logger.Warn("recovery token issued without a notifier", slog.String("account_id", account.ID))
		return
	}

	link, err := resetURL(e.config.Token.ResetURL, token.Value)
	if err != nil {
		e.metricInc(MetricNotificationFailed)
		e.logger.Error("compose reset url", slog.String("account_id", account.ID), slog.String("error", err.Error()))
		return
	}
	notice := RecoveryNotice{
		AccountID: account.ID,
		To:        account.Email,
		ResetURL:  link,
		ExpiresAt: token.ExpiresAt,
		RequestID: requestIDFromContext(ctx),
	}

	e.notifyMu.Lock()
	if e.notifyClosed {
		e.notifyMu.Unlock()
		e.metricInc(MetricNotificationFailed)
		e.logger.Warn("recovery notification skipped after close", slog.String("account_id", account.ID))
		return
	}
	e.notifyWG.Add(1)
	e.notifyMu.Unlock()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Notification.Timeout)
	go func() {
		defer e.notifyWG.Done()
		defer cancel()

		if err := e.notifier.SendRecoveryEmail(sendCtx, notice); err != nil {
			e.metricInc(MetricNotificationFailed)
			e.logger.Warn("recovery notification failed",
				slog.String("account_id", notice.AccountID),
				slog.String("request_id", notice.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func resetURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *Engine) enumerationJitter() time.Duration {
	max := e.config.Enumeration.MaxJitter
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return max
	}
	return time.Duration(n.Int64())
}
