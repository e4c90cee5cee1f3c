package accountguard

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/accountguard/internal/audit"
	"github.com/MrEthical07/accountguard/internal/infra/postgres"
)

// GenericResetMessage is the only body RequestReset ever produces.
const GenericResetMessage = "If an account exists for that address, a reset link has been sent."

// Account is the view of an account the recovery flow needs.
type Account struct {
	ID       string
	Email    string
	Disabled bool
}

// AccountProvider is implemented by the application's account storage.
//
// AccountByEmail receives a lowercased, trimmed email and must return an error
// matching ErrAccountNotFound when no account exists. Any other error is treated
// as a storage failure.
type AccountProvider interface {
	AccountByEmail(ctx context.Context, email string) (Account, error)
	UpdateCredentialHash(ctx context.Context, accountID, credentialHash string) error
}

// RecoveryNotice is handed to the RecoveryNotifier after a token was issued.
// ResetURL embeds the raw token and must be treated as a secret.
type RecoveryNotice struct {
	AccountID string
	To        string
	ResetURL  string
	ExpiresAt time.Time
	RequestID string
}

// RecoveryNotifier delivers the out-of-band reset link. Calls are
// fire-and-forget: errors are logged and never reach the requester.
type RecoveryNotifier interface {
	SendRecoveryEmail(ctx context.Context, notice RecoveryNotice) error
}

// SessionInvalidator revokes every active session of an account.
type SessionInvalidator interface {
	InvalidateSessions(ctx context.Context, accountID string) error
}

// PostgresDB is the subset of *pgxpool.Pool the Postgres-backed stores use.
type PostgresDB = postgres.DB

// ResetAccepted is the response to RequestReset. It is identical for every
// non-error outcome.
type ResetAccepted struct {
	Message string `json:"message"`
}

// LoginAttempt is one authentication outcome reported by the login flow.
type LoginAttempt struct {
	AccountID string
	Success   bool
	IP        string
	UserAgent string
}

// LockoutStatus is the externally visible lockout state of an account.
type LockoutStatus struct {
	AccountID     string        `json:"account_id"`
	Phase         string        `json:"phase"`
	Failures      int           `json:"failures"`
	LockedUntil   time.Time     `json:"locked_until,omitzero"`
	LastFailureAt time.Time     `json:"last_failure_at,omitzero"`
	RetryAfter    time.Duration `json:"retry_after_ns,omitempty"`
}

// Locked reports whether the status was captured while a lock was active.
func (s LockoutStatus) Locked() bool {
	return s.RetryAfter > 0
}

// AccessDecision is the result of CheckAccess.
type AccessDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Err returns nil for an allowed decision and a *RetryError wrapping
// ErrAccountLocked otherwise.
func (d AccessDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RetryError{Err: ErrAccountLocked, RetryAfter: d.RetryAfter}
}

// AuditEvent is a sealed security event.
type AuditEvent = internalaudit.Event

// AuditSink persists sealed audit events.
type AuditSink = internalaudit.Sink

// AuditHeadSource is optionally implemented by sinks that can report the last
// persisted chain position, so a restarted engine continues the same chain.
type AuditHeadSource interface {
	Head(ctx context.Context) (internalaudit.Head, error)
}

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events to a channel, mainly for tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON document per audit event.
type JSONWriterSink = internalaudit.JSONWriterSink

// MultiSink writes every event to each sink in order.
type MultiSink = internalaudit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
