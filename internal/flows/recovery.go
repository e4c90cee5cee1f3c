package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/accountguard/internal/audit"
	"github.com/MrEthical07/accountguard/internal/limiters"
	"github.com/MrEthical07/accountguard/internal/rate"
	"github.com/MrEthical07/accountguard/internal/stores"
	"github.com/MrEthical07/accountguard/internal/tokens"
)

type RecoveryAccount struct {
	ID       string
	Email    string
	Disabled bool
}

type RecoveryMetrics struct {
	ResetRequested           int
	ResetRequestRateLimited  int
	ResetTokenIssued         int
	ResetUnknownAccount      int
	ResetCompleted           int
	ResetInvalidToken        int
	ResetWeakCredential      int
	ResetCompleteRateLimited int
	StorageUnavailable       int
	SessionInvalidationFail  int
}

type RecoveryErrors struct {
	EngineNotReady            error
	RateLimited               error
	InvalidToken              error
	WeakCredential            error
	StorageUnavailable        error
	EntropyUnavailable        error
	SessionInvalidationFailed error
	AccountNotFound           error
}

type RecoveryDeps struct {
	Now            func() time.Time
	StorageTimeout time.Duration
	ResponseFloor  time.Duration
	ResponseJitter func() time.Duration
	Sleep          func(context.Context, time.Duration)

	EnforceRateLimit   func(context.Context, rate.Action, ...string) (time.Duration, error)
	LookupAccount      func(context.Context, string) (RecoveryAccount, error)
	CheckLockout       func(context.Context, string) (bool, time.Duration, error)
	IssueToken         func(string) (tokens.Token, error)
	ParseToken         func(string) (tokens.Hash, error)
	SaveToken          func(context.Context, *stores.TokenRecord) (string, error)
	ConsumeToken       func(context.Context, tokens.Hash, time.Time) (*stores.TokenRecord, error)
	CheckCredential    func(string) error
	HashCredential     func(string) (string, error)
	UpdateCredential   func(context.Context, string, string) error
	ResetLockout       func(context.Context, string) (limiters.LockoutState, error)
	InvalidateSessions func(context.Context, string) error
	Notify             func(context.Context, RecoveryAccount, tokens.Token)

	MetricInc func(int)
	Audit     func(context.Context, audit.Event)

	Metrics RecoveryMetrics
	Errors  RecoveryErrors
}

// RunRequestReset handles a recovery request. Its result never depends on whether
// email belongs to an account: nil for every accepted, rate-limited, unknown or
// disabled case. Only infrastructure failures return an error.
func RunRequestReset(ctx context.Context, email, ip, userAgent string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if deps.EnforceRateLimit == nil || deps.LookupAccount == nil || deps.IssueToken == nil || deps.SaveToken == nil {
		return deps.Errors.EngineNotReady
	}

	started := time.Now()
	defer padResponse(ctx, started, deps)

	email = NormalizeEmail(email)
	deps.MetricInc(deps.Metrics.ResetRequested)

	event := audit.Event{
		Actor:     audit.ActorAnonymous,
		Action:    audit.ActionRecoveryRequested,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]string{"identifier": email},
	}

	rlCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	_, err := deps.EnforceRateLimit(rlCtx, rate.ActionPasswordResetRequest, email, ip)
	cancel()
	if err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			deps.MetricInc(deps.Metrics.ResetRequestRateLimited)
			event.Outcome = audit.OutcomeBlocked
			event.Reason = "rate_limited"
			deps.Audit(ctx, stamp(event, deps))
			return nil
		}
		deps.MetricInc(deps.Metrics.StorageUnavailable)
		event.Outcome = audit.OutcomeFailure
		event.Reason = "rate_limiter_unavailable"
		deps.Audit(ctx, stamp(event, deps))
		return deps.Errors.StorageUnavailable
	}

	lookupCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	account, err := deps.LookupAccount(lookupCtx, email)
	cancel()
	if err != nil && !errors.Is(err, deps.Errors.AccountNotFound) {
		deps.MetricInc(deps.Metrics.StorageUnavailable)
		event.Outcome = audit.OutcomeFailure
		event.Reason = "account_lookup_unavailable"
		deps.Audit(ctx, stamp(event, deps))
		return deps.Errors.StorageUnavailable
	}

	if err != nil || account.Disabled || account.ID == "" {
		// equal token-generation work for unknown accounts
		if _, genErr := deps.IssueToken(""); genErr != nil {
			event.Outcome = audit.OutcomeFailure
			event.Reason = "entropy_unavailable"
			deps.Audit(ctx, stamp(event, deps))
			return deps.Errors.EntropyUnavailable
		}
		deps.MetricInc(deps.Metrics.ResetUnknownAccount)
		event.Outcome = audit.OutcomeSuccess
		event.Metadata["enumeration_safe"] = "true"
		if account.Disabled {
			event.Actor = account.ID
			event.Metadata["account_disabled"] = "true"
		}
		deps.Audit(ctx, stamp(event, deps))
		return nil
	}

	event.Actor = account.ID

	if deps.CheckLockout != nil {
		lockCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
		allowed, retry, lockErr := deps.CheckLockout(lockCtx, account.ID)
		cancel()
		switch {
		case lockErr != nil:
			event.Metadata["lockout_check"] = "unavailable"
		case !allowed:
			event.Metadata["account_locked"] = "true"
			event.Metadata["locked_for_seconds"] = strconv.FormatInt(int64(retry/time.Second), 10)
		}
	}

	token, err := deps.IssueToken(account.ID)
	if err != nil {
		event.Outcome = audit.OutcomeFailure
		event.Reason = "entropy_unavailable"
		deps.Audit(ctx, stamp(event, deps))
		return deps.Errors.EntropyUnavailable
	}

	record := &stores.TokenRecord{
		AccountID: account.ID,
		Hash:      token.Hash,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
		IP:        ip,
		UserAgent: userAgent,
	}
	saveCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	tokenID, err := deps.SaveToken(saveCtx, record)
	cancel()
	if err != nil {
		deps.MetricInc(deps.Metrics.StorageUnavailable)
		event.Outcome = audit.OutcomeFailure
		event.Reason = "token_store_unavailable"
		deps.Audit(ctx, stamp(event, deps))
		return deps.Errors.StorageUnavailable
	}

	event.Outcome = audit.OutcomeSuccess
	deps.Audit(ctx, stamp(event, deps))
	deps.Audit(ctx, stamp(audit.Event{
		Actor:     account.ID,
		Action:    audit.ActionTokenIssued,
		Outcome:   audit.OutcomeSuccess,
		IP:        ip,
		UserAgent: userAgent,
		Metadata: map[string]string{
			"token_id":   tokenID,
			"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}, deps))
	deps.MetricInc(deps.Metrics.ResetTokenIssued)

	if deps.Notify != nil {
		deps.Notify(ctx, account, token)
	}
	return nil
}

// RunCompleteReset redeems rawToken and installs newCredential. Every token
// rejection is returned as Errors.InvalidToken; the specific reason is audited.
func RunCompleteReset(ctx context.Context, rawToken, newCredential, ip, userAgent string, deps RecoveryDeps) (string, error) {
	normalizeRecoveryDeps(&deps)
	if deps.EnforceRateLimit == nil || deps.ParseToken == nil || deps.ConsumeToken == nil ||
		deps.HashCredential == nil || deps.UpdateCredential == nil {
		return "", deps.Errors.EngineNotReady
	}

	failure := func(actor string, action audit.Action, reason string, meta map[string]string) {
		deps.Audit(ctx, stamp(audit.Event{
			Actor:     actor,
			Action:    action,
			Outcome:   audit.OutcomeFailure,
			Reason:    reason,
			IP:        ip,
			UserAgent: userAgent,
			Metadata:  meta,
		}, deps))
	}

	hash, parseErr := deps.ParseToken(rawToken)

	// Rate limit by caller IP and by token hash so one token cannot be hammered
	// from many addresses.
	var tokenKey string
	if parseErr == nil {
		tokenKey = hash.String()
	}
	rlCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	retry, err := deps.EnforceRateLimit(rlCtx, rate.ActionPasswordResetComplete, ip, tokenKey)
	cancel()
	if err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			deps.MetricInc(deps.Metrics.ResetCompleteRateLimited)
			deps.Audit(ctx, stamp(audit.Event{
				Actor:     audit.ActorAnonymous,
				Action:    audit.ActionTokenConsumptionFailed,
				Outcome:   audit.OutcomeBlocked,
				Reason:    "rate_limited",
				IP:        ip,
				UserAgent: userAgent,
			}, deps))
			return "", &RetryError{Err: deps.Errors.RateLimited, RetryAfter: retry}
		}
		deps.MetricInc(deps.Metrics.StorageUnavailable)
		failure(audit.ActorAnonymous, audit.ActionTokenConsumptionFailed, "rate_limiter_unavailable", nil)
		return "", deps.Errors.StorageUnavailable
	}

	if deps.CheckCredential != nil {
		if err := deps.CheckCredential(newCredential); err != nil {
			deps.MetricInc(deps.Metrics.ResetWeakCredential)
			failure(audit.ActorAnonymous, audit.ActionCredentialChanged, "weak_credential", map[string]string{
				"detail": err.Error(),
			})
			return "", errors.Join(deps.Errors.WeakCredential, err)
		}
	}

	if parseErr != nil {
		deps.MetricInc(deps.Metrics.ResetInvalidToken)
		failure(audit.ActorAnonymous, audit.ActionTokenConsumptionFailed, "malformed", nil)
		return "", deps.Errors.InvalidToken
	}

	consumeCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	record, err := deps.ConsumeToken(consumeCtx, hash, deps.Now())
	cancel()
	if err != nil {
		if stores.IsTokenRejection(err) {
			deps.MetricInc(deps.Metrics.ResetInvalidToken)
			failure(audit.ActorAnonymous, audit.ActionTokenConsumptionFailed, stores.FailureReason(err), nil)
			return "", deps.Errors.InvalidToken
		}
		deps.MetricInc(deps.Metrics.StorageUnavailable)
		failure(audit.ActorAnonymous, audit.ActionTokenConsumptionFailed, "storage_unavailable", nil)
		return "", deps.Errors.StorageUnavailable
	}

	accountID := record.AccountID
	deps.Audit(ctx, stamp(audit.Event{
		Actor:     accountID,
		Action:    audit.ActionTokenConsumed,
		Outcome:   audit.OutcomeSuccess,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]string{"token_id": record.ID},
	}, deps))

	newHash, err := deps.HashCredential(newCredential)
	if err != nil {
		failure(accountID, audit.ActionCredentialChanged, "hash_failed", nil)
		return accountID, deps.Errors.StorageUnavailable
	}

	updateCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	err = deps.UpdateCredential(updateCtx, accountID, newHash)
	cancel()
	if err != nil {
		deps.MetricInc(deps.Metrics.StorageUnavailable)
		failure(accountID, audit.ActionCredentialChanged, "update_failed", nil)
		return accountID, deps.Errors.StorageUnavailable
	}

	deps.Audit(ctx, stamp(audit.Event{
		Actor:     accountID,
		Action:    audit.ActionCredentialChanged,
		Outcome:   audit.OutcomeSuccess,
		IP:        ip,
		UserAgent: userAgent,
	}, deps))

	if deps.ResetLockout != nil {
		lockCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
		prev, lockErr := deps.ResetLockout(lockCtx, accountID)
		cancel()
		switch {
		case lockErr != nil:
			failure(accountID, audit.ActionAccountUnlocked, "lockout_reset_failed", nil)
		case prev.Phase(deps.Now()) == limiters.PhaseLocked:
			deps.Audit(ctx, stamp(audit.Event{
				Actor:     accountID,
				Action:    audit.ActionAccountUnlocked,
				Outcome:   audit.OutcomeSuccess,
				Reason:    "credential_reset",
				IP:        ip,
				UserAgent: userAgent,
			}, deps))
		}
	}

	if deps.InvalidateSessions != nil {
		invCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
		err := deps.InvalidateSessions(invCtx, accountID)
		cancel()
		if err != nil {
			deps.MetricInc(deps.Metrics.SessionInvalidationFail)
			failure(accountID, audit.ActionSessionInvalidationFailed, "session_store_unavailable", nil)
			return accountID, errors.Join(deps.Errors.SessionInvalidationFailed, err)
		}
	}

	deps.MetricInc(deps.Metrics.ResetCompleted)
	return accountID, nil
}

// NormalizeEmail lowercases and trims an email for lookup and rate-limit keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func padResponse(ctx context.Context, started time.Time, deps RecoveryDeps) {
	if deps.ResponseFloor <= 0 {
		return
	}
	target := deps.ResponseFloor + deps.ResponseJitter()
	if remaining := target - time.Since(started); remaining > 0 {
		deps.Sleep(ctx, remaining)
	}
}

func stamp(event audit.Event, deps RecoveryDeps) audit.Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = deps.Now()
	}
	return event
}

func normalizeRecoveryDeps(deps *RecoveryDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ResponseJitter == nil {
		deps.ResponseJitter = func() time.Duration { return 0 }
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Audit == nil {
		deps.Audit = func(context.Context, audit.Event) {}
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not ready")
	}
	if deps.Errors.AccountNotFound == nil {
		deps.Errors.AccountNotFound = errors.New("account not found")
	}
}
