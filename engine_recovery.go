package accountguard

import (
	"context"
	"time"

	internalflows "github.com/MrEthical07/accountguard/internal/flows"
	"github.com/MrEthical07/accountguard/internal/tokens"
)

// RequestReset starts credential recovery for email.
//
// The result is the same ResetAccepted for existing, unknown, disabled and
// rate-limited addresses, and the call is padded to Enumeration.ResponseFloor
// plus jitter. An error is returned only when storage or the entropy source
// failed; callers should map it to a retryable transport error.
func (e *Engine) RequestReset(ctx context.Context, email, ip, userAgent string) (ResetAccepted, error) {
	if e == nil {
		return ResetAccepted{}, ErrEngineNotReady
	}

	started := time.Now()
	err := internalflows.RunRequestReset(ctx, email, ip, userAgent, e.recoveryFlowDeps())
	if e.metrics != nil {
		e.metrics.Observe(MetricResetRequestLatency, time.Since(started))
	}
	if err != nil {
		return ResetAccepted{}, err
	}
	return ResetAccepted{Message: GenericResetMessage}, nil
}

// CompleteReset redeems rawToken and installs newCredential.
//
// Every token rejection (unknown, expired, consumed, superseded, malformed) is
// returned as ErrInvalidToken. ErrWeakCredential leaves the token redeemable.
// A *RetryError wrapping ErrRateLimited is returned when the redemption rate
// limit was exceeded. ErrSessionInvalidationFailed means the credential was
// changed but other sessions may still be active.
func (e *Engine) CompleteReset(ctx context.Context, rawToken, newCredential, ip, userAgent string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	_, err := internalflows.RunCompleteReset(ctx, rawToken, newCredential, ip, userAgent, e.recoveryFlowDeps())
	return err
}

func (e *Engine) recoveryFlowDeps() internalflows.RecoveryDeps {
	deps := internalflows.RecoveryDeps{
		Now:            e.now,
		StorageTimeout: e.config.Storage.Timeout,
		ResponseFloor:  e.config.Enumeration.ResponseFloor,
		ResponseJitter: e.enumerationJitter,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		Audit: e.emitAudit,
		Metrics: internalflows.RecoveryMetrics{
			ResetRequested:           int(MetricResetRequested),
			ResetRequestRateLimited:  int(MetricResetRequestRateLimited),
			ResetTokenIssued:         int(MetricResetTokenIssued),
			ResetUnknownAccount:      int(MetricResetUnknownAccount),
			ResetCompleted:           int(MetricResetCompleted),
			ResetInvalidToken:        int(MetricResetInvalidToken),
			ResetWeakCredential:      int(MetricResetWeakCredential),
			ResetCompleteRateLimited: int(MetricResetCompleteRateLimited),
			StorageUnavailable:       int(MetricStorageUnavailable),
			SessionInvalidationFail:  int(MetricSessionInvalidationFailed),
		},
		Errors: internalflows.RecoveryErrors{
			EngineNotReady:            ErrEngineNotReady,
			RateLimited:               ErrRateLimited,
			InvalidToken:              ErrInvalidToken,
			WeakCredential:            ErrWeakCredential,
			StorageUnavailable:        ErrStorageUnavailable,
			EntropyUnavailable:        ErrEntropyUnavailable,
			SessionInvalidationFailed: ErrSessionInvalidationFailed,
			AccountNotFound:           ErrAccountNotFound,
		},
	}

	if e.limiter != nil {
		deps.EnforceRateLimit = e.limiter.Enforce
	}
	if e.accounts != nil {
		deps.LookupAccount = func(ctx context.Context, email string) (internalflows.RecoveryAccount, error) {
			account, err := e.accounts.AccountByEmail(ctx, email)
			if err != nil {
				return internalflows.RecoveryAccount{}, err
			}
			return internalflows.RecoveryAccount{
				ID:       account.ID,
				Email:    account.Email,
				Disabled: account.Disabled,
			}, nil
		}
		deps.UpdateCredential = e.accounts.UpdateCredentialHash
	}
	if e.lockout != nil {
		deps.CheckLockout = e.lockout.CheckAccess
		deps.ResetLockout = e.lockout.RecordSuccess
	}
	if e.issuer != nil {
		deps.IssueToken = e.issuer.Issue
		deps.ParseToken = tokens.ParseHash
	}
	if e.tokenStore != nil {
		deps.SaveToken = e.tokenStore.Save
		deps.ConsumeToken = e.tokenStore.Consume
	}
	if e.hasher != nil {
		deps.HashCredential = e.hasher.Hash
		deps.CheckCredential = func(credential string) error {
			return e.policy.Check(credential)
		}
	}
	if e.sessions != nil {
		deps.InvalidateSessions = e.sessions.InvalidateSessions
	}
	deps.Notify = func(ctx context.Context, account internalflows.RecoveryAccount, token tokens.Token) {
		e.dispatchNotification(ctx, Account{ID: account.ID, Email: account.Email}, token)
	}

	return deps
}
