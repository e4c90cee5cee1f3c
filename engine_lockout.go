package accountguard

import (
	"context"

	internalflows "github.com/MrEthical07/accountguard/internal/flows"
	"github.com/MrEthical07/accountguard/internal/limiters"
)

// RecordLoginAttempt is the hook the login flow calls after every credential
// check. A failure at or past Lockout.Threshold locks the account; a success
// clears all lockout state.
func (e *Engine) RecordLoginAttempt(ctx context.Context, attempt LoginAttempt) (LockoutStatus, error) {
	if e == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}

	state, err := internalflows.RunRecordLoginAttempt(ctx, internalflows.LoginAttempt{
		AccountID: attempt.AccountID,
		Success:   attempt.Success,
		IP:        attempt.IP,
		UserAgent: attempt.UserAgent,
	}, e.lockoutFlowDeps())
	if err != nil {
		return LockoutStatus{}, err
	}
	return e.statusFromState(state), nil
}

// CheckAccess reports whether accountID may attempt authentication now. It
// never mutates lockout state. Storage failure denies access.
func (e *Engine) CheckAccess(ctx context.Context, accountID string) (AccessDecision, error) {
	if e == nil {
		return AccessDecision{}, ErrEngineNotReady
	}

	allowed, retry, err := internalflows.RunCheckAccess(ctx, accountID, e.lockoutFlowDeps())
	if err != nil {
		return AccessDecision{}, err
	}
	return AccessDecision{Allowed: allowed, RetryAfter: retry}, nil
}

// LockoutStatus returns the stored lockout state for accountID.
func (e *Engine) LockoutStatus(ctx context.Context, accountID string) (LockoutStatus, error) {
	if e == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}

	state, err := internalflows.RunLockoutStatus(ctx, accountID, e.lockoutFlowDeps())
	if err != nil {
		return LockoutStatus{}, err
	}
	return e.statusFromState(state), nil
}

// Unlock clears lockout state on behalf of actor and records account_unlocked.
func (e *Engine) Unlock(ctx context.Context, accountID, actor string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return internalflows.RunUnlock(ctx, accountID, actor, e.lockoutFlowDeps())
}

func (e *Engine) statusFromState(state limiters.LockoutState) LockoutStatus {
	now := e.now()
	return LockoutStatus{
		AccountID:     state.AccountID,
		Phase:         state.Phase(now).String(),
		Failures:      state.Failures,
		LockedUntil:   state.LockedUntil,
		LastFailureAt: state.LastFailureAt,
		RetryAfter:    state.RetryAfter(now),
	}
}

func (e *Engine) lockoutFlowDeps() internalflows.LockoutDeps {
	deps := internalflows.LockoutDeps{
		Now:            e.now,
		StorageTimeout: e.config.Storage.Timeout,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		Audit: e.emitAudit,
		Metrics: internalflows.LockoutMetrics{
			LoginFailed:        int(MetricLoginFailed),
			LoginSucceeded:     int(MetricLoginSucceeded),
			AccountLocked:      int(MetricAccountLocked),
			AccountUnlocked:    int(MetricAccountUnlocked),
			AccessDenied:       int(MetricAccessDenied),
			StorageUnavailable: int(MetricStorageUnavailable),
		},
		Errors: internalflows.LockoutErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidInput:       ErrInvalidInput,
			AccountNotFound:    ErrAccountNotFound,
			StorageUnavailable: ErrStorageUnavailable,
		},
	}

	if e.lockout != nil {
		deps.RecordFailure = e.lockout.RecordFailure
		deps.RecordSuccess = e.lockout.RecordSuccess
		deps.CheckAccess = e.lockout.CheckAccess
		deps.Status = e.lockout.Status
	}

	return deps
}
