package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/accountguard/internal/audit"
	"github.com/MrEthical07/accountguard/internal/limiters"
)

type LoginAttempt struct {
	AccountID string
	Success   bool
	IP        string
	UserAgent string
}

type LockoutMetrics struct {
	LoginFailed        int
	LoginSucceeded     int
	AccountLocked      int
	AccountUnlocked    int
	AccessDenied       int
	StorageUnavailable int
}

type LockoutErrors struct {
	EngineNotReady     error
	InvalidInput       error
	AccountNotFound    error
	StorageUnavailable error
}

type LockoutDeps struct {
	Now            func() time.Time
	StorageTimeout time.Duration

	RecordFailure func(context.Context, string) (limiters.FailureOutcome, error)
	RecordSuccess func(context.Context, string) (limiters.LockoutState, error)
	CheckAccess   func(context.Context, string) (bool, time.Duration, error)
	Status        func(context.Context, string) (limiters.LockoutState, error)

	MetricInc func(int)
	Audit     func(context.Context, audit.Event)

	Metrics LockoutMetrics
	Errors  LockoutErrors
}

// RunRecordLoginAttempt feeds one authentication outcome into the lockout policy
// and returns the resulting state.
func RunRecordLoginAttempt(ctx context.Context, attempt LoginAttempt, deps LockoutDeps) (limiters.LockoutState, error) {
	normalizeLockoutDeps(&deps)
	if deps.RecordFailure == nil || deps.RecordSuccess == nil {
		return limiters.LockoutState{}, deps.Errors.EngineNotReady
	}
	if attempt.AccountID == "" {
		return limiters.LockoutState{}, deps.Errors.InvalidInput
	}

	event := audit.Event{
		Timestamp: deps.Now(),
		Actor:     attempt.AccountID,
		IP:        attempt.IP,
		UserAgent: attempt.UserAgent,
	}

	opCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	defer cancel()

	if attempt.Success {
		prev, err := deps.RecordSuccess(opCtx, attempt.AccountID)
		if err != nil {
			return limiters.LockoutState{}, mapLockoutErr(err, deps)
		}

		deps.MetricInc(deps.Metrics.LoginSucceeded)
		event.Action = audit.ActionLoginSucceeded
		event.Outcome = audit.OutcomeSuccess
		deps.Audit(ctx, event)

		if prev.Phase(event.Timestamp) == limiters.PhaseLocked {
			deps.MetricInc(deps.Metrics.AccountUnlocked)
			unlocked := event
			unlocked.Action = audit.ActionAccountUnlocked
			unlocked.Reason = "successful_authentication"
			deps.Audit(ctx, unlocked)
		}
		return limiters.LockoutState{AccountID: attempt.AccountID}, nil
	}

	out, err := deps.RecordFailure(opCtx, attempt.AccountID)
	if err != nil {
		return limiters.LockoutState{}, mapLockoutErr(err, deps)
	}

	deps.MetricInc(deps.Metrics.LoginFailed)
	event.Action = audit.ActionLoginFailed
	event.Outcome = audit.OutcomeFailure
	event.Reason = "invalid_credentials"
	event.Metadata = map[string]string{"failures": strconv.Itoa(out.State.Failures)}
	deps.Audit(ctx, event)

	if out.Locked {
		deps.MetricInc(deps.Metrics.AccountLocked)
		deps.Audit(ctx, audit.Event{
			Timestamp: event.Timestamp,
			Actor:     attempt.AccountID,
			Action:    audit.ActionAccountLocked,
			Outcome:   audit.OutcomeBlocked,
			Reason:    "failure_threshold",
			IP:        attempt.IP,
			UserAgent: attempt.UserAgent,
			Metadata: map[string]string{
				"failures":     strconv.Itoa(out.State.Failures),
				"locked_until": out.State.LockedUntil.UTC().Format(time.RFC3339),
				"duration":     out.Duration.String(),
			},
		})
	}
	return out.State, nil
}

// RunCheckAccess is read-only. A locked account is reported as not allowed with
// the remaining lock time; backend failure denies access with an error.
func RunCheckAccess(ctx context.Context, accountID string, deps LockoutDeps) (bool, time.Duration, error) {
	normalizeLockoutDeps(&deps)
	if deps.CheckAccess == nil {
		return false, 0, deps.Errors.EngineNotReady
	}
	if accountID == "" {
		return false, 0, deps.Errors.InvalidInput
	}

	opCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	defer cancel()

	allowed, retry, err := deps.CheckAccess(opCtx, accountID)
	if err != nil {
		if errors.Is(err, limiters.ErrLockoutUnknownAccount) {
			// no row yet: nothing has ever been recorded
			return true, 0, nil
		}
		deps.MetricInc(deps.Metrics.StorageUnavailable)
		return false, 0, deps.Errors.StorageUnavailable
	}
	if !allowed {
		deps.MetricInc(deps.Metrics.AccessDenied)
		return false, retry, nil
	}
	return true, 0, nil
}

// RunLockoutStatus returns the stored lockout state.
func RunLockoutStatus(ctx context.Context, accountID string, deps LockoutDeps) (limiters.LockoutState, error) {
	normalizeLockoutDeps(&deps)
	if deps.Status == nil {
		return limiters.LockoutState{}, deps.Errors.EngineNotReady
	}
	if accountID == "" {
		return limiters.LockoutState{}, deps.Errors.InvalidInput
	}

	opCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	defer cancel()

	state, err := deps.Status(opCtx, accountID)
	if err != nil {
		return limiters.LockoutState{}, mapLockoutErr(err, deps)
	}
	return state, nil
}

// RunUnlock clears lockout state on behalf of an operator.
func RunUnlock(ctx context.Context, accountID, actor string, deps LockoutDeps) error {
	normalizeLockoutDeps(&deps)
	if deps.RecordSuccess == nil {
		return deps.Errors.EngineNotReady
	}
	if accountID == "" || actor == "" {
		return deps.Errors.InvalidInput
	}

	opCtx, cancel := withTimeout(ctx, deps.StorageTimeout)
	defer cancel()

	prev, err := deps.RecordSuccess(opCtx, accountID)
	if err != nil {
		return mapLockoutErr(err, deps)
	}

	now := deps.Now()
	deps.MetricInc(deps.Metrics.AccountUnlocked)
	deps.Audit(ctx, audit.Event{
		Timestamp: now,
		Actor:     actor,
		Action:    audit.ActionAccountUnlocked,
		Outcome:   audit.OutcomeSuccess,
		Reason:    "administrative",
		Metadata: map[string]string{
			"account_id":    accountID,
			"was_locked":    strconv.FormatBool(prev.Phase(now) == limiters.PhaseLocked),
			"prev_failures": strconv.Itoa(prev.Failures),
		},
	})
	return nil
}

func mapLockoutErr(err error, deps LockoutDeps) error {
	if errors.Is(err, limiters.ErrLockoutUnknownAccount) {
		return deps.Errors.AccountNotFound
	}
	deps.MetricInc(deps.Metrics.StorageUnavailable)
	return deps.Errors.StorageUnavailable
}

func normalizeLockoutDeps(deps *LockoutDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
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
	if deps.Errors.InvalidInput == nil {
		deps.Errors.InvalidInput = errors.New("invalid input")
	}
}
