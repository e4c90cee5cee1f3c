package limiters

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
	// ErrLockoutUnknownAccount indicates the backend has no row for the account.
	ErrLockoutUnknownAccount = errors.New("lockout account unknown")
)

// Phase is the lockout state-machine position derived from timestamps.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseWarned
	PhaseLocked
)

func (p Phase) String() string {
	switch p {
	case PhaseWarned:
		return "warned"
	case PhaseLocked:
		return "locked"
	default:
		return "open"
	}
}

// LockoutState is the persisted per-account lockout record.
type LockoutState struct {
	AccountID     string
	Failures      int
	LockedUntil   time.Time
	LastFailureAt time.Time
}

// Phase evaluates the state at now. Nothing is written: a lock that has elapsed
// reads as Warned until the next recorded attempt.
func (s LockoutState) Phase(now time.Time) Phase {
	switch {
	case s.LockedUntil.After(now):
		return PhaseLocked
	case s.Failures > 0:
		return PhaseWarned
	default:
		return PhaseOpen
	}
}

// RetryAfter returns the remaining lock time at now, or zero.
func (s LockoutState) RetryAfter(now time.Time) time.Duration {
	if !s.LockedUntil.After(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// LockoutConfig holds the progressive lockout policy.
type LockoutConfig struct {
	Threshold    int
	BaseDuration time.Duration
	Multiplier   float64
	MaxDuration  time.Duration
}

// LockDuration returns the lock applied once failures consecutive failures are
// recorded: BaseDuration * Multiplier^(failures-Threshold), capped at MaxDuration.
// Below the threshold it returns zero.
func (c LockoutConfig) LockDuration(failures int) time.Duration {
	if c.Threshold <= 0 || failures < c.Threshold {
		return 0
	}

	d := float64(c.BaseDuration) * math.Pow(c.Multiplier, float64(failures-c.Threshold))
	if c.MaxDuration > 0 && (d >= float64(c.MaxDuration) || math.IsInf(d, 0) || math.IsNaN(d)) {
		return c.MaxDuration
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// LockoutStore persists LockoutState. Implementations must make every mutation
// atomic with respect to concurrent callers for the same account.
type LockoutStore interface {
	// RecordFailure adds one failure and, once the new count reaches the threshold,
	// raises the lock expiry to now plus policy.LockDuration(count). Both happen in
	// one atomic step so a concurrent Reset can never be followed by a stale lock.
	// The returned state carries the effective expiry.
	RecordFailure(ctx context.Context, accountID string, now time.Time, policy LockoutConfig) (LockoutState, error)
	// Reset clears failures and lock expiry and returns the state prior to the reset.
	Reset(ctx context.Context, accountID string) (LockoutState, error)
	Get(ctx context.Context, accountID string) (LockoutState, error)
}

// FailureOutcome describes the effect of one recorded failure.
type FailureOutcome struct {
	State LockoutState
	// Locked is set when this failure applied or extended a lock.
	Locked   bool
	Duration time.Duration
}

// LockoutPolicy is the per-account lockout state machine (Open -> Warned -> Locked).
// RecordFailure and RecordSuccess are its only mutators.
type LockoutPolicy struct {
	store  LockoutStore
	config LockoutConfig
	now    func() time.Time
}

// NewLockoutPolicy creates a policy over store.
func NewLockoutPolicy(store LockoutStore, cfg LockoutConfig, now func() time.Time) *LockoutPolicy {
	if now == nil {
		now = time.Now
	}
	return &LockoutPolicy{store: store, config: cfg, now: now}
}

// Config returns the policy configuration.
func (p *LockoutPolicy) Config() LockoutConfig {
	return p.config
}

// RecordFailure counts a failed authentication and escalates the lock when the
// threshold is reached.
func (p *LockoutPolicy) RecordFailure(ctx context.Context, accountID string) (FailureOutcome, error) {
	state, err := p.store.RecordFailure(ctx, accountID, p.now(), p.config)
	if err != nil {
		return FailureOutcome{}, err
	}

	d := p.config.LockDuration(state.Failures)
	if d <= 0 {
		return FailureOutcome{State: state}, nil
	}
	return FailureOutcome{State: state, Locked: true, Duration: d}, nil
}

// RecordSuccess resets the account regardless of its phase. It returns the state
// held before the reset so callers can tell whether a lock was lifted.
func (p *LockoutPolicy) RecordSuccess(ctx context.Context, accountID string) (LockoutState, error) {
	return p.store.Reset(ctx, accountID)
}

// CheckAccess is read-only. It reports whether accountID may authenticate now and,
// when it may not, how long until it can.
func (p *LockoutPolicy) CheckAccess(ctx context.Context, accountID string) (bool, time.Duration, error) {
	state, err := p.store.Get(ctx, accountID)
	if err != nil {
		return false, 0, err
	}

	now := p.now()
	if retry := state.RetryAfter(now); retry > 0 {
		return false, retry, nil
	}
	return true, 0, nil
}

// Status returns the stored state for accountID.
func (p *LockoutPolicy) Status(ctx context.Context, accountID string) (LockoutState, error) {
	return p.store.Get(ctx, accountID)
}

// Now exposes the policy clock so callers evaluate phases consistently.
func (p *LockoutPolicy) Now() time.Time {
	return p.now()
}
