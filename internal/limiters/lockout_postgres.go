package limiters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/accountguard/internal/infra/postgres"
)

const (
	// The lock term mirrors LockoutConfig.LockDuration in log space so the
	// exponent can never overflow: base * exp(min(steps * ln(multiplier), ln(max/base))).
	recordFailureSQL = `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			last_failed_login_at = $2,
			account_locked_until = CASE
				WHEN $3::int > 0 AND failed_login_attempts + 1 >= $3::int THEN GREATEST(
					COALESCE(account_locked_until, $2),
					$2::timestamptz + make_interval(secs => $4::float8 / 1000.0 *
						exp(LEAST((failed_login_attempts + 1 - $3::int) * $5::float8, $6::float8))))
				ELSE account_locked_until
			END
		WHERE id = $1
		RETURNING failed_login_attempts, COALESCE(account_locked_until, to_timestamp(0))`

	resetLockoutSQL = `
		UPDATE users u
		SET failed_login_attempts = 0, account_locked_until = NULL
		FROM (
			SELECT id, failed_login_attempts, account_locked_until, last_failed_login_at
			FROM users WHERE id = $1 FOR UPDATE
		) prev
		WHERE u.id = prev.id
		RETURNING prev.failed_login_attempts,
			COALESCE(prev.account_locked_until, to_timestamp(0)),
			COALESCE(prev.last_failed_login_at, to_timestamp(0))`

	getLockoutSQL = `
		SELECT failed_login_attempts,
			COALESCE(account_locked_until, to_timestamp(0)),
			COALESCE(last_failed_login_at, to_timestamp(0))
		FROM users WHERE id = $1`
)

// PostgresLockoutStore keeps lockout state in the users table columns
// failed_login_attempts, account_locked_until and last_failed_login_at.
type PostgresLockoutStore struct {
	db postgres.DB
}

// NewPostgresLockoutStore creates a lockout store over db.
func NewPostgresLockoutStore(db postgres.DB) *PostgresLockoutStore {
	return &PostgresLockoutStore{db: db}
}

func (s *PostgresLockoutStore) RecordFailure(ctx context.Context, accountID string, now time.Time, policy LockoutConfig) (LockoutState, error) {
	state := LockoutState{AccountID: accountID, LastFailureAt: now}

	var until time.Time
	err := s.db.QueryRow(ctx, recordFailureSQL,
		accountID,
		now,
		policy.Threshold,
		float64(policy.BaseDuration.Milliseconds()),
		math.Log(policy.Multiplier),
		lockCapExponent(policy),
	).Scan(&state.Failures, &until)
	if err != nil {
		return LockoutState{}, mapPostgresErr(err)
	}
	state.LockedUntil = epochToZero(until)
	return state, nil
}

// lockCapExponent is ln(MaxDuration/BaseDuration), the exponent at which the
// lock reaches its cap.
func lockCapExponent(policy LockoutConfig) float64 {
	if policy.BaseDuration <= 0 || policy.MaxDuration < policy.BaseDuration {
		return 0
	}
	return math.Log(float64(policy.MaxDuration) / float64(policy.BaseDuration))
}

func (s *PostgresLockoutStore) Reset(ctx context.Context, accountID string) (LockoutState, error) {
	state := LockoutState{AccountID: accountID}

	var until, last time.Time
	if err := s.db.QueryRow(ctx, resetLockoutSQL, accountID).Scan(&state.Failures, &until, &last); err != nil {
		return LockoutState{}, mapPostgresErr(err)
	}
	state.LockedUntil = epochToZero(until)
	state.LastFailureAt = epochToZero(last)
	return state, nil
}

func (s *PostgresLockoutStore) Get(ctx context.Context, accountID string) (LockoutState, error) {
	state := LockoutState{AccountID: accountID}

	var until, last time.Time
	if err := s.db.QueryRow(ctx, getLockoutSQL, accountID).Scan(&state.Failures, &until, &last); err != nil {
		return LockoutState{}, mapPostgresErr(err)
	}
	state.LockedUntil = epochToZero(until)
	state.LastFailureAt = epochToZero(last)
	return state, nil
}

func mapPostgresErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLockoutUnknownAccount
	}
	return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
}

func epochToZero(t time.Time) time.Time {
	if t.Unix() <= 0 {
		return time.Time{}
	}
	return t.UTC()
}
