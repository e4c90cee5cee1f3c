package accountguard

import (
	"errors"
	"time"

	internalflows "github.com/MrEthical07/accountguard/internal/flows"
)

var (
	// ErrRateLimited is returned by CompleteReset when the caller exceeded the
	// redemption rate limit. It is always wrapped in a *RetryError.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountLocked is reported through AccessDecision.Err for locked accounts.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidToken is the single external form of every token rejection.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrWeakCredential is returned when the new credential fails the strength policy.
	ErrWeakCredential = errors.New("weak credential")
	// ErrStorageUnavailable is returned when a backing store failed or timed out.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrAuditWriteFailed is never returned by an operation; it is the error
	// escalated to the operational log when an audit event is lost.
	ErrAuditWriteFailed = errors.New("audit write failed")
	// ErrEntropyUnavailable is returned when no token could be generated.
	ErrEntropyUnavailable = errors.New("entropy unavailable")
	// ErrSessionInvalidationFailed is returned by CompleteReset after the
	// credential was changed but other sessions could not be revoked.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrEngineNotReady is returned by operations on an unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrAccountNotFound must be returned (or wrapped) by AccountProvider when no
	// account matches.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidInput is returned for empty account identifiers.
	ErrInvalidInput = errors.New("invalid input")
)

// RetryError carries a retry hint for ErrRateLimited and ErrAccountLocked.
// errors.Is matches the wrapped sentinel.
type RetryError = internalflows.RetryError

// RetryAfter extracts the retry hint carried by err.
func RetryAfter(err error) (time.Duration, bool) {
	var retryErr *RetryError
	if errors.As(err, &retryErr) {
		return retryErr.RetryAfter, true
	}
	return 0, false
}
