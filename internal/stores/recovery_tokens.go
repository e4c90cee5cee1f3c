package stores

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/accountguard/internal/tokens"
)

var (
	ErrTokenNotFound         = errors.New("recovery token not found")
	ErrTokenExpired          = errors.New("recovery token expired")
	ErrTokenAlreadyConsumed  = errors.New("recovery token already consumed")
	ErrTokenSuperseded       = errors.New("recovery token superseded")
	ErrTokenStoreUnavailable = errors.New("recovery token store unavailable")
)

// TokenRecord is the persisted form of a recovery token. It never carries the raw value.
type TokenRecord struct {
	ID           string
	AccountID    string
	Hash         tokens.Hash
	IssuedAt     time.Time
	ExpiresAt    time.Time
	ConsumedAt   time.Time
	SupersededAt time.Time
	IP           string
	UserAgent    string
}

// Consumed reports whether the record reached its terminal state.
func (r *TokenRecord) Consumed() bool {
	return !r.ConsumedAt.IsZero()
}

// Superseded reports whether a newer token was issued for the same account.
func (r *TokenRecord) Superseded() bool {
	return !r.SupersededAt.IsZero()
}

// TokenStore persists recovery tokens and performs the atomic valid -> consumed
// transition.
//
// Save marks any previously unconsumed token of the same account as superseded.
// Consume must fail with exactly one of ErrTokenNotFound, ErrTokenExpired,
// ErrTokenAlreadyConsumed, ErrTokenSuperseded or ErrTokenStoreUnavailable.
type TokenStore interface {
	Save(ctx context.Context, record *TokenRecord) (string, error)
	Consume(ctx context.Context, hash tokens.Hash, now time.Time) (*TokenRecord, error)
}

// FailureReason maps a Consume error to the reason recorded in audit metadata.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, ErrTokenSuperseded):
		return "superseded"
	default:
		return "storage_unavailable"
	}
}

// IsTokenRejection reports whether err is one of the per-token rejection reasons
// rather than an infrastructure failure.
func IsTokenRejection(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenAlreadyConsumed) ||
		errors.Is(err, ErrTokenSuperseded)
}
