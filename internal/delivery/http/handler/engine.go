// Package handler contains the echo handlers for the recovery and lockout API.
package handler

import (
	"context"

	"github.com/MrEthical07/accountguard"
)

// Engine is the part of *accountguard.Engine the handlers call.
type Engine interface {
	RequestReset(ctx context.Context, email, ip, userAgent string) (accountguard.ResetAccepted, error)
	CompleteReset(ctx context.Context, rawToken, newCredential, ip, userAgent string) error
	RecordLoginAttempt(ctx context.Context, attempt accountguard.LoginAttempt) (accountguard.LockoutStatus, error)
	CheckAccess(ctx context.Context, accountID string) (accountguard.AccessDecision, error)
	LockoutStatus(ctx context.Context, accountID string) (accountguard.LockoutStatus, error)
	Unlock(ctx context.Context, accountID, actor string) error
}

var _ Engine = (*accountguard.Engine)(nil)
