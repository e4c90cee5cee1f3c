// Package notify publishes recovery notices to the email worker.
package notify

import (
	"time"

	"github.com/MrEthical07/accountguard"
)

// RecoveryEmailEvent is the payload the email worker consumes. ResetURL
// carries the raw token, so the payload is only ever sent to the worker.
type RecoveryEmailEvent struct {
	EventID   string    `json:"eventId"`
	AccountID string    `json:"accountId"`
	To        string    `json:"to"`
	ResetURL  string    `json:"resetUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
	RequestID string    `json:"requestId,omitempty"`
}

func eventFromNotice(id string, notice accountguard.RecoveryNotice) RecoveryEmailEvent {
	return RecoveryEmailEvent{
		EventID:   id,
		AccountID: notice.AccountID,
		To:        notice.To,
		ResetURL:  notice.ResetURL,
		ExpiresAt: notice.ExpiresAt.UTC(),
		RequestID: notice.RequestID,
	}
}

func attributes(event RecoveryEmailEvent) map[string]string {
	attrs := map[string]string{
		"event_id":   event.EventID,
		"account_id": event.AccountID,
		"kind":       "recovery_email",
	}
	if event.RequestID != "" {
		attrs["request_id"] = event.RequestID
	}
	return attrs
}
