package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// Action is the audited security operation.
type Action string

const (
	ActionRecoveryRequested         Action = "recovery_requested"
	ActionTokenIssued               Action = "token_issued"
	ActionTokenConsumed             Action = "token_consumed"
	ActionTokenConsumptionFailed    Action = "token_consumption_failed"
	ActionCredentialChanged         Action = "credential_changed"
	ActionLoginFailed               Action = "login_failed"
	ActionLoginSucceeded            Action = "login_succeeded"
	ActionAccountLocked             Action = "account_locked"
	ActionAccountUnlocked           Action = "account_unlocked"
	ActionSessionInvalidationFailed Action = "session_invalidation_failed"
)

// Outcome classifies the result of the audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeBlocked Outcome = "blocked"
)

// ActorAnonymous is recorded when no account could be attributed.
const ActorAnonymous = "anonymous"

// Event is an append-only security record. Seq, PrevHash and Hash are assigned by
// the Chain when the event is sealed; nothing may change an event afterwards.
type Event struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"`
	Action    Action            `json:"action"`
	Outcome   Outcome           `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
}

// Success reports whether the event outcome is OutcomeSuccess.
func (e Event) Success() bool {
	return e.Outcome == OutcomeSuccess
}

// Sink persists sealed events. A returned error is escalated by the dispatcher.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Write(context.Context, Event) error { return nil }

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Write(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Write(ctx context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return errors.New("audit writer not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
