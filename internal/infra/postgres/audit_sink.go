package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"

	"github.com/MrEthical07/accountguard/internal/audit"
)

const (
	insertAuditSQL = `
		INSERT INTO security_audit_log (
			id, seq, user_id, action, outcome, success, reason,
			ip_address, user_agent, request_id, metadata, prev_hash, hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	auditHeadSQL = `
		SELECT seq, hash
		FROM security_audit_log
		ORDER BY seq DESC
		LIMIT 1`

	auditEventsSQL = `
		SELECT id, seq, user_id, action, outcome, reason, ip_address, user_agent,
			request_id, metadata, prev_hash, hash, created_at
		FROM security_audit_log
		WHERE seq >= $1
		ORDER BY seq ASC
		LIMIT $2`
)

// AuditSink appends sealed audit events to security_audit_log.
type AuditSink struct {
	db DB
}

// NewAuditSink creates a sink over db.
func NewAuditSink(db DB) *AuditSink {
	return &AuditSink{db: db}
}

// Write inserts one sealed event.
func (s *AuditSink) Write(ctx context.Context, event audit.Event) error {
	var metadata []byte
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to encode audit metadata")
		}
		metadata = raw
	}

	_, err := s.db.Exec(ctx, insertAuditSQL,
		event.ID,
		int64(event.Seq),
		event.Actor,
		string(event.Action),
		string(event.Outcome),
		event.Success(),
		event.Reason,
		event.IP,
		event.UserAgent,
		event.RequestID,
		metadata,
		event.PrevHash,
		event.Hash,
		event.Timestamp,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to insert audit event")
	}
	return nil
}

// Head returns the last persisted chain position, or a zero Head for an empty log.
func (s *AuditSink) Head(ctx context.Context) (audit.Head, error) {
	var (
		seq  int64
		hash string
	)
	err := s.db.QueryRow(ctx, auditHeadSQL).Scan(&seq, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Head{}, nil
		}
		return audit.Head{}, pkgerrors.Wrap(err, "failed to read audit head")
	}
	return audit.Head{Seq: uint64(seq), Hash: hash}, nil
}

// Events returns up to limit events starting at fromSeq, in chain order.
func (s *AuditSink) Events(ctx context.Context, fromSeq uint64, limit int) ([]audit.Event, error) {
	rows, err := s.db.Query(ctx, auditEventsSQL, int64(fromSeq), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query audit events")
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			ev       audit.Event
			seq      int64
			action   string
			outcome  string
			metadata []byte
		)
		if err := rows.Scan(
			&ev.ID,
			&seq,
			&ev.Actor,
			&action,
			&outcome,
			&ev.Reason,
			&ev.IP,
			&ev.UserAgent,
			&ev.RequestID,
			&metadata,
			&ev.PrevHash,
			&ev.Hash,
			&ev.Timestamp,
		); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan audit event")
		}
		ev.Seq = uint64(seq)
		ev.Action = audit.Action(action)
		ev.Outcome = audit.Outcome(outcome)
		ev.Timestamp = ev.Timestamp.UTC()
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, pkgerrors.Wrapf(err, "failed to decode metadata of audit event %d", seq)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to iterate audit events")
	}
	return events, nil
}
