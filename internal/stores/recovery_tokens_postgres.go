package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/accountguard/internal/infra/postgres"
	"github.com/MrEthical07/accountguard/internal/tokens"
)

const (
	lockAccountTokensSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

	supersedeTokensSQL = `
		UPDATE password_reset_tokens
		SET superseded_at = $2
		WHERE user_id = $1 AND used_at IS NULL AND superseded_at IS NULL`

	insertTokenSQL = `
		INSERT INTO password_reset_tokens (id, token_hash, user_id, expires_at, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	consumeTokenSQL = `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND superseded_at IS NULL AND expires_at > $2
		RETURNING id, user_id, expires_at, ip_address, user_agent, created_at`

	classifyTokenSQL = `
		SELECT used_at IS NOT NULL, superseded_at IS NOT NULL
		FROM password_reset_tokens
		WHERE token_hash = $1`

	purgeTokensSQL = `DELETE FROM password_reset_tokens WHERE expires_at < $1`
)

// PostgresTokenStore keeps recovery tokens in the password_reset_tokens table.
type PostgresTokenStore struct {
	db postgres.DB
}

// NewPostgresTokenStore creates a store over db.
func NewPostgresTokenStore(db postgres.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

// Save supersedes the account's outstanding tokens and inserts record in one transaction.
// A per-account advisory lock serialises concurrent saves for the same account.
func (s *PostgresTokenStore) Save(ctx context.Context, record *TokenRecord) (string, error) {
	if record == nil || record.AccountID == "" {
		return "", errors.New("recovery token record requires an account")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockAccountTokensSQL, record.AccountID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	if _, err := tx.Exec(ctx, supersedeTokensSQL, record.AccountID, record.IssuedAt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	if _, err := tx.Exec(ctx, insertTokenSQL,
		record.ID,
		record.Hash.String(),
		record.AccountID,
		record.ExpiresAt,
		record.IP,
		record.UserAgent,
		record.IssuedAt,
	); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	return record.ID, nil
}

// Consume performs the valid -> consumed transition as a single conditional UPDATE.
// When no row qualifies, a follow-up read classifies the rejection for audit purposes.
func (s *PostgresTokenStore) Consume(ctx context.Context, hash tokens.Hash, now time.Time) (*TokenRecord, error) {
	hexHash := hash.String()

	record := &TokenRecord{Hash: hash, ConsumedAt: now}
	err := s.db.QueryRow(ctx, consumeTokenSQL, hexHash, now).Scan(
		&record.ID,
		&record.AccountID,
		&record.ExpiresAt,
		&record.IP,
		&record.UserAgent,
		&record.IssuedAt,
	)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}

	var used, superseded bool
	err = s.db.QueryRow(ctx, classifyTokenSQL, hexHash).Scan(&used, &superseded)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrTokenNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	case used:
		return nil, ErrTokenAlreadyConsumed
	case superseded:
		return nil, ErrTokenSuperseded
	default:
		return nil, ErrTokenExpired
	}
}

// PurgeExpired deletes tokens whose expiry is older than before and returns the count.
func (s *PostgresTokenStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeTokensSQL, before)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

