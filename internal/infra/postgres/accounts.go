package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

// ErrNoAccount is returned when no row matches the lookup.
var ErrNoAccount = errors.New("account not found")

const (
	accountByEmailSQL = `
		SELECT id, email, disabled
		FROM users
		WHERE lower(email) = $1
		LIMIT 1`

	updatePasswordHashSQL = `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1`
)

// AccountRow is the slice of the users table the recovery flow reads.
type AccountRow struct {
	ID       string
	Email    string
	Disabled bool
}

// AccountRepository reads and updates accounts in the users table.
type AccountRepository struct {
	db  DB
	now func() time.Time
}

// NewAccountRepository creates a repository over db.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

// AccountByEmail looks an account up by its normalised email.
func (r *AccountRepository) AccountByEmail(ctx context.Context, email string) (AccountRow, error) {
	var row AccountRow
	err := r.db.QueryRow(ctx, accountByEmailSQL, email).Scan(&row.ID, &row.Email, &row.Disabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRow{}, ErrNoAccount
		}
		return AccountRow{}, pkgerrors.Wrap(err, "failed to get account by email")
	}
	return row, nil
}

// UpdateCredentialHash replaces the stored password hash of accountID.
func (r *AccountRepository) UpdateCredentialHash(ctx context.Context, accountID, hash string) error {
	tag, err := r.db.Exec(ctx, updatePasswordHashSQL, accountID, hash, r.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update password hash")
	}
	if tag.RowsAffected() == 0 {
		return ErrNoAccount
	}
	return nil
}
