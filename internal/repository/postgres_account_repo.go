package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tidic84/InstaAi/internal/model"
)

const accountColumns = `id, user_id, username, encrypted_credential, remote_user_id,
	is_active, last_error, last_synced_at, created_at, updated_at`

// PostgresAccountRepo is the PostgreSQL AccountRepository.
type PostgresAccountRepo struct {
	db *sqlx.DB
}

// NewPostgresAccountRepo creates a PostgresAccountRepo.
func NewPostgresAccountRepo(db *sqlx.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID returns the account with id. It returns nil when not found.
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := r.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// FindByUserAndUsername returns the owner's account for username. It returns nil when not found.
func (r *PostgresAccountRepo) FindByUserAndUsername(ctx context.Context, userID, username string) (*model.Account, error) {
	var a model.Account
	err := r.db.GetContext(ctx, &a,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND username = $2`,
		userID, username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by username: %w", err)
	}
	return &a, nil
}

// ListActive returns every active account, oldest first.
func (r *PostgresAccountRepo) ListActive(ctx context.Context) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.SelectContext(ctx, &accounts,
		`SELECT `+accountColumns+` FROM accounts WHERE is_active ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	return accounts, nil
}

// ListActiveByUserID returns the owner's active accounts, oldest first.
func (r *PostgresAccountRepo) ListActiveByUserID(ctx context.Context, userID string) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.SelectContext(ctx, &accounts,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND is_active ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts of user: %w", err)
	}
	return accounts, nil
}

// ListByUserID returns all of the owner's accounts.
func (r *PostgresAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.SelectContext(ctx, &accounts,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// Create inserts an account.
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.Account) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (:id, :user_id, :username, :encrypted_credential, :remote_user_id,
		         :is_active, :last_error, :last_synced_at, :created_at, :updated_at)`,
		a,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// UpdateRemoteUserID records the provider-assigned user id.
func (r *PostgresAccountRepo) UpdateRemoteUserID(ctx context.Context, id, remoteUserID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET remote_user_id = $2, updated_at = now() WHERE id = $1`,
		id, remoteUserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update remote user id: %w", err)
	}
	return nil
}

// SetActive flips the active flag and records the reason.
func (r *PostgresAccountRepo) SetActive(ctx context.Context, id string, active bool, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		id, active, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	return nil
}

// MarkSynced sets last_synced_at.
func (r *PostgresAccountRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_synced_at = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark account synced: %w", err)
	}
	return nil
}

// Delete removes the account and, by cascade, everything under it.
func (r *PostgresAccountRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
