package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tidic84/InstaAi/internal/model"
)

const suggestionColumns = `id, message_id, suggested_text, edited_text, status, is_fallback, created_at, updated_at`

// PostgresSuggestionRepo is the PostgreSQL SuggestionRepository.
type PostgresSuggestionRepo struct {
	db *sqlx.DB
}

// NewPostgresSuggestionRepo creates a PostgresSuggestionRepo.
func NewPostgresSuggestionRepo(db *sqlx.DB) *PostgresSuggestionRepo {
	return &PostgresSuggestionRepo{db: db}
}

// FindByID returns the suggestion with id, or nil.
func (r *PostgresSuggestionRepo) FindByID(ctx context.Context, id string) (*model.Suggestion, error) {
	var s model.Suggestion
	err := r.db.GetContext(ctx, &s, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	return &s, nil
}

// FindByMessageID returns the suggestion answering messageID, or nil.
func (r *PostgresSuggestionRepo) FindByMessageID(ctx context.Context, messageID string) (*model.Suggestion, error) {
	var s model.Suggestion
	err := r.db.GetContext(ctx, &s, `SELECT `+suggestionColumns+` FROM suggestions WHERE message_id = $1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find suggestion by message: %w", err)
	}
	return &s, nil
}

// Create inserts s unless the message already has a suggestion.
func (r *PostgresSuggestionRepo) Create(ctx context.Context, s *model.Suggestion) (bool, error) {
	res, err := r.db.NamedExecContext(ctx,
		`INSERT INTO suggestions (`+suggestionColumns+`)
		 VALUES (:id, :message_id, :suggested_text, :edited_text, :status, :is_fallback, :created_at, :updated_at)
		 ON CONFLICT (message_id) DO NOTHING`,
		s,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create suggestion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// MarkSent settles a pending suggestion and records the outbound message atomically.
func (r *PostgresSuggestionRepo) MarkSent(ctx context.Context, id string, editedText *string, outbound *model.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE suggestions SET status = 'sent', edited_text = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, editedText,
	)
	if err != nil {
		return fmt.Errorf("failed to mark suggestion sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}

	if outbound != nil {
		if err := insertMessage(ctx, tx, outbound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2), updated_at = now() WHERE id = $1`,
			outbound.ConversationID, outbound.SentAt,
		); err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkRejected settles a pending suggestion as rejected.
func (r *PostgresSuggestionRepo) MarkRejected(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE suggestions SET status = 'rejected', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark suggestion rejected: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// ListByUserID lists the owner's suggestions with status, newest first.
func (r *PostgresSuggestionRepo) ListByUserID(ctx context.Context, userID string, status model.SuggestionStatus, limit int) ([]*model.SuggestionView, error) {
	var views []*model.SuggestionView
	err := r.db.SelectContext(ctx, &views,
		`SELECT s.id, s.message_id, s.suggested_text, s.edited_text, s.status, s.is_fallback,
		        s.created_at, s.updated_at,
		        c.id AS conversation_id, c.account_id, c.participant,
		        m.content AS message_content, m.sent_at AS message_sent_at
		 FROM suggestions s
		 JOIN messages m ON m.id = s.message_id
		 JOIN conversations c ON c.id = m.conversation_id
		 JOIN accounts a ON a.id = c.account_id
		 WHERE a.user_id = $1 AND s.status = $2
		 ORDER BY s.created_at DESC
		 LIMIT $3`,
		userID, status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	return views, nil
}
