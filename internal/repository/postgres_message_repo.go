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

const messageColumns = `id, conversation_id, content, direction, sent_at, metadata, created_at`

// PostgresMessageRepo is the PostgreSQL MessageRepository.
type PostgresMessageRepo struct {
	db *sqlx.DB
}

// NewPostgresMessageRepo creates a PostgresMessageRepo.
func NewPostgresMessageRepo(db *sqlx.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// FindByID returns the message with id, or nil.
func (r *PostgresMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

// ExistsNear reports whether an identical message exists within the tolerance window.
func (r *PostgresMessageRepo) ExistsNear(ctx context.Context, conversationID, content string, at time.Time, tolerance time.Duration) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE conversation_id = $1 AND content = $2 AND sent_at BETWEEN $3 AND $4
		)`,
		conversationID, content, at.Add(-tolerance), at.Add(tolerance),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate message: %w", err)
	}
	return exists, nil
}

// Create inserts a message.
func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	return insertMessage(ctx, r.db, m)
}

// insertMessage is shared with the suggestion transaction.
func insertMessage(ctx context.Context, ext sqlx.ExtContext, m *model.Message) error {
	metadata := string(m.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	_, err := ext.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		m.ID, m.ConversationID, m.Content, m.Direction, m.SentAt, metadata, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListRecent returns up to limit of the newest messages other than excludeID, oldest first.
func (r *PostgresMessageRepo) ListRecent(ctx context.Context, conversationID, excludeID string, limit int) ([]*model.Message, error) {
	var msgs []*model.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND id <> $2
			ORDER BY sent_at DESC, created_at DESC
			LIMIT $3
		) recent ORDER BY sent_at ASC, created_at ASC`,
		conversationID, excludeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return msgs, nil
}

// ListByConversation returns up to limit of the newest messages, oldest first.
func (r *PostgresMessageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	var msgs []*model.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1
			ORDER BY sent_at DESC, created_at DESC
			LIMIT $2
		) page ORDER BY sent_at ASC, created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}
