package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tidic84/InstaAi/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const conversationColumns = `id, account_id, participant, remote_thread_id, last_message_at, created_at, updated_at`

// PostgresConversationRepo is the PostgreSQL ConversationRepository.
type PostgresConversationRepo struct {
	db *sqlx.DB
}

// NewPostgresConversationRepo creates a PostgresConversationRepo.
func NewPostgresConversationRepo(db *sqlx.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// FindByID returns the conversation with id, or nil.
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &c, nil
}

// FindByParticipant returns the conversation keyed by (accountID, participant), or nil.
func (r *PostgresConversationRepo) FindByParticipant(ctx context.Context, accountID, participant string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c,
		`SELECT `+conversationColumns+` FROM conversations WHERE account_id = $1 AND participant = $2`,
		accountID, participant,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation by participant: %w", err)
	}
	return &c, nil
}

// Create inserts a conversation. ErrDuplicateConversation when (account, participant) is taken.
func (r *PostgresConversationRepo) Create(ctx context.Context, c *model.Conversation) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES (:id, :account_id, :participant, :remote_thread_id, :last_message_at, :created_at, :updated_at)`,
		c,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateConversation
	}
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// Touch records the thread id and advances last_message_at without ever moving it back.
func (r *PostgresConversationRepo) Touch(ctx context.Context, id, remoteThreadID string, lastMessageAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations
		 SET remote_thread_id = CASE WHEN $2 = '' THEN remote_thread_id ELSE $2 END,
		     last_message_at = GREATEST(last_message_at, $3),
		     updated_at = now()
		 WHERE id = $1`,
		id, remoteThreadID, lastMessageAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// ListByUserID returns the owner's conversations, most recent activity first.
func (r *PostgresConversationRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := r.db.SelectContext(ctx, &convs,
		`SELECT c.id, c.account_id, c.participant, c.remote_thread_id, c.last_message_at, c.created_at, c.updated_at
		 FROM conversations c
		 JOIN accounts a ON a.id = c.account_id
		 WHERE a.user_id = $1
		 ORDER BY c.last_message_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}
