// Package repository defines the persistence interfaces and their PostgreSQL implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tidic84/InstaAi/internal/model"
)

// ErrNotPending is returned when a suggestion state change finds the suggestion already settled.
var ErrNotPending = errors.New("suggestion is not pending")

// ErrDuplicateConversation is returned when an account already has a conversation with the participant.
var ErrDuplicateConversation = errors.New("conversation already exists for participant")

// AccountRepository persists accounts.
type AccountRepository interface {
	// FindByID returns the account with id, or nil when it does not exist.
	FindByID(ctx context.Context, id string) (*model.Account, error)
	// FindByUserAndUsername returns the owner's account for username, or nil.
	FindByUserAndUsername(ctx context.Context, userID, username string) (*model.Account, error)
	// ListActive returns every active account, oldest first.
	ListActive(ctx context.Context) ([]*model.Account, error)
	// ListActiveByUserID returns the owner's active accounts, oldest first.
	ListActiveByUserID(ctx context.Context, userID string) ([]*model.Account, error)
	// ListByUserID returns all of the owner's accounts.
	ListByUserID(ctx context.Context, userID string) ([]*model.Account, error)
	Create(ctx context.Context, account *model.Account) error
	// UpdateRemoteUserID records the provider-assigned user id.
	UpdateRemoteUserID(ctx context.Context, id, remoteUserID string) error
	// SetActive flips the active flag and records the reason (empty when re-enabled).
	SetActive(ctx context.Context, id string, active bool, lastError string) error
	// MarkSynced sets last_synced_at.
	MarkSynced(ctx context.Context, id string, at time.Time) error
	// Delete removes the account; conversations, messages and suggestions cascade.
	Delete(ctx context.Context, id string) error
}

// ConversationRepository persists conversations.
type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	// FindByParticipant returns the conversation keyed by (accountID, participant), or nil.
	FindByParticipant(ctx context.Context, accountID, participant string) (*model.Conversation, error)
	Create(ctx context.Context, conv *model.Conversation) error
	// Touch records the thread id of the current pass and advances last_message_at.
	// last_message_at never moves backwards.
	Touch(ctx context.Context, id, remoteThreadID string, lastMessageAt time.Time) error
	// ListByUserID returns the owner's conversations, most recent activity first.
	ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error)
}

// MessageRepository persists messages.
type MessageRepository interface {
	FindByID(ctx context.Context, id string) (*model.Message, error)
	// ExistsNear reports whether the conversation has a message with exactly content
	// sent within [at-tolerance, at+tolerance].
	ExistsNear(ctx context.Context, conversationID, content string, at time.Time, tolerance time.Duration) (bool, error)
	Create(ctx context.Context, msg *model.Message) error
	// ListRecent returns up to limit of the newest messages other than excludeID,
	// ordered oldest to newest.
	ListRecent(ctx context.Context, conversationID, excludeID string, limit int) ([]*model.Message, error)
	// ListByConversation returns up to limit messages, oldest to newest.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)
}

// SuggestionRepository persists suggestions.
type SuggestionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Suggestion, error)
	FindByMessageID(ctx context.Context, messageID string) (*model.Suggestion, error)
	// Create inserts the suggestion unless the message already has one.
	// It reports whether a row was inserted.
	Create(ctx context.Context, s *model.Suggestion) (bool, error)
	// MarkSent moves a pending suggestion to sent, stores editedText and inserts the
	// outbound message in one transaction. ErrNotPending when it was not pending.
	MarkSent(ctx context.Context, id string, editedText *string, outbound *model.Message) error
	// MarkRejected moves a pending suggestion to rejected. ErrNotPending when it was not pending.
	MarkRejected(ctx context.Context, id string) error
	// ListByUserID lists the owner's suggestions with the given status, newest first.
	ListByUserID(ctx context.Context, userID string, status model.SuggestionStatus, limit int) ([]*model.SuggestionView, error)
}

// SyncRunRepository persists the sync run log.
type SyncRunRepository interface {
	Create(ctx context.Context, run *model.SyncRun) error
	// ListRecent returns up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
}
