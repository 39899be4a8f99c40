package handler

import (
	"context"
	"fmt"

	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/repository"
)

// MessageSender sends a manual reply. approval.Workflow implements it.
type MessageSender interface {
	Send(ctx context.Context, userID, conversationID, text string) (*model.Message, error)
}

// SuggestionSettler approves or rejects suggestions. approval.Workflow implements it.
type SuggestionSettler interface {
	Approve(ctx context.Context, userID, suggestionID, editedText string) (*model.Suggestion, error)
	Reject(ctx context.Context, userID, suggestionID string) (*model.Suggestion, error)
}

// ConversationServiceAdapter builds ConversationServiceInterface from the repositories and the send workflow.
type ConversationServiceAdapter struct {
	accounts      repository.AccountRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	sender        MessageSender
}

// NewConversationServiceAdapter creates a ConversationServiceAdapter.
func NewConversationServiceAdapter(
	accounts repository.AccountRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	sender MessageSender,
) *ConversationServiceAdapter {
	return &ConversationServiceAdapter{
		accounts:      accounts,
		conversations: conversations,
		messages:      messages,
		sender:        sender,
	}
}

func (a *ConversationServiceAdapter) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	convs, err := a.conversations.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// ListMessages returns the latest limit messages of a conversation the caller owns.
func (a *ConversationServiceAdapter) ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]*model.Message, error) {
	conv, err := a.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, model.NewConversationNotFoundError(conversationID)
	}

	account, err := a.accounts.FindByID(ctx, conv.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, model.NewConversationNotFoundError(conversationID)
	}
	if account.UserID != userID {
		return nil, model.NewForbiddenError()
	}

	msgs, err := a.messages.ListByConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

func (a *ConversationServiceAdapter) SendMessage(ctx context.Context, userID, conversationID, text string) (*model.Message, error) {
	return a.sender.Send(ctx, userID, conversationID, text)
}

// SuggestionServiceAdapter builds SuggestionServiceInterface from the suggestion repository and the approval workflow.
type SuggestionServiceAdapter struct {
	suggestions repository.SuggestionRepository
	settler     SuggestionSettler
}

// NewSuggestionServiceAdapter creates a SuggestionServiceAdapter.
func NewSuggestionServiceAdapter(suggestions repository.SuggestionRepository, settler SuggestionSettler) *SuggestionServiceAdapter {
	return &SuggestionServiceAdapter{suggestions: suggestions, settler: settler}
}

func (a *SuggestionServiceAdapter) ListSuggestions(ctx context.Context, userID string, status model.SuggestionStatus, limit int) ([]*model.SuggestionView, error) {
	views, err := a.suggestions.ListByUserID(ctx, userID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	return views, nil
}

func (a *SuggestionServiceAdapter) Approve(ctx context.Context, userID, suggestionID, editedText string) (*model.Suggestion, error) {
	return a.settler.Approve(ctx, userID, suggestionID, editedText)
}

func (a *SuggestionServiceAdapter) Reject(ctx context.Context, userID, suggestionID string) (*model.Suggestion, error) {
	return a.settler.Reject(ctx, userID, suggestionID)
}

var (
	_ ConversationServiceInterface = (*ConversationServiceAdapter)(nil)
	_ SuggestionServiceInterface   = (*SuggestionServiceAdapter)(nil)
)
