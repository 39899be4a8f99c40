// Package approval moves reply suggestions through pending -> sent / rejected
// and sends approved text to the provider.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tidic84/InstaAi/internal/metrics"
	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/provider"
	"github.com/tidic84/InstaAi/internal/repository"
	"github.com/tidic84/InstaAi/internal/security"
)

// MaxMessageLength bounds text sent to the provider.
const MaxMessageLength = 1000

// Sessions is the part of the session manager the workflow needs.
type Sessions interface {
	Get(ctx context.Context, accountID string) (*provider.Session, error)
	Invalidate(accountID string)
}

// Workflow approves, rejects and sends replies on behalf of an account owner.
type Workflow struct {
	accounts      repository.AccountRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	suggestions   repository.SuggestionRepository
	sessions      Sessions
	client        provider.Client
	sanitizer     security.TextSanitizer
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time
}

// NewWorkflow creates a Workflow.
func NewWorkflow(
	accounts repository.AccountRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	suggestions repository.SuggestionRepository,
	sessions Sessions,
	client provider.Client,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Workflow {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Workflow{
		accounts:      accounts,
		conversations: conversations,
		messages:      messages,
		suggestions:   suggestions,
		sessions:      sessions,
		client:        client,
		sanitizer:     sanitizer,
		metrics:       mc,
		logger:        logger,
		now:           time.Now,
	}
}

// owned is a suggestion together with the parent chain that proved ownership.
type owned struct {
	suggestion   *model.Suggestion
	conversation *model.Conversation
	account      *model.Account
}

// Approve sends the edited text, or the suggested text when editedText is empty,
// and only then marks the suggestion sent and records the outbound message.
// A failed send leaves the suggestion pending.
func (w *Workflow) Approve(ctx context.Context, userID, suggestionID, editedText string) (*model.Suggestion, error) {
	o, err := w.load(ctx, userID, suggestionID)
	if err != nil {
		return nil, err
	}
	if !o.suggestion.IsPending() {
		return nil, model.NewInvalidTransitionError(o.suggestion.Status)
	}

	var edited *string
	if e := w.sanitizer.Sanitize(editedText); e != "" {
		edited = &e
		o.suggestion.EditedText = edited
	}
	text := w.sanitizer.Sanitize(o.suggestion.TextToSend())
	if text == "" {
		return nil, model.NewInvalidRequestError("reply text is empty")
	}
	if len([]rune(text)) > MaxMessageLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("reply text exceeds %d characters", MaxMessageLength))
	}

	if err := w.send(ctx, o.account, o.conversation, text); err != nil {
		w.metrics.RecordApproval(metrics.OutcomeSendFailed)
		w.logger.Warn("approved reply could not be sent",
			slog.String("suggestion_id", suggestionID),
			slog.String("account_id", o.account.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSendFailedError(err.Error())
	}

	outbound, err := w.outboundMessage(o.conversation, text, "approval", suggestionID)
	if err != nil {
		return nil, err
	}
	if err := w.suggestions.MarkSent(ctx, suggestionID, edited, outbound); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			// Settled concurrently after our read; the send already happened.
			w.logger.Warn("suggestion settled while sending",
				slog.String("suggestion_id", suggestionID),
			)
			return nil, model.NewInvalidTransitionError(model.SuggestionSent)
		}
		return nil, fmt.Errorf("failed to record sent suggestion: %w", err)
	}

	w.metrics.RecordApproval(metrics.OutcomeApproved)
	w.logger.Info("suggestion approved and sent",
		slog.String("suggestion_id", suggestionID),
		slog.String("conversation_id", o.conversation.ID),
		slog.Bool("edited", edited != nil),
	)

	o.suggestion.Status = model.SuggestionSent
	o.suggestion.UpdatedAt = w.now()
	return o.suggestion, nil
}

// Reject discards a pending suggestion. The provider is not contacted.
func (w *Workflow) Reject(ctx context.Context, userID, suggestionID string) (*model.Suggestion, error) {
	o, err := w.load(ctx, userID, suggestionID)
	if err != nil {
		return nil, err
	}
	if !o.suggestion.IsPending() {
		return nil, model.NewInvalidTransitionError(o.suggestion.Status)
	}

	if err := w.suggestions.MarkRejected(ctx, suggestionID); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			current, ferr := w.suggestions.FindByID(ctx, suggestionID)
			if ferr == nil && current != nil {
				return nil, model.NewInvalidTransitionError(current.Status)
			}
			return nil, model.NewInvalidTransitionError(model.SuggestionRejected)
		}
		return nil, fmt.Errorf("failed to reject suggestion: %w", err)
	}

	w.metrics.RecordApproval(metrics.OutcomeRejected)
	w.logger.Info("suggestion rejected", slog.String("suggestion_id", suggestionID))

	o.suggestion.Status = model.SuggestionRejected
	o.suggestion.UpdatedAt = w.now()
	return o.suggestion, nil
}

// Send posts a hand-written reply to a conversation and records it as outbound.
func (w *Workflow) Send(ctx context.Context, userID, conversationID, text string) (*model.Message, error) {
	text = w.sanitizer.Sanitize(text)
	if text == "" {
		return nil, model.NewInvalidRequestError("message text is required")
	}
	if len([]rune(text)) > MaxMessageLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("message text exceeds %d characters", MaxMessageLength))
	}

	conv, err := w.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, model.NewConversationNotFoundError(conversationID)
	}
	account, err := w.ownedAccount(ctx, userID, conv.AccountID)
	if err != nil {
		return nil, err
	}

	if err := w.send(ctx, account, conv, text); err != nil {
		w.metrics.RecordApproval(metrics.OutcomeSendFailed)
		return nil, model.NewSendFailedError(err.Error())
	}

	msg, err := w.outboundMessage(conv, text, "manual", "")
	if err != nil {
		return nil, err
	}
	if err := w.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record sent message: %w", err)
	}
	if err := w.conversations.Touch(ctx, conv.ID, "", msg.SentAt); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	w.metrics.RecordApproval(metrics.OutcomeManualSend)
	return msg, nil
}

// load resolves suggestion -> message -> conversation -> account and checks the owner.
func (w *Workflow) load(ctx context.Context, userID, suggestionID string) (*owned, error) {
	s, err := w.suggestions.FindByID(ctx, suggestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestion: %w", err)
	}
	if s == nil {
		return nil, model.NewSuggestionNotFoundError(suggestionID)
	}

	msg, err := w.messages.FindByID(ctx, s.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		return nil, model.NewSuggestionNotFoundError(suggestionID)
	}

	conv, err := w.conversations.FindByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, model.NewSuggestionNotFoundError(suggestionID)
	}

	account, err := w.ownedAccount(ctx, userID, conv.AccountID)
	if err != nil {
		return nil, err
	}
	return &owned{suggestion: s, conversation: conv, account: account}, nil
}

func (w *Workflow) ownedAccount(ctx context.Context, userID, accountID string) (*model.Account, error) {
	account, err := w.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	if account.UserID != userID {
		return nil, model.NewForbiddenError()
	}
	return account, nil
}

// send delivers text to the conversation's remote thread.
// An authentication failure drops the cached session so the next call logs in again.
func (w *Workflow) send(ctx context.Context, account *model.Account, conv *model.Conversation, text string) error {
	if conv.RemoteThreadID == "" {
		return errors.New("conversation has no remote thread yet; run a sync first")
	}
	s, err := w.sessions.Get(ctx, account.ID)
	if err != nil {
		return err
	}
	if err := w.client.SendMessage(ctx, s, conv.RemoteThreadID, text); err != nil {
		if provider.IsAuthentication(err) {
			w.sessions.Invalidate(account.ID)
		}
		return err
	}
	return nil
}

func (w *Workflow) outboundMessage(conv *model.Conversation, text, source, suggestionID string) (*model.Message, error) {
	meta := map[string]string{
		"source":           source,
		"remote_thread_id": conv.RemoteThreadID,
	}
	if suggestionID != "" {
		meta["suggestion_id"] = suggestionID
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message metadata: %w", err)
	}
	now := w.now()
	return &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Content:        strings.TrimSpace(text),
		Direction:      model.DirectionOutbound,
		SentAt:         now,
		Metadata:       raw,
		CreatedAt:      now,
	}, nil
}
