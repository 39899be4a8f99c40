// Package reconcile merges one account's remote inbox into the local store.
//
// The work is staged: Reconcile handles the account, syncThread maps one
// remote thread onto a conversation and pages through it, and ingestItem
// deduplicates and stores a single item. Page fetches are spaced by a Pacer.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tidic84/InstaAi/internal/metrics"
	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/provider"
	"github.com/tidic84/InstaAi/internal/repository"
	"github.com/tidic84/InstaAi/internal/retry"
	"github.com/tidic84/InstaAi/internal/security"
)

// DedupWindow is the tolerance within which an identical text in the same
// conversation is treated as the same remote message. The bound is inclusive.
const DedupWindow = 5 * time.Second

// maxPagesPerThread stops a provider that never reports the last page.
const maxPagesPerThread = 200

// SessionSource hands out provider sessions.
type SessionSource interface {
	Get(ctx context.Context, accountID string) (*provider.Session, error)
}

// SuggestionGenerator drafts a reply for a stored inbound message.
type SuggestionGenerator interface {
	Generate(ctx context.Context, msg *model.Message) (*model.Suggestion, error)
}

// Result counts what one Reconcile call did.
type Result struct {
	NewMessages          int `json:"new_messages"`
	ThreadsProcessed     int `json:"threads_processed"`
	SuggestionsGenerated int `json:"suggestions_generated"`
	SkippedItems         int `json:"skipped_items"`
}

// Options tunes a Reconciler. Zero values take the defaults.
type Options struct {
	Pacer   Pacer
	Retry   *retry.Policy
	Metrics metrics.MetricsCollector
	Now     func() time.Time
}

// Reconciler pulls threads and messages for one account at a time.
type Reconciler struct {
	sessions      SessionSource
	client        provider.Client
	accounts      repository.AccountRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	generator     SuggestionGenerator
	sanitizer     security.TextSanitizer
	pacer         Pacer
	policy        *retry.Policy
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	sessions SessionSource,
	client provider.Client,
	accounts repository.AccountRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	generator SuggestionGenerator,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
	opts Options,
) *Reconciler {
	r := &Reconciler{
		sessions:      sessions,
		client:        client,
		accounts:      accounts,
		conversations: conversations,
		messages:      messages,
		generator:     generator,
		sanitizer:     sanitizer,
		pacer:         opts.Pacer,
		policy:        opts.Retry,
		metrics:       opts.Metrics,
		logger:        logger,
		now:           opts.Now,
	}
	if r.pacer == nil {
		r.pacer = NewFixedPacer(DefaultPageDelay)
	}
	if r.policy == nil {
		r.policy = retry.NewPolicy(provider.IsRateLimited)
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Reconcile syncs every inbox thread of account and stamps the account as synced.
// Counters in the returned Result are valid even when an error is returned;
// work committed before the failure is kept.
func (r *Reconciler) Reconcile(ctx context.Context, account *model.Account) (*Result, error) {
	result := &Result{}

	s, err := r.sessions.Get(ctx, account.ID)
	if err != nil {
		return result, err
	}

	var threads []provider.Thread
	err = r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		threads, err = r.client.ListInboxThreads(ctx, s)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("failed to list inbox threads: %w", err)
	}

	selfID := s.RemoteUserID
	if selfID == "" {
		selfID = account.RemoteUserID
	}

	for _, thread := range threads {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := r.syncThread(ctx, account, s, selfID, thread, result); err != nil {
			return result, err
		}
	}

	if err := r.accounts.MarkSynced(ctx, account.ID, r.now()); err != nil {
		return result, model.WrapPersistence("mark account synced", err)
	}

	r.metrics.RecordMessagesIngested(result.NewMessages)
	r.logger.Info("account reconciled",
		slog.String("account_id", account.ID),
		slog.Int("threads", result.ThreadsProcessed),
		slog.Int("new_messages", result.NewMessages),
		slog.Int("suggestions", result.SuggestionsGenerated),
		slog.Int("skipped_items", result.SkippedItems),
	)
	return result, nil
}

// syncThread maps thread onto its conversation and ingests all of its pages.
func (r *Reconciler) syncThread(ctx context.Context, account *model.Account, s *provider.Session, selfID string, thread provider.Thread, result *Result) error {
	identity := thread.Identity()
	if identity == "" {
		r.logger.Warn("skipping thread without participant identity",
			slog.String("account_id", account.ID),
			slog.String("thread_id", thread.ID),
		)
		return nil
	}

	lastAt := r.now().UTC()
	if thread.LastItem != nil {
		if ts, ok := NormalizeTimestamp(thread.LastItem.Timestamp); ok {
			lastAt = ts
		}
	}

	conv, err := r.upsertConversation(ctx, account.ID, identity, thread.ID, lastAt)
	if err != nil {
		return err
	}

	cursor := ""
	for page := 0; page < maxPagesPerThread; page++ {
		if page > 0 {
			if err := r.pacer.Pause(ctx); err != nil {
				return err
			}
		}

		mp, err := r.fetchPage(ctx, s, thread.ID, cursor)
		if err != nil {
			return fmt.Errorf("failed to fetch messages of thread %s: %w", thread.ID, err)
		}

		for _, item := range mp.Items {
			if err := r.ingestItem(ctx, conv, selfID, thread.ID, item, result); err != nil {
				return err
			}
		}

		if len(mp.Items) == 0 || !mp.HasMore || mp.NextCursor == "" || mp.NextCursor == cursor {
			break
		}
		cursor = mp.NextCursor
	}

	result.ThreadsProcessed++
	return nil
}

// upsertConversation finds the conversation for (account, identity) or creates it,
// then advances its watermark.
func (r *Reconciler) upsertConversation(ctx context.Context, accountID, identity, threadID string, lastAt time.Time) (*model.Conversation, error) {
	conv, err := r.conversations.FindByParticipant(ctx, accountID, identity)
	if err != nil {
		return nil, model.WrapPersistence("find conversation", err)
	}

	if conv == nil {
		now := r.now()
		conv = &model.Conversation{
			ID:             uuid.New().String(),
			AccountID:      accountID,
			Participant:    identity,
			RemoteThreadID: threadID,
			LastMessageAt:  lastAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err := r.conversations.Create(ctx, conv)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repository.ErrDuplicateConversation) {
			return nil, model.WrapPersistence("create conversation", err)
		}
		// Created concurrently; continue with the stored row.
		conv, err = r.conversations.FindByParticipant(ctx, accountID, identity)
		if err != nil {
			return nil, model.WrapPersistence("find conversation", err)
		}
		if conv == nil {
			return nil, model.WrapPersistence("create conversation", repository.ErrDuplicateConversation)
		}
	}

	if err := r.conversations.Touch(ctx, conv.ID, threadID, lastAt); err != nil {
		return nil, model.WrapPersistence("update conversation", err)
	}
	return conv, nil
}

func (r *Reconciler) fetchPage(ctx context.Context, s *provider.Session, threadID, cursor string) (*provider.MessagePage, error) {
	var mp *provider.MessagePage
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		mp, err = r.client.ListThreadMessages(ctx, s, threadID, cursor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if mp == nil {
		mp = &provider.MessagePage{}
	}
	return mp, nil
}

// ingestItem stores item unless it is not text, has no usable timestamp, or is already known.
// New inbound messages get a suggestion before the next item is read.
func (r *Reconciler) ingestItem(ctx context.Context, conv *model.Conversation, selfID, threadID string, item provider.Item, result *Result) error {
	if !item.IsText() {
		result.SkippedItems++
		return nil
	}
	sentAt, ok := NormalizeTimestamp(item.Timestamp)
	if !ok {
		r.logger.Debug("skipping item with invalid timestamp",
			slog.String("conversation_id", conv.ID),
			slog.String("item_id", item.ID),
		)
		result.SkippedItems++
		return nil
	}
	text := r.sanitizer.Sanitize(item.Text)
	if text == "" {
		result.SkippedItems++
		return nil
	}

	known, err := r.messages.ExistsNear(ctx, conv.ID, text, sentAt, DedupWindow)
	if err != nil {
		return model.WrapPersistence("check duplicate", err)
	}
	if known {
		return nil
	}

	direction := model.DirectionInbound
	if selfID != "" && item.SenderID == selfID {
		direction = model.DirectionOutbound
	}

	metadata, err := json.Marshal(model.MessageMetadata{
		RemoteItemID:   item.ID,
		RemoteThreadID: threadID,
		SenderID:       item.SenderID,
		RawTimestamp:   item.Timestamp.Value,
		Source:         "sync",
	})
	if err != nil {
		return fmt.Errorf("failed to encode message metadata: %w", err)
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Content:        text,
		Direction:      direction,
		SentAt:         sentAt,
		Metadata:       metadata,
		CreatedAt:      r.now(),
	}
	if err := r.messages.Create(ctx, msg); err != nil {
		return model.WrapPersistence("create message", err)
	}
	result.NewMessages++

	if !msg.IsInbound() || r.generator == nil {
		return nil
	}
	if _, err := r.generator.Generate(ctx, msg); err != nil {
		return err
	}
	result.SuggestionsGenerated++
	return nil
}
