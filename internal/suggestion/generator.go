// Package suggestion drafts reply suggestions for newly received messages.
package suggestion

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tidic84/InstaAi/internal/completion"
	"github.com/tidic84/InstaAi/internal/metrics"
	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/repository"
)

// DefaultHistoryWindow is the number of earlier messages sent as context.
const DefaultHistoryWindow = 10

// FallbackText is stored when the completion service fails.
const FallbackText = "Sorry, I couldn't generate a response at this time."

// SystemPrompt is the fixed instruction for every completion.
const SystemPrompt = `You are a helpful assistant replying to direct messages on behalf of the account owner.
Keep your replies:
- Friendly and helpful
- Concise, under 200 characters when possible
- Conversational but professional
- Free of hashtags unless they are specifically relevant
If you are unsure how to answer, say so honestly instead of guessing.`

// Generator turns an inbound message into a pending suggestion.
type Generator struct {
	messages      repository.MessageRepository
	suggestions   repository.SuggestionRepository
	completer     completion.Completer
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	historyWindow int
	now           func() time.Time
}

// NewGenerator creates a Generator. historyWindow <= 0 uses DefaultHistoryWindow.
func NewGenerator(
	messages repository.MessageRepository,
	suggestions repository.SuggestionRepository,
	completer completion.Completer,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	historyWindow int,
) *Generator {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Generator{
		messages:      messages,
		suggestions:   suggestions,
		completer:     completer,
		metrics:       mc,
		logger:        logger,
		historyWindow: historyWindow,
		now:           time.Now,
	}
}

// Generate returns the suggestion for msg, creating it when the message has none.
// Completion failures never fail the call; they produce FallbackText instead.
// Only store failures are returned, wrapped as *model.PersistenceError.
func (g *Generator) Generate(ctx context.Context, msg *model.Message) (*model.Suggestion, error) {
	existing, err := g.suggestions.FindByMessageID(ctx, msg.ID)
	if err != nil {
		return nil, model.WrapPersistence("find suggestion", err)
	}
	if existing != nil {
		return existing, nil
	}

	history, err := g.messages.ListRecent(ctx, msg.ConversationID, msg.ID, g.historyWindow)
	if err != nil {
		return nil, model.WrapPersistence("load history", err)
	}

	text, fallback := g.complete(ctx, msg, history)

	now := g.now()
	s := &model.Suggestion{
		ID:            uuid.New().String(),
		MessageID:     msg.ID,
		SuggestedText: text,
		Status:        model.SuggestionPending,
		IsFallback:    fallback,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := g.suggestions.Create(ctx, s)
	if err != nil {
		return nil, model.WrapPersistence("create suggestion", err)
	}
	if !created {
		// Lost a race with another pass for the same message.
		existing, err := g.suggestions.FindByMessageID(ctx, msg.ID)
		if err != nil {
			return nil, model.WrapPersistence("find suggestion", err)
		}
		return existing, nil
	}

	if fallback {
		g.metrics.RecordSuggestionGenerated(metrics.SourceFallback)
	} else {
		g.metrics.RecordSuggestionGenerated(metrics.SourceCompletion)
	}
	return s, nil
}

func (g *Generator) complete(ctx context.Context, msg *model.Message, history []*model.Message) (string, bool) {
	if g.completer == nil {
		return FallbackText, true
	}

	turns := make([]completion.Turn, 0, len(history))
	for _, h := range history {
		turns = append(turns, completion.Turn{Role: roleOf(h), Content: h.Content})
	}

	text, err := g.completer.Complete(ctx, SystemPrompt, turns, msg.Content)
	if err != nil {
		g.logger.Warn("completion failed, storing fallback suggestion",
			slog.String("message_id", msg.ID),
			slog.String("conversation_id", msg.ConversationID),
			slog.String("error", err.Error()),
		)
		return FallbackText, true
	}
	return text, false
}

func roleOf(m *model.Message) string {
	if m.IsInbound() {
		return completion.RoleUser
	}
	return completion.RoleAssistant
}
