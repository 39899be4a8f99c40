package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidic84/InstaAi/internal/model"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// ConversationServiceInterface is the read side of the inbox plus manual send.
type ConversationServiceInterface interface {
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]*model.Message, error)
	SendMessage(ctx context.Context, userID, conversationID, text string) (*model.Message, error)
}

// ConversationHandler serves /api/conversations.
type ConversationHandler struct {
	service ConversationServiceInterface
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(service ConversationServiceInterface) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type conversationResponse struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Participant   string    `json:"participant"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Direction      string    `json:"direction"`
	SentAt         time.Time `json:"sent_at"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func toMessageResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Direction:      string(m.Direction),
		SentAt:         m.SentAt,
	}
}

// ListConversations handles GET /api/conversations, most recent activity first.
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	convs, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, conversationResponse{
			ID:            c.ID,
			AccountID:     c.AccountID,
			Participant:   c.Participant,
			LastMessageAt: c.LastMessageAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages handles GET /api/conversations/{id}/messages?limit=N, oldest first.
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxMessageLimit {
			handleServiceError(w, r, model.NewInvalidRequestError("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	msgs, err := h.service.ListMessages(r.Context(), userID, chi.URLParam(r, "id"), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// SendMessage handles POST /api/conversations/{id}/messages.
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("text is required"))
		return
	}

	msg, err := h.service.SendMessage(r.Context(), userID, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}
