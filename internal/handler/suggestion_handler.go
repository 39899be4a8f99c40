package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidic84/InstaAi/internal/model"
)

const defaultSuggestionLimit = 50

// SuggestionServiceInterface lists and settles suggestions.
type SuggestionServiceInterface interface {
	ListSuggestions(ctx context.Context, userID string, status model.SuggestionStatus, limit int) ([]*model.SuggestionView, error)
	Approve(ctx context.Context, userID, suggestionID, editedText string) (*model.Suggestion, error)
	Reject(ctx context.Context, userID, suggestionID string) (*model.Suggestion, error)
}

// SuggestionHandler serves /api/suggestions.
type SuggestionHandler struct {
	service SuggestionServiceInterface
}

// NewSuggestionHandler creates a SuggestionHandler.
func NewSuggestionHandler(service SuggestionServiceInterface) *SuggestionHandler {
	return &SuggestionHandler{service: service}
}

type approveRequest struct {
	EditedText string `json:"edited_text"`
}

type suggestionResponse struct {
	ID             string     `json:"id"`
	MessageID      string     `json:"message_id"`
	SuggestedText  string     `json:"suggested_text"`
	EditedText     *string    `json:"edited_text"`
	Status         string     `json:"status"`
	IsFallback     bool       `json:"is_fallback"`
	CreatedAt      time.Time  `json:"created_at"`
	ConversationID string     `json:"conversation_id,omitempty"`
	AccountID      string     `json:"account_id,omitempty"`
	Participant    string     `json:"participant,omitempty"`
	MessageContent string     `json:"message_content,omitempty"`
	MessageSentAt  *time.Time `json:"message_sent_at,omitempty"`
}

func toSuggestionResponse(s *model.Suggestion) suggestionResponse {
	return suggestionResponse{
		ID:            s.ID,
		MessageID:     s.MessageID,
		SuggestedText: s.SuggestedText,
		EditedText:    s.EditedText,
		Status:        string(s.Status),
		IsFallback:    s.IsFallback,
		CreatedAt:     s.CreatedAt,
	}
}

func toSuggestionViewResponse(v *model.SuggestionView) suggestionResponse {
	resp := toSuggestionResponse(&v.Suggestion)
	resp.ConversationID = v.ConversationID
	resp.AccountID = v.AccountID
	resp.Participant = v.Participant
	resp.MessageContent = v.MessageContent
	sentAt := v.MessageSentAt
	resp.MessageSentAt = &sentAt
	return resp
}

// ListSuggestions handles GET /api/suggestions?status=pending. Status defaults to pending.
func (h *SuggestionHandler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	status := model.SuggestionStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = model.SuggestionPending
	case model.SuggestionPending, model.SuggestionSent, model.SuggestionRejected:
	default:
		handleServiceError(w, r, model.NewInvalidRequestError("status must be pending, sent or rejected"))
		return
	}

	views, err := h.service.ListSuggestions(r.Context(), userID, status, defaultSuggestionLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]suggestionResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toSuggestionViewResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Approve handles POST /api/suggestions/{id}/approve. The body is optional.
func (h *SuggestionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req approveRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	s, err := h.service.Approve(r.Context(), userID, chi.URLParam(r, "id"), req.EditedText)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionResponse(s))
}

// Reject handles POST /api/suggestions/{id}/reject.
func (h *SuggestionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	s, err := h.service.Reject(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionResponse(s))
}
