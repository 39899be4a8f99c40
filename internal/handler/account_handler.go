package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidic84/InstaAi/internal/middleware"
	"github.com/tidic84/InstaAi/internal/model"
)

// AccountServiceInterface is what the account handler needs. account.Service implements it.
type AccountServiceInterface interface {
	Add(ctx context.Context, userID, username, password string) (*model.Account, error)
	SetActive(ctx context.Context, userID, accountID string, active bool) (*model.Account, error)
	Delete(ctx context.Context, userID, accountID string) error
	List(ctx context.Context, userID string) ([]*model.Account, error)
}

// AccountHandler serves /api/accounts.
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

type addAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateAccountRequest struct {
	IsActive *bool `json:"is_active"`
}

// accountResponse never carries the credential.
type accountResponse struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	RemoteUserID string     `json:"remote_user_id,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastError    string     `json:"last_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		Username:     a.Username,
		RemoteUserID: a.RemoteUserID,
		IsActive:     a.IsActive,
		LastError:    a.LastError,
		LastSyncedAt: a.LastSyncedAt,
		CreatedAt:    a.CreatedAt,
	}
}

// ListAccounts handles GET /api/accounts.
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddAccount handles POST /api/accounts. The credential is verified with the provider first.
func (h *AccountHandler) AddAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("username and password are required"))
		return
	}

	account, err := h.service.Add(r.Context(), userID, req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// UpdateAccount handles PATCH /api/accounts/{id}.
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("is_active is required"))
		return
	}

	account, err := h.service.SetActive(r.Context(), userID, chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// DeleteAccount handles DELETE /api/accounts/{id}.
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
