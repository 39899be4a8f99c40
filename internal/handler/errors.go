// Package handler implements the HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidic84/InstaAi/internal/middleware"
	"github.com/tidic84/InstaAi/internal/model"
)

// writeJSON writes v as a JSON body with statusCode.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("request body must be valid JSON"))
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for bodies that may be absent. An empty body leaves v untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("request body must be valid JSON"))
		return false
	}
	return true
}

// requireUserID returns the authenticated owner id or writes a 401.
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError maps a service error to its HTTP response.
// Anything that is not an APIError is logged and hidden behind a 500.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAccountNotFound, model.ErrCodeConversationNotFound, model.ErrCodeSuggestionNotFound:
		return http.StatusNotFound
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeDuplicateAccount, model.ErrCodeInvalidTransition, model.ErrCodeSyncInProgress:
		return http.StatusConflict
	case model.ErrCodeInvalidCredentials, model.ErrCodeTwoFactorRequired:
		return http.StatusUnprocessableEntity
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeSendFailed, model.ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
