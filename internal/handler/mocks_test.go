package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tidic84/InstaAi/internal/middleware"
	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/worker/fetch"
)

type mockAccountService struct {
	addFn       func(ctx context.Context, userID, username, password string) (*model.Account, error)
	setActiveFn func(ctx context.Context, userID, accountID string, active bool) (*model.Account, error)
	deleteFn    func(ctx context.Context, userID, accountID string) error
	listFn      func(ctx context.Context, userID string) ([]*model.Account, error)
}

func (m *mockAccountService) Add(ctx context.Context, userID, username, password string) (*model.Account, error) {
	if m.addFn != nil {
		return m.addFn(ctx, userID, username, password)
	}
	return nil, nil
}

func (m *mockAccountService) SetActive(ctx context.Context, userID, accountID string, active bool) (*model.Account, error) {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, userID, accountID, active)
	}
	return nil, nil
}

func (m *mockAccountService) Delete(ctx context.Context, userID, accountID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, accountID)
	}
	return nil
}

func (m *mockAccountService) List(ctx context.Context, userID string) ([]*model.Account, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

type mockSyncRunner struct {
	runSyncFn        func(ctx context.Context) (*fetch.RunReport, error)
	runSyncForUserFn func(ctx context.Context, userID string) (*fetch.RunReport, error)
}

func (m *mockSyncRunner) RunSync(ctx context.Context) (*fetch.RunReport, error) {
	if m.runSyncFn != nil {
		return m.runSyncFn(ctx)
	}
	return &fetch.RunReport{}, nil
}

func (m *mockSyncRunner) RunSyncForUser(ctx context.Context, userID string) (*fetch.RunReport, error) {
	if m.runSyncForUserFn != nil {
		return m.runSyncForUserFn(ctx, userID)
	}
	return &fetch.RunReport{}, nil
}

type mockSyncRunLister struct {
	listRecentFn func(ctx context.Context, limit int) ([]*model.SyncRun, error)
}

func (m *mockSyncRunLister) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

type mockConversationService struct {
	listConversationsFn func(ctx context.Context, userID string) ([]*model.Conversation, error)
	listMessagesFn      func(ctx context.Context, userID, conversationID string, limit int) ([]*model.Message, error)
	sendMessageFn       func(ctx context.Context, userID, conversationID, text string) (*model.Message, error)
}

func (m *mockConversationService) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	if m.listConversationsFn != nil {
		return m.listConversationsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockConversationService) ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]*model.Message, error) {
	if m.listMessagesFn != nil {
		return m.listMessagesFn(ctx, userID, conversationID, limit)
	}
	return nil, nil
}

func (m *mockConversationService) SendMessage(ctx context.Context, userID, conversationID, text string) (*model.Message, error) {
	if m.sendMessageFn != nil {
		return m.sendMessageFn(ctx, userID, conversationID, text)
	}
	return nil, nil
}

type mockSuggestionService struct {
	listFn    func(ctx context.Context, userID string, status model.SuggestionStatus, limit int) ([]*model.SuggestionView, error)
	approveFn func(ctx context.Context, userID, suggestionID, editedText string) (*model.Suggestion, error)
	rejectFn  func(ctx context.Context, userID, suggestionID string) (*model.Suggestion, error)
}

func (m *mockSuggestionService) ListSuggestions(ctx context.Context, userID string, status model.SuggestionStatus, limit int) ([]*model.SuggestionView, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, status, limit)
	}
	return nil, nil
}

func (m *mockSuggestionService) Approve(ctx context.Context, userID, suggestionID, editedText string) (*model.Suggestion, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, userID, suggestionID, editedText)
	}
	return nil, nil
}

func (m *mockSuggestionService) Reject(ctx context.Context, userID, suggestionID string) (*model.Suggestion, error) {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, userID, suggestionID)
	}
	return nil, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newRequest builds a request carrying userID (when set) and chi URL params given as key, value pairs.
func newRequest(method, target string, body io.Reader, userID string, params ...string) *http.Request {
	r := httptest.NewRequest(method, target, body)
	if userID != "" {
		r = r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for i := 0; i+1 < len(params); i += 2 {
			rctx.URLParams.Add(params[i], params[i+1])
		}
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	return r
}

func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}
