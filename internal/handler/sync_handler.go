package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/worker/fetch"
)

const (
	defaultRunHistory = 20
	maxRunHistory     = 100
)

// SyncRunner starts orchestrator runs. fetch.Orchestrator implements it.
type SyncRunner interface {
	RunSync(ctx context.Context) (*fetch.RunReport, error)
	RunSyncForUser(ctx context.Context, userID string) (*fetch.RunReport, error)
}

// SyncRunLister reads the sync run log.
type SyncRunLister interface {
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
}

// SyncHandler serves the cron trigger, manual sync and the run history.
type SyncHandler struct {
	runner SyncRunner
	runs   SyncRunLister
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(runner SyncRunner, runs SyncRunLister) *SyncHandler {
	return &SyncHandler{runner: runner, runs: runs}
}

type syncRunResponse struct {
	ID                   string     `json:"id"`
	JobType              string     `json:"job_type"`
	Status               string     `json:"status"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at"`
	AccountsProcessed    int        `json:"accounts_processed"`
	AccountsFailed       int        `json:"accounts_failed"`
	NewMessages          int        `json:"new_messages"`
	SuggestionsGenerated int        `json:"suggestions_generated"`
	Message              string     `json:"message"`
}

// toSyncRunResponse exposes the run totals only. Per-account results stay in
// the log because a scheduled run covers every owner's accounts.
func toSyncRunResponse(run *model.SyncRun) syncRunResponse {
	resp := syncRunResponse{
		ID:          run.ID,
		JobType:     run.JobType,
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	var report fetch.RunReport
	if len(run.Details) > 0 && json.Unmarshal(run.Details, &report) == nil {
		resp.AccountsProcessed = report.AccountsProcessed
		resp.AccountsFailed = report.AccountsFailed
		resp.NewMessages = report.NewMessages
		resp.SuggestionsGenerated = report.SuggestionsGenerated
		resp.Message = report.Message
	}
	return resp
}

// CronSync handles GET|POST /api/cron/sync. It blocks until the run is over.
func (h *SyncHandler) CronSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunSync(r.Context())
	h.writeReport(w, r, report, err)
}

// ManualSync handles POST /api/sync for the caller's own accounts.
func (h *SyncHandler) ManualSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	report, err := h.runner.RunSyncForUser(r.Context(), userID)
	h.writeReport(w, r, report, err)
}

func (h *SyncHandler) writeReport(w http.ResponseWriter, r *http.Request, report *fetch.RunReport, err error) {
	if errors.Is(err, fetch.ErrRunInProgress) {
		handleServiceError(w, r, model.NewSyncInProgressError())
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "sync triggered over http",
		slog.String("run_id", report.RunID),
		slog.String("job_type", report.JobType),
	)
	writeJSON(w, http.StatusOK, report)
}

// ListRuns handles GET /api/sync/runs?limit=N.
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	limit := defaultRunHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunHistory {
			handleServiceError(w, r, model.NewInvalidRequestError("limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]syncRunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toSyncRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}
