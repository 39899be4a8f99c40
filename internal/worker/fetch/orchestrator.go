package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidic84/InstaAi/internal/metrics"
	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/provider"
	"github.com/tidic84/InstaAi/internal/reconcile"
	"github.com/tidic84/InstaAi/internal/repository"
	"github.com/tidic84/InstaAi/internal/retry"
)

// DefaultAccountDelay is the pause after each account of a run.
const DefaultAccountDelay = 5 * time.Second

// ErrRunInProgress is returned when a run is requested while another one is still going.
var ErrRunInProgress = errors.New("a sync run is already in progress")

// RunLock serialises sync runs across every process that shares the store.
// release must be called exactly once after a successful acquire.
type RunLock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// localRunLock only excludes runs within this process.
type localRunLock struct{ mu sync.Mutex }

func (l *localRunLock) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// AccountReconciler syncs one account.
type AccountReconciler interface {
	Reconcile(ctx context.Context, account *model.Account) (*reconcile.Result, error)
}

// SessionInvalidator drops cached provider sessions.
type SessionInvalidator interface {
	Invalidate(accountID string)
}

// AccountResult is the outcome of one account within a run.
type AccountResult struct {
	AccountID            string `json:"account_id"`
	Username             string `json:"username"`
	Success              bool   `json:"success"`
	NewMessages          int    `json:"new_messages"`
	ThreadsProcessed     int    `json:"threads_processed"`
	SuggestionsGenerated int    `json:"suggestions_generated"`
	Deactivated          bool   `json:"deactivated,omitempty"`
	Error                string `json:"error,omitempty"`
	ErrorKind            string `json:"error_kind,omitempty"`
}

// RunReport summarises one orchestrator run. It is also stored as the SyncRun details.
type RunReport struct {
	RunID                string          `json:"run_id"`
	JobType              string          `json:"job_type"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          time.Time       `json:"completed_at"`
	AccountsProcessed    int             `json:"accounts_processed"`
	AccountsFailed       int             `json:"accounts_failed"`
	NewMessages          int             `json:"new_messages"`
	SuggestionsGenerated int             `json:"suggestions_generated"`
	Results              []AccountResult `json:"results"`
	Message              string          `json:"message"`
}

// OrchestratorOptions tunes an Orchestrator. Zero values take the defaults.
type OrchestratorOptions struct {
	AccountDelay time.Duration
	// Lock guards against overlapping runs. Nil only covers this process.
	Lock         RunLock
	Sleep        retry.Sleeper
	Metrics      metrics.MetricsCollector
	Now          func() time.Time
}

// Orchestrator runs reconciliation over all eligible accounts, one account at a time.
type Orchestrator struct {
	accounts     repository.AccountRepository
	runs         repository.SyncRunRepository
	reconciler   AccountReconciler
	sessions     SessionInvalidator
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	accountDelay time.Duration
	sleep        retry.Sleeper
	now          func() time.Time
	lock         RunLock
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	accounts repository.AccountRepository,
	runs repository.SyncRunRepository,
	reconciler AccountReconciler,
	sessions SessionInvalidator,
	logger *slog.Logger,
	opts OrchestratorOptions,
) *Orchestrator {
	o := &Orchestrator{
		accounts:     accounts,
		runs:         runs,
		reconciler:   reconciler,
		sessions:     sessions,
		metrics:      opts.Metrics,
		logger:       logger,
		accountDelay: opts.AccountDelay,
		sleep:        opts.Sleep,
		now:          opts.Now,
		lock:         opts.Lock,
	}
	if o.lock == nil {
		o.lock = &localRunLock{}
	}
	if o.accountDelay == 0 {
		o.accountDelay = DefaultAccountDelay
	}
	if o.sleep == nil {
		o.sleep = retry.Sleep
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// RunSync reconciles every active account. It is what the scheduler and the cron endpoint call.
func (o *Orchestrator) RunSync(ctx context.Context) (*RunReport, error) {
	return o.run(ctx, model.JobTypeScheduledFetch, o.accounts.ListActive)
}

// RunSyncForUser reconciles the active accounts of one owner.
func (o *Orchestrator) RunSyncForUser(ctx context.Context, userID string) (*RunReport, error) {
	return o.run(ctx, model.JobTypeManualFetch, func(ctx context.Context) ([]*model.Account, error) {
		return o.accounts.ListActiveByUserID(ctx, userID)
	})
}

func (o *Orchestrator) run(ctx context.Context, jobType string, load func(context.Context) ([]*model.Account, error)) (*RunReport, error) {
	release, ok, err := o.lock.TryAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	defer release()

	report := &RunReport{
		RunID:     uuid.New().String(),
		JobType:   jobType,
		StartedAt: o.now(),
		Results:   []AccountResult{},
	}

	accounts, err := load(ctx)
	if err != nil {
		report.Message = "failed to load accounts"
		report.CompletedAt = o.now()
		o.record(ctx, report, model.SyncRunFailed)
		return report, fmt.Errorf("failed to load accounts: %w", err)
	}

	if len(accounts) == 0 {
		report.Message = "No active accounts to process"
		report.CompletedAt = o.now()
		o.logger.Info("sync run skipped, no active accounts", slog.String("job_type", jobType))
		o.record(ctx, report, model.SyncRunCompleted)
		return report, nil
	}

	o.logger.Info("sync run started",
		slog.String("run_id", report.RunID),
		slog.String("job_type", jobType),
		slog.Int("account_count", len(accounts)),
	)

	status := model.SyncRunCompleted
	for i, account := range accounts {
		if ctx.Err() != nil {
			status = model.SyncRunFailed
			break
		}

		ar := o.processAccount(ctx, account)
		report.Results = append(report.Results, ar)
		report.AccountsProcessed++
		report.NewMessages += ar.NewMessages
		report.SuggestionsGenerated += ar.SuggestionsGenerated
		if !ar.Success {
			report.AccountsFailed++
		}

		if i < len(accounts)-1 {
			if err := o.sleep(ctx, o.accountDelay); err != nil {
				status = model.SyncRunFailed
				break
			}
		}
	}

	report.CompletedAt = o.now()
	report.Message = fmt.Sprintf("Processed %d accounts: %d new messages, %d suggestions, %d failed",
		report.AccountsProcessed, report.NewMessages, report.SuggestionsGenerated, report.AccountsFailed)
	if status == model.SyncRunFailed {
		report.Message += " (interrupted)"
	}

	duration := report.CompletedAt.Sub(report.StartedAt)
	o.metrics.RecordSyncDuration(duration)
	o.record(ctx, report, status)

	o.logger.Info("sync run finished",
		slog.String("run_id", report.RunID),
		slog.Int("accounts_processed", report.AccountsProcessed),
		slog.Int("accounts_failed", report.AccountsFailed),
		slog.Int("new_messages", report.NewMessages),
		slog.Int("suggestions_generated", report.SuggestionsGenerated),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return report, nil
}

// processAccount reconciles one account and turns any error into its result.
// Nothing raised here reaches the other accounts.
func (o *Orchestrator) processAccount(ctx context.Context, account *model.Account) AccountResult {
	ar := AccountResult{AccountID: account.ID, Username: account.Username}

	res, err := o.reconciler.Reconcile(ctx, account)
	if res != nil {
		ar.NewMessages = res.NewMessages
		ar.ThreadsProcessed = res.ThreadsProcessed
		ar.SuggestionsGenerated = res.SuggestionsGenerated
	}
	if err == nil {
		ar.Success = true
		o.metrics.RecordAccountSynced(metrics.ResultSuccess)
		return ar
	}

	ar.Error = err.Error()
	ar.ErrorKind = errorKind(err)

	if provider.IsAccountFatal(err) {
		// A stale cached session must not survive an auth failure.
		if o.sessions != nil {
			o.sessions.Invalidate(account.ID)
		}
		if current, ferr := o.accounts.FindByID(ctx, account.ID); ferr == nil && current != nil {
			ar.Deactivated = !current.IsActive
		}
	}

	if ar.Deactivated {
		o.metrics.RecordAccountSynced(metrics.ResultDeactivated)
	} else {
		o.metrics.RecordAccountSynced(metrics.ResultFailure)
	}

	o.logger.Error("account sync failed",
		slog.String("account_id", account.ID),
		slog.String("username", account.Username),
		slog.String("kind", ar.ErrorKind),
		slog.Bool("deactivated", ar.Deactivated),
		slog.String("error", ar.Error),
	)
	return ar
}

func errorKind(err error) string {
	var pErr *model.PersistenceError
	if errors.As(err, &pErr) {
		return "persistence"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return provider.Kind(err)
}

// record writes the SyncRun row. Failures are logged only; the log is not part of correctness.
func (o *Orchestrator) record(ctx context.Context, report *RunReport, status model.SyncRunStatus) {
	details, err := json.Marshal(report)
	if err != nil {
		o.logger.Error("failed to encode sync run report", slog.String("error", err.Error()))
		details = []byte("{}")
	}
	completed := report.CompletedAt
	run := &model.SyncRun{
		ID:          report.RunID,
		JobType:     report.JobType,
		Status:      status,
		Details:     details,
		StartedAt:   report.StartedAt,
		CompletedAt: &completed,
		CreatedAt:   o.now(),
	}
	// The run context may already be cancelled; the log row should still land.
	if err := o.runs.Create(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error("failed to record sync run",
			slog.String("run_id", report.RunID),
			slog.String("error", err.Error()),
		)
	}
}
