package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidic84/InstaAi/internal/completion"
	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/provider"
	"github.com/tidic84/InstaAi/internal/provider/providertest"
	"github.com/tidic84/InstaAi/internal/reconcile"
	"github.com/tidic84/InstaAi/internal/repository/memory"
	"github.com/tidic84/InstaAi/internal/retry"
	"github.com/tidic84/InstaAi/internal/security"
	"github.com/tidic84/InstaAi/internal/session"
	"github.com/tidic84/InstaAi/internal/suggestion"
)

const t0 int64 = 1_700_000_000

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type plainVault struct{}

func (plainVault) Encrypt(p string) (string, error) { return "enc:" + p, nil }
func (plainVault) Decrypt(c string) (string, error) { return strings.TrimPrefix(c, "enc:"), nil }

type staticCompleter struct{}

func (staticCompleter) Complete(context.Context, string, []completion.Turn, string) (string, error) {
	return "Thanks, we'll get back to you.", nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.delays {
		if got == d {
			n++
		}
	}
	return n
}

// mockReconciler is an AccountReconciler driven by a func field.
type mockReconciler struct {
	reconcileFunc func(ctx context.Context, account *model.Account) (*reconcile.Result, error)
}

func (m *mockReconciler) Reconcile(ctx context.Context, account *model.Account) (*reconcile.Result, error) {
	if m.reconcileFunc != nil {
		return m.reconcileFunc(ctx, account)
	}
	return &reconcile.Result{}, nil
}

type mockInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (m *mockInvalidator) Invalidate(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, accountID)
}

type stack struct {
	store  *memory.Store
	fake   *providertest.Fake
	sleeps *sleepRecorder
	orch   *Orchestrator
	logs   *bytes.Buffer
}

// newStack wires the real session manager and reconciler over the memory store and a fake provider.
func newStack(t *testing.T, usernames ...string) *stack {
	t.Helper()
	s := &stack{
		store:  memory.NewStore(),
		fake:   providertest.NewFake(),
		sleeps: &sleepRecorder{},
		logs:   &bytes.Buffer{},
	}
	ctx := context.Background()
	for i, name := range usernames {
		acc := &model.Account{
			ID:                  "acc-" + name,
			UserID:              "user-1",
			Username:            name,
			EncryptedCredential: "enc:pw-" + name,
			IsActive:            true,
			CreatedAt:           fixedNow.Add(time.Duration(i) * time.Minute),
		}
		if err := s.store.Accounts().Create(ctx, acc); err != nil {
			t.Fatal(err)
		}
	}

	logger := newTestLogger(s.logs)
	sessions := session.NewManager(s.store.Accounts(), plainVault{}, s.fake, logger, session.Options{
		Jitter: func(time.Duration, time.Duration) time.Duration { return 0 },
		Sleep:  s.sleeps.sleep,
	})
	gen := suggestion.NewGenerator(s.store.Messages(), s.store.Suggestions(), staticCompleter{}, nil, logger, 10)
	policy := retry.NewPolicy(provider.IsRateLimited)
	policy.Sleep = s.sleeps.sleep
	rec := reconcile.NewReconciler(sessions, s.fake, s.store.Accounts(), s.store.Conversations(), s.store.Messages(),
		gen, security.NewTextSanitizer(), logger, reconcile.Options{
			Pacer: &reconcile.FixedPacer{Delay: time.Second, Sleep: s.sleeps.sleep},
			Retry: policy,
			Now:   func() time.Time { return fixedNow },
		})
	s.orch = NewOrchestrator(s.store.Accounts(), s.store.SyncRuns(), rec, sessions, logger, OrchestratorOptions{
		Sleep: s.sleeps.sleep,
		Now:   func() time.Time { return fixedNow },
	})
	return s
}

func inboundThread(id, participant string, texts ...string) (provider.Thread, []provider.Item) {
	th := provider.Thread{ID: id, Participant: provider.Participant{ID: "p-" + participant, Username: participant}}
	items := make([]provider.Item, 0, len(texts))
	for i, text := range texts {
		items = append(items, providertest.TextItem(id+"-"+text, "p-"+participant, text, t0+int64(i)*10))
	}
	return th, items
}

func TestRunSync_FailingAccountDoesNotAffectOthers(t *testing.T) {
	s := newStack(t, "acct1", "acct2", "acct3")
	th1, items1 := inboundThread("t-1", "alice", "hi", "price?")
	s.fake.SetThread("acct1", th1, items1)
	th3, items3 := inboundThread("t-3", "bob", "hello")
	s.fake.SetThread("acct3", th3, items3)
	s.fake.FailLogin("acct2", &provider.AuthenticationError{Message: "bad password"})

	report, err := s.orch.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if report.AccountsProcessed != 3 {
		t.Fatalf("AccountsProcessed = %d, want 3", report.AccountsProcessed)
	}
	if report.AccountsFailed != 1 {
		t.Errorf("AccountsFailed = %d, want 1", report.AccountsFailed)
	}
	if report.NewMessages != 3 {
		t.Errorf("NewMessages = %d, want 3", report.NewMessages)
	}
	if report.SuggestionsGenerated != 3 {
		t.Errorf("SuggestionsGenerated = %d, want 3", report.SuggestionsGenerated)
	}

	byName := map[string]AccountResult{}
	for _, r := range report.Results {
		byName[r.Username] = r
	}
	if r := byName["acct1"]; !r.Success || r.NewMessages != 2 || r.ThreadsProcessed != 1 {
		t.Errorf("acct1 = %+v", r)
	}
	if r := byName["acct3"]; !r.Success || r.NewMessages != 1 {
		t.Errorf("acct3 = %+v", r)
	}
	r2 := byName["acct2"]
	if r2.Success || !r2.Deactivated || r2.ErrorKind != "authentication" {
		t.Errorf("acct2 = %+v, want failed, deactivated, authentication", r2)
	}

	acc2, _ := s.store.Accounts().FindByID(context.Background(), "acc-acct2")
	if acc2.IsActive {
		t.Error("acct2 should be inactive")
	}
	if acc2.LastError == "" {
		t.Error("acct2 should carry the login error")
	}
	for _, id := range []string{"acc-acct1", "acc-acct3"} {
		acc, _ := s.store.Accounts().FindByID(context.Background(), id)
		if !acc.IsActive || acc.LastSyncedAt == nil {
			t.Errorf("%s: active=%v last_synced_at=%v", id, acc.IsActive, acc.LastSyncedAt)
		}
	}
	if got := s.sleeps.count(DefaultAccountDelay); got != 2 {
		t.Errorf("account delays = %d, want 2", got)
	}
}

func TestRunSync_DeactivatedAccountIsSkippedNextRun(t *testing.T) {
	s := newStack(t, "acct1", "acct2")
	s.fake.FailLogin("acct2", &provider.TwoFactorRequiredError{})
	ctx := context.Background()

	if _, err := s.orch.RunSync(ctx); err != nil {
		t.Fatal(err)
	}
	report, err := s.orch.RunSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.AccountsProcessed != 1 || report.Results[0].Username != "acct1" {
		t.Errorf("second run results = %+v, want only acct1", report.Results)
	}
	if got := s.fake.LoginCalls("acct2"); got != 1 {
		t.Errorf("acct2 logins = %d, want 1", got)
	}
}

func TestRunSync_NoActiveAccounts(t *testing.T) {
	s := newStack(t)

	report, err := s.orch.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if report.Message != "No active accounts to process" {
		t.Errorf("Message = %q", report.Message)
	}
	if report.AccountsProcessed != 0 {
		t.Errorf("AccountsProcessed = %d, want 0", report.AccountsProcessed)
	}

	runs, _ := s.store.SyncRuns().ListRecent(context.Background(), 10)
	if len(runs) != 1 || runs[0].Status != model.SyncRunCompleted {
		t.Fatalf("sync runs = %+v, want one completed", runs)
	}
}

func TestRunSync_RecordsSyncRun(t *testing.T) {
	s := newStack(t, "acct1")
	th, items := inboundThread("t-1", "alice", "hi")
	s.fake.SetThread("acct1", th, items)

	report, err := s.orch.RunSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	runs, _ := s.store.SyncRuns().ListRecent(context.Background(), 10)
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.ID != report.RunID || run.JobType != model.JobTypeScheduledFetch || run.Status != model.SyncRunCompleted {
		t.Errorf("run = %+v", run)
	}
	var details RunReport
	if err := json.Unmarshal(run.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.NewMessages != 1 || len(details.Results) != 1 {
		t.Errorf("details = %+v", details)
	}
}

func TestRunSyncForUser_OnlyOwnedAccounts(t *testing.T) {
	s := newStack(t, "acct1")
	other := &model.Account{ID: "acc-other", UserID: "user-2", Username: "other", EncryptedCredential: "enc:x", IsActive: true}
	if err := s.store.Accounts().Create(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	report, err := s.orch.RunSyncForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.JobType != model.JobTypeManualFetch {
		t.Errorf("JobType = %q", report.JobType)
	}
	if report.AccountsProcessed != 1 || report.Results[0].AccountID != "acc-acct1" {
		t.Errorf("results = %+v", report.Results)
	}
	if s.fake.LoginCalls("other") != 0 {
		t.Error("account of another user was synced")
	}
}

func TestRunSync_LoadFailure(t *testing.T) {
	store := memory.NewStore()
	var buf bytes.Buffer
	accounts := &failingAccounts{AccountRepo: store.Accounts(), err: errors.New("db down")}
	orch := NewOrchestrator(accounts, store.SyncRuns(), &mockReconciler{}, nil, newTestLogger(&buf), OrchestratorOptions{})

	_, err := orch.RunSync(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	runs, _ := store.SyncRuns().ListRecent(context.Background(), 10)
	if len(runs) != 1 || runs[0].Status != model.SyncRunFailed {
		t.Errorf("sync runs = %+v, want one failed", runs)
	}
}

type failingAccounts struct {
	*memory.AccountRepo
	err error
}

func (f *failingAccounts) ListActive(context.Context) ([]*model.Account, error) {
	return nil, f.err
}

func TestRunSync_ErrorKinds(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_ = store.Accounts().Create(ctx, &model.Account{ID: id, Username: id, IsActive: true})
	}
	rec := &mockReconciler{reconcileFunc: func(_ context.Context, a *model.Account) (*reconcile.Result, error) {
		if a.ID == "a" {
			return &reconcile.Result{NewMessages: 1}, model.WrapPersistence("create message", errors.New("disk full"))
		}
		return nil, &provider.RateLimitError{}
	}}
	inv := &mockInvalidator{}
	var buf bytes.Buffer
	sleeps := &sleepRecorder{}
	orch := NewOrchestrator(store.Accounts(), store.SyncRuns(), rec, inv, newTestLogger(&buf), OrchestratorOptions{Sleep: sleeps.sleep})

	report, err := orch.RunSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Results[0].ErrorKind != "persistence" || report.Results[0].NewMessages != 1 {
		t.Errorf("a = %+v", report.Results[0])
	}
	if report.Results[1].ErrorKind != "rate_limit" || report.Results[1].Deactivated {
		t.Errorf("b = %+v", report.Results[1])
	}
	if len(inv.ids) != 0 {
		t.Errorf("sessions invalidated for non-auth errors: %v", inv.ids)
	}
	if !strings.Contains(buf.String(), "account sync failed") {
		t.Error("expected failure log line")
	}
}

func TestRunSync_AuthErrorInvalidatesSession(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	_ = store.Accounts().Create(ctx, &model.Account{ID: "a", Username: "a", IsActive: true})
	rec := &mockReconciler{reconcileFunc: func(context.Context, *model.Account) (*reconcile.Result, error) {
		return nil, &provider.AuthenticationError{}
	}}
	inv := &mockInvalidator{}
	var buf bytes.Buffer
	orch := NewOrchestrator(store.Accounts(), store.SyncRuns(), rec, inv, newTestLogger(&buf), OrchestratorOptions{})

	report, err := orch.RunSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.ids) != 1 || inv.ids[0] != "a" {
		t.Errorf("invalidated = %v, want [a]", inv.ids)
	}
	// The account is still active, so the failure came from an expired session, not a login.
	if report.Results[0].Deactivated {
		t.Error("account should not be reported deactivated")
	}
}

func TestRunSync_RejectsConcurrentRun(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	_ = store.Accounts().Create(ctx, &model.Account{ID: "a", Username: "a", IsActive: true})

	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &mockReconciler{reconcileFunc: func(context.Context, *model.Account) (*reconcile.Result, error) {
		close(entered)
		<-release
		return &reconcile.Result{}, nil
	}}
	var buf bytes.Buffer
	orch := NewOrchestrator(store.Accounts(), store.SyncRuns(), rec, nil, newTestLogger(&buf), OrchestratorOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := orch.RunSync(ctx)
		done <- err
	}()
	<-entered

	if _, err := orch.RunSyncForUser(ctx, "user-1"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestRunSync_SharedLockExcludesSecondOrchestrator(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	_ = store.Accounts().Create(ctx, &model.Account{ID: "a", UserID: "user-1", Username: "a", IsActive: true})

	entered := make(chan struct{})
	release := make(chan struct{})
	api := &mockReconciler{reconcileFunc: func(context.Context, *model.Account) (*reconcile.Result, error) {
		close(entered)
		<-release
		return &reconcile.Result{NewMessages: 1}, nil
	}}
	var workerCalls atomic.Int32
	worker := &mockReconciler{reconcileFunc: func(context.Context, *model.Account) (*reconcile.Result, error) {
		workerCalls.Add(1)
		return &reconcile.Result{}, nil
	}}

	var buf bytes.Buffer
	opts := OrchestratorOptions{Lock: store.RunLock(), Sleep: (&sleepRecorder{}).sleep}
	apiOrch := NewOrchestrator(store.Accounts(), store.SyncRuns(), api, nil, newTestLogger(&buf), opts)
	workerOrch := NewOrchestrator(store.Accounts(), store.SyncRuns(), worker, nil, newTestLogger(&buf), opts)

	done := make(chan error, 1)
	go func() {
		_, err := apiOrch.RunSyncForUser(ctx, "user-1")
		done <- err
	}()
	<-entered

	if _, err := workerOrch.RunSync(ctx); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}
	if n := workerCalls.Load(); n != 0 {
		t.Errorf("second orchestrator reconciled %d accounts while the lock was held", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	if _, err := workerOrch.RunSync(ctx); err != nil {
		t.Fatalf("run after release: %v", err)
	}
	if n := workerCalls.Load(); n != 1 {
		t.Errorf("worker reconciles = %d, want 1 after the lock is free", n)
	}
}

type failingLock struct{}

func (failingLock) TryAcquire(context.Context) (func(), bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestRunSync_LockErrorIsReturned(t *testing.T) {
	store := memory.NewStore()
	var buf bytes.Buffer
	rec := &mockReconciler{reconcileFunc: func(context.Context, *model.Account) (*reconcile.Result, error) {
		t.Error("reconciler must not run without the lock")
		return &reconcile.Result{}, nil
	}}
	orch := NewOrchestrator(store.Accounts(), store.SyncRuns(), rec, nil, newTestLogger(&buf), OrchestratorOptions{Lock: failingLock{}})

	_, err := orch.RunSync(context.Background())
	if err == nil || errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want lock failure", err)
	}
}

func TestRunSync_StopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"a", "b", "c"} {
		_ = store.Accounts().Create(ctx, &model.Account{ID: id, Username: id, IsActive: true})
	}
	calls := 0
	rec := &mockReconciler{reconcileFunc: func(context.Context, *model.Account) (*reconcile.Result, error) {
		calls++
		cancel()
		return &reconcile.Result{}, nil
	}}
	var buf bytes.Buffer
	orch := NewOrchestrator(store.Accounts(), store.SyncRuns(), rec, nil, newTestLogger(&buf), OrchestratorOptions{})

	report, err := orch.RunSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || report.AccountsProcessed != 1 {
		t.Errorf("calls = %d, processed = %d, want 1", calls, report.AccountsProcessed)
	}
	runs, _ := store.SyncRuns().ListRecent(context.Background(), 1)
	if len(runs) != 1 || runs[0].Status != model.SyncRunFailed {
		t.Errorf("runs = %+v, want one failed", runs)
	}
}
