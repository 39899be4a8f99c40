package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tidic84/InstaAi/internal/account"
	"github.com/tidic84/InstaAi/internal/approval"
	"github.com/tidic84/InstaAi/internal/completion"
	"github.com/tidic84/InstaAi/internal/config"
	"github.com/tidic84/InstaAi/internal/handler"
	"github.com/tidic84/InstaAi/internal/metrics"
	"github.com/tidic84/InstaAi/internal/middleware"
	"github.com/tidic84/InstaAi/internal/provider"
	"github.com/tidic84/InstaAi/internal/reconcile"
	"github.com/tidic84/InstaAi/internal/repository"
	"github.com/tidic84/InstaAi/internal/retry"
	"github.com/tidic84/InstaAi/internal/security"
	"github.com/tidic84/InstaAi/internal/session"
	"github.com/tidic84/InstaAi/internal/suggestion"
	"github.com/tidic84/InstaAi/internal/vault"
	"github.com/tidic84/InstaAi/internal/worker/fetch"
)

// Repositories groups the stores every mode needs.
type Repositories struct {
	Accounts      repository.AccountRepository
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Suggestions   repository.SuggestionRepository
	SyncRuns      repository.SyncRunRepository
	// RunLock is shared by the api and worker processes.
	RunLock fetch.RunLock
}

// PostgresRepositories builds Repositories on db.
func PostgresRepositories(db *sqlx.DB) Repositories {
	return Repositories{
		Accounts:      repository.NewPostgresAccountRepo(db),
		Conversations: repository.NewPostgresConversationRepo(db),
		Messages:      repository.NewPostgresMessageRepo(db),
		Suggestions:   repository.NewPostgresSuggestionRepo(db),
		SyncRuns:      repository.NewPostgresSyncRunRepo(db),
		RunLock:       repository.NewPostgresRunLock(db),
	}
}

// Components is the wired object graph shared by serve, worker and sync.
type Components struct {
	Registry     *prometheus.Registry
	Metrics      *metrics.Collector
	Sessions     *session.Manager
	Orchestrator *fetch.Orchestrator
	Workflow     *approval.Workflow
	Accounts     *account.Service
}

// Build wires every component from cfg. client and completer may be nil to use the configured ones.
func Build(cfg *config.Config, repos Repositories, client provider.Client, completer completion.Completer, logger *slog.Logger) (*Components, error) {
	v, err := vault.New([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}

	if client == nil {
		client = provider.NewHTTPClient(provider.HTTPClientConfig{
			BaseURL:           cfg.ProviderBaseURL,
			Token:             cfg.ProviderToken,
			Timeout:           cfg.ProviderTimeout,
			RequestsPerSecond: cfg.ProviderRPS,
		}, nil)
	}
	if completer == nil {
		completer, err = completion.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create completion client: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(reg)

	sanitizer := security.NewTextSanitizer()
	maxRetries := cfg.LoginMaxRetries

	sessions := session.NewManager(repos.Accounts, v, client, logger, session.Options{
		Cache:      session.NewTTLCache(cfg.SessionTTL, nil),
		TTL:        cfg.SessionTTL,
		Backoff:    cfg.LoginBackoff,
		MaxRetries: &maxRetries,
		JitterMin:  cfg.LoginJitterMin,
		JitterMax:  cfg.LoginJitterMax,
		Metrics:    mc,
	})

	generator := suggestion.NewGenerator(repos.Messages, repos.Suggestions, completer, mc, logger, cfg.HistoryWindow)

	pagePolicy := retry.NewPolicy(provider.IsRateLimited)
	if cfg.LoginBackoff > 0 {
		pagePolicy.InitialDelay = cfg.LoginBackoff
	}
	pagePolicy.MaxRetries = cfg.LoginMaxRetries
	pagePolicy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("provider rate limited, backing off",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}

	reconciler := reconcile.NewReconciler(sessions, client, repos.Accounts, repos.Conversations, repos.Messages,
		generator, sanitizer, logger, reconcile.Options{
			Pacer:   reconcile.NewFixedPacer(cfg.PageDelay),
			Retry:   pagePolicy,
			Metrics: mc,
		})

	orchestrator := fetch.NewOrchestrator(repos.Accounts, repos.SyncRuns, reconciler, sessions, logger,
		fetch.OrchestratorOptions{
			AccountDelay: cfg.AccountDelay,
			Lock:         repos.RunLock,
			Metrics:      mc,
		})

	workflow := approval.NewWorkflow(repos.Accounts, repos.Conversations, repos.Messages, repos.Suggestions,
		sessions, client, sanitizer, mc, logger)

	return &Components{
		Registry:     reg,
		Metrics:      mc,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Workflow:     workflow,
		Accounts:     account.NewService(repos.Accounts, v, sessions, logger),
	}, nil
}

// NewRouter builds the API router on top of the wired components.
// db may be nil, in which case /health does not check the database.
func NewRouter(cfg *config.Config, repos Repositories, c *Components, db handler.HealthChecker, logger *slog.Logger) (http.Handler, *middleware.RateLimiter) {
	rl := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSync))

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:       db,
		MetricsHandler:      metrics.Handler(c.Registry),
		Logger:              logger,
		JWTSecret:           []byte(cfg.JWTSecret),
		CronSecret:          cfg.CronSecret,
		RateLimiter:         rl,
		AccountService:      c.Accounts,
		ConversationService: handler.NewConversationServiceAdapter(repos.Accounts, repos.Conversations, repos.Messages, c.Workflow),
		SuggestionService:   handler.NewSuggestionServiceAdapter(repos.Suggestions, c.Workflow),
		SyncRunner:          c.Orchestrator,
		SyncRuns:            repos.SyncRuns,
	})
	return router, rl
}
