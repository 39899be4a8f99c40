package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tidic84/InstaAi/internal/middleware"
)

// RouterDeps holds everything NewRouter wires.
type RouterDeps struct {
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Logger         *slog.Logger

	JWTSecret   []byte
	CronSecret  string
	RateLimiter *middleware.RateLimiter

	AccountService      AccountServiceInterface
	ConversationService ConversationServiceInterface
	SuggestionService   SuggestionServiceInterface
	SyncRunner          SyncRunner
	SyncRuns            SyncRunLister
}

// NewRouter builds the API router.
//
// Middleware order, outermost first:
//
//	RequestID → Logging → Recovery → SecurityHeaders → [BearerAuth → RateLimit(General)]
//
// /health, /metrics and the cron trigger sit outside bearer auth.
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	healthHandler := NewHealthHandler(deps.HealthChecker)
	accountHandler := NewAccountHandler(deps.AccountService)
	convHandler := NewConversationHandler(deps.ConversationService)
	suggestionHandler := NewSuggestionHandler(deps.SuggestionService)
	syncHandler := NewSyncHandler(deps.SyncRunner, deps.SyncRuns)

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCronSecretMiddleware(deps.CronSecret))
		r.Get("/api/cron/sync", syncHandler.CronSync)
		r.Post("/api/cron/sync", syncHandler.CronSync)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.JWTSecret))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.ListAccounts)
			r.Post("/", accountHandler.AddAccount)
			r.Patch("/{id}", accountHandler.UpdateAccount)
			r.Delete("/{id}", accountHandler.DeleteAccount)
		})

		r.With(deps.RateLimiter.SyncMiddleware()).Post("/api/sync", syncHandler.ManualSync)
		r.Get("/api/sync/runs", syncHandler.ListRuns)

		r.Route("/api/conversations", func(r chi.Router) {
			r.Get("/", convHandler.ListConversations)
			r.Get("/{id}/messages", convHandler.ListMessages)
			r.Post("/{id}/messages", convHandler.SendMessage)
		})

		r.Route("/api/suggestions", func(r chi.Router) {
			r.Get("/", suggestionHandler.ListSuggestions)
			r.Post("/{id}/approve", suggestionHandler.Approve)
			r.Post("/{id}/reject", suggestionHandler.Reject)
		})
	})

	return r
}
