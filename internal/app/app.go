package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tidic84/InstaAi/internal/config"
	"github.com/tidic84/InstaAi/internal/database"
	"github.com/tidic84/InstaAi/internal/logger"
	"github.com/tidic84/InstaAi/internal/worker/cleanup"
	"github.com/tidic84/InstaAi/internal/worker/fetch"
)

// cleanupInterval is how often the worker prunes old sync runs.
const cleanupInterval = 24 * time.Hour

// Init loads the configuration and installs the global logger.
// Until the configuration is read, logs go to w as JSON.
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Configure(w, cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// Run is the entry point of the binary. args is os.Args[1:].
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck runs inside the distroless image and needs no configuration.
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("completion_provider", cfg.CompletionProvider),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandSync:
		return runSync(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

func openDatabase(cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe starts the HTTP API and shuts it down gracefully on a signal.
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := PostgresRepositories(db)
	components, err := Build(cfg, repos, nil, nil, slog.Default())
	if err != nil {
		return err
	}

	router, rl := NewRouter(cfg, repos, components, db, slog.Default())
	defer rl.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker runs the sync scheduler and the daily sync run cleanup until a signal arrives.
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	components, err := Build(cfg, PostgresRepositories(db), nil, nil, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.SyncLogRetentionDays

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Duration("account_delay", cfg.AccountDelay),
	)

	go runPeriodically(ctx, cleanupInterval, func(ctx context.Context) {
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	})

	scheduler := fetch.NewScheduler(components.Orchestrator, slog.Default())
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runPeriodically calls fn immediately and then every interval until ctx is done.
func runPeriodically(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runSync performs a single sync over every active account. Meant for external cron.
func runSync(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	components, err := Build(cfg, PostgresRepositories(db), nil, nil, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	report, err := components.Orchestrator.RunSync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	slog.Info("sync finished",
		slog.String("run_id", report.RunID),
		slog.Int("accounts_processed", report.AccountsProcessed),
		slog.Int("accounts_failed", report.AccountsFailed),
		slog.Int("new_messages", report.NewMessages),
		slog.Int("suggestions_generated", report.SuggestionsGenerated),
	)
	return nil
}

// runMigrate applies every pending migration.
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck checks /health on the local server.
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL hides credentials in a database URL before logging it.
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
