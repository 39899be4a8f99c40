// Package cleanup prunes old sync run log rows.
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/tidic84/InstaAi/internal/model"
)

// DefaultRetentionDays is how long finished sync runs are kept.
const DefaultRetentionDays = 30

// Executor is the ExecContext subset of *sql.DB, *sqlx.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob deletes finished sync runs older than RetentionDays.
// Runs still marked started are never touched.
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewCleanupJob creates a CleanupJob with DefaultRetentionDays.
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run deletes the expired rows. Running it with nothing to delete is not an error.
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	finished := []string{string(model.SyncRunCompleted), string(model.SyncRunFailed)}

	query := `DELETE FROM sync_runs WHERE created_at < now() - $1::interval AND status = ANY($2)`
	result, err := j.db.ExecContext(ctx, query, interval, pq.Array(finished))
	if err != nil {
		j.logger.Error("sync run cleanup failed",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("failed to delete expired sync runs: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read deleted row count",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to read deleted row count: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("sync run cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
