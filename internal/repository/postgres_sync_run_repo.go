package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tidic84/InstaAi/internal/model"
)

// PostgresSyncRunRepo is the PostgreSQL SyncRunRepository.
type PostgresSyncRunRepo struct {
	db *sqlx.DB
}

// NewPostgresSyncRunRepo creates a PostgresSyncRunRepo.
func NewPostgresSyncRunRepo(db *sqlx.DB) *PostgresSyncRunRepo {
	return &PostgresSyncRunRepo{db: db}
}

// Create inserts a sync run.
func (r *PostgresSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	details := string(run.Details)
	if details == "" {
		details = "{}"
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, job_type, status, details, started_at, completed_at, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`,
		run.ID, run.JobType, run.Status, details, run.StartedAt, run.CompletedAt, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// ListRecent returns up to limit runs, newest first.
func (r *PostgresSyncRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	var runs []*model.SyncRun
	err := r.db.SelectContext(ctx, &runs,
		`SELECT id, job_type, status, details, started_at, completed_at, created_at
		 FROM sync_runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	return runs, nil
}
