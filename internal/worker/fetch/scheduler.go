// Package fetch runs the sync orchestrator: one account at a time, on a schedule or on demand.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner executes one sync run.
type Runner interface {
	RunSync(ctx context.Context) (*RunReport, error)
}

// Scheduler triggers sync runs on a fixed interval.
type Scheduler struct {
	runner Runner
	logger *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, logger: logger}
}

// Start runs once immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started", slog.Duration("interval", interval))

	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

// RunOnce executes a single run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.runner.RunSync(ctx)
	return err
}

func (s *Scheduler) runLogged(ctx context.Context) {
	err := s.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("previous sync run still in progress, skipping tick")
	default:
		s.logger.Error("sync run failed", slog.String("error", err.Error()))
	}
}
