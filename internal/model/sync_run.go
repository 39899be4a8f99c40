package model

import (
	"encoding/json"
	"time"
)

// Job types recorded in the sync run log.
const (
	JobTypeScheduledFetch = "fetch-messages"
	JobTypeManualFetch    = "manual-fetch"
)

// SyncRunStatus is the outcome of one orchestrator execution.
type SyncRunStatus string

const (
	SyncRunStarted   SyncRunStatus = "started"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
)

// SyncRun is the write-once log row of one orchestrator execution.
type SyncRun struct {
	ID          string          `db:"id"`
	JobType     string          `db:"job_type"`
	Status      SyncRunStatus   `db:"status"`
	Details     json.RawMessage `db:"details"`
	StartedAt   time.Time       `db:"started_at"`
	CompletedAt *time.Time      `db:"completed_at"`
	CreatedAt   time.Time       `db:"created_at"`
}
