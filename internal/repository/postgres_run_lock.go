package repository

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// syncRunLockKey is the advisory lock id held for the duration of a sync run.
const syncRunLockKey int64 = 0x696e7374 // "inst"

// PostgresRunLock excludes overlapping sync runs across processes with a session-level advisory lock.
// The lock lives on one pooled connection, which is held until release.
type PostgresRunLock struct {
	db *sqlx.DB
}

// NewPostgresRunLock creates a PostgresRunLock.
func NewPostgresRunLock(db *sqlx.DB) *PostgresRunLock {
	return &PostgresRunLock{db: db}
}

// TryAcquire takes the lock without waiting. ok is false when another session holds it.
func (l *PostgresRunLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get connection for run lock: %w", err)
	}

	var ok bool
	if err := conn.GetContext(ctx, &ok, `SELECT pg_try_advisory_lock($1)`, syncRunLockKey); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to try run lock: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, syncRunLockKey); err != nil {
			// Drop the connection instead of pooling it so the session, and its lock, end.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
	return release, true, nil
}
