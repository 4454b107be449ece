// Package db is an optional Postgres event log for pipeline runs. All writes
// are best-effort from the coordinator's point of view.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lucasnoah/patchfactory/internal/recovery"
	"github.com/lucasnoah/patchfactory/internal/workflow"
)

// DB wraps the Postgres connection pool.
type DB struct {
	conn *sql.DB
}

// Open connects to Postgres using the given DSN.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_runs (
    id            BIGSERIAL PRIMARY KEY,
    run_id        TEXT NOT NULL UNIQUE,
    success       BOOLEAN NOT NULL,
    phase         TEXT NOT NULL,
    abort_reason  TEXT,
    error         TEXT,
    files_changed INTEGER NOT NULL DEFAULT 0,
    lines_added   INTEGER NOT NULL DEFAULT 0,
    lines_removed INTEGER NOT NULL DEFAULT 0,
    duration_ms   BIGINT NOT NULL DEFAULT 0,
    started_at    TIMESTAMPTZ NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON workflow_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS validation_attempts (
    id         BIGSERIAL PRIMARY KEY,
    run_id     TEXT NOT NULL,
    number     INTEGER NOT NULL,
    valid      BOOLEAN NOT NULL,
    abort      TEXT,
    issues     JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON validation_attempts(run_id, number);

CREATE TABLE IF NOT EXISTS error_events (
    id         BIGSERIAL PRIMARY KEY,
    run_id     TEXT NOT NULL,
    category   TEXT NOT NULL,
    severity   TEXT NOT NULL,
    message    TEXT NOT NULL,
    recovered  BOOLEAN NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_errors_run ON error_events(run_id);
`

// Migrate applies the schema if it has not been applied yet.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1) ON CONFLICT DO NOTHING"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// RecordRun inserts the run row and its validation attempts.
func (d *DB) RecordRun(ctx context.Context, result *workflow.WorkflowResult) error {
	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO workflow_runs (run_id, success, phase, abort_reason, error, files_changed, lines_added, lines_removed, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO NOTHING`,
		result.RunID, result.Success, result.Phase, nullable(result.AbortReason), nullable(result.Error),
		result.FilesChanged, result.LinesAdded, result.LinesRemoved, result.Duration.Milliseconds(), result.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Run already recorded; don't duplicate attempt rows.
		return nil
	}

	for _, at := range result.Attempts {
		issues, err := json.Marshal(at.Issues)
		if err != nil {
			return fmt.Errorf("marshal attempt issues: %w", err)
		}
		if _, err := d.conn.ExecContext(ctx, `
			INSERT INTO validation_attempts (run_id, number, valid, abort, issues)
			VALUES ($1, $2, $3, $4, $5)`,
			result.RunID, at.Number, at.Valid, nullable(at.Abort), issues); err != nil {
			return fmt.Errorf("insert attempt %d: %w", at.Number, err)
		}
	}
	return nil
}

// RecordErrors inserts one row per recovery error.
func (d *DB) RecordErrors(ctx context.Context, runID string, errs []recovery.ErrorInfo) error {
	for _, e := range errs {
		if _, err := d.conn.ExecContext(ctx, `
			INSERT INTO error_events (run_id, category, severity, message, recovered, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			runID, string(e.Category), string(e.Severity), e.Message, e.RecoverySuccessful, e.Timestamp); err != nil {
			return fmt.Errorf("insert error event: %w", err)
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
