package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step.
type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_audit_activity_log",
		stmt: `
			CREATE TABLE IF NOT EXISTS audit_activity_log (
				trace_id      UUID PRIMARY KEY,
				request_id    UUID NOT NULL,
				phase         TEXT NOT NULL,
				occurred_at   TIMESTAMPTZ NOT NULL,
				user_id       TEXT,
				email         TEXT,
				roles         TEXT[] NOT NULL DEFAULT '{}',
				patient_id    TEXT,
				route         TEXT NOT NULL,
				method        TEXT NOT NULL,
				action        TEXT NOT NULL,
				status_code   INTEGER,
				duration_ms   BIGINT,
				payload       JSONB NOT NULL,
				content_hash  TEXT NOT NULL
			)`,
	},
	{
		version: 2,
		name:    "index_audit_activity_log_patient",
		stmt: `
			CREATE INDEX IF NOT EXISTS idx_audit_activity_log_patient
				ON audit_activity_log (patient_id, occurred_at DESC)
				WHERE patient_id IS NOT NULL`,
	},
}

// Migrate applies pending migrations in order and returns how many ran.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		var exists bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version,
		).Scan(&exists); err != nil {
			return applied, fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name,
		); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		applied++
	}
	return applied, nil
}
