package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied at startup. Every statement is idempotent so repeated
// boots against the same database are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL REFERENCES users(id),
		job_type TEXT NOT NULL,
		due_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		notify_target TEXT NOT NULL DEFAULT '',
		resource_id UUID,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs (owner_id, due_time)`,
	`CREATE TABLE IF NOT EXISTS history (
		id UUID PRIMARY KEY,
		job_id UUID NOT NULL,
		owner_id UUID NOT NULL,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		executed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_owner ON history (owner_id, executed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS queue_entries (
		id UUID PRIMARY KEY,
		job_id UUID NOT NULL,
		job_type TEXT NOT NULL,
		due_time TIMESTAMPTZ NOT NULL,
		claimed BOOLEAN NOT NULL DEFAULT false,
		claimed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_due ON queue_entries (claimed, due_time)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
