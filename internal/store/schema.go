package store

import (
	"context"
	"fmt"
)

func (s *Store) schema() []string {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	timestamp := "TIMESTAMP"
	if s.driver == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
		timestamp = "TIMESTAMPTZ"
	}

	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS jobs (
			id %s,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			table_name TEXT NOT NULL DEFAULT '',
			schedule TEXT NOT NULL,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, idColumn, timestamp, timestamp),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS job_logs (
			id %s,
			job_id BIGINT NOT NULL REFERENCES jobs(id),
			status TEXT NOT NULL,
			trigger_type TEXT NOT NULL DEFAULT 'schedule',
			start_time %s NOT NULL,
			end_time %s,
			duration BIGINT,
			records BIGINT,
			message TEXT,
			error TEXT
		)`, idColumn, timestamp, timestamp),
		`CREATE INDEX IF NOT EXISTS idx_job_logs_job_start ON job_logs (job_id, start_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_job_logs_start ON job_logs (start_time DESC)`,
		// At most one unterminated run per job.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_job_logs_running ON job_logs (job_id) WHERE status = 'RUNNING'`,
	}
}

// Migrate creates the jobs and job_logs tables and their indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
