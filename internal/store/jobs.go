package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/0xPuncker/pos-scheduler/pkg/types"
)

const jobColumns = `id, name, description, table_name, schedule, is_enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (types.JobDefinition, error) {
	var job types.JobDefinition
	err := row.Scan(
		&job.ID, &job.Name, &job.Description, &job.TableName,
		&job.Schedule, &job.IsEnabled, &job.CreatedAt, &job.UpdatedAt,
	)
	return job, err
}

// ListJobs returns every job ordered by name.
func (s *Store) ListJobs(ctx context.Context) ([]types.JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]types.JobDefinition, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) GetJobByName(ctx context.Context, name string) (*types.JobDefinition, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE name = ?`), name)
	return s.oneJob(row, name)
}

func (s *Store) GetJobByID(ctx context.Context, id int64) (*types.JobDefinition, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	return s.oneJob(row, id)
}

func (s *Store) oneJob(row *sql.Row, key any) (*types.JobDefinition, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", types.ErrJobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %v: %w", key, err)
	}
	return &job, nil
}

// UpdateJob applies a partial update inside a transaction and returns the stored result.
// Callers validate the schedule before calling.
func (s *Store) UpdateJob(ctx context.Context, id int64, update types.JobUpdate) (*types.JobDefinition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", types.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %d: %w", id, err)
	}

	if update.IsEmpty() {
		return &job, nil
	}
	if update.Schedule != nil {
		job.Schedule = *update.Schedule
	}
	if update.Description != nil {
		job.Description = *update.Description
	}
	if update.IsEnabled != nil {
		job.IsEnabled = *update.IsEnabled
	}
	job.UpdatedAt = s.now()

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE jobs
		SET schedule = ?, description = ?, is_enabled = ?, updated_at = ?
		WHERE id = ?`),
		job.Schedule, job.Description, job.IsEnabled, job.UpdatedAt, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return &job, nil
}

// SeedJobs inserts definitions that do not exist yet. Existing rows keep their
// runtime configuration. Returns how many rows were inserted.
func (s *Store) SeedJobs(ctx context.Context, seeds []types.JobSeed) (int, error) {
	query := s.rebind(`
		INSERT INTO jobs (name, description, table_name, schedule, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`)

	inserted := 0
	for _, seed := range seeds {
		now := s.now()
		res, err := s.db.ExecContext(ctx, query,
			seed.Name, seed.Description, seed.TableName, seed.Schedule, seed.Enabled, now, now)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed job %s: %w", seed.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, nil
}
