package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/types"
)

const interruptedRunError = "interrupted: scheduler stopped before the run completed"

const logSelect = `
	SELECT l.id, l.job_id, COALESCE(j.name, ''), l.status, l.trigger_type,
	       l.start_time, l.end_time, l.duration, l.records, l.message, l.error
	FROM job_logs l
	LEFT JOIN jobs j ON j.id = l.job_id`

func scanLog(row rowScanner) (types.JobExecutionLog, error) {
	var (
		log      types.JobExecutionLog
		endTime  sql.NullTime
		duration sql.NullInt64
		records  sql.NullInt64
		message  sql.NullString
		errText  sql.NullString
	)
	err := row.Scan(
		&log.ID, &log.JobID, &log.JobName, &log.Status, &log.Trigger,
		&log.StartTime, &endTime, &duration, &records, &message, &errText,
	)
	if err != nil {
		return log, err
	}
	if endTime.Valid {
		t := endTime.Time
		log.EndTime = &t
	}
	if duration.Valid {
		d := duration.Int64
		log.Duration = &d
	}
	if records.Valid {
		r := records.Int64
		log.Records = &r
	}
	if message.Valid {
		m := message.String
		log.Message = &m
	}
	if errText.Valid {
		e := errText.String
		log.Error = &e
	}
	return log, nil
}

// StartRun opens an execution for jobID. The check for an unterminated run and the
// insert happen in one statement, and uq_job_logs_running backs it up.
func (s *Store) StartRun(ctx context.Context, jobID int64, trigger types.Trigger) (types.RunHandle, error) {
	if _, err := s.GetJobByID(ctx, jobID); err != nil {
		return types.RunHandle{}, err
	}

	start := s.now()
	var logID int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO job_logs (job_id, status, trigger_type, start_time)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM job_logs WHERE job_id = ? AND status = ?
		)
		RETURNING id`),
		jobID, types.StatusRunning, trigger, start, jobID, types.StatusRunning,
	).Scan(&logID)

	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		return types.RunHandle{}, fmt.Errorf("%w: job %d", types.ErrAlreadyRunning, jobID)
	case err != nil:
		return types.RunHandle{}, fmt.Errorf("failed to start run for job %d: %w", jobID, err)
	}

	return types.RunHandle{LogID: logID, JobID: jobID, StartTime: start}, nil
}

// CompleteRun writes the terminal status for an open execution. Completing a
// run twice returns ErrInvalidState and leaves the first result in place.
func (s *Store) CompleteRun(ctx context.Context, handle types.RunHandle, result types.RunResult) error {
	if !types.IsValidTransition(types.StatusRunning, result.Status) {
		return fmt.Errorf("%w: cannot complete run with status %s", types.ErrInvalidState, result.Status)
	}

	end := s.now()
	duration := end.Sub(handle.StartTime).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE job_logs
		SET status = ?, end_time = ?, duration = ?, records = ?, message = ?, error = ?
		WHERE id = ? AND status = ?`),
		result.Status, end, duration, nullInt64(result.Records),
		nullString(result.Message), nullString(result.Error),
		handle.LogID, types.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run %d: %w", handle.LogID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete run %d: %w", handle.LogID, err)
	}
	if affected > 0 {
		return nil
	}

	var current types.JobStatus
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM job_logs WHERE id = ?`), handle.LogID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", types.ErrLogNotFound, handle.LogID)
	}
	if err != nil {
		return fmt.Errorf("failed to load run %d: %w", handle.LogID, err)
	}
	return fmt.Errorf("%w: run %d is already %s", types.ErrInvalidState, handle.LogID, current)
}

// LatestForJob returns the most recent execution of jobID, or nil if it never ran.
func (s *Store) LatestForJob(ctx context.Context, jobID int64) (*types.JobExecutionLog, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(logSelect+`
		WHERE l.job_id = ?
		ORDER BY l.start_time DESC, l.id DESC
		LIMIT 1`), jobID)

	log, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest run for job %d: %w", jobID, err)
	}
	return &log, nil
}

// LatestPerJob returns the most recent execution of every job that has one, keyed by job id.
func (s *Store) LatestPerJob(ctx context.Context) (map[int64]types.JobExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, logSelect+`
		WHERE l.id = (
			SELECT l2.id FROM job_logs l2
			WHERE l2.job_id = l.job_id
			ORDER BY l2.start_time DESC, l2.id DESC
			LIMIT 1
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest runs: %w", err)
	}
	defer rows.Close()

	latest := make(map[int64]types.JobExecutionLog)
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		latest[log.JobID] = log
	}
	return latest, rows.Err()
}

// ListLogs returns execution history most-recent-first.
func (s *Store) ListLogs(ctx context.Context, q types.LogQuery) ([]types.JobExecutionLog, error) {
	q = q.Normalize()

	query := logSelect
	args := make([]any, 0, 3)
	if q.JobID > 0 {
		query += ` WHERE l.job_id = ?`
		args = append(args, q.JobID)
	}
	query += ` ORDER BY l.start_time DESC, l.id DESC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	logs := make([]types.JobExecutionLog, 0, q.Limit)
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// RecoverInterruptedRuns fails every RUNNING row. It is meant for process start,
// when no execution can be in flight, so a crash does not block a job forever.
func (s *Store) RecoverInterruptedRuns(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, job_id, start_time FROM job_logs WHERE status = ?`), types.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to find interrupted runs: %w", err)
	}

	var handles []types.RunHandle
	for rows.Next() {
		var h types.RunHandle
		if err := rows.Scan(&h.LogID, &h.JobID, &h.StartTime); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan interrupted run: %w", err)
		}
		handles = append(handles, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	recovered := 0
	for _, h := range handles {
		err := s.CompleteRun(ctx, h, types.RunResult{Status: types.StatusFailed, Error: interruptedRunError})
		if errors.Is(err, types.ErrInvalidState) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// PruneLogs deletes terminal runs that started before the cutoff.
func (s *Store) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM job_logs WHERE status <> ? AND start_time < ?`),
		types.StatusRunning, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Analyze refreshes planner statistics for a table.
func (s *Store) Analyze(ctx context.Context, table string) error {
	if !validIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE "+table); err != nil {
		return fmt.Errorf("failed to analyze %s: %w", table, err)
	}
	return nil
}

func validIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
