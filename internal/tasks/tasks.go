package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/0xPuncker/pos-scheduler/internal/cron"
	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	PruneJobLogs = "prune-job-logs"
	AnalyzeTable = "analyze-table"
)

// Maintenance is the slice of the store the built-in tasks operate on.
type Maintenance interface {
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
	Analyze(ctx context.Context, table string) error
}

// Register adds the built-in maintenance tasks under their default job names.
func Register(table *cron.TaskTable, store Maintenance, retention time.Duration, logger *logrus.Logger) error {
	if err := table.Register(PruneJobLogs, PruneLogs(store, retention, time.Now, logger)); err != nil {
		return err
	}
	return table.Register(AnalyzeTable, Analyze(store, logger))
}

// PruneLogs deletes finished runs older than the retention window and reports
// the number of rows removed.
func PruneLogs(store Maintenance, retention time.Duration, now func() time.Time, logger *logrus.Logger) cron.WorkFunc {
	return func(ctx context.Context, job types.JobDefinition) (int64, error) {
		if retention <= 0 {
			return 0, fmt.Errorf("log retention must be positive, got %s", retention)
		}

		cutoff := now().Add(-retention)
		deleted, err := store.PruneLogs(ctx, cutoff)
		if err != nil {
			return 0, err
		}

		logger.WithFields(logrus.Fields{
			"job_name": job.Name,
			"cutoff":   cutoff.Format(time.RFC3339),
			"deleted":  deleted,
		}).Debug("Pruned execution logs")
		return deleted, nil
	}
}

// Analyze refreshes planner statistics for the job's table.
func Analyze(store Maintenance, logger *logrus.Logger) cron.WorkFunc {
	return func(ctx context.Context, job types.JobDefinition) (int64, error) {
		if job.TableName == "" {
			return 0, fmt.Errorf("job %s has no table_name to analyze", job.Name)
		}
		if err := store.Analyze(ctx, job.TableName); err != nil {
			return 0, err
		}

		logger.WithFields(logrus.Fields{
			"job_name": job.Name,
			"table":    job.TableName,
		}).Debug("Table statistics refreshed")
		return 0, nil
	}
}
