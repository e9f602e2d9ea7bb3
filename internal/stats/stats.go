package stats

import "github.com/0xPuncker/pos-scheduler/pkg/types"

// Summarize derives the dashboard counters from a job snapshot. A job is
// active only when it is both enabled and holds a live timer, so an enabled
// job with a broken schedule counts toward neither active nor disabled.
func Summarize(jobs []types.JobWithStatus) types.JobStatusSummary {
	summary := types.JobStatusSummary{TotalJobs: len(jobs)}

	for _, job := range jobs {
		if !job.IsEnabled {
			summary.DisabledJobs++
		} else if job.Scheduled {
			summary.ActiveJobs++
		}

		if job.LastLog == nil {
			continue
		}
		switch job.LastLog.Status {
		case types.StatusSuccess:
			summary.SuccessJobs++
		case types.StatusFailed:
			summary.FailedJobs++
		case types.StatusRunning:
			summary.RunningJobs++
		}
	}

	return summary
}
