package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/0xPuncker/pos-scheduler/pkg/utils"
	"github.com/sirupsen/logrus"
)

// JobLister is the read side of the scheduler the startup summary needs.
type JobLister interface {
	GetAllJobsWithStatus(ctx context.Context) ([]types.JobWithStatus, error)
}

type StartupNotifier struct {
	jobs         JobLister
	slack        *SlackService
	logger       *logrus.Logger
	initialDelay time.Duration
	now          func() time.Time
}

func NewStartupNotifier(jobs JobLister, slack *SlackService, logger *logrus.Logger) *StartupNotifier {
	return &StartupNotifier{
		jobs:         jobs,
		slack:        slack,
		logger:       logger,
		initialDelay: 5 * time.Second,
		now:          time.Now,
	}
}

// NotifyStartup waits for the initial delay, then posts which jobs are
// scheduled and which were left unscheduled by a configuration error.
func (n *StartupNotifier) NotifyStartup(ctx context.Context) error {
	select {
	case <-time.After(n.initialDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	jobs, err := n.jobs.GetAllJobsWithStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	message := n.formatStartupSummary(jobs)
	if err := n.slack.SendSlackMessage(ctx, message); err != nil {
		return err
	}

	n.logger.WithField("jobs", len(jobs)).Info("Startup summary sent to Slack")
	return nil
}

func (n *StartupNotifier) formatStartupSummary(jobs []types.JobWithStatus) *SlackMessage {
	var (
		scheduled []string
		broken    []string
		disabled  int
	)

	now := n.now()
	for _, job := range jobs {
		switch {
		case !job.IsEnabled:
			disabled++
		case job.ConfigError != "":
			broken = append(broken, fmt.Sprintf("• %s: %s", job.Name, job.ConfigError))
		case job.Scheduled && job.NextRun != nil:
			scheduled = append(scheduled, fmt.Sprintf("• %s: %s, next run in %s",
				job.Name, job.ScheduleDescription, utils.FormatDuration(job.NextRun.Sub(now))))
		}
	}

	fields := []Field{
		{
			Title: "Scheduled",
			Value: fmt.Sprintf("%d", len(scheduled)),
			Short: true,
		},
		{
			Title: "Disabled",
			Value: fmt.Sprintf("%d", disabled),
			Short: true,
		},
	}
	if len(scheduled) > 0 {
		fields = append(fields, Field{
			Title: "Upcoming",
			Value: strings.Join(scheduled, "\n"),
			Short: false,
		})
	}

	color := "good"
	if len(broken) > 0 {
		color = "warning"
		fields = append(fields, Field{
			Title: "Configuration errors",
			Value: strings.Join(broken, "\n"),
			Short: false,
		})
	}

	return &SlackMessage{
		Text: "🚀 POS scheduler started",
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Ts:     now.Unix(),
			},
		},
	}
}
