package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/cronexpr"
	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/0xPuncker/pos-scheduler/pkg/utils"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxErrorLength = 500

// NotificationService formats scheduler events as Slack messages.
type NotificationService struct {
	slackService *SlackService
	now          func() time.Time
}

func NewNotificationService(slackService *SlackService) *NotificationService {
	return &NotificationService{
		slackService: slackService,
		now:          time.Now,
	}
}

// JobFailed posts a notice for a run that ended FAILED.
func (s *NotificationService) JobFailed(ctx context.Context, job types.JobDefinition, outcome types.RunOutcome) error {
	return s.slackService.SendSlackMessage(ctx, s.formatFailureNotification(job, outcome))
}

func (s *NotificationService) formatFailureNotification(job types.JobDefinition, outcome types.RunOutcome) *SlackMessage {
	fields := []Field{
		{
			Title: "Job",
			Value: job.Name,
			Short: true,
		},
		{
			Title: "Run",
			Value: fmt.Sprintf("#%d", outcome.LogID),
			Short: true,
		},
		{
			Title: "Duration",
			Value: utils.FormatMillis(outcome.Duration),
			Short: true,
		},
		{
			Title: "Schedule",
			Value: fmt.Sprintf("%s (%s)", job.Schedule, cronexpr.Describe(job.Schedule)),
			Short: true,
		},
	}

	if job.TableName != "" {
		fields = append(fields, Field{
			Title: "Table",
			Value: job.TableName,
			Short: true,
		})
	}

	if outcome.Error != "" {
		fields = append(fields, Field{
			Title: "Error",
			Value: utils.Truncate(outcome.Error, maxErrorLength),
			Short: false,
		})
	}

	return &SlackMessage{
		Text: fmt.Sprintf("❌ %s failed", displayName(job.Name)),
		Attachments: []Attachment{
			{
				Color:  "danger",
				Text:   job.Description,
				Fields: fields,
				Footer: fmt.Sprintf("Job ID: %d", job.ID),
				Ts:     s.now().Unix(),
			},
		},
	}
}

// displayName turns a job slug like "daily-sales" into "Daily Sales".
func displayName(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_'
	})
	return cases.Title(language.English).String(strings.Join(words, " "))
}

