package cron

import (
	"context"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/types"
)

// Recorder receives execution events for metrics.
type Recorder interface {
	RunStarted(job string, trigger types.Trigger)
	RunFinished(job string, status types.JobStatus, elapsed time.Duration)
	RunRejected(job string, reason string)
	SetScheduled(count int)
}

// Notifier is told about every run that ends in FAILED.
type Notifier interface {
	JobFailed(ctx context.Context, job types.JobDefinition, outcome types.RunOutcome) error
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(string, types.Trigger) {}
func (nopRecorder) RunFinished(string, types.JobStatus, time.Duration) {}
func (nopRecorder) RunRejected(string, string) {}
func (nopRecorder) SetScheduled(int) {}

const (
	rejectAlreadyRunning = "already_running"
	rejectDisabled       = "disabled"
)
