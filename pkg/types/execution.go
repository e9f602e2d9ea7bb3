package types

import "time"

type JobStatus string

const (
	StatusRunning JobStatus = "RUNNING"
	StatusSuccess JobStatus = "SUCCESS"
	StatusFailed  JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusRunning, To: StatusSuccess},
	{From: StatusRunning, To: StatusFailed},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Trigger records what started an execution.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// JobExecutionLog is one row of job_logs. EndTime and Duration stay nil while the run is in flight.
type JobExecutionLog struct {
	ID        int64      `json:"id"`
	JobID     int64      `json:"job_id"`
	JobName   string     `json:"job_name,omitempty"`
	Status    JobStatus  `json:"status"`
	Trigger   Trigger    `json:"trigger"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  *int64     `json:"duration,omitempty"`
	Records   *int64     `json:"records,omitempty"`
	Message   *string    `json:"message,omitempty"`
	Error     *string    `json:"error,omitempty"`
}

// RunHandle identifies an open execution between StartRun and CompleteRun.
type RunHandle struct {
	LogID     int64     `json:"log_id"`
	JobID     int64     `json:"job_id"`
	StartTime time.Time `json:"start_time"`
}

// RunResult is the terminal outcome written by CompleteRun.
type RunResult struct {
	Status  JobStatus
	Records *int64
	Message string
	Error   string
}

// RunOutcome is what a manual trigger reports back to its caller.
type RunOutcome struct {
	LogID    int64     `json:"log_id"`
	Status   JobStatus `json:"status"`
	Records  int64     `json:"records"`
	Duration int64     `json:"duration"`
	Error    string    `json:"error,omitempty"`
}

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

// LogQuery selects a page of execution history. JobID 0 means all jobs.
type LogQuery struct {
	Limit  int
	Offset int
	JobID  int64
}

func (q LogQuery) Normalize() LogQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	if q.Limit > MaxLogLimit {
		q.Limit = MaxLogLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
