package types

import "time"

// JobDefinition represents a schedulable job as persisted in the jobs table
type JobDefinition struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TableName   string    `json:"table_name"`
	Schedule    string    `json:"schedule"`
	IsEnabled   bool      `json:"is_enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobUpdate is a partial configuration change. Nil fields are left untouched.
type JobUpdate struct {
	Schedule    *string `json:"schedule,omitempty"`
	Description *string `json:"description,omitempty"`
	IsEnabled   *bool   `json:"is_enabled,omitempty"`
}

func (u JobUpdate) IsEmpty() bool {
	return u.Schedule == nil && u.Description == nil && u.IsEnabled == nil
}

// JobSeed represents a job definition declared in the config file
type JobSeed struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	TableName   string `yaml:"table_name" json:"table_name"`
	Schedule    string `yaml:"schedule" json:"schedule"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
}

// JobWithStatus is a read-only view combining a definition with its runtime state
type JobWithStatus struct {
	JobDefinition
	Scheduled           bool             `json:"scheduled"`
	Running             bool             `json:"running"`
	LastRun             *time.Time       `json:"last_run,omitempty"`
	NextRun             *time.Time       `json:"next_run,omitempty"`
	LastLog             *JobExecutionLog `json:"last_log,omitempty"`
	ConfigError         string           `json:"config_error,omitempty"`
	ScheduleDescription string           `json:"schedule_description"`
}

// JobStatusSummary holds aggregate counts over all jobs
type JobStatusSummary struct {
	TotalJobs    int `json:"total_jobs"`
	ActiveJobs   int `json:"active_jobs"`
	DisabledJobs int `json:"disabled_jobs"`
	SuccessJobs  int `json:"success_jobs"`
	FailedJobs   int `json:"failed_jobs"`
	RunningJobs  int `json:"running_jobs"`
}
