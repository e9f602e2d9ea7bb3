package types

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrLogNotFound       = errors.New("execution log not found")
	ErrAlreadyRunning    = errors.New("job is already running")
	ErrInvalidState      = errors.New("invalid execution state")
	ErrTaskNotRegistered = errors.New("no task registered for job")
)

// ValidationError rejects a configuration update. Err is usually a cron field error.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ExecutionError wraps whatever a job's work function returned or panicked with.
type ExecutionError struct {
	JobName string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.JobName, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
