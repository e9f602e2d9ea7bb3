package cronexpr

import (
	"errors"
	"fmt"
)

var ErrNoFireTime = errors.New("cron expression never fires")

// FieldCountError reports an expression that does not split into exactly five fields.
type FieldCountError struct {
	Got int
}

func (e *FieldCountError) Missing() int {
	if e.Got < fieldCount {
		return fieldCount - e.Got
	}
	return 0
}

func (e *FieldCountError) Excess() int {
	if e.Got > fieldCount {
		return e.Got - fieldCount
	}
	return 0
}

func (e *FieldCountError) Error() string {
	if missing := e.Missing(); missing > 0 {
		return fmt.Sprintf("cron expression must have %d fields, got %d (%d missing)", fieldCount, e.Got, missing)
	}
	return fmt.Sprintf("cron expression must have %d fields, got %d (%d extra)", fieldCount, e.Got, e.Excess())
}

// FieldError names the first field that failed validation and its legal range.
type FieldError struct {
	Field  string
	Value  string
	Reason string
	Min    int
	Max    int
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s field %q: %s (allowed %d-%d)", e.Field, e.Value, e.Reason, e.Min, e.Max)
}
