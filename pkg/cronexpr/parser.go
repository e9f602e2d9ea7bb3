// Package cronexpr parses standard 5-field cron expressions, validates them field by field
// and computes fire times.
package cronexpr

import (
	"strconv"
	"strings"
	"time"
)

const (
	fieldCount  = 5
	searchYears = 5
)

type fieldSpec struct {
	name string
	min  int
	max  int
}

// Order matters: validation walks the fields left to right and stops at the first failure.
var fieldSpecs = [fieldCount]fieldSpec{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 7},
}

// Expression is a parsed cron expression. Each field is a bitset of accepted values.
type Expression struct {
	raw     string
	minute  uint64
	hour    uint64
	dom     uint64
	month   uint64
	dow     uint64
	domStar bool
	dowStar bool
}

// Validate checks expr without keeping the parsed form.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Parse parses a cron string like "*/5 0 1-10 * 1,3".
func Parse(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != fieldCount {
		return nil, &FieldCountError{Got: len(parts)}
	}

	var bits [fieldCount]uint64
	var stars [fieldCount]bool
	for i, spec := range fieldSpecs {
		b, star, err := parseField(spec, parts[i])
		if err != nil {
			return nil, err
		}
		bits[i] = b
		stars[i] = star
	}

	// 7 is an alias for Sunday.
	if bits[4]&(1<<7) != 0 {
		bits[4] = bits[4]&^(1<<7) | 1
	}

	return &Expression{
		raw:     strings.Join(parts, " "),
		minute:  bits[0],
		hour:    bits[1],
		dom:     bits[2],
		month:   bits[3],
		dow:     bits[4],
		domStar: stars[2],
		dowStar: stars[4],
	}, nil
}

func parseField(spec fieldSpec, part string) (uint64, bool, error) {
	fail := func(reason string) (uint64, bool, error) {
		return 0, false, &FieldError{Field: spec.name, Value: part, Reason: reason, Min: spec.min, Max: spec.max}
	}

	if part == "*" {
		return span(spec.min, spec.max, 1), true, nil
	}

	if strings.HasPrefix(part, "*/") {
		step, ok := atoi(part[2:])
		if !ok || step < 1 {
			return fail("step must be a positive integer")
		}
		// */1 covers the whole field, same as *.
		return span(spec.min, spec.max, step), step == 1, nil
	}

	var bits uint64
	for _, token := range strings.Split(part, ",") {
		if token == "" {
			return fail("empty list element")
		}

		if lo, hi, found := strings.Cut(token, "-"); found {
			start, ok1 := atoi(lo)
			end, ok2 := atoi(hi)
			if !ok1 || !ok2 {
				return fail("invalid range")
			}
			if start < spec.min || end > spec.max {
				return fail("value out of range")
			}
			if start > end {
				return fail("range start is after range end")
			}
			bits |= span(start, end, 1)
			continue
		}

		n, ok := atoi(token)
		if !ok {
			return fail("not a number")
		}
		if n < spec.min || n > spec.max {
			return fail("value out of range")
		}
		bits |= 1 << uint(n)
	}

	return bits, false, nil
}

func span(min, max, step int) uint64 {
	var bits uint64
	for i := min; i <= max; i += step {
		bits |= 1 << uint(i)
	}
	return bits
}

// atoi accepts plain decimal digits only, no sign.
func atoi(s string) (int, bool) {
	if s == "" || len(s) > 4 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func (e *Expression) String() string {
	return e.raw
}

// Next returns the first matching minute strictly after t, in t's location.
// It returns the zero time when nothing matches within the search horizon,
// which robfig/cron treats as "never".
func (e *Expression) Next(t time.Time) time.Time {
	loc := t.Location()
	t = t.Add(time.Minute - time.Duration(t.Second())*time.Second - time.Duration(t.Nanosecond()))

	yearLimit := t.Year() + searchYears
	for t.Year() <= yearLimit {
		if e.month&(1<<uint(t.Month())) == 0 {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !e.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if e.hour&(1<<uint(t.Hour())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if e.minute&(1<<uint(t.Minute())) == 0 {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

// dayMatches ORs day-of-month and day-of-week when both are restricted, as POSIX cron does.
func (e *Expression) dayMatches(t time.Time) bool {
	domMatch := e.dom&(1<<uint(t.Day())) != 0
	dowMatch := e.dow&(1<<uint(t.Weekday())) != 0
	if e.domStar || e.dowStar {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// NextFireTime parses expr and returns its next fire time after the given instant.
func NextFireTime(expr string, after time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := e.Next(after)
	if next.IsZero() {
		return time.Time{}, ErrNoFireTime
	}
	return next, nil
}

// NextN returns up to n consecutive fire times after the given instant. A
// non-positive n yields an empty result.
func NextN(expr string, after time.Time, n int) ([]time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []time.Time{}, nil
	}
	times := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		after = e.Next(after)
		if after.IsZero() {
			break
		}
		times = append(times, after)
	}
	if len(times) == 0 {
		return nil, ErrNoFireTime
	}
	return times, nil
}
