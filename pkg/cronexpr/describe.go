package cronexpr

import (
	"fmt"
	"strings"
	"time"
)

const customSchedule = "Custom schedule"

// Describe returns a short human-readable summary of expr for display.
// Unrecognised or invalid expressions are reported as "Custom schedule".
func Describe(expr string) string {
	if _, err := Parse(expr); err != nil {
		return customSchedule
	}
	f := strings.Fields(expr)
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]
	everyDay := dom == "*" && month == "*" && dow == "*"

	if hour == "*" && everyDay {
		if minute == "*" {
			return "Every minute"
		}
		if n, ok := stepOf(minute); ok {
			if n == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", n)
		}
		if m, ok := atoi(minute); ok {
			if m == 0 {
				return "Every hour"
			}
			return fmt.Sprintf("Every hour at minute %d", m)
		}
		return customSchedule
	}

	m, ok := atoi(minute)
	if !ok {
		return customSchedule
	}

	if n, ok := stepOf(hour); ok && everyDay {
		suffix := ""
		if m != 0 {
			suffix = fmt.Sprintf(" at minute %d", m)
		}
		if n == 1 {
			return "Every hour" + suffix
		}
		return fmt.Sprintf("Every %d hours%s", n, suffix)
	}

	h, ok := atoi(hour)
	if !ok {
		return customSchedule
	}
	at := clock(h, m)

	switch {
	case everyDay:
		return "Daily at " + at
	case dom == "*" && month == "*":
		switch dow {
		case "1-5":
			return "Weekdays at " + at
		case "0,6", "6,0", "6,7", "7,6":
			return "Weekends at " + at
		}
		if d, ok := atoi(dow); ok {
			return fmt.Sprintf("Every %s at %s", time.Weekday(d%7), at)
		}
	case dow == "*" && month == "*":
		if d, ok := atoi(dom); ok {
			return fmt.Sprintf("Monthly on day %d at %s", d, at)
		}
	case dow == "*":
		d, ok1 := atoi(dom)
		mo, ok2 := atoi(month)
		if ok1 && ok2 {
			return fmt.Sprintf("Yearly on %s %d at %s", time.Month(mo), d, at)
		}
	}

	return customSchedule
}

func stepOf(field string) (int, bool) {
	if !strings.HasPrefix(field, "*/") {
		return 0, false
	}
	return atoi(field[2:])
}

func clock(hour, minute int) string {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, suffix)
}
