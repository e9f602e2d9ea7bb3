package cronexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"* * * * *", "Every minute"},
		{"*/1 * * * *", "Every minute"},
		{"*/5 * * * *", "Every 5 minutes"},
		{"0 * * * *", "Every hour"},
		{"15 * * * *", "Every hour at minute 15"},
		{"0 */2 * * *", "Every 2 hours"},
		{"30 */6 * * *", "Every 6 hours at minute 30"},
		{"0 6 * * *", "Daily at 6:00 AM"},
		{"30 18 * * *", "Daily at 6:30 PM"},
		{"0 0 * * *", "Daily at 12:00 AM"},
		{"0 12 * * *", "Daily at 12:00 PM"},
		{"0 9 * * 1-5", "Weekdays at 9:00 AM"},
		{"0 10 * * 0,6", "Weekends at 10:00 AM"},
		{"0 8 * * 1", "Every Monday at 8:00 AM"},
		{"0 8 * * 7", "Every Sunday at 8:00 AM"},
		{"0 4 1 * *", "Monthly on day 1 at 4:00 AM"},
		{"0 0 1 1 *", "Yearly on January 1 at 12:00 AM"},
		{"0 0 1 */3 *", "Custom schedule"},
		{"5,10 * * * *", "Custom schedule"},
		{"not a cron", "Custom schedule"},
		{"", "Custom schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.expr))
		})
	}
}

func TestDescribeEveryFiveMinutes(t *testing.T) {
	got := Describe("*/5 * * * *")
	assert.Contains(t, got, "5")
	assert.Contains(t, got, "minute")
}
