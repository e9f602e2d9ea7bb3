package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					matched = false
				}
			}
			if !matched {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func TestCollectorRecordsRuns(t *testing.T) {
	c := NewCollector()

	c.RunStarted("daily-sales", types.TriggerManual)
	assert.Equal(t, 1.0, gathered(t, c, "pos_scheduler_jobs_running", nil))

	c.RunFinished("daily-sales", types.StatusSuccess, 250*time.Millisecond)
	c.RunStarted("daily-sales", types.TriggerSchedule)
	c.RunFinished("daily-sales", types.StatusFailed, time.Second)

	assert.Equal(t, 1.0, gathered(t, c, "pos_scheduler_job_runs_started_total", map[string]string{"trigger": "manual"}))
	assert.Equal(t, 1.0, gathered(t, c, "pos_scheduler_job_runs_total", map[string]string{"status": "SUCCESS"}))
	assert.Equal(t, 1.0, gathered(t, c, "pos_scheduler_job_runs_total", map[string]string{"status": "FAILED"}))
	assert.Equal(t, 2.0, gathered(t, c, "pos_scheduler_job_run_duration_seconds", map[string]string{"job": "daily-sales"}))
	assert.Equal(t, 0.0, gathered(t, c, "pos_scheduler_jobs_running", nil))
}

func TestCollectorRejectedAndScheduled(t *testing.T) {
	c := NewCollector()

	c.RunRejected("sync-inventory", "already_running")
	c.RunRejected("sync-inventory", "already_running")
	c.SetScheduled(3)

	assert.Equal(t, 2.0, gathered(t, c, "pos_scheduler_job_runs_rejected_total", map[string]string{"reason": "already_running"}))
	assert.Equal(t, 3.0, gathered(t, c, "pos_scheduler_jobs_scheduled", nil))
}

func TestCollectorsAreIndependent(t *testing.T) {
	first := NewCollector()
	second := NewCollector()

	first.SetScheduled(5)
	assert.Equal(t, 0.0, gathered(t, second, "pos_scheduler_jobs_scheduled", nil))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.SetScheduled(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pos_scheduler_jobs_scheduled 2")
}
