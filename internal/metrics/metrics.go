package metrics

import (
	"net/http"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pos_scheduler"

// Collector exposes job execution metrics on its own registry so several
// schedulers (or tests) in one process do not collide.
type Collector struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runsRejected *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	running      prometheus.Gauge
	scheduled    prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_started_total",
			Help:      "Job executions started, by job and trigger",
		}, []string{"job", "trigger"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job executions finished, by job and terminal status",
		}, []string{"job", "status"}),
		runsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_rejected_total",
			Help:      "Run attempts rejected before execution",
		}, []string{"job", "reason"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently executing",
		}),
		scheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled",
			Help:      "Jobs with an active timer",
		}),
	}

	c.registry.MustRegister(
		c.runsStarted,
		c.runsFinished,
		c.runsRejected,
		c.runDuration,
		c.running,
		c.scheduled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

func (c *Collector) RunStarted(job string, trigger types.Trigger) {
	c.runsStarted.WithLabelValues(job, string(trigger)).Inc()
	c.running.Inc()
}

func (c *Collector) RunFinished(job string, status types.JobStatus, elapsed time.Duration) {
	c.runsFinished.WithLabelValues(job, status.String()).Inc()
	c.runDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	c.running.Dec()
}

func (c *Collector) RunRejected(job string, reason string) {
	c.runsRejected.WithLabelValues(job, reason).Inc()
}

func (c *Collector) SetScheduled(count int) {
	c.scheduled.Set(float64(count))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
