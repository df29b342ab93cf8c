package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// sweepBuckets span a quick lock sweep up to a reconcile batch near its timeout.
var sweepBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// CronJobMetrics records sweep durations, outcomes and the last successful
// run, so a stalled payment reconcile can be alerted on. A nil value is a
// no-op recorder.
type CronJobMetrics struct {
	duration    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	now         func() time.Time
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foodops_cron_job_duration_seconds",
			Help:    "Duration of cron sweeps in seconds.",
			Buckets: sweepBuckets,
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodops_cron_job_runs_total",
			Help: "Cron sweep executions by outcome.",
		}, []string{"job", "outcome"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "foodops_cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sweep.",
		}, []string{"job"}),
		now: time.Now,
	}
	reg.MustRegister(m.duration, m.runs, m.lastSuccess)
	return m
}

func (c *CronJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

func (c *CronJobMetrics) IncSuccess(job string) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.runs.WithLabelValues(job, "success").Inc()
	c.lastSuccess.WithLabelValues(job).Set(float64(c.now().Unix()))
}

func (c *CronJobMetrics) IncFailure(job string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), "failure").Inc()
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
