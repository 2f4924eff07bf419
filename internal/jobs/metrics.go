package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs            *prometheus.CounterVec
	failures        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	invoices        *prometheus.CounterVec
	interestUpdates prometheus.Counter
	interestAccrued prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddGeneration records one invoice generation run by outcome.
func (m *Metrics) AddGeneration(created, skipped, failed int) {
	if m == nil {
		return
	}
	for outcome, count := range map[string]int{"created": created, "skipped": skipped, "failed": failed} {
		if count > 0 {
			m.invoices.WithLabelValues(outcome).Add(float64(count))
		}
	}
}

// AddInterest records invoices whose interest changed and the accrued delta.
func (m *Metrics) AddInterest(updated int, accrued float64) {
	if m == nil || updated <= 0 {
		return
	}
	m.interestUpdates.Add(float64(updated))
	if accrued > 0 {
		m.interestAccrued.Add(accrued)
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_invoices_generated_total",
		Help: "Units processed by invoice generation runs grouped by outcome.",
	}, []string{"outcome"})
	interestUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_interest_updates_total",
		Help: "Invoices whose late-payment interest was recomputed upward.",
	})
	interestAccrued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_interest_accrued_amount_total",
		Help: "Sum of interest deltas applied by accrual runs, in currency units.",
	})
	registerer.MustRegister(runs, failures, duration, invoices, interestUpdates, interestAccrued)
	return &Metrics{
		runs:            runs,
		failures:        failures,
		duration:        duration,
		invoices:        invoices,
		interestUpdates: interestUpdates,
		interestAccrued: interestAccrued,
	}
}
