package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the judge.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RunErrors        *prometheus.CounterVec
	CasesTotal       *prometheus.CounterVec
	GradingErrors    *prometheus.CounterVec
	SecurityEvents   *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	CodeSizeBytes    prometheus.Histogram
	OutputSizeBytes  prometheus.Histogram
	AuditDropped     prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "runs_total",
				Help:      "Total number of interpreter runs by mode and status.",
			},
			[]string{"mode", "status"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "run_duration_seconds",
				Help:      "Duration of interpreter runs in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),

		RunErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "run_errors_total",
				Help:      "Total runs that could not be carried out, by type.",
			},
			[]string{"type"},
		),

		CasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "test_cases_total",
				Help:      "Total graded test cases by verdict.",
			},
			[]string{"verdict"},
		),

		GradingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "grading_errors_total",
				Help:      "Total grading routine failures by code.",
			},
			[]string{"code"},
		),

		SecurityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "security_events_total",
				Help:      "Total suspicious patterns detected in submissions and output.",
			},
			[]string{"type"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "judge",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "code_size_bytes",
				Help:      "Size of submitted programs in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "output_size_bytes",
				Help:      "Size of interpreter output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),

		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "judge",
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Audit records dropped because the write buffer was full.",
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunErrors,
		m.CasesTotal,
		m.GradingErrors,
		m.SecurityEvents,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
		m.AuditDropped,
	)

	return m
}

// TrackActiveRuns exports count as the active runs gauge. count is read at
// scrape time and should only include runs that hold a sandbox slot.
func (m *Metrics) TrackActiveRuns(count func() int64) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "judge",
			Name:      "active_runs",
			Help:      "Number of interpreter processes currently running.",
		},
		func() float64 { return float64(count()) },
	))
}

// RecordRun records metrics for a completed interpreter run.
func (m *Metrics) RecordRun(mode, status string, durationSec float64, outputBytes int) {
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(durationSec)
	m.OutputSizeBytes.Observe(float64(outputBytes))
}

// RecordError records a run that could not be carried out.
func (m *Metrics) RecordError(errType string) {
	m.RunErrors.WithLabelValues(errType).Inc()
}

// RecordCase records the verdict of one graded test case.
func (m *Metrics) RecordCase(passed bool) {
	verdict := "failed"
	if passed {
		verdict = "passed"
	}
	m.CasesTotal.WithLabelValues(verdict).Inc()
}

// RecordGradingError records a grading routine failure by its stable code.
func (m *Metrics) RecordGradingError(code string) {
	m.GradingErrors.WithLabelValues(code).Inc()
}

// RecordSecurityEvent records a detection.
func (m *Metrics) RecordSecurityEvent(eventType string) {
	m.SecurityEvents.WithLabelValues(eventType).Inc()
}
