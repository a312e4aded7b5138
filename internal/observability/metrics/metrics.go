package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fixedrate_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	billTotal   *prometheus.CounterVec
	billLatency *prometheus.HistogramVec
	droppedRows prometheus.Counter

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	checkJobsTotal  *prometheus.CounterVec
	checkJobLatency *prometheus.HistogramVec
)

// Init registers the service metrics with the default registry. Observe
// helpers are no-ops until Init has run.
func Init() {
	registerOnce.Do(func() {
		billTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_calculations_total",
				Help: "Total bill calculations by result",
			},
			[]string{"result"},
		)
		billLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_calculation_latency_seconds",
				Help:    "Bill calculation latency in seconds, including usage parsing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		droppedRows = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "usage_rows_dropped_total",
				Help: "Total usage rows dropped because the reading was not numeric",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		checkJobsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "check_jobs_total",
				Help: "Total check jobs by kind and status",
			},
			[]string{"kind", "status"},
		)
		checkJobLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "check_job_duration_seconds",
				Help:    "Check job duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind", "status"},
		)

		prometheus.MustRegister(
			billTotal,
			billLatency,
			droppedRows,
			exportTotal,
			exportLatency,
			checkJobsTotal,
			checkJobLatency,
		)
	})
}

// ObserveBill records a bill calculation and its latency.
func ObserveBill(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if billTotal != nil {
		billTotal.WithLabelValues(result).Inc()
	}
	if billLatency != nil {
		billLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddDroppedRows counts rows removed while cleaning usage data.
func AddDroppedRows(count int) {
	if count <= 0 {
		return
	}
	if droppedRows != nil {
		droppedRows.Add(float64(count))
	}
}

// ObserveStatementExport records export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncCheckJob counts a check job transition.
func IncCheckJob(kind, status string) {
	if kind == "" {
		kind = "unknown"
	}
	if checkJobsTotal != nil {
		checkJobsTotal.WithLabelValues(kind, status).Inc()
	}
}

// ObserveCheckJob records the duration of a finished check job.
func ObserveCheckJob(kind, status string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if checkJobLatency != nil {
		checkJobLatency.WithLabelValues(kind, status).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
