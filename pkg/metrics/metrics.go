// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConfigMutationsTotal tracks movement configuration changes by operation and result
	ConfigMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "movement",
			Name:      "mutations_total",
			Help:      "Total number of movement configuration mutations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// ReportsGeneratedTotal tracks workflow reports served
	ReportsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "report",
			Name:      "generated_total",
			Help:      "Total number of workflow reports generated by result",
		},
		[]string{"result"},
	)

	// ReportDuration tracks how long report generation takes
	ReportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "report",
			Name:      "duration_seconds",
			Help:      "Duration of workflow report generation in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// AlertingFiles tracks, per report, the number of monitored files without rules
	AlertingFiles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "report",
			Name:      "alerting_files",
			Help:      "Number of alerting files found per generated report",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	// LockWaitDuration tracks time spent waiting for a movement lock
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire a movement lock in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend"},
	)

	// LockTimeoutsTotal tracks lock acquisitions that gave up
	LockTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "lock",
			Name:      "timeouts_total",
			Help:      "Total number of movement lock acquisitions that timed out",
		},
		[]string{"backend"},
	)

	// EventsPublishedTotal tracks audit events by result
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of audit events published by result",
		},
		[]string{"type", "result"},
	)
)

// RecordMutation records a movement mutation outcome
func RecordMutation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ConfigMutationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordReport records a generated report and how many of its files were alerting
func RecordReport(duration time.Duration, alerting int, err error) {
	if err != nil {
		ReportsGeneratedTotal.WithLabelValues("error").Inc()
		return
	}
	ReportsGeneratedTotal.WithLabelValues("success").Inc()
	ReportDuration.Observe(duration.Seconds())
	AlertingFiles.Observe(float64(alerting))
}

// RecordLockWait records how long a movement lock took to acquire
func RecordLockWait(backend string, waited time.Duration, err error) {
	if err != nil {
		LockTimeoutsTotal.WithLabelValues(backend).Inc()
		return
	}
	LockWaitDuration.WithLabelValues(backend).Observe(waited.Seconds())
}

// RecordEvent records an audit event publish outcome
func RecordEvent(eventType string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	EventsPublishedTotal.WithLabelValues(eventType, result).Inc()
}
