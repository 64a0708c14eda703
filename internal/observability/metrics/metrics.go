package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "allocation_"

	resultSuccess = "success"
	resultError   = "error"

	triggerManual   = "manual"
	triggerSchedule = "schedule"
)

var (
	registerOnce sync.Once

	runTotal   *prometheus.CounterVec
	runLatency *prometheus.HistogramVec

	warningsTotal *prometheus.CounterVec

	overrideTotal *prometheus.CounterVec
	overrideCells prometheus.Counter

	payloadFailures *prometheus.CounterVec

	violationsTotal *prometheus.CounterVec

	reportTotal   *prometheus.CounterVec
	reportLatency *prometheus.HistogramVec
)

// Init registers allocation metrics and DB-backed gauges.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		runTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total allocation calculation runs by trigger and result",
			},
			[]string{"trigger", "result"},
		)
		runLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "run_latency_seconds",
				Help:    "Allocation calculation latency in seconds, fetch and persistence included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger", "result"},
		)

		warningsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "warnings_total",
				Help: "Total calculation warnings by code",
			},
			[]string{"code"},
		)

		overrideTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "override_requests_total",
				Help: "Total manual override requests by result",
			},
			[]string{"result"},
		)
		overrideCells = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "override_cells_total",
				Help: "Total overridden allocation cells",
			},
		)

		payloadFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payload_failures_total",
				Help: "Total payload build failures by reason",
			},
			[]string{"reason"},
		)

		violationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "validation_violations_total",
				Help: "Total re-validation findings by severity",
			},
			[]string{"severity"},
		)

		reportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_requests_total",
				Help: "Total report projections by report and result",
			},
			[]string{"report", "result"},
		)
		reportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_latency_seconds",
				Help:    "Report projection latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"report", "result"},
		)

		prometheus.MustRegister(
			runTotal,
			runLatency,
			warningsTotal,
			overrideTotal,
			overrideCells,
			payloadFailures,
			violationsTotal,
			reportTotal,
			reportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveRun records a calculation run.
func ObserveRun(trigger, result string, duration time.Duration) {
	if trigger == "" {
		trigger = triggerManual
	}
	if result == "" {
		result = resultSuccess
	}
	if runTotal != nil {
		runTotal.WithLabelValues(trigger, result).Inc()
	}
	if runLatency != nil {
		runLatency.WithLabelValues(trigger, result).Observe(duration.Seconds())
	}
}

// IncWarning increments the warning counter for code.
func IncWarning(code string) {
	if code == "" {
		code = "unknown"
	}
	if warningsTotal != nil {
		warningsTotal.WithLabelValues(code).Inc()
	}
}

// ObserveOverride records an override request and the number of cells it touched.
func ObserveOverride(result string, cells int) {
	if result == "" {
		result = resultSuccess
	}
	if overrideTotal != nil {
		overrideTotal.WithLabelValues(result).Inc()
	}
	if cells > 0 && overrideCells != nil {
		overrideCells.Add(float64(cells))
	}
}

// IncPayloadFailure increments payload failures by reason.
func IncPayloadFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if payloadFailures != nil {
		payloadFailures.WithLabelValues(reason).Inc()
	}
}

// AddViolations counts re-validation findings.
func AddViolations(severity string, count int) {
	if count <= 0 {
		return
	}
	if severity == "" {
		severity = "unknown"
	}
	if violationsTotal != nil {
		violationsTotal.WithLabelValues(severity).Add(float64(count))
	}
}

// ObserveReport records a report projection.
func ObserveReport(report, result string, duration time.Duration) {
	if report == "" {
		report = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportTotal != nil {
		reportTotal.WithLabelValues(report, result).Inc()
	}
	if reportLatency != nil {
		reportLatency.WithLabelValues(report, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	TriggerManual   = triggerManual
	TriggerSchedule = triggerSchedule
)
