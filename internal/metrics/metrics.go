// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package metrics exposes the Prometheus gauges, counters, and histograms
// named in §6.2, using the promauto package-level-metric-plus-Record-helper
// pattern. Grounded on the shape kubernaut's pkg/metrics tests expect
// (metrics_test.go exercises WithLabelValues counters/histograms via
// promauto and prometheus/client_golang/prometheus/testutil); that
// package's own metrics.go was absent from the retrieval pack, so this
// file is an original implementation of the pattern its tests imply.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scans_total",
		Help: "Total scans by scan_type and terminal status.",
	}, []string{"scan_type", "status"})

	ActiveScans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_scans",
		Help: "Scans currently RUNNING across all pools.",
	})

	PoolQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_queue_depth",
		Help: "Current FIFO depth per pool.",
	}, []string{"pool"})

	PoolDLQDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_dlq_depth",
		Help: "Current dead-letter queue size per pool.",
	}, []string{"pool"})

	ScannerActiveScans = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scanner_active_scans",
		Help: "Active scans per scanner instance.",
	}, []string{"instance"})

	ScannerCapacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scanner_capacity",
		Help: "Configured max_concurrent_scans per scanner instance.",
	}, []string{"instance"})

	ScannerUtilizationPct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scanner_utilization_pct",
		Help: "active_scans / max_concurrent_scans * 100 per scanner instance.",
	}, []string{"instance"})

	TaskDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Wall-clock duration from started_at to a terminal state.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	})

	ValidationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_total",
		Help: "Validator runs by pool and result.",
	}, []string{"pool", "result"})

	ValidationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_failures_total",
		Help: "Validator failures by pool and reason.",
	}, []string{"pool", "reason"})

	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Authentication failures by pool and scan_type.",
	}, []string{"pool", "scan_type"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_state",
		Help: "Circuit breaker state per instance: 0=closed, 1=open, 2=half-open.",
	}, []string{"instance"})

	TTLDeletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ttl_deletions_total",
		Help: "Task directories deleted by the housekeeping TTL sweep.",
	})
)

// RecordScanTerminal records one terminal scan outcome and its duration.
func RecordScanTerminal(scanType, status string, durationSeconds float64) {
	ScansTotal.WithLabelValues(scanType, status).Inc()
	TaskDurationSeconds.Observe(durationSeconds)
}

// RecordValidation records one validator run's outcome.
func RecordValidation(pool, result string) {
	ValidationTotal.WithLabelValues(pool, result).Inc()
}

// RecordValidationFailure records one validator failure reason.
func RecordValidationFailure(pool, reason string) {
	ValidationFailuresTotal.WithLabelValues(pool, reason).Inc()
}

// RecordAuthFailure records one authentication_status=failed outcome.
func RecordAuthFailure(pool, scanType string) {
	AuthFailuresTotal.WithLabelValues(pool, scanType).Inc()
}

// SetCircuitState sets the circuit_state gauge for instance.
func SetCircuitState(instance string, state int) {
	CircuitState.WithLabelValues(instance).Set(float64(state))
}

// SetPoolQueueDepth sets the pool_queue_depth gauge.
func SetPoolQueueDepth(pool string, depth int64) {
	PoolQueueDepth.WithLabelValues(pool).Set(float64(depth))
}

// SetPoolDLQDepth sets the pool_dlq_depth gauge.
func SetPoolDLQDepth(pool string, depth int64) {
	PoolDLQDepth.WithLabelValues(pool).Set(float64(depth))
}

// SetScannerGauges sets the per-instance active/capacity/utilization gauges.
func SetScannerGauges(instance string, active, capacity int) {
	ScannerActiveScans.WithLabelValues(instance).Set(float64(active))
	ScannerCapacity.WithLabelValues(instance).Set(float64(capacity))
	if capacity > 0 {
		ScannerUtilizationPct.WithLabelValues(instance).Set(float64(active) / float64(capacity) * 100)
	}
}

// RecordTTLDeletion increments the housekeeping TTL deletion counter.
func RecordTTLDeletion() {
	TTLDeletionsTotal.Inc()
}
