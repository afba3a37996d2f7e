package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics tracks borrow/return attempts and inventory health.
type LendingMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	drift      prometheus.Gauge
	driftSeen  *prometheus.CounterVec
}

// NewLendingMetrics registers the lending metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLendingMetrics(reg prometheus.Registerer) *LendingMetrics {
	if reg == nil {
		return &LendingMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_operations_total",
		Help: "Borrow and return attempts by outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_operation_duration_seconds",
		Help:    "Latency of borrow and return operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lending_inventory_drift_books",
		Help: "Books whose available amount disagrees with total copies minus open borrows at the last audit.",
	})
	driftSeen := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_inventory_drift_detected_total",
		Help: "Lending operations that found a book's amount out of step with its open borrows.",
	}, []string{"operation"})
	reg.MustRegister(operations, duration, drift, driftSeen)
	return &LendingMetrics{
		operations: operations,
		duration:   duration,
		drift:      drift,
		driftSeen:  driftSeen,
	}
}

// ObserveOperation records one lending attempt.
func (m *LendingMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	op := normalizeLabel(operation)
	m.operations.WithLabelValues(op, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetInventoryDrift publishes the drifted book count from the latest audit.
func (m *LendingMetrics) SetInventoryDrift(books int) {
	if m == nil || m.drift == nil {
		return
	}
	m.drift.Set(float64(books))
}

// RecordDriftDetected counts a drift noticed in-line by a lending operation,
// ahead of the next audit.
func (m *LendingMetrics) RecordDriftDetected(operation string) {
	if m == nil || m.driftSeen == nil {
		return
	}
	m.driftSeen.WithLabelValues(normalizeLabel(operation)).Inc()
}
