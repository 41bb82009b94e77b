// Package metrics exposes the service's prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so library code can take an
// optional *Metrics without nil checks at every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "certvault"

// Metrics holds the collectors for one service instance.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationSeconds  *prometheus.HistogramVec
	OrphanBlobs       *prometheus.CounterVec
	RemoveFailures    prometheus.Counter
	IntegrityFailures prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Certificate operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		OperationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_seconds",
			Help:      "Duration of certificate operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		OrphanBlobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_blobs_total",
			Help:      "Blobs left in the content store without a ledger pointer.",
		}, []string{"reason"}),
		RemoveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_remove_failures_total",
			Help:      "Best-effort content store removals that failed.",
		}),
		IntegrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failures_total",
			Help:      "Envelopes that failed authentication on download.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.OperationSeconds, m.OrphanBlobs, m.RemoveFailures, m.IntegrityFailures)
	}
	return m
}

// Orphan reasons.
const (
	OrphanLedgerFailed = "ledger-failed"
	OrphanReplaced     = "replaced"
	OrphanRemoveFailed = "remove-failed"
)

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Orphan counts one orphaned blob.
func (m *Metrics) Orphan(reason string) {
	if m == nil {
		return
	}
	m.OrphanBlobs.WithLabelValues(reason).Inc()
}

// RemoveFailed counts one failed best-effort removal.
func (m *Metrics) RemoveFailed() {
	if m == nil {
		return
	}
	m.RemoveFailures.Inc()
}

// IntegrityFailed counts one envelope that failed authentication.
func (m *Metrics) IntegrityFailed() {
	if m == nil {
		return
	}
	m.IntegrityFailures.Inc()
}
