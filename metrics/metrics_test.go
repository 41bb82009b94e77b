package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOperation("issue", "ok", 10*time.Millisecond)
	m.Orphan(OrphanReplaced)
	m.RemoveFailed()
	m.IntegrityFailed()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, n := range []string{
		"certvault_operations_total",
		"certvault_operation_seconds",
		"certvault_orphan_blobs_total",
		"certvault_store_remove_failures_total",
		"certvault_integrity_failures_total",
	} {
		assert.True(t, names[n], "missing %s", n)
	}
}

func TestCounters(t *testing.T) {
	m := New(nil)
	m.ObserveOperation("verify", "ok", time.Millisecond)
	m.ObserveOperation("verify", "ok", time.Millisecond)
	m.ObserveOperation("verify", "not-found", time.Millisecond)
	m.Orphan(OrphanLedgerFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("verify", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("verify", "not-found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrphanBlobs.WithLabelValues(OrphanLedgerFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RemoveFailures))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("issue", "ok", time.Second)
		m.Orphan(OrphanReplaced)
		m.RemoveFailed()
		m.IntegrityFailed()
	})
}
