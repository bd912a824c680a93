package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ProviderAttempt(0)
	m.ProviderAttempt(429)
	m.ProviderAttempt(429)
	m.Generation("paragraph", "success", 1.5)
	m.ItemCompleted("Product")
	m.DuplicateCompletion()
	m.ItemFailed("generation")
	m.LoopStarted()
	m.LoopStarted()
	m.LoopStopped()
	m.SetRemaining(7, 12)
	m.ErrorLogged("ERROR", "automation")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerAttempts.WithLabelValues("transport_error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.providerAttempts.WithLabelValues("429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("paragraph", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.itemsCompleted.WithLabelValues("Product")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runningLoops))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.remainingItems.WithLabelValues("7")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.generationDuration))

	m.ForgetWorkflow(7)
	assert.Equal(t, 0, testutil.CollectAndCount(m.remainingItems))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ProviderAttempt(500)
		m.Generation("paragraph", "failed", 0)
		m.ItemCompleted("Page")
		m.DuplicateCompletion()
		m.ItemFailed("persistence")
		m.LoopStarted()
		m.LoopStopped()
		m.SetRemaining(1, 1)
		m.ForgetWorkflow(1)
		m.ErrorLogged("WARN", "completion")
	})
}
