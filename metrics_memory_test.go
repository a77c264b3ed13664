package mqtt311

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryMetricsCounter(t *testing.T) {
	m := NewMemoryMetrics()

	c := m.Counter("packets", nil)
	c.Inc()
	c.Add(2.5)

	assert.Equal(t, 3.5, m.CounterValue("packets", nil))
	assert.Zero(t, m.CounterValue("absent", nil))

	// Same name returns the same counter
	m.Counter("packets", nil).Inc()
	assert.Equal(t, 4.5, m.CounterValue("packets", nil))
}

func TestMemoryMetricsGauge(t *testing.T) {
	m := NewMemoryMetrics()

	g := m.Gauge("connected", nil)
	g.Set(1)
	g.Inc()
	g.Dec()

	assert.Equal(t, 1.0, m.GaugeValue("connected", nil))
}

func TestMemoryMetricsLabels(t *testing.T) {
	m := NewMemoryMetrics()

	m.Counter("packets", MetricLabels{"dir": "in"}).Inc()
	m.Counter("packets", MetricLabels{"dir": "out"}).Add(2)

	assert.Equal(t, 1.0, m.CounterValue("packets", MetricLabels{"dir": "in"}))
	assert.Equal(t, 2.0, m.CounterValue("packets", MetricLabels{"dir": "out"}))
}

func TestNopMetrics(t *testing.T) {
	var m NopMetrics

	// Must not panic
	m.Counter("x", nil).Inc()
	m.Counter("x", nil).Add(1)
	m.Gauge("y", nil).Set(1)
	m.Gauge("y", nil).Inc()
	m.Gauge("y", nil).Dec()
}
