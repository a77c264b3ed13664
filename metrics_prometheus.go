package mqtt311

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements Metrics on top of a prometheus Registerer.
// Instruments are created lazily and registered on first use.
type PrometheusMetrics struct {
	registerer prometheus.Registerer

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewPrometheusMetrics creates a Metrics implementation registering on
// the given registerer. A nil registerer uses the default registry.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		registerer: registerer,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
	}
}

// Counter returns a counter metric.
func (m *PrometheusMetrics) Counter(name string, labels MetricLabels) Counter {
	key := labelsKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[key]; ok {
		return promCounter{c}
	}

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		ConstLabels: prometheus.Labels(labels),
	})
	m.registerer.MustRegister(c)
	m.counters[key] = c

	return promCounter{c}
}

// Gauge returns a gauge metric.
func (m *PrometheusMetrics) Gauge(name string, labels MetricLabels) Gauge {
	key := labelsKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.gauges[key]; ok {
		return promGauge{g}
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		ConstLabels: prometheus.Labels(labels),
	})
	m.registerer.MustRegister(g)
	m.gauges[key] = g

	return promGauge{g}
}

type promCounter struct {
	c prometheus.Counter
}

func (p promCounter) Inc()              { p.c.Inc() }
func (p promCounter) Add(value float64) { p.c.Add(value) }

type promGauge struct {
	g prometheus.Gauge
}

func (p promGauge) Set(value float64) { p.g.Set(value) }
func (p promGauge) Inc()              { p.g.Inc() }
func (p promGauge) Dec()              { p.g.Dec() }
