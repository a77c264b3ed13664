package mqtt311

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics defines the interface for collecting metrics.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge
}

// Counter is a monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()

	// Add increments the counter by the given value.
	Add(value float64)
}

// Gauge is a value that can go up and down.
type Gauge interface {
	// Set sets the gauge to the given value.
	Set(value float64)

	// Inc increments the gauge by 1.
	Inc()

	// Dec decrements the gauge by 1.
	Dec()
}

// NopMetrics is a Metrics implementation that discards everything.
type NopMetrics struct{}

// Counter returns a no-op counter.
func (NopMetrics) Counter(_ string, _ MetricLabels) Counter { return nopMetric{} }

// Gauge returns a no-op gauge.
func (NopMetrics) Gauge(_ string, _ MetricLabels) Gauge { return nopMetric{} }

type nopMetric struct{}

func (nopMetric) Inc()        {}
func (nopMetric) Dec()        {}
func (nopMetric) Add(float64) {}
func (nopMetric) Set(float64) {}

// Metric names recorded by the client.
const (
	MetricPacketsSent     = "mqtt_client_packets_sent_total"
	MetricPacketsReceived = "mqtt_client_packets_received_total"
	MetricBytesSent       = "mqtt_client_bytes_sent_total"
	MetricBytesReceived   = "mqtt_client_bytes_received_total"
	MetricPingsSent       = "mqtt_client_pings_sent_total"
	MetricRetransmissions = "mqtt_client_retransmissions_total"
	MetricMessagesDropped = "mqtt_client_messages_dropped_total"
	MetricConnected       = "mqtt_client_connected"
)

// clientStats binds the client's instruments to a Metrics implementation.
type clientStats struct {
	packetsSent     Counter
	packetsReceived Counter
	bytesSent       Counter
	bytesReceived   Counter
	pingsSent       Counter
	retransmissions Counter
	messagesDropped Counter
	connected       Gauge
}

func newClientStats(m Metrics) clientStats {
	return clientStats{
		packetsSent:     m.Counter(MetricPacketsSent, nil),
		packetsReceived: m.Counter(MetricPacketsReceived, nil),
		bytesSent:       m.Counter(MetricBytesSent, nil),
		bytesReceived:   m.Counter(MetricBytesReceived, nil),
		pingsSent:       m.Counter(MetricPingsSent, nil),
		retransmissions: m.Counter(MetricRetransmissions, nil),
		messagesDropped: m.Counter(MetricMessagesDropped, nil),
		connected:       m.Gauge(MetricConnected, nil),
	}
}
