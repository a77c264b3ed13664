package mqtt311

import (
	"time"

	"github.com/rs/xid"
)

// Default client limits. MaxPacketSize bounds both the send and receive
// buffers; the memory footprint of a client is fixed at construction.
const (
	DefaultMaxPacketSize  = 100
	DefaultMaxHandlers    = 5
	DefaultMaxInboundQoS2 = 10
	DefaultCommandTimeout = 30 * time.Second
	DefaultKeepAlive      = 60
)

// clientOptions holds construction-time configuration for a Client.
type clientOptions struct {
	commandTimeout time.Duration
	maxPacketSize  int
	maxHandlers    int
	maxInboundQoS2 int
	clock          Clock
	logger         Logger
	metrics        Metrics
	defaultHandler MessageHandler
}

// defaultClientOptions returns options with sensible defaults.
func defaultClientOptions() *clientOptions {
	return &clientOptions{
		commandTimeout: DefaultCommandTimeout,
		maxPacketSize:  DefaultMaxPacketSize,
		maxHandlers:    DefaultMaxHandlers,
		maxInboundQoS2: DefaultMaxInboundQoS2,
		clock:          SystemClock{},
		logger:         NewNoOpLogger(),
		metrics:        NopMetrics{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithCommandTimeout sets the upper bound for any single operation.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.commandTimeout = d
		}
	}
}

// WithMaxPacketSize sets the fixed capacity of the send and receive
// buffers. Inbound packets larger than this fail with ErrBufferOverflow.
func WithMaxPacketSize(size int) Option {
	return func(o *clientOptions) {
		if size > 0 {
			o.maxPacketSize = size
		}
	}
}

// WithMaxHandlers sets the fixed capacity of the handler table.
func WithMaxHandlers(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxHandlers = n
		}
	}
}

// WithMaxInboundQoS2 sets the fixed capacity of the inbound QoS 2
// deduplication set.
func WithMaxInboundQoS2(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxInboundQoS2 = n
		}
	}
}

// WithClock substitutes the clock used for countdown timers.
func WithClock(c Clock) Option {
	return func(o *clientOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithDefaultHandler sets the handler invoked for messages that match
// no subscription.
func WithDefaultHandler(h MessageHandler) Option {
	return func(o *clientOptions) {
		o.defaultHandler = h
	}
}

// ConnectOptions carries the per-connection parameters of the CONNECT
// exchange. The zero value connects with MQTT v3.1.1, a persistent
// session (CleanSession false), a generated client ID, and keepalive
// disabled; DefaultConnectOptions requests a clean session with the
// default keep alive.
type ConnectOptions struct {
	// ClientID is the client identifier. Empty generates one.
	ClientID string

	// CleanSession requests a clean session. When false, the client
	// preserves its in-flight outbound message across an in-process
	// reconnect and replays it after CONNACK.
	CleanSession bool

	// KeepAlive is the keep alive interval in seconds. Zero disables
	// keepalive.
	KeepAlive uint16

	// Username and Password are optional credentials.
	Username string
	Password []byte

	// Will message configuration (optional group).
	WillTopic    string
	WillMessage  []byte
	WillQoS      byte
	WillRetained bool

	// MQTTVersion selects the protocol revision: 4 for v3.1.1
	// (default), 3 for the older v3.1.
	MQTTVersion byte
}

// DefaultConnectOptions returns options for a clean v3.1.1 session with
// the default keep alive and a generated client ID.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		CleanSession: true,
		KeepAlive:    DefaultKeepAlive,
	}
}

// packet builds the CONNECT packet for these options, generating a
// client ID if needed.
func (o *ConnectOptions) packet() *ConnectPacket {
	clientID := o.ClientID
	if clientID == "" {
		clientID = xid.New().String()
	}

	pkt := &ConnectPacket{
		ProtocolLevel: o.MQTTVersion,
		ClientID:      clientID,
		CleanSession:  o.CleanSession,
		KeepAlive:     o.KeepAlive,
		Username:      o.Username,
		Password:      o.Password,
	}

	if o.WillTopic != "" {
		pkt.WillFlag = true
		pkt.WillTopic = o.WillTopic
		pkt.WillPayload = o.WillMessage
		pkt.WillQoS = o.WillQoS
		pkt.WillRetain = o.WillRetained
	}

	return pkt
}
