package mqtt311

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manual clock for deterministic engine tests. Timers
// compare against the clock's current offset, which only moves when the
// test (or the idle transport) advances it.
type fakeClock struct {
	now time.Duration
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	return &fakeTimer{clock: c, deadline: c.now + d}
}

func (c *fakeClock) advance(d time.Duration) {
	c.now += d
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Duration
}

func (t *fakeTimer) Expired() bool {
	return t.clock.now >= t.deadline
}

func (t *fakeTimer) Remaining() time.Duration {
	if left := t.deadline - t.clock.now; left > 0 {
		return left
	}
	return 0
}

func (t *fakeTimer) Countdown(d time.Duration) {
	t.deadline = t.clock.now + d
}

// scriptTransport is an in-memory transport. Packets injected into `in`
// are read by the engine; everything the engine writes lands in `out`.
// An empty read advances the fake clock, standing in for the time a
// blocking read would consume.
type scriptTransport struct {
	clock    *fakeClock
	in       bytes.Buffer
	out      bytes.Buffer
	idleStep time.Duration
	readErr  error
	writeErr error
}

func (s *scriptTransport) Read(p []byte, _ time.Duration) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	if s.in.Len() == 0 {
		s.clock.advance(s.idleStep)
		return 0, nil
	}
	return s.in.Read(p)
}

func (s *scriptTransport) Write(p []byte, _ time.Duration) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.out.Write(p)
}

func (s *scriptTransport) inject(t *testing.T, pkt Packet) {
	t.Helper()
	_, err := WritePacket(&s.in, pkt, 0)
	require.NoError(t, err)
}

func (s *scriptTransport) injectRaw(b []byte) {
	s.in.Write(b)
}

// sentPackets drains and decodes everything the engine has written.
func (s *scriptTransport) sentPackets(t *testing.T) []Packet {
	t.Helper()
	var pkts []Packet
	for s.out.Len() > 0 {
		pkt, _, err := ReadPacket(&s.out, 0)
		require.NoError(t, err)
		pkts = append(pkts, pkt)
	}
	return pkts
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *scriptTransport, *fakeClock) {
	t.Helper()

	clock := &fakeClock{}
	transport := &scriptTransport{clock: clock, idleStep: time.Second}
	opts = append([]Option{WithClock(clock)}, opts...)

	return NewClient(transport, opts...), transport, clock
}

func mustConnect(t *testing.T, c *Client, tr *scriptTransport, opts ConnectOptions) {
	t.Helper()
	tr.inject(t, &ConnackPacket{ReturnCode: ConnectionAccepted})
	require.NoError(t, c.Connect(opts))
	tr.out.Reset()
}

func TestClientConnect(t *testing.T) {
	c, tr, _ := newTestClient(t)

	tr.inject(t, &ConnackPacket{ReturnCode: ConnectionAccepted})
	err := c.Connect(ConnectOptions{ClientID: "tester", CleanSession: true, KeepAlive: 60})
	require.NoError(t, err)
	assert.True(t, c.IsConnected())

	sent := tr.sentPackets(t)
	require.Len(t, sent, 1)

	connect, ok := sent[0].(*ConnectPacket)
	require.True(t, ok)
	assert.Equal(t, "tester", connect.ClientID)
	assert.True(t, connect.CleanSession)
	assert.Equal(t, uint16(60), connect.KeepAlive)
}

func TestClientConnectGeneratesClientID(t *testing.T) {
	c, tr, _ := newTestClient(t)

	tr.inject(t, &ConnackPacket{ReturnCode: ConnectionAccepted})
	require.NoError(t, c.Connect(DefaultConnectOptions()))

	sent := tr.sentPackets(t)
	connect := sent[0].(*ConnectPacket)
	assert.NotEmpty(t, connect.ClientID)
}

func TestClientConnectAlreadyConnected(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, DefaultConnectOptions())

	err := c.Connect(DefaultConnectOptions())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestClientConnectRefused(t *testing.T) {
	c, tr, _ := newTestClient(t)

	tr.inject(t, &ConnackPacket{ReturnCode: ConnRefusedNotAuthorized})
	err := c.Connect(DefaultConnectOptions())

	assert.ErrorIs(t, err, ErrConnectionRefused)

	var connack *ConnackError
	require.ErrorAs(t, err, &connack)
	assert.Equal(t, ConnRefusedNotAuthorized, connack.Code)
	assert.False(t, c.IsConnected())
}

func TestClientConnectTimeout(t *testing.T) {
	c, _, _ := newTestClient(t, WithCommandTimeout(5*time.Second))

	err := c.Connect(DefaultConnectOptions())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, c.IsConnected())
}

func TestClientPublishQoS0CleanSession(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{CleanSession: true, KeepAlive: 60})

	require.NoError(t, c.Publish("a/b", []byte("hi"), 0, false))
	assert.False(t, c.inflight.active)

	sent := tr.sentPackets(t)
	require.Len(t, sent, 1)

	pub := sent[0].(*PublishPacket)
	assert.Equal(t, "a/b", pub.Topic)
	assert.Equal(t, []byte("hi"), pub.Payload)
	assert.Equal(t, byte(0), pub.QoS)
	assert.Zero(t, pub.ID)
}

func TestClientPublishQoS1(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.inject(t, &PubackPacket{ID: 1})

	id, err := c.PublishWithID("x", []byte("y"), 1, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
	assert.False(t, c.inflight.active)

	sent := tr.sentPackets(t)
	require.Len(t, sent, 1)
	assert.Equal(t, uint16(1), sent[0].(*PublishPacket).ID)
}

func TestClientPublishQoS1WrongAckID(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.inject(t, &PubackPacket{ID: 99})

	err := c.Publish("x", []byte("y"), 1, false)
	assert.ErrorIs(t, err, ErrUnexpectedPacketID)
	assert.False(t, c.IsConnected())
}

func TestClientPublishQoS2(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.inject(t, &PubrecPacket{ID: 1})
	tr.inject(t, &PubcompPacket{ID: 1})

	require.NoError(t, c.Publish("x/y", []byte("v"), 2, false))
	assert.False(t, c.inflight.active)

	sent := tr.sentPackets(t)
	require.Len(t, sent, 2)
	assert.Equal(t, PacketPUBLISH, sent[0].Type())
	assert.Equal(t, PacketPUBREL, sent[1].Type())
	assert.Equal(t, uint16(1), sent[1].(*PubrelPacket).ID)
}

func TestClientPublishNotConnected(t *testing.T) {
	c, _, _ := newTestClient(t)
	assert.ErrorIs(t, c.Publish("a", nil, 0, false), ErrNotConnected)
}

func TestClientPublishInvalidTopic(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, DefaultConnectOptions())

	assert.ErrorIs(t, c.Publish("a/#", nil, 0, false), ErrInvalidTopicName)
	assert.ErrorIs(t, c.Publish("a", nil, 3, false), ErrInvalidQoS)
}

func TestClientPublishTooLarge(t *testing.T) {
	c, tr, _ := newTestClient(t, WithMaxPacketSize(20))
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", CleanSession: true})

	err := c.Publish("topic", bytes.Repeat([]byte("x"), 50), 0, false)
	assert.ErrorIs(t, err, ErrBufferOverflow)
}

// A QoS 1 publish interrupted before its PUBACK is replayed with DUP
// set and the original packet identifier on the next connect with a
// persistent session.
func TestClientQoS1RetryAfterReconnect(t *testing.T) {
	c, tr, _ := newTestClient(t, WithCommandTimeout(5*time.Second))
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", CleanSession: false, KeepAlive: 60})

	// No PUBACK arrives; the command timer expires.
	err := c.Publish("x", []byte("y"), 1, false)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, c.IsConnected())
	assert.True(t, c.inflight.active)

	tr.out.Reset()
	tr.inject(t, &ConnackPacket{ReturnCode: ConnectionAccepted})
	tr.inject(t, &PubackPacket{ID: 1})

	require.NoError(t, c.Connect(ConnectOptions{ClientID: "c", CleanSession: false, KeepAlive: 60}))
	assert.False(t, c.inflight.active)

	sent := tr.sentPackets(t)
	require.Len(t, sent, 2)
	assert.Equal(t, PacketCONNECT, sent[0].Type())

	replayed := sent[1].(*PublishPacket)
	assert.True(t, replayed.DUP)
	assert.Equal(t, uint16(1), replayed.ID)
	assert.Equal(t, "x", replayed.Topic)
	assert.Equal(t, []byte("y"), replayed.Payload)
}

// A QoS 2 publish interrupted after PUBREC is resumed from the release
// phase: the next connect replays the PUBREL, not the PUBLISH.
func TestClientQoS2PubrelReplayAfterReconnect(t *testing.T) {
	c, tr, _ := newTestClient(t, WithCommandTimeout(5*time.Second))
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", CleanSession: false, KeepAlive: 60})

	tr.inject(t, &PubrecPacket{ID: 1})

	err := c.Publish("x", []byte("y"), 2, false)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, c.inflight.active)
	assert.True(t, c.inflight.pubrel)

	tr.out.Reset()
	tr.inject(t, &ConnackPacket{ReturnCode: ConnectionAccepted})
	tr.inject(t, &PubcompPacket{ID: 1})

	require.NoError(t, c.Connect(ConnectOptions{ClientID: "c", CleanSession: false, KeepAlive: 60}))
	assert.False(t, c.inflight.active)

	sent := tr.sentPackets(t)
	require.Len(t, sent, 2)
	assert.Equal(t, PacketCONNECT, sent[0].Type())
	assert.Equal(t, PacketPUBREL, sent[1].Type())
	assert.Equal(t, uint16(1), sent[1].(*PubrelPacket).ID)
}

func TestClientConnectCleanSessionDropsInflight(t *testing.T) {
	c, tr, _ := newTestClient(t, WithCommandTimeout(5*time.Second))
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", CleanSession: false, KeepAlive: 60})

	err := c.Publish("x", []byte("y"), 1, false)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, c.inflight.active)

	tr.out.Reset()
	tr.inject(t, &ConnackPacket{ReturnCode: ConnectionAccepted})
	require.NoError(t, c.Connect(ConnectOptions{ClientID: "c", CleanSession: true, KeepAlive: 60}))

	assert.False(t, c.inflight.active)
	sent := tr.sentPackets(t)
	require.Len(t, sent, 1)
	assert.Equal(t, PacketCONNECT, sent[0].Type())
}

func TestClientSubscribeAndWildcardDispatch(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.inject(t, &SubackPacket{ID: 1, ReturnCodes: []byte{0}})

	var payloads []string
	require.NoError(t, c.Subscribe("home/+/temp", 0, func(msg *Message) {
		payloads = append(payloads, string(msg.Payload))
	}))

	sent := tr.sentPackets(t)
	require.Len(t, sent, 1)
	sub := sent[0].(*SubscribePacket)
	assert.Equal(t, "home/+/temp", sub.Subscriptions[0].TopicFilter)

	tr.inject(t, &PublishPacket{Topic: "home/kitchen/temp", Payload: []byte("21")})
	require.NoError(t, c.Yield(2*time.Second))

	assert.Equal(t, []string{"21"}, payloads)
}

func TestClientSubscribeRejected(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.inject(t, &SubackPacket{ID: 1, ReturnCodes: []byte{SubackFailure}})

	err := c.Subscribe("a/b", 1, func(*Message) {})
	assert.ErrorIs(t, err, ErrSubscriptionRejected)
	assert.True(t, c.IsConnected())

	// Handler was not installed
	tr.inject(t, &PublishPacket{Topic: "a/b", Payload: []byte("x")})
	delivered := false
	c.SetDefaultHandler(func(*Message) { delivered = true })
	require.NoError(t, c.Yield(time.Second))
	assert.True(t, delivered)
}

func TestClientSubscribeHandlerTableFull(t *testing.T) {
	c, tr, _ := newTestClient(t, WithMaxHandlers(1))
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.inject(t, &SubackPacket{ID: 1, ReturnCodes: []byte{0}})
	require.NoError(t, c.Subscribe("a", 0, func(*Message) {}))

	tr.inject(t, &SubackPacket{ID: 2, ReturnCodes: []byte{0}})
	err := c.Subscribe("b", 0, func(*Message) {})
	assert.ErrorIs(t, err, ErrHandlerTableFull)
}

func TestClientUnsubscribe(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	fired := 0
	tr.inject(t, &SubackPacket{ID: 1, ReturnCodes: []byte{0}})
	require.NoError(t, c.Subscribe("a/b", 0, func(*Message) { fired++ }))

	tr.inject(t, &UnsubackPacket{ID: 2})
	require.NoError(t, c.Unsubscribe("a/b"))

	sent := tr.sentPackets(t)
	require.Len(t, sent, 2)
	unsub := sent[1].(*UnsubscribePacket)
	assert.Equal(t, []string{"a/b"}, unsub.TopicFilters)

	tr.inject(t, &PublishPacket{Topic: "a/b", Payload: []byte("x")})
	require.NoError(t, c.Yield(time.Second))
	assert.Zero(t, fired)
}

func TestClientInboundQoS1SendsPuback(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	fired := 0
	tr.inject(t, &SubackPacket{ID: 1, ReturnCodes: []byte{1}})
	require.NoError(t, c.Subscribe("a", 1, func(*Message) { fired++ }))
	tr.out.Reset()

	tr.inject(t, &PublishPacket{Topic: "a", Payload: []byte("v"), QoS: 1, ID: 9})
	require.NoError(t, c.Yield(time.Second))

	assert.Equal(t, 1, fired)

	sent := tr.sentPackets(t)
	require.Len(t, sent, 1)
	assert.Equal(t, PacketPUBACK, sent[0].Type())
	assert.Equal(t, uint16(9), sent[0].(*PubackPacket).ID)
}

// An inbound QoS 2 message redelivered before the PUBREL is
// acknowledged again but dispatched only once.
func TestClientInboundQoS2Deduplication(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	fired := 0
	tr.inject(t, &SubackPacket{ID: 1, ReturnCodes: []byte{2}})
	require.NoError(t, c.Subscribe("a", 2, func(*Message) { fired++ }))
	tr.out.Reset()

	tr.inject(t, &PublishPacket{Topic: "a", Payload: []byte("v1"), QoS: 2, ID: 42})
	tr.inject(t, &PublishPacket{Topic: "a", Payload: []byte("v1"), QoS: 2, ID: 42, DUP: true})
	require.NoError(t, c.Yield(time.Second))

	assert.Equal(t, 1, fired)

	sent := tr.sentPackets(t)
	require.Len(t, sent, 2)
	assert.Equal(t, PacketPUBREC, sent[0].Type())
	assert.Equal(t, PacketPUBREC, sent[1].Type())

	// PUBREL completes the exchange and frees the identifier
	tr.inject(t, &PubrelPacket{ID: 42})
	require.NoError(t, c.Yield(time.Second))

	sent = tr.sentPackets(t)
	require.Len(t, sent, 1)
	assert.Equal(t, PacketPUBCOMP, sent[0].Type())
	assert.Zero(t, c.qos2In.len())
}

// An idle connection sends exactly one PINGREQ per keep alive interval,
// cleared by the PINGRESP.
func TestClientKeepalive(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 5})

	require.NoError(t, c.Yield(7*time.Second))

	sent := tr.sentPackets(t)
	require.Len(t, sent, 1)
	assert.Equal(t, PacketPINGREQ, sent[0].Type())
	assert.True(t, c.pingOutstanding)

	tr.inject(t, &PingrespPacket{})
	require.NoError(t, c.Yield(2*time.Second))
	assert.False(t, c.pingOutstanding)

	// No second ping while one is outstanding or the interval is fresh
	assert.Empty(t, tr.sentPackets(t))
}

func TestClientKeepaliveDisabled(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 0})

	require.NoError(t, c.Yield(10*time.Second))
	assert.Empty(t, tr.sentPackets(t))
}

// An inbound packet larger than the receive buffer fails the cycle and
// marks the client disconnected.
func TestClientInboundBufferOverflow(t *testing.T) {
	c, tr, _ := newTestClient(t, WithMaxPacketSize(20))
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", CleanSession: true})

	// PUBLISH fixed header announcing a 100-byte body
	tr.injectRaw([]byte{0x30, 100})

	err := c.Yield(time.Second)
	assert.ErrorIs(t, err, ErrBufferOverflow)
	assert.False(t, c.IsConnected())
}

func TestClientTransportErrorDuringYield(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.readErr = io.ErrClosedPipe
	err := c.Yield(time.Second)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
	assert.False(t, c.IsConnected())
}

func TestClientDisconnect(t *testing.T) {
	c, tr, _ := newTestClient(t)
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.inject(t, &SubackPacket{ID: 1, ReturnCodes: []byte{0}})
	require.NoError(t, c.Subscribe("a", 0, func(*Message) {}))
	tr.out.Reset()

	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())

	sent := tr.sentPackets(t)
	require.Len(t, sent, 1)
	assert.Equal(t, PacketDISCONNECT, sent[0].Type())

	// Handlers are gone and further operations are rejected
	assert.False(t, c.handlers.dispatch(&Message{Topic: "a"}, nil))
	assert.ErrorIs(t, c.Publish("a", nil, 0, false), ErrNotConnected)
	assert.ErrorIs(t, c.Yield(time.Second), ErrNotConnected)
}

func TestClientDefaultHandler(t *testing.T) {
	var got *Message
	c, tr, _ := newTestClient(t, WithDefaultHandler(func(msg *Message) { got = msg }))
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	tr.inject(t, &PublishPacket{Topic: "stray/topic", Payload: []byte("m")})
	require.NoError(t, c.Yield(time.Second))

	require.NotNil(t, got)
	assert.Equal(t, "stray/topic", got.Topic)
	assert.Equal(t, []byte("m"), got.Payload)
}

func TestClientMetrics(t *testing.T) {
	metrics := NewMemoryMetrics()
	c, tr, _ := newTestClient(t, WithMetrics(metrics))
	mustConnect(t, c, tr, ConnectOptions{ClientID: "c", KeepAlive: 60})

	assert.Equal(t, 1.0, metrics.GaugeValue(MetricConnected, nil))
	assert.Equal(t, 1.0, metrics.CounterValue(MetricPacketsSent, nil))
	assert.Equal(t, 1.0, metrics.CounterValue(MetricPacketsReceived, nil))

	require.NoError(t, c.Publish("a", []byte("x"), 0, false))
	assert.Equal(t, 2.0, metrics.CounterValue(MetricPacketsSent, nil))
	assert.Positive(t, metrics.CounterValue(MetricBytesSent, nil))

	require.NoError(t, c.Disconnect())
	assert.Equal(t, 0.0, metrics.GaugeValue(MetricConnected, nil))
}
