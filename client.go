package mqtt311

import (
	"errors"
	"fmt"
	"time"
)

// errNoPacket reports that the read timer expired before the first byte
// of a packet arrived. It never escapes the engine.
var errNoPacket = errors.New("no packet")

// Client is a blocking, single-threaded MQTT v3.1.1 client engine.
//
// The client owns a fixed send buffer and a fixed receive buffer, both
// sized at construction. All operations run to
// completion on the caller's stack under a single command timer; at
// most one operation may be in progress per client. Message handlers
// are invoked on the engine's own call stack during Yield or while an
// operation waits for its acknowledgment, and must not call back into
// the client.
//
// The engine is parameterized over a Transport (timed byte reads and
// writes) and a Clock (countdown timers); it never dials, closes, or
// reconnects the transport itself.
type Client struct {
	transport Transport
	clock     Clock
	logger    Logger
	stats     clientStats

	commandTimeout time.Duration

	sendBuf []byte
	recvBuf []byte

	keepAlive       time.Duration
	cleanSession    bool
	connected       bool
	pingOutstanding bool

	lastSent     Timer
	lastReceived Timer

	packetIDs      packetIDCounter
	handlers       *handlerTable
	defaultHandler MessageHandler

	inflight *inflightSlot
	qos2In   *qos2InboundSet

	// incoming is the last packet decoded by cycle, left for waitFor.
	incoming Packet
}

// NewClient creates a client over the given transport. The transport
// must already be connected to the server before Connect is called.
func NewClient(transport Transport, opts ...Option) *Client {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		transport:      transport,
		clock:          o.clock,
		logger:         o.logger,
		stats:          newClientStats(o.metrics),
		commandTimeout: o.commandTimeout,
		sendBuf:        make([]byte, o.maxPacketSize),
		recvBuf:        make([]byte, o.maxPacketSize),
		handlers:       newHandlerTable(o.maxHandlers),
		defaultHandler: o.defaultHandler,
		inflight:       newInflightSlot(o.maxPacketSize),
		qos2In:         newQoS2InboundSet(o.maxInboundQoS2),
	}

	c.lastSent = c.clock.NewTimer(0)
	c.lastReceived = c.clock.NewTimer(0)

	return c
}

// IsConnected reports whether a CONNECT exchange has completed and no
// failure or disconnect has occurred since.
func (c *Client) IsConnected() bool {
	return c.connected
}

// SetDefaultHandler sets the handler invoked for messages that match no
// subscription.
func (c *Client) SetDefaultHandler(h MessageHandler) {
	c.defaultHandler = h
}

// Connect sends a CONNECT packet and waits for the CONNACK. A non-zero
// connect return code is surfaced as a ConnackError. When this connect
// requests a persistent session (CleanSession false) and an outbound
// publish is still in flight, the exchange is resumed after CONNACK: the
// PUBLISH is replayed with DUP set, or the PUBREL is replayed if the
// exchange had already reached the release phase. A clean-session
// connect discards the in-flight publish.
func (c *Client) Connect(opts ConnectOptions) error {
	if c.connected {
		return ErrAlreadyConnected
	}

	pkt := opts.packet()
	if err := pkt.Validate(); err != nil {
		return err
	}

	c.keepAlive = time.Duration(opts.KeepAlive) * time.Second
	c.cleanSession = opts.CleanSession
	c.pingOutstanding = false

	if c.keepAlive > 0 {
		c.lastSent.Countdown(c.keepAlive)
		c.lastReceived.Countdown(c.keepAlive)
	}

	timer := c.clock.NewTimer(c.commandTimeout)

	if _, err := c.send(pkt, timer); err != nil {
		return err
	}

	in, err := c.waitFor(PacketCONNACK, timer)
	if err != nil {
		return err
	}

	ack, ok := in.(*ConnackPacket)
	if !ok {
		return ErrProtocolViolation
	}

	if ack.ReturnCode != ConnectionAccepted {
		return &ConnackError{Code: ack.ReturnCode}
	}

	c.connected = true
	c.stats.connected.Set(1)
	c.logger.Info("connected", LogFields{
		LogFieldClientID: pkt.ClientID,
	})

	if opts.CleanSession {
		c.inflight.clear()
		return nil
	}

	if c.inflight.active {
		if err := c.replayInflight(timer); err != nil {
			c.connected = false
			c.stats.connected.Set(0)
			return err
		}
	}

	return nil
}

// ConnectDefault connects with DefaultConnectOptions.
func (c *Client) ConnectDefault() error {
	return c.Connect(DefaultConnectOptions())
}

// replayInflight resumes the stored in-flight exchange after a
// reconnect with a persistent session.
func (c *Client) replayInflight(timer Timer) error {
	if c.inflight.pubrel {
		c.logger.Info("replaying pubrel", LogFields{LogFieldPacketID: c.inflight.id})
		if err := c.sendRaw(c.inflight.bytes(), timer); err != nil {
			return err
		}
		c.stats.retransmissions.Inc()
		return c.awaitInflightAck(PacketPUBCOMP, timer)
	}

	c.inflight.markDup()
	c.logger.Info("replaying publish", LogFields{
		LogFieldPacketID: c.inflight.id,
		LogFieldQoS:      c.inflight.qos,
	})
	if err := c.sendRaw(c.inflight.bytes(), timer); err != nil {
		return err
	}
	c.stats.retransmissions.Inc()

	want := PacketPUBACK
	if c.inflight.qos == 2 {
		want = PacketPUBCOMP
	}
	return c.awaitInflightAck(want, timer)
}

// awaitInflightAck waits for the terminal acknowledgment of the
// in-flight exchange and clears the slot on a matching identifier.
func (c *Client) awaitInflightAck(want PacketType, timer Timer) error {
	in, err := c.waitFor(want, timer)
	if err != nil {
		return err
	}

	ack, ok := in.(PacketWithID)
	if !ok || ack.PacketID() != c.inflight.id {
		c.connected = false
		return ErrUnexpectedPacketID
	}

	c.inflight.clear()
	return nil
}

// Publish sends an application message. For QoS 1 the call returns once
// the matching PUBACK arrives; for QoS 2 once the exchange completes
// with PUBCOMP; for QoS 0 immediately after the packet is written.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	_, err := c.publish(topic, payload, qos, retained)
	return err
}

// PublishWithID is Publish returning the allocated packet identifier.
// The identifier is zero for QoS 0.
func (c *Client) PublishWithID(topic string, payload []byte, qos byte, retained bool) (uint16, error) {
	return c.publish(topic, payload, qos, retained)
}

func (c *Client) publish(topic string, payload []byte, qos byte, retained bool) (uint16, error) {
	if !c.connected {
		return 0, ErrNotConnected
	}

	if err := ValidateTopicName(topic); err != nil {
		return 0, err
	}

	if qos > 2 {
		return 0, ErrInvalidQoS
	}

	var id uint16
	if qos > 0 {
		id = c.packetIDs.Next()
	}

	pkt := &PublishPacket{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retained,
		ID:      id,
	}

	timer := c.clock.NewTimer(c.commandTimeout)

	n, err := c.serialize(pkt)
	if err != nil {
		return id, err
	}

	if qos > 0 && !c.cleanSession {
		c.inflight.store(c.sendBuf[:n], id, qos)
	}

	if err := c.sendRaw(c.sendBuf[:n], timer); err != nil {
		c.connected = false
		c.stats.connected.Set(0)
		return id, err
	}

	switch qos {
	case 1:
		if err := c.awaitPublishAck(PacketPUBACK, id, timer); err != nil {
			return id, err
		}
	case 2:
		// cycle answers the intermediate PUBREC with a PUBREL; the
		// exchange completes on PUBCOMP.
		if err := c.awaitPublishAck(PacketPUBCOMP, id, timer); err != nil {
			return id, err
		}
	}

	return id, nil
}

// awaitPublishAck waits for the terminal acknowledgment of a publish
// and clears the in-flight slot on a matching identifier.
func (c *Client) awaitPublishAck(want PacketType, id uint16, timer Timer) error {
	in, err := c.waitFor(want, timer)
	if err != nil {
		return err
	}

	ack, ok := in.(PacketWithID)
	if !ok || ack.PacketID() != id {
		c.connected = false
		c.stats.connected.Set(0)
		return ErrUnexpectedPacketID
	}

	c.inflight.clear()
	return nil
}

// Subscribe sends a SUBSCRIBE for a single topic filter and installs
// the handler once the server grants the subscription. A server
// rejection surfaces as ErrSubscriptionRejected without installing.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if !c.connected {
		return ErrNotConnected
	}

	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	if qos > 2 {
		return ErrInvalidQoS
	}

	id := c.packetIDs.Next()
	pkt := &SubscribePacket{
		ID: id,
		Subscriptions: []Subscription{
			{TopicFilter: filter, QoS: qos},
		},
	}

	timer := c.clock.NewTimer(c.commandTimeout)

	if _, err := c.send(pkt, timer); err != nil {
		c.connected = false
		c.stats.connected.Set(0)
		return err
	}

	in, err := c.waitFor(PacketSUBACK, timer)
	if err != nil {
		return err
	}

	ack, ok := in.(*SubackPacket)
	if !ok {
		return ErrProtocolViolation
	}

	if ack.ID != id {
		c.connected = false
		c.stats.connected.Set(0)
		return ErrUnexpectedPacketID
	}

	if ack.ReturnCodes[0] == SubackFailure {
		return ErrSubscriptionRejected
	}

	if err := c.handlers.install(filter, handler); err != nil {
		c.logger.Warn("subscription granted but handler table is full", LogFields{
			LogFieldTopic: filter,
		})
		return err
	}

	c.logger.Debug("subscribed", LogFields{
		LogFieldTopic: filter,
		LogFieldQoS:   ack.ReturnCodes[0],
	})

	return nil
}

// Unsubscribe sends an UNSUBSCRIBE for the filter and removes its
// handler once acknowledged.
func (c *Client) Unsubscribe(filter string) error {
	if !c.connected {
		return ErrNotConnected
	}

	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	id := c.packetIDs.Next()
	pkt := &UnsubscribePacket{
		ID:           id,
		TopicFilters: []string{filter},
	}

	timer := c.clock.NewTimer(c.commandTimeout)

	if _, err := c.send(pkt, timer); err != nil {
		c.connected = false
		c.stats.connected.Set(0)
		return err
	}

	in, err := c.waitFor(PacketUNSUBACK, timer)
	if err != nil {
		return err
	}

	ack, ok := in.(*UnsubackPacket)
	if !ok {
		return ErrProtocolViolation
	}

	if ack.ID != id {
		c.connected = false
		c.stats.connected.Set(0)
		return ErrUnexpectedPacketID
	}

	c.handlers.remove(filter)
	return nil
}

// Disconnect sends a DISCONNECT packet best-effort and marks the client
// disconnected regardless of the send outcome. Installed handlers are
// removed.
func (c *Client) Disconnect() error {
	timer := c.clock.NewTimer(c.commandTimeout)
	_, err := c.send(&DisconnectPacket{}, timer)

	c.connected = false
	c.stats.connected.Set(0)
	c.pingOutstanding = false
	c.handlers.removeAll()

	if err != nil {
		c.logger.Warn("disconnect send failed", LogFields{LogFieldError: err})
	}

	return err
}

// Yield processes incoming packets and maintains keepalive for up to
// the given duration. Call it whenever no command is pending but
// messages should be received.
func (c *Client) Yield(timeout time.Duration) error {
	if !c.connected {
		return ErrNotConnected
	}

	timer := c.clock.NewTimer(timeout)
	for !timer.Expired() {
		if _, err := c.cycle(timer); err != nil {
			return err
		}
	}

	return nil
}

// waitFor pumps cycle until a packet of the expected type arrives or
// the timer expires. The matched packet is returned for the caller to
// inspect.
func (c *Client) waitFor(want PacketType, timer Timer) (Packet, error) {
	for {
		if timer.Expired() {
			c.connected = false
			c.stats.connected.Set(0)
			return nil, fmt.Errorf("waiting for %s: %w", want, ErrTimeout)
		}

		got, err := c.cycle(timer)
		if err != nil {
			return nil, err
		}

		if got == want {
			return c.incoming, nil
		}
	}
}

// cycle advances the engine by at most one inbound packet: it reads one
// framed packet, performs the protocol reactions that need no caller
// involvement (handler dispatch, QoS acknowledgments, ping bookkeeping),
// runs keepalive, and reports the packet type it saw. A zero type with
// a nil error means the timer expired before a packet arrived.
func (c *Client) cycle(timer Timer) (PacketType, error) {
	header, body, err := c.readPacket(timer)
	if err != nil {
		if errors.Is(err, errNoPacket) {
			c.keepalive()
			return 0, nil
		}
		c.connected = false
		c.stats.connected.Set(0)
		return 0, err
	}

	pkt, err := newPacket(header.PacketType)
	if err != nil {
		c.connected = false
		c.stats.connected.Set(0)
		return 0, err
	}

	if _, err := pkt.Decode(newBytesReader(body), header); err != nil {
		c.connected = false
		c.stats.connected.Set(0)
		return 0, fmt.Errorf("decoding %s: %w", header.PacketType, err)
	}

	switch p := pkt.(type) {
	case *PublishPacket:
		if err := c.handleInboundPublish(p, timer); err != nil {
			return 0, err
		}

	case *PubrecPacket:
		if err := c.handlePubrec(p, timer); err != nil {
			return 0, err
		}

	case *PubrelPacket:
		if err := c.sendAck(&PubcompPacket{ID: p.ID}, timer); err != nil {
			return 0, err
		}
		c.qos2In.remove(p.ID)

	case *PingrespPacket:
		c.pingOutstanding = false
	}

	c.incoming = pkt
	c.keepalive()

	return header.PacketType, nil
}

// handleInboundPublish delivers an inbound PUBLISH and emits the
// acknowledgment its QoS requires. A QoS 2 message is delivered only on
// first receipt; duplicates are acknowledged without redelivery.
func (c *Client) handleInboundPublish(p *PublishPacket, timer Timer) error {
	switch p.QoS {
	case 0:
		c.deliver(p.ToMessage())

	case 1:
		c.deliver(p.ToMessage())
		if err := c.sendAck(&PubackPacket{ID: p.ID}, timer); err != nil {
			return err
		}

	case 2:
		switch {
		case c.qos2In.contains(p.ID):
			// Duplicate delivery of an open exchange.
		case c.qos2In.insert(p.ID):
			c.deliver(p.ToMessage())
		default:
			c.logger.Warn("inbound qos2 set full, dropping delivery", LogFields{
				LogFieldPacketID: p.ID,
				LogFieldTopic:    p.Topic,
			})
			c.stats.messagesDropped.Inc()
		}

		if err := c.sendAck(&PubrecPacket{ID: p.ID}, timer); err != nil {
			return err
		}
	}

	return nil
}

// handlePubrec answers a PUBREC with a PUBREL. When the identifier
// matches the in-flight publish, the stored bytes are replaced by the
// PUBREL so a reconnect resumes from the release phase.
func (c *Client) handlePubrec(p *PubrecPacket, timer Timer) error {
	n, err := c.send(&PubrelPacket{ID: p.ID}, timer)
	if err != nil {
		c.connected = false
		c.stats.connected.Set(0)
		return err
	}

	if c.inflight.active && c.inflight.id == p.ID {
		c.inflight.storePubrel(c.sendBuf[:n])
	}

	return nil
}

// sendAck writes a protocol acknowledgment, marking the client
// disconnected if the write fails.
func (c *Client) sendAck(pkt Packet, timer Timer) error {
	if _, err := c.send(pkt, timer); err != nil {
		c.connected = false
		c.stats.connected.Set(0)
		return err
	}
	return nil
}

// deliver dispatches a message to matching handlers, falling back to
// the default handler.
func (c *Client) deliver(msg *Message) {
	if !c.handlers.dispatch(msg, c.defaultHandler) {
		c.logger.Debug("no handler for message", LogFields{LogFieldTopic: msg.Topic})
	}
}

// keepalive sends a PINGREQ when either direction of the connection has
// been idle for the keep alive interval. A send failure is logged and
// left for the next operation to surface.
func (c *Client) keepalive() {
	if c.keepAlive == 0 || !c.connected || c.pingOutstanding {
		return
	}

	if !c.lastSent.Expired() && !c.lastReceived.Expired() {
		return
	}

	pingTimer := c.clock.NewTimer(time.Second)
	if _, err := c.send(&PingreqPacket{}, pingTimer); err != nil {
		c.logger.Warn("keepalive ping failed", LogFields{LogFieldError: err})
		return
	}

	c.pingOutstanding = true
	c.stats.pingsSent.Inc()
}

// serialize encodes a packet into the send buffer and returns its length.
func (c *Client) serialize(pkt Packet) (int, error) {
	w := newBoundedWriter(c.sendBuf)
	if _, err := pkt.Encode(w); err != nil {
		if errors.Is(err, ErrPacketTooLarge) {
			return 0, ErrBufferOverflow
		}
		return 0, err
	}
	return w.Len(), nil
}

// send serializes a packet into the send buffer and writes it under the
// timer. Returns the serialized length.
func (c *Client) send(pkt Packet, timer Timer) (int, error) {
	n, err := c.serialize(pkt)
	if err != nil {
		return 0, err
	}

	if err := c.sendRaw(c.sendBuf[:n], timer); err != nil {
		return n, err
	}

	return n, nil
}

// sendRaw writes the bytes through the transport, retrying short writes
// until done or the timer expires.
func (c *Client) sendRaw(data []byte, timer Timer) error {
	sent := 0
	for sent < len(data) {
		n, err := c.transport.Write(data[sent:], timer.Remaining())
		if err != nil {
			return fmt.Errorf("transport write: %w", err)
		}

		sent += n
		if sent < len(data) && timer.Expired() {
			return fmt.Errorf("writing packet: %w", ErrTimeout)
		}
	}

	if c.keepAlive > 0 {
		c.lastSent.Countdown(c.keepAlive)
	}

	c.stats.packetsSent.Inc()
	c.stats.bytesSent.Add(float64(len(data)))

	return nil
}

// readPacket reads one framed packet into the receive buffer. The fixed
// header starts at the first byte of the buffer. errNoPacket is
// returned if the timer expires before the first byte arrives.
func (c *Client) readPacket(timer Timer) (FixedHeader, []byte, error) {
	var header FixedHeader

	// First byte of the fixed header
	for {
		n, err := c.transport.Read(c.recvBuf[:1], timer.Remaining())
		if err != nil {
			return header, nil, fmt.Errorf("transport read: %w", err)
		}
		if n == 1 {
			break
		}
		if timer.Expired() {
			return header, nil, errNoPacket
		}
	}

	first := c.recvBuf[0]
	header.PacketType = PacketType(first >> 4)
	header.Flags = first & 0x0F

	if !header.PacketType.Valid() {
		return header, nil, ErrInvalidPacketType
	}

	// Remaining length, one byte at a time
	offset := 1
	var value uint32
	var shift uint
	for {
		if offset-1 == maxVarintBytes {
			return header, nil, ErrVarintMalformed
		}

		if err := c.readFull(c.recvBuf[offset:offset+1], timer); err != nil {
			return header, nil, err
		}

		encodedByte := c.recvBuf[offset]
		offset++

		value |= uint32(encodedByte&varintValueMask) << shift
		shift += 7

		if encodedByte&varintContinueBit == 0 {
			break
		}
	}
	header.RemainingLength = value

	if err := header.ValidateFlags(); err != nil {
		return header, nil, err
	}

	if int(value) > len(c.recvBuf)-offset {
		return header, nil, ErrBufferOverflow
	}

	body := c.recvBuf[offset : offset+int(value)]
	if err := c.readFull(body, timer); err != nil {
		return header, nil, err
	}

	if c.keepAlive > 0 {
		c.lastReceived.Countdown(c.keepAlive)
	}

	c.stats.packetsReceived.Inc()
	c.stats.bytesReceived.Add(float64(offset + int(value)))

	return header, body, nil
}

// readFull reads exactly len(p) bytes, retrying short reads until done
// or the timer expires.
func (c *Client) readFull(p []byte, timer Timer) error {
	read := 0
	for read < len(p) {
		n, err := c.transport.Read(p[read:], timer.Remaining())
		if err != nil {
			return fmt.Errorf("transport read: %w", err)
		}

		read += n
		if read < len(p) && timer.Expired() {
			return fmt.Errorf("reading packet: %w", ErrTimeout)
		}
	}
	return nil
}
