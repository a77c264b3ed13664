// Package mqtt311 provides a blocking, single-threaded MQTT v3.1.1
// client engine with a fixed memory footprint.
//
// This package implements the client side of the MQTT Version 3.1.1
// OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Design
//
// The engine is built for embedding: it owns one fixed send buffer and
// one fixed receive buffer, runs every operation to completion on the
// caller's stack under a single command timer, and starts no
// goroutines. It is parameterized over two collaborators:
//
//   - Transport: timed byte reads and writes. NewNetTransport adapts
//     any net.Conn (TCP, TLS, WebSocket, QUIC, net.Pipe).
//   - Clock: countdown timers. SystemClock is the production
//     implementation; tests substitute a manual clock.
//
// The client must not be used from multiple goroutines, and message
// handlers must not call back into the client.
//
// # Packet Types
//
// The package provides structs for all 14 MQTT v3.1.1 control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//
// Use ReadPacket and WritePacket to read/write packets from/to
// arbitrary connections:
//
//	pkt, n, err := mqtt311.ReadPacket(conn, maxPacketSize)
//	n, err := mqtt311.WritePacket(conn, packet, maxPacketSize)
//
// # Client
//
// Connect the transport first, then drive the client:
//
//	conn, _ := net.Dial("tcp", "localhost:1883")
//	client := mqtt311.NewClient(mqtt311.NewNetTransport(conn),
//	    mqtt311.WithMaxPacketSize(1024),
//	)
//
//	err := client.Connect(mqtt311.ConnectOptions{
//	    ClientID:     "sensor-7",
//	    CleanSession: true,
//	    KeepAlive:    60,
//	})
//
//	client.Subscribe("home/+/temp", 1, func(msg *mqtt311.Message) {
//	    fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	})
//
//	client.Publish("home/kitchen/temp", []byte("21"), 1, false)
//
// With no command pending, pump the connection so messages are
// delivered and the keepalive ping is maintained:
//
//	client.Yield(time.Second)
//
// # QoS and Sessions
//
// QoS 1 publishes block until the PUBACK arrives; QoS 2 publishes until
// the exchange completes with PUBCOMP. At most one outbound publish is
// in flight at a time. With CleanSession false, an unacknowledged
// publish survives an in-process reconnect: the next Connect replays it
// with DUP set (or replays the PUBREL if the QoS 2 exchange had reached
// the release phase).
//
// Inbound QoS 2 messages are deduplicated by packet identifier until
// the server's PUBREL, so a handler observes each message once per
// connection while the inbound set has room. A QoS 2 message that
// arrives while the set is full is acknowledged with PUBREC but not
// delivered.
//
// # Topic Matching
//
// Topic validation and matching support MQTT wildcards:
//
//	err := mqtt311.ValidateTopicName("sensors/temperature")
//	err = mqtt311.ValidateTopicFilter("sensors/+/status")
//	matched := mqtt311.TopicMatch("sensors/#", "sensors/room1/temp")
//
// # Logging and Metrics
//
// Implement the Logger interface for structured logging:
//
//	logger := mqtt311.NewStdLogger(os.Stdout, mqtt311.LogLevelInfo)
//
// Operational metrics are collected through the Metrics interface.
// NewMemoryMetrics suits tests; NewPrometheusMetrics registers the
// client's instruments with a prometheus registry.
package mqtt311
