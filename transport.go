package mqtt311

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Conn represents a network connection for MQTT communication.
type Conn interface {
	net.Conn
}

// Dialer establishes MQTT connections.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// Transport is the byte transport the client engine reads and writes
// through. Both calls block for at most the given timeout.
//
// Read returns the number of bytes read; zero or a short count with a
// nil error means the timeout elapsed without further data. Write
// returns the number of bytes written and may write fewer than
// requested; the engine retries under its own command timer. A non-nil
// error indicates a broken connection.
type Transport interface {
	Read(p []byte, timeout time.Duration) (int, error)
	Write(p []byte, timeout time.Duration) (int, error)
}

// NetTransport adapts any net.Conn (TCP, TLS, WebSocket, QUIC, net.Pipe)
// to the Transport interface using per-call deadlines.
type NetTransport struct {
	conn net.Conn
}

// NewNetTransport wraps the connection. The connection must already be
// established before the client's Connect is called.
func NewNetTransport(conn net.Conn) *NetTransport {
	return &NetTransport{conn: conn}
}

// Read reads into p, blocking for at most timeout.
func (t *NetTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(deadlineFrom(timeout)); err != nil {
		return 0, err
	}

	n, err := t.conn.Read(p)
	if isTimeout(err) {
		return n, nil
	}
	return n, err
}

// Write writes p, blocking for at most timeout.
func (t *NetTransport) Write(p []byte, timeout time.Duration) (int, error) {
	if err := t.conn.SetWriteDeadline(deadlineFrom(timeout)); err != nil {
		return 0, err
	}

	n, err := t.conn.Write(p)
	if isTimeout(err) {
		return n, nil
	}
	return n, err
}

// Close closes the underlying connection.
func (t *NetTransport) Close() error {
	return t.conn.Close()
}

func deadlineFrom(timeout time.Duration) time.Time {
	if timeout <= 0 {
		// An expired timer still permits one non-blocking attempt.
		timeout = time.Millisecond
	}
	return time.Now().Add(timeout)
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	if d.Timeout > 0 {
		dialer.Timeout = d.Timeout
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: d.Timeout,
		},
		Config: d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// UnixDialer connects to MQTT brokers over a Unix domain socket.
type UnixDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the socket path.
func (d *UnixDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	if d.Timeout > 0 {
		dialer.Timeout = d.Timeout
	}
	return dialer.DialContext(ctx, "unix", address)
}
