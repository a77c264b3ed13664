package mqtt311

import "errors"

// Sentinel errors for client operations - check with errors.Is().
var (
	// ErrNotConnected is returned when an operation requires an active
	// connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned when Connect is called on a
	// connected client.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrTimeout is returned when the command timer expires before the
	// operation completes.
	ErrTimeout = errors.New("operation timed out")

	// ErrBufferOverflow is returned when an inbound packet's remaining
	// length exceeds the receive buffer, or an outbound packet exceeds
	// the send buffer.
	ErrBufferOverflow = errors.New("packet exceeds buffer capacity")

	// ErrConnectionRefused is the base error wrapped by ConnackError.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrSubscriptionRejected is returned when the server answers a
	// SUBSCRIBE with the 0x80 failure return code.
	ErrSubscriptionRejected = errors.New("subscription rejected by server")

	// ErrUnexpectedPacketID is returned when an acknowledgment carries
	// a packet identifier different from the outstanding request.
	ErrUnexpectedPacketID = errors.New("unexpected packet identifier")
)

// ConnackError reports a CONNACK with a non-zero return code. The
// broker's code is surfaced verbatim. Extract with errors.As().
type ConnackError struct {
	// Code is the connect return code from the CONNACK packet.
	Code ConnackCode
}

func (e *ConnackError) Error() string {
	return "connection refused: " + e.Code.String()
}

func (e *ConnackError) Unwrap() error {
	return ErrConnectionRefused
}
