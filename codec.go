package mqtt311

import (
	"errors"
	"io"
)

var (
	ErrPacketTooLarge    = errors.New("mqtt311: packet exceeds maximum size")
	ErrUnknownPacketType = errors.New("mqtt311: unknown packet type")
	ErrProtocolViolation = errors.New("mqtt311: protocol violation")
)

// newPacket returns an empty packet struct for the given type.
func newPacket(packetType PacketType) (Packet, error) {
	switch packetType {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, ErrUnknownPacketType
	}
}

// ReadPacket reads a complete MQTT packet from the reader.
// If maxSize is greater than 0, packets whose remaining length exceeds
// maxSize will return ErrPacketTooLarge.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}

	if err := header.ValidateFlags(); err != nil {
		return nil, n, err
	}

	// Check max size
	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	// Read remaining bytes
	remaining := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, remaining)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, n, err
	}

	_, err = packet.Decode(newBytesReader(remaining), header)
	if err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize will return
// ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	if err := packet.Validate(); err != nil {
		return 0, err
	}

	// If max size check is needed, encode to buffer first
	if maxSize > 0 {
		var buf bytesBuffer
		n, err := packet.Encode(&buf)
		if err != nil {
			return 0, err
		}
		if uint32(n) > maxSize {
			return 0, ErrPacketTooLarge
		}
		return w.Write(buf.Bytes())
	}

	return packet.Encode(w)
}

// bytesReader wraps a byte slice for io.Reader interface.
type bytesReader struct {
	data []byte
	pos  int
}

func newBytesReader(data []byte) *bytesReader {
	return &bytesReader{data: data}
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// bytesBuffer is a simple buffer for encoding.
type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) Bytes() []byte {
	return b.data
}

// boundedWriter writes into a caller-owned fixed-capacity buffer and
// fails once the buffer is full. The engine uses it to serialize packets
// into its fixed send buffer.
type boundedWriter struct {
	buf []byte
	n   int
}

func newBoundedWriter(buf []byte) *boundedWriter {
	return &boundedWriter{buf: buf}
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.buf) {
		n := copy(w.buf[w.n:], p)
		w.n += n
		return n, ErrPacketTooLarge
	}
	n := copy(w.buf[w.n:], p)
	w.n += n
	return n, nil
}

// Len returns the number of bytes written so far.
func (w *boundedWriter) Len() int {
	return w.n
}

// Bytes returns the written prefix of the buffer.
func (w *boundedWriter) Bytes() []byte {
	return w.buf[:w.n]
}

// Reset discards all written bytes.
func (w *boundedWriter) Reset() {
	w.n = 0
}
