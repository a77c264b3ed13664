package mqtt311

import "io"

// ackPacket is a helper for encoding/decoding simple acknowledgment
// packets (PUBACK, PUBREC, PUBREL, PUBCOMP, UNSUBACK). In MQTT v3.1.1
// these carry exactly a 2-byte packet identifier.
type ackPacket struct {
	ID uint16
}

// encodeAck encodes an acknowledgment packet with the given packet type and flags.
func encodeAck(w io.Writer, packetType PacketType, flags byte, ack *ackPacket) (int, error) {
	header := FixedHeader{
		PacketType:      packetType,
		Flags:           flags,
		RemainingLength: 2,
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := encodeUint16(w, ack.ID)
	return total + n, err
}

// decodeAck decodes an acknowledgment packet.
func decodeAck(r io.Reader, header FixedHeader, wantFlags byte, ack *ackPacket) (int, error) {
	if header.Flags != wantFlags {
		return 0, ErrInvalidPacketFlags
	}
	if header.RemainingLength != 2 {
		return 0, ErrProtocolViolation
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return n, err
	}

	ack.ID = id
	return n, nil
}
