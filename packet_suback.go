package mqtt311

import (
	"bytes"
	"errors"
	"io"
)

// SubackFailure is the SUBACK return code indicating the server refused
// a subscription.
// MQTT v3.1.1 spec: Section 3.9.3
const SubackFailure byte = 0x80

// SUBACK packet errors.
var (
	ErrNoReturnCodes     = errors.New("suback packet must contain at least one return code")
	ErrInvalidReturnCode = errors.New("invalid suback return code")
)

// SubackPacket represents an MQTT SUBACK packet.
// MQTT v3.1.1 spec: Section 3.9
type SubackPacket struct {
	// ID is the packet identifier of the SUBSCRIBE being acknowledged.
	ID uint16

	// ReturnCodes holds one granted QoS (0, 1, 2) or SubackFailure per
	// requested subscription, in request order.
	ReturnCodes []byte
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// PacketID returns the packet identifier.
func (p *SubackPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *SubackPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if _, err := encodeUint16(&buf, p.ID); err != nil {
		return 0, err
	}

	if _, err := buf.Write(p.ReturnCodes); err != nil {
		return 0, err
	}

	header := FixedHeader{
		PacketType:      PacketSUBACK,
		Flags:           0x00,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// Decode reads the packet from the reader.
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBACK {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return 0, ErrInvalidPacketFlags
	}
	if header.RemainingLength < 3 {
		return 0, ErrProtocolViolation
	}

	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ID = id

	codes := make([]byte, header.RemainingLength-2)
	n, err = io.ReadFull(r, codes)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ReturnCodes = codes

	return totalRead, p.Validate()
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.ID == 0 {
		return ErrPacketIDRequired
	}

	if len(p.ReturnCodes) == 0 {
		return ErrNoReturnCodes
	}

	for _, code := range p.ReturnCodes {
		if code > 2 && code != SubackFailure {
			return ErrInvalidReturnCode
		}
	}

	return nil
}
