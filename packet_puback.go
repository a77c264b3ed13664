package mqtt311

import "io"

// PubackPacket represents an MQTT PUBACK packet, the response to a
// QoS 1 PUBLISH.
// MQTT v3.1.1 spec: Section 3.4
type PubackPacket struct {
	// ID is the packet identifier of the PUBLISH being acknowledged.
	ID uint16
}

// Type returns the packet type.
func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

// PacketID returns the packet identifier.
func (p *PubackPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *PubackPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *PubackPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBACK, 0x00, &ackPacket{ID: p.ID})
}

// Decode reads the packet from the reader.
func (p *PubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBACK {
		return 0, ErrInvalidPacketType
	}

	var ack ackPacket
	n, err := decodeAck(r, header, 0x00, &ack)
	p.ID = ack.ID
	return n, err
}

// Validate validates the packet contents.
func (p *PubackPacket) Validate() error {
	if p.ID == 0 {
		return ErrPacketIDRequired
	}
	return nil
}
