package mqtt311

import "io"

// PubrelPacket represents an MQTT PUBREL packet, the second step of the
// QoS 2 delivery exchange. Its fixed header flags must be 0x02.
// MQTT v3.1.1 spec: Section 3.6
type PubrelPacket struct {
	// ID is the packet identifier of the exchange being released.
	ID uint16
}

// Type returns the packet type.
func (p *PubrelPacket) Type() PacketType { return PacketPUBREL }

// PacketID returns the packet identifier.
func (p *PubrelPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *PubrelPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *PubrelPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBREL, 0x02, &ackPacket{ID: p.ID})
}

// Decode reads the packet from the reader.
func (p *PubrelPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBREL {
		return 0, ErrInvalidPacketType
	}

	var ack ackPacket
	n, err := decodeAck(r, header, 0x02, &ack)
	p.ID = ack.ID
	return n, err
}

// Validate validates the packet contents.
func (p *PubrelPacket) Validate() error {
	if p.ID == 0 {
		return ErrPacketIDRequired
	}
	return nil
}
