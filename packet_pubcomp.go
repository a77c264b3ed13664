package mqtt311

import "io"

// PubcompPacket represents an MQTT PUBCOMP packet, the final step of the
// QoS 2 delivery exchange.
// MQTT v3.1.1 spec: Section 3.7
type PubcompPacket struct {
	// ID is the packet identifier of the completed exchange.
	ID uint16
}

// Type returns the packet type.
func (p *PubcompPacket) Type() PacketType { return PacketPUBCOMP }

// PacketID returns the packet identifier.
func (p *PubcompPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *PubcompPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *PubcompPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBCOMP, 0x00, &ackPacket{ID: p.ID})
}

// Decode reads the packet from the reader.
func (p *PubcompPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBCOMP {
		return 0, ErrInvalidPacketType
	}

	var ack ackPacket
	n, err := decodeAck(r, header, 0x00, &ack)
	p.ID = ack.ID
	return n, err
}

// Validate validates the packet contents.
func (p *PubcompPacket) Validate() error {
	if p.ID == 0 {
		return ErrPacketIDRequired
	}
	return nil
}
