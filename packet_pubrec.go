package mqtt311

import "io"

// PubrecPacket represents an MQTT PUBREC packet, the first response in
// the QoS 2 delivery exchange.
// MQTT v3.1.1 spec: Section 3.5
type PubrecPacket struct {
	// ID is the packet identifier of the PUBLISH being acknowledged.
	ID uint16
}

// Type returns the packet type.
func (p *PubrecPacket) Type() PacketType { return PacketPUBREC }

// PacketID returns the packet identifier.
func (p *PubrecPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *PubrecPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *PubrecPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBREC, 0x00, &ackPacket{ID: p.ID})
}

// Decode reads the packet from the reader.
func (p *PubrecPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBREC {
		return 0, ErrInvalidPacketType
	}

	var ack ackPacket
	n, err := decodeAck(r, header, 0x00, &ack)
	p.ID = ack.ID
	return n, err
}

// Validate validates the packet contents.
func (p *PubrecPacket) Validate() error {
	if p.ID == 0 {
		return ErrPacketIDRequired
	}
	return nil
}
