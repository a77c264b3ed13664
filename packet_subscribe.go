package mqtt311

import (
	"bytes"
	"errors"
	"io"
)

// SUBSCRIBE packet errors.
var (
	ErrNoSubscriptions = errors.New("subscribe packet must contain at least one topic filter")
)

// Subscription is a single topic filter / requested QoS pair carried in
// a SUBSCRIBE packet.
type Subscription struct {
	// TopicFilter is the topic filter, which may contain wildcards.
	TopicFilter string

	// QoS is the maximum QoS level the server may use when forwarding
	// messages for this subscription.
	QoS byte
}

// SubscribePacket represents an MQTT SUBSCRIBE packet. Its fixed header
// flags must be 0x02.
// MQTT v3.1.1 spec: Section 3.8
type SubscribePacket struct {
	// ID is the packet identifier.
	ID uint16

	// Subscriptions is the list of topic filter / QoS pairs.
	Subscriptions []Subscription
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// PacketID returns the packet identifier.
func (p *SubscribePacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *SubscribePacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// Packet Identifier
	if _, err := encodeUint16(&buf, p.ID); err != nil {
		return 0, err
	}

	// Payload: topic filter + requested QoS pairs
	for _, sub := range p.Subscriptions {
		if _, err := encodeString(&buf, sub.TopicFilter); err != nil {
			return 0, err
		}
		if err := buf.WriteByte(sub.QoS); err != nil {
			return 0, err
		}
	}

	header := FixedHeader{
		PacketType:      PacketSUBSCRIBE,
		Flags:           0x02,
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
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x02 {
		return 0, ErrInvalidPacketFlags
	}

	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ID = id

	p.Subscriptions = nil
	for totalRead < int(header.RemainingLength) {
		filter, n, err := decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		var qosBuf [1]byte
		n, err = io.ReadFull(r, qosBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		if qosBuf[0] > 2 {
			return totalRead, ErrInvalidQoS
		}

		p.Subscriptions = append(p.Subscriptions, Subscription{
			TopicFilter: filter,
			QoS:         qosBuf[0],
		})
	}

	if len(p.Subscriptions) == 0 {
		return totalRead, ErrNoSubscriptions
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.ID == 0 {
		return ErrPacketIDRequired
	}

	if len(p.Subscriptions) == 0 {
		return ErrNoSubscriptions
	}

	for _, sub := range p.Subscriptions {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
		if sub.QoS > 2 {
			return ErrInvalidQoS
		}
	}

	return nil
}
