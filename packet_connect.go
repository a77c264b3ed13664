package mqtt311

import (
	"bytes"
	"errors"
	"io"
)

// CONNECT protocol identification.
// MQTT v3.1.1 uses protocol name "MQTT" level 4; the older v3.1 uses
// "MQIsdp" level 3.
const (
	protocolName       = "MQTT"
	protocolLevel311   = 4
	protocolNameLegacy = "MQIsdp"
	protocolLevel31    = 3
)

// Connect flag bit positions.
const (
	connectFlagCleanSession = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
	ErrClientIDRequired       = errors.New("client ID required with clean session false")
)

// ConnectPacket represents an MQTT CONNECT packet.
// MQTT v3.1.1 spec: Section 3.1
type ConnectPacket struct {
	// ProtocolLevel is 4 for MQTT v3.1.1 or 3 for MQTT v3.1.
	// Zero is treated as v3.1.1.
	ProtocolLevel byte

	// ClientID is the client identifier.
	ClientID string

	// CleanSession indicates whether the session should start clean.
	CleanSession bool

	// KeepAlive is the keep alive interval in seconds.
	KeepAlive uint16

	// Username for authentication.
	Username string

	// Password for authentication.
	Password []byte

	// Will message configuration.
	WillFlag    bool
	WillRetain  bool
	WillQoS     byte
	WillTopic   string
	WillPayload []byte
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType {
	return PacketCONNECT
}

// effectiveLevel returns the protocol level to encode, defaulting to v3.1.1.
func (p *ConnectPacket) effectiveLevel() byte {
	if p.ProtocolLevel == protocolLevel31 {
		return protocolLevel31
	}
	return protocolLevel311
}

// connectFlags returns the connect flags byte.
func (p *ConnectPacket) connectFlags() byte {
	var flags byte

	if p.CleanSession {
		flags |= connectFlagCleanSession
	}

	if p.WillFlag {
		flags |= connectFlagWillFlag
		flags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}

	if len(p.Password) > 0 {
		flags |= connectFlagPasswordFlag
	}

	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}

	return flags
}

// setConnectFlags parses the connect flags byte.
func (p *ConnectPacket) setConnectFlags(flags byte) error {
	// Reserved bit must be 0
	if flags&0x01 != 0 {
		return ErrInvalidConnectFlags
	}

	p.CleanSession = flags&connectFlagCleanSession != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = (flags >> 3) & 0x03
	p.WillRetain = flags&connectFlagWillRetain != 0

	// Will QoS must be 0 if Will Flag is 0
	if !p.WillFlag && p.WillQoS != 0 {
		return ErrInvalidConnectFlags
	}

	// Will Retain must be 0 if Will Flag is 0
	if !p.WillFlag && p.WillRetain {
		return ErrInvalidConnectFlags
	}

	// Will QoS must not be 3
	if p.WillQoS > 2 {
		return ErrInvalidConnectFlags
	}

	return nil
}

// Encode writes the packet to the writer.
func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	// Build variable header and payload
	var buf bytes.Buffer

	// Protocol Name and Level
	name := protocolName
	if p.effectiveLevel() == protocolLevel31 {
		name = protocolNameLegacy
	}

	if _, err := encodeString(&buf, name); err != nil {
		return 0, err
	}

	if err := buf.WriteByte(p.effectiveLevel()); err != nil {
		return 0, err
	}

	// Connect Flags
	if err := buf.WriteByte(p.connectFlags()); err != nil {
		return 0, err
	}

	// Keep Alive
	if _, err := encodeUint16(&buf, p.KeepAlive); err != nil {
		return 0, err
	}

	// Payload: Client Identifier
	if _, err := encodeString(&buf, p.ClientID); err != nil {
		return 0, err
	}

	// Will Topic and Will Message
	if p.WillFlag {
		if _, err := encodeString(&buf, p.WillTopic); err != nil {
			return 0, err
		}
		if _, err := encodeBinary(&buf, p.WillPayload); err != nil {
			return 0, err
		}
	}

	// Username
	if p.Username != "" {
		if _, err := encodeString(&buf, p.Username); err != nil {
			return 0, err
		}
	}

	// Password
	if len(p.Password) > 0 {
		if _, err := encodeBinary(&buf, p.Password); err != nil {
			return 0, err
		}
	}

	// Write fixed header
	header := FixedHeader{
		PacketType:      PacketCONNECT,
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
func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNECT {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return 0, ErrInvalidPacketFlags
	}

	var totalRead int

	// Protocol Name
	name, n, err := decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Protocol Level
	var levelBuf [1]byte
	n, err = io.ReadFull(r, levelBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ProtocolLevel = levelBuf[0]

	switch {
	case name == protocolName && p.ProtocolLevel == protocolLevel311:
	case name == protocolNameLegacy && p.ProtocolLevel == protocolLevel31:
	case name != protocolName && name != protocolNameLegacy:
		return totalRead, ErrInvalidProtocolName
	default:
		return totalRead, ErrInvalidProtocolVersion
	}

	// Connect Flags
	var flagsBuf [1]byte
	n, err = io.ReadFull(r, flagsBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if err := p.setConnectFlags(flagsBuf[0]); err != nil {
		return totalRead, err
	}
	hasUsername := flagsBuf[0]&connectFlagUsernameFlag != 0
	hasPassword := flagsBuf[0]&connectFlagPasswordFlag != 0

	// Keep Alive
	p.KeepAlive, n, err = decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Payload: Client Identifier
	p.ClientID, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Will Topic and Will Message
	if p.WillFlag {
		p.WillTopic, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		p.WillPayload, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	// Username
	if hasUsername {
		p.Username, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	// Password
	if hasPassword {
		p.Password, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *ConnectPacket) Validate() error {
	if p.ProtocolLevel != 0 && p.ProtocolLevel != protocolLevel311 && p.ProtocolLevel != protocolLevel31 {
		return ErrInvalidProtocolVersion
	}

	// A zero-length client ID requires a clean session
	if p.ClientID == "" && !p.CleanSession {
		return ErrClientIDRequired
	}

	if p.WillFlag {
		if err := ValidateTopicName(p.WillTopic); err != nil {
			return err
		}
		if p.WillQoS > 2 {
			return ErrInvalidConnectFlags
		}
	} else if p.WillQoS != 0 || p.WillRetain {
		return ErrInvalidConnectFlags
	}

	// Password without username is not allowed in v3.1.1
	if p.Username == "" && len(p.Password) > 0 {
		return ErrInvalidConnectFlags
	}

	return nil
}
