package mqttc

import (
	"bytes"
	"errors"
	"io"
)

// CONNECT packet constants.
const (
	protocolName    = "MQTT"
	protocolLevel   = 0x04 // MQTT 3.1.1
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
	ErrClientIDTooLong        = errors.New("client ID too long")
	ErrClientIDRequired       = errors.New("client ID required with clean session false")
)

// ConnectPacket represents an MQTT CONNECT packet.
type ConnectPacket struct {
	// ClientID is the client identifier.
	ClientID string

	// CleanSession directs the server to discard any prior session state
	// for this client identifier.
	CleanSession bool

	// KeepAlive is the keep-alive interval in seconds.
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

	if !p.WillFlag && p.WillQoS != 0 {
		return ErrInvalidConnectFlags
	}

	if !p.WillFlag && p.WillRetain {
		return ErrInvalidConnectFlags
	}

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

	var buf bytes.Buffer

	// Protocol Name
	if _, err := encodeString(&buf, protocolName); err != nil {
		return 0, err
	}

	// Protocol Level
	if err := buf.WriteByte(protocolLevel); err != nil {
		return 0, err
	}

	// Connect Flags
	if err := buf.WriteByte(p.connectFlags()); err != nil {
		return 0, err
	}

	// Keep Alive
	if _, err := buf.Write([]byte{byte(p.KeepAlive >> 8), byte(p.KeepAlive)}); err != nil {
		return 0, err
	}

	// Payload: Client ID
	if _, err := encodeString(&buf, p.ClientID); err != nil {
		return 0, err
	}

	// Will Topic, Will Payload
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

	var totalRead int

	// Protocol Name
	protoName, n, err := decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if protoName != protocolName {
		return totalRead, ErrInvalidProtocolName
	}

	// Protocol Level
	var levelBuf [1]byte
	n, err = io.ReadFull(r, levelBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if levelBuf[0] != protocolLevel {
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

	usernameFlag := flagsBuf[0]&connectFlagUsernameFlag != 0
	passwordFlag := flagsBuf[0]&connectFlagPasswordFlag != 0

	// Keep Alive
	var keepAliveBuf [2]byte
	n, err = io.ReadFull(r, keepAliveBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.KeepAlive = uint16(keepAliveBuf[0])<<8 | uint16(keepAliveBuf[1])

	// Payload: Client ID
	p.ClientID, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Will Topic, Will Payload
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
	if usernameFlag {
		p.Username, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	// Password
	if passwordFlag {
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
	if len(p.ClientID) > 65535 {
		return ErrClientIDTooLong
	}

	if !p.CleanSession && p.ClientID == "" {
		return ErrClientIDRequired
	}

	if p.WillQoS > 2 {
		return ErrInvalidConnectFlags
	}

	if !p.WillFlag && (p.WillRetain || p.WillQoS != 0) {
		return ErrInvalidConnectFlags
	}

	return nil
}
