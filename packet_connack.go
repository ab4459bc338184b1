package mqttc

import (
	"bytes"
	"errors"
	"io"
)

// ConnectReturnCode is the result byte carried by a CONNACK packet.
type ConnectReturnCode byte

// CONNACK return codes.
const (
	ConnectAccepted               ConnectReturnCode = 0x00
	ConnectRefusedProtocolVersion ConnectReturnCode = 0x01
	ConnectRefusedIdentifier      ConnectReturnCode = 0x02
	ConnectRefusedServerUnavail   ConnectReturnCode = 0x03
	ConnectRefusedBadCredentials  ConnectReturnCode = 0x04
	ConnectRefusedNotAuthorized   ConnectReturnCode = 0x05
)

func (c ConnectReturnCode) valid() bool {
	return c <= ConnectRefusedNotAuthorized
}

// String returns a human-readable description of the return code.
func (c ConnectReturnCode) String() string {
	switch c {
	case ConnectAccepted:
		return "connection accepted"
	case ConnectRefusedProtocolVersion:
		return "unacceptable protocol version"
	case ConnectRefusedIdentifier:
		return "identifier rejected"
	case ConnectRefusedServerUnavail:
		return "server unavailable"
	case ConnectRefusedBadCredentials:
		return "bad username or password"
	case ConnectRefusedNotAuthorized:
		return "not authorized"
	default:
		return "unknown return code"
	}
}

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = errors.New("invalid CONNACK flags")
	ErrInvalidReturnCode   = errors.New("invalid return code for packet type")
)

// ConnackPacket represents an MQTT CONNACK packet.
type ConnackPacket struct {
	// SessionPresent indicates if a session exists from a previous connection.
	SessionPresent bool

	// ReturnCode is the connection result code.
	ReturnCode ConnectReturnCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType {
	return PacketCONNACK
}

// Encode writes the packet to the writer.
func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// Connect Acknowledge Flags
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	if err := buf.WriteByte(flags); err != nil {
		return 0, err
	}

	// Return Code
	if err := buf.WriteByte(byte(p.ReturnCode)); err != nil {
		return 1, err
	}

	header := FixedHeader{
		PacketType:      PacketCONNACK,
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
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNACK {
		return 0, ErrInvalidPacketType
	}
	if header.RemainingLength != 2 {
		return 0, ErrProtocolViolation
	}

	var totalRead int

	// Connect Acknowledge Flags
	var flagsBuf [1]byte
	n, err := io.ReadFull(r, flagsBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Reserved bits must be 0
	if flagsBuf[0]&0xFE != 0 {
		return totalRead, ErrInvalidConnackFlags
	}

	p.SessionPresent = flagsBuf[0]&0x01 != 0

	// Return Code
	var codeBuf [1]byte
	n, err = io.ReadFull(r, codeBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ReturnCode = ConnectReturnCode(codeBuf[0])

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate() error {
	if !p.ReturnCode.valid() {
		return ErrInvalidReturnCode
	}

	// If return code is not accepted, session present must be false
	if p.ReturnCode != ConnectAccepted && p.SessionPresent {
		return ErrInvalidConnackFlags
	}

	return nil
}
