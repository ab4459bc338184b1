package mqttc

import (
	"bytes"
	"io"
)

// SubackReturnCode is a per-filter result in a SUBACK packet: 0x00-0x02 is
// the granted QoS, 0x80 is a failure.
type SubackReturnCode byte

// SUBACK return codes.
const (
	SubackMaxQoS0 SubackReturnCode = 0x00
	SubackMaxQoS1 SubackReturnCode = 0x01
	SubackMaxQoS2 SubackReturnCode = 0x02
	SubackFailure SubackReturnCode = 0x80
)

// Failure reports whether the return code denotes a rejected subscription.
func (c SubackReturnCode) Failure() bool { return c == SubackFailure }

func (c SubackReturnCode) valid() bool {
	return c == SubackMaxQoS0 || c == SubackMaxQoS1 || c == SubackMaxQoS2 || c == SubackFailure
}

// SubackPacket represents an MQTT SUBACK packet.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []SubackReturnCode
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// GetPacketID returns the packet identifier.
func (p *SubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubackPacket) SetPacketID(id uint16) { p.PacketID = id }

// Encode writes the packet to the writer.
func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if _, err := buf.Write([]byte{byte(p.PacketID >> 8), byte(p.PacketID)}); err != nil {
		return 0, err
	}

	for _, rc := range p.ReturnCodes {
		if err := buf.WriteByte(byte(rc)); err != nil {
			return 0, err
		}
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

	var totalRead int

	var idBuf [2]byte
	n, err := io.ReadFull(r, idBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.PacketID = uint16(idBuf[0])<<8 | uint16(idBuf[1])

	p.ReturnCodes = nil
	for totalRead < int(header.RemainingLength) {
		var rcBuf [1]byte
		n, err = io.ReadFull(r, rcBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		p.ReturnCodes = append(p.ReturnCodes, SubackReturnCode(rcBuf[0]))
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.ReturnCodes) == 0 {
		return ErrProtocolViolation
	}
	for _, rc := range p.ReturnCodes {
		if !rc.valid() {
			return ErrInvalidReturnCode
		}
	}
	return nil
}
