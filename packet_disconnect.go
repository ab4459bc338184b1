package mqttc

import "io"

// DisconnectPacket represents an MQTT DISCONNECT packet: no variable header
// or payload in MQTT 3.1.1.
type DisconnectPacket struct{}

// Type returns the packet type.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

// Encode writes the packet to the writer.
func (p *DisconnectPacket) Encode(w io.Writer) (int, error) {
	header := FixedHeader{
		PacketType:      PacketDISCONNECT,
		Flags:           0x00,
		RemainingLength: 0,
	}
	return header.Encode(w)
}

// Decode reads the packet from the reader.
func (p *DisconnectPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketDISCONNECT {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return 0, ErrInvalidPacketFlags
	}
	if header.RemainingLength != 0 {
		return 0, ErrProtocolViolation
	}
	return 0, nil
}

// Validate validates the packet contents.
func (p *DisconnectPacket) Validate() error {
	return nil
}
