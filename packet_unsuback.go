package mqttc

import "io"

// UnsubackPacket represents an MQTT UNSUBACK packet: the response to UNSUBSCRIBE.
type UnsubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

// GetPacketID returns the packet identifier.
func (p *UnsubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *UnsubackPacket) SetPacketID(id uint16) { p.PacketID = id }

// Encode writes the packet to the writer.
func (p *UnsubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return encodeAck(w, PacketUNSUBACK, 0x00, p.PacketID)
}

// Decode reads the packet from the reader.
func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketUNSUBACK {
		return 0, ErrInvalidPacketType
	}
	id, n, err := decodeAck(r, header, 0x00)
	p.PacketID = id
	return n, err
}

// Validate validates the packet contents.
func (p *UnsubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	return nil
}
