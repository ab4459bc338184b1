package mqttc

import "io"

// encodeAck writes a fixed header followed by a 2-byte packet identifier.
// MQTT 3.1.1 PUBACK, PUBREC, PUBREL, PUBCOMP, and UNSUBACK packets carry no
// other variable-header content.
func encodeAck(w io.Writer, packetType PacketType, flags byte, packetID uint16) (int, error) {
	header := FixedHeader{
		PacketType:      packetType,
		Flags:           flags,
		RemainingLength: 2,
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write([]byte{byte(packetID >> 8), byte(packetID)})
	return total + n, err
}

// decodeAck reads the 2-byte packet identifier body of an acknowledgment packet.
func decodeAck(r io.Reader, header FixedHeader, wantFlags byte) (uint16, int, error) {
	if header.Flags != wantFlags {
		return 0, 0, ErrInvalidPacketFlags
	}
	if header.RemainingLength != 2 {
		return 0, 0, ErrProtocolViolation
	}

	var idBuf [2]byte
	n, err := io.ReadFull(r, idBuf[:])
	if err != nil {
		return 0, n, err
	}

	return uint16(idBuf[0])<<8 | uint16(idBuf[1]), n, nil
}
