package mqttc

import (
	"errors"
	"io"
)

// DefaultMaxPacketSize is the varint remaining-length maximum
// (268,435,455 bytes, ~268 MiB), used when a Framer is not given an
// explicit limit.
const DefaultMaxPacketSize = 268435455

// ErrFramedPacketTooLarge is returned when a packet's remaining
// length exceeds the framer's configured maximum.
var ErrFramedPacketTooLarge = errors.New("mqttc: framed packet exceeds maximum size")

// Framer accumulates bytes from a stream transport and slices out
// complete MQTT control packets, tolerating arbitrary fragmentation
// of the underlying reads (a transport may deliver one byte or one
// megabyte per Feed call).
type Framer struct {
	maxSize uint32
	buf     []byte
}

// NewFramer creates a Framer. maxSize of 0 uses DefaultMaxPacketSize.
func NewFramer(maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxPacketSize
	}
	return &Framer{maxSize: maxSize}
}

// Feed appends newly read bytes to the framer's buffer.
func (f *Framer) Feed(chunk []byte) {
	f.buf = append(f.buf, chunk...)
}

// Next attempts to slice one complete packet out of the buffered
// bytes. It returns (nil, false, nil) when more bytes are needed, the
// decoded packet when one is complete, or an error if the buffered
// prefix already proves the frame is malformed or oversized.
func (f *Framer) Next() (Packet, bool, error) {
	if len(f.buf) == 0 {
		return nil, false, nil
	}

	header, headerLen, ok, err := f.peekHeader()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	if header.RemainingLength > f.maxSize {
		return nil, false, ErrFramedPacketTooLarge
	}

	total := headerLen + int(header.RemainingLength)
	if len(f.buf) < total {
		return nil, false, nil
	}

	body := f.buf[headerLen:total]
	f.buf = f.buf[total:]

	pkt, err := newPacketForType(header.PacketType)
	if err != nil {
		return nil, false, err
	}

	if _, err := pkt.Decode(newBytesReader(body), header); err != nil {
		return nil, false, err
	}

	return pkt, true, nil
}

// peekHeader tries to decode a fixed header from the buffered bytes
// without consuming them. ok is false if more bytes are needed. A
// non-nil error means the buffered prefix is already provably
// malformed (e.g. a remaining-length varint longer than 4 bytes) and
// will never become valid no matter how many more bytes arrive; the
// caller must treat that as fatal rather than "need more data".
func (f *Framer) peekHeader() (FixedHeader, int, bool, error) {
	if len(f.buf) < 1 {
		return FixedHeader{}, 0, false, nil
	}

	var header FixedHeader
	header.PacketType = PacketType(f.buf[0] >> 4)
	header.Flags = f.buf[0] & 0x0F

	length, n, err := peekVarint(f.buf[1:])
	if err != nil {
		if errors.Is(err, errVarintIncomplete) {
			return FixedHeader{}, 0, false, nil
		}
		return FixedHeader{}, 0, false, err
	}
	if n == 0 {
		return FixedHeader{}, 0, false, nil
	}

	header.RemainingLength = length
	return header, 1 + n, true, nil
}

// ReadFrom reads repeatedly from r, feeding and yielding each
// complete packet to yield until r returns an error (including
// io.EOF, which is forwarded to the caller).
func (f *Framer) ReadFrom(r io.Reader, yield func(Packet) error) error {
	chunk := make([]byte, 4096)
	for {
		for {
			pkt, ok, err := f.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := yield(pkt); err != nil {
				return err
			}
		}

		n, err := r.Read(chunk)
		if n > 0 {
			f.Feed(chunk[:n])
		}
		if err != nil {
			return err
		}
	}
}

func newPacketForType(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, ErrUnknownPacketType
	}
}
