package mqttc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeAll(t *testing.T, packets []Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, pkt := range packets {
		_, err := pkt.Encode(&buf)
		require.NoError(t, err)
	}
	return buf.Bytes()
}

func samplePackets() []Packet {
	return []Packet{
		&ConnectPacket{ClientID: "c1", CleanSession: true, KeepAlive: 60},
		&PublishPacket{Topic: "a/b", Payload: []byte("hello"), QoS: 0},
		&PublishPacket{Topic: "a", Payload: bytes.Repeat([]byte("x"), 500), QoS: 1, PacketID: 1},
		&PubackPacket{PacketID: 1},
		&SubscribePacket{PacketID: 2, Subscriptions: []Subscription{{TopicFilter: "a/+", QoS: 1}}},
		&PingreqPacket{},
		&DisconnectPacket{},
	}
}

// feedInChunks drives a Framer with wire feeding chunk sizes, asserting
// the decoded packets match the originals regardless of how the
// underlying bytes were fragmented.
func feedInChunks(t *testing.T, wire []byte, chunkSize int, want []Packet) {
	t.Helper()

	f := NewFramer(0)
	var got []Packet

	for i := 0; i < len(wire); i += chunkSize {
		end := i + chunkSize
		if end > len(wire) {
			end = len(wire)
		}
		f.Feed(wire[i:end])

		for {
			pkt, ok, err := f.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, pkt)
		}
	}

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i], "packet %d", i)
	}
}

func TestFramerSegmentation(t *testing.T) {
	want := samplePackets()
	wire := encodeAll(t, want)

	chunkSizes := []int{1, 2, 3, 7, 16, 64, 4096, len(wire)}
	for _, size := range chunkSizes {
		feedInChunks(t, wire, size, want)
	}
}

func TestFramerRejectsOversizedFrame(t *testing.T) {
	f := NewFramer(4)

	var buf bytes.Buffer
	_, err := (&PublishPacket{Topic: "a/b", Payload: []byte("hello world"), QoS: 0}).Encode(&buf)
	require.NoError(t, err)

	f.Feed(buf.Bytes())
	_, _, err = f.Next()
	assert.ErrorIs(t, err, ErrFramedPacketTooLarge)
}

func TestFramerNeedsMoreBytes(t *testing.T) {
	f := NewFramer(0)
	f.Feed([]byte{0x30}) // PUBLISH header byte only, no remaining length yet

	pkt, ok, err := f.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, pkt)
}

// TestFramerRejectsMalformedVarint covers a remaining-length varint whose
// continuation bit is still set on the 4th byte: per the wire format this
// can never be a valid length no matter how many more bytes arrive, so
// Next must report it as a fatal error rather than "need more data" —
// otherwise a caller like readLoop would spin forever feeding bytes into
// an unboundedly growing buffer instead of tearing the connection down.
func TestFramerRejectsMalformedVarint(t *testing.T) {
	f := NewFramer(0)
	f.Feed([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF})

	pkt, ok, err := f.Next()
	assert.ErrorIs(t, err, ErrVarintMalformed)
	assert.False(t, ok)
	assert.Nil(t, pkt)
}
