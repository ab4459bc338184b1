package mqttc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintBoundaries(t *testing.T) {
	cases := []struct {
		value uint32
		size  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{2097151, 3},
		{2097152, 4},
		{268435455, 4},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.size, varintSize(tc.value), "varintSize(%d)", tc.value)

		var buf bytes.Buffer
		n, err := encodeVarint(&buf, tc.value)
		require.NoError(t, err)
		assert.Equal(t, tc.size, n)
		assert.Equal(t, tc.size, buf.Len())

		decoded, dn, err := decodeVarint(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, tc.value, decoded)
		assert.Equal(t, tc.size, dn)

		peeked, pn, err := peekVarint(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, tc.value, peeked)
		assert.Equal(t, tc.size, pn)
	}
}

func TestVarintTooLarge(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeVarint(&buf, maxVarint+1)
	assert.ErrorIs(t, err, ErrVarintTooLarge)
}

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeString(&buf, "hello/world")
	require.NoError(t, err)

	got, _, err := decodeString(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "hello/world", got)
}

func TestStringRejectsEmbeddedNull(t *testing.T) {
	var buf bytes.Buffer
	err := buf.WriteByte(0)
	require.NoError(t, err)
	require.NoError(t, buf.WriteByte(1))
	require.NoError(t, buf.WriteByte(0))

	_, _, err = decodeString(bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrStringContainsNull)
}

func TestPubrelPubcompWireBytes(t *testing.T) {
	var buf bytes.Buffer
	_, err := (&PubrelPacket{PacketID: 7}).Encode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x62, 0x02, 0x00, 0x07}, buf.Bytes())

	buf.Reset()
	_, err = (&PubcompPacket{PacketID: 7}).Encode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x70, 0x02, 0x00, 0x07}, buf.Bytes())
}

func TestPacketRoundTrip(t *testing.T) {
	packets := []Packet{
		&ConnectPacket{ClientID: "c1", CleanSession: true, KeepAlive: 60},
		&ConnectPacket{
			ClientID: "c2", KeepAlive: 30, Username: "u", Password: []byte("p"),
			WillFlag: true, WillTopic: "lwt", WillPayload: []byte("bye"), WillQoS: 1,
		},
		&ConnackPacket{ReturnCode: ConnectAccepted},
		&ConnackPacket{SessionPresent: true, ReturnCode: ConnectAccepted},
		&PublishPacket{Topic: "a/b", Payload: []byte("hi"), QoS: 0},
		&PublishPacket{Topic: "a", Payload: []byte("x"), QoS: 1, PacketID: 42},
		&PublishPacket{Topic: "a", QoS: 2, PacketID: 7, DUP: true, Retain: true},
		&PubackPacket{PacketID: 1},
		&PubrecPacket{PacketID: 1},
		&PubrelPacket{PacketID: 1},
		&PubcompPacket{PacketID: 1},
		&SubscribePacket{PacketID: 5, Subscriptions: []Subscription{{TopicFilter: "a/+", QoS: 1}, {TopicFilter: "#", QoS: 0}}},
		&SubackPacket{PacketID: 5, ReturnCodes: []SubackReturnCode{SubackMaxQoS1, SubackFailure}},
		&UnsubscribePacket{PacketID: 6, TopicFilters: []string{"a/+", "b/#"}},
		&UnsubackPacket{PacketID: 6},
		&PingreqPacket{},
		&PingrespPacket{},
		&DisconnectPacket{},
	}

	for _, pkt := range packets {
		var buf bytes.Buffer
		_, err := WritePacket(&buf, pkt, 0)
		require.NoError(t, err, "encode %T", pkt)

		decoded, _, err := ReadPacket(&buf, 0)
		require.NoError(t, err, "decode %T", pkt)
		assert.Equal(t, pkt, decoded, "round trip %T", pkt)
	}
}

func TestReadPacketRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	_, err := WritePacket(&buf, &PublishPacket{Topic: "a", Payload: make([]byte, 100), QoS: 0}, 0)
	require.NoError(t, err)

	_, _, err = ReadPacket(&buf, 10)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}
