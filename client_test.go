package mqttc

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer starts a TCP listener, accepts exactly one connection, and
// runs handler on it. A real listener rather than an in-memory pipe, so
// Dial exercises its actual dial path.
func mockServer(t *testing.T, handler func(net.Conn)) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()

	cleanup := func() {
		listener.Close()
		wg.Wait()
	}

	return listener.Addr().String(), cleanup
}

func readPacket(t *testing.T, conn net.Conn) Packet {
	t.Helper()
	pkt, _, err := ReadPacket(conn, DefaultMaxPacketSize)
	require.NoError(t, err)
	return pkt
}

func sendConnack(t *testing.T, conn net.Conn, returnCode ConnectReturnCode) {
	t.Helper()
	_, err := WritePacket(conn, &ConnackPacket{ReturnCode: returnCode}, DefaultMaxPacketSize)
	require.NoError(t, err)
}

func dialTo(t *testing.T, addr string, opts ...Option) *Client {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	allOpts := append([]Option{
		WithHost(host),
		WithPort(uint16(port)),
		WithIdentifier("c1"),
		WithTimeout(2 * time.Second),
	}, opts...)

	client, err := Dial(allOpts...)
	require.NoError(t, err)
	return client
}

func TestConnectDisconnect(t *testing.T) {
	expectedPrefix := []byte{0x10, 0x12, 0x00, 0x04, 0x4D, 0x51, 0x54, 0x54, 0x04, 0x02, 0x00, 0x3C, 0x00, 0x02, 0x63, 0x31}

	var gotConnect []byte
	var gotDisconnect bool
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		gotConnect = append([]byte{}, buf[:n]...)
		sendConnack(t, conn, ConnectAccepted)

		pkt, _, err := ReadPacket(conn, DefaultMaxPacketSize)
		if err == nil {
			_, gotDisconnect = pkt.(*DisconnectPacket)
		}
	})

	client := dialTo(t, addr)
	assert.True(t, bytes.HasPrefix(gotConnect, expectedPrefix))
	assert.Equal(t, "connected", client.State())

	require.NoError(t, client.Disconnect())
	assert.Equal(t, "disconnected", client.State())

	cleanup()
	assert.True(t, gotDisconnect)
}

func TestPublishQoS0(t *testing.T) {
	expected := []byte{0x30, 0x07, 0x00, 0x03, 0x61, 0x2F, 0x62, 0x68, 0x69}

	var got []byte
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		_ = readPacket(t, conn)
		sendConnack(t, conn, ConnectAccepted)

		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		got = append([]byte{}, buf[:n]...)
	})

	client := dialTo(t, addr)
	err := client.Publish(&Message{Topic: "a/b", Payload: []byte("hi"), QoS: 0})
	require.NoError(t, err)

	cleanup()
	assert.Equal(t, expected, got)
}

func TestPublishQoS1(t *testing.T) {
	expected := []byte{0x32, 0x05, 0x00, 0x01, 0x61, 0x00, 0x01}
	puback := []byte{0x40, 0x02, 0x00, 0x01}

	var got []byte
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		_ = readPacket(t, conn)
		sendConnack(t, conn, ConnectAccepted)

		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		got = append([]byte{}, buf[:n]...)

		_, err = conn.Write(puback)
		require.NoError(t, err)
	})

	client := dialTo(t, addr)
	err := client.Publish(&Message{Topic: "a", QoS: 1})
	require.NoError(t, err)

	cleanup()
	assert.Equal(t, expected, got)
}

func TestPublishQoS2(t *testing.T) {
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		_ = readPacket(t, conn)
		sendConnack(t, conn, ConnectAccepted)

		publish := readPacket(t, conn).(*PublishPacket)
		_, err := WritePacket(conn, &PubrecPacket{PacketID: publish.PacketID}, DefaultMaxPacketSize)
		require.NoError(t, err)

		pubrel := readPacket(t, conn).(*PubrelPacket)
		assert.Equal(t, publish.PacketID, pubrel.PacketID)
		_, err = WritePacket(conn, &PubcompPacket{PacketID: pubrel.PacketID}, DefaultMaxPacketSize)
		require.NoError(t, err)
	})

	client := dialTo(t, addr)
	err := client.Publish(&Message{Topic: "a/b", Payload: []byte("hi"), QoS: 2})
	require.NoError(t, err)

	cleanup()
}

// TestPublishQoS1Timeout exercises a PUBLISH that the broker never
// acknowledges: Publish surfaces Timeout, and the connection is left
// usable for further operations (the wire exchange is not retried
// internally).
func TestPublishQoS1Timeout(t *testing.T) {
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		_ = readPacket(t, conn)
		sendConnack(t, conn, ConnectAccepted)

		_ = readPacket(t, conn) // PUBLISH, never acknowledged

		pkt, _, err := ReadPacket(conn, DefaultMaxPacketSize)
		if err == nil {
			_, _ = pkt.(*DisconnectPacket)
		}
	})

	client := dialTo(t, addr, WithTimeout(200*time.Millisecond))
	err := client.Publish(&Message{Topic: "a", QoS: 1})
	assert.ErrorIs(t, err, Timeout)
	assert.Equal(t, "connected", client.State())

	require.NoError(t, client.Disconnect())
	cleanup()
}

func TestSubscribeUnsubscribe(t *testing.T) {
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		_ = readPacket(t, conn)
		sendConnack(t, conn, ConnectAccepted)

		sub := readPacket(t, conn).(*SubscribePacket)
		_, err := WritePacket(conn, &SubackPacket{
			PacketID:    sub.PacketID,
			ReturnCodes: []SubackReturnCode{SubackMaxQoS1},
		}, DefaultMaxPacketSize)
		require.NoError(t, err)

		unsub := readPacket(t, conn).(*UnsubscribePacket)
		_, err = WritePacket(conn, &UnsubackPacket{PacketID: unsub.PacketID}, DefaultMaxPacketSize)
		require.NoError(t, err)
	})

	client := dialTo(t, addr)

	var received *Message
	err := client.Subscribe("a/+", 1, func(msg *Message) { received = msg })
	require.NoError(t, err)

	err = client.Unsubscribe("a/+")
	require.NoError(t, err)

	cleanup()
	assert.Nil(t, received)
}

func TestSubscribeFailure(t *testing.T) {
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		_ = readPacket(t, conn)
		sendConnack(t, conn, ConnectAccepted)

		sub := readPacket(t, conn).(*SubscribePacket)
		_, err := WritePacket(conn, &SubackPacket{
			PacketID:    sub.PacketID,
			ReturnCodes: []SubackReturnCode{SubackFailure},
		}, DefaultMaxPacketSize)
		require.NoError(t, err)
	})

	client := dialTo(t, addr)
	err := client.Subscribe("a/b", 0, func(*Message) {})

	var subErr *SubscribeFailed
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, []int{0}, subErr.Indices)

	cleanup()
}

func TestPublishDeliversToMatchingSubscription(t *testing.T) {
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		_ = readPacket(t, conn)
		sendConnack(t, conn, ConnectAccepted)

		sub := readPacket(t, conn).(*SubscribePacket)
		_, err := WritePacket(conn, &SubackPacket{
			PacketID:    sub.PacketID,
			ReturnCodes: []SubackReturnCode{SubackMaxQoS0},
		}, DefaultMaxPacketSize)
		require.NoError(t, err)

		_, err = WritePacket(conn, &PublishPacket{Topic: "a/b", Payload: []byte("hi"), QoS: 0}, DefaultMaxPacketSize)
		require.NoError(t, err)
	})

	client := dialTo(t, addr)

	done := make(chan *Message, 1)
	err := client.Subscribe("a/+", 0, func(msg *Message) { done <- msg })
	require.NoError(t, err)

	select {
	case msg := <-done:
		assert.Equal(t, "a/b", msg.Topic)
		assert.Equal(t, []byte("hi"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	cleanup()
}

func TestConnectRefused(t *testing.T) {
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		_ = readPacket(t, conn)
		sendConnack(t, conn, ConnectRefusedNotAuthorized)
	})
	defer cleanup()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	_, err = Dial(WithHost(host), WithPort(uint16(port)), WithIdentifier("c1"), WithTimeout(2*time.Second))

	var failed *FailedToConnect
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ConnectRefusedNotAuthorized, failed.ReturnCode)
}
