package mqttc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRegistryMatch(t *testing.T) {
	r := NewTaskRegistry()
	_, errCh, pktCh := r.Register(0, matchPacketID(PacketPUBACK, 5))

	matched := r.Match(&PubackPacket{PacketID: 5})
	assert.True(t, matched)

	select {
	case pkt := <-pktCh:
		assert.Equal(t, uint16(5), pkt.(*PubackPacket).PacketID)
	case err := <-errCh:
		t.Fatalf("unexpected error %v", err)
	case <-time.After(time.Second):
		t.Fatal("task never completed")
	}
}

func TestTaskRegistryIgnoresNonMatchingPacket(t *testing.T) {
	r := NewTaskRegistry()
	_, _, pktCh := r.Register(0, matchPacketID(PacketPUBACK, 5))

	matched := r.Match(&PubackPacket{PacketID: 6})
	assert.False(t, matched)

	select {
	case <-pktCh:
		t.Fatal("task should not have completed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTaskRegistryExpire(t *testing.T) {
	r := NewTaskRegistry()
	_, errCh, _ := r.Register(10*time.Millisecond, matchPacketID(PacketPUBACK, 1))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, Timeout)
	case <-time.After(time.Second):
		t.Fatal("task did not time out")
	}
}

func TestTaskRegistryCancelAll(t *testing.T) {
	r := NewTaskRegistry()
	_, errCh, _ := r.Register(0, matchPacketID(PacketPUBACK, 1))

	cause := &TransportError{Underlying: assert.AnError}
	r.CancelAll(cause)

	select {
	case err := <-errCh:
		var closed *ConnectionClosed
		require.ErrorAs(t, err, &closed)
		assert.Equal(t, cause, closed.Underlying)
	case <-time.After(time.Second):
		t.Fatal("task not cancelled")
	}

	_, errCh2, _ := r.Register(0, matchPacketID(PacketPUBACK, 2))
	select {
	case err := <-errCh2:
		var closed *ConnectionClosed
		assert.ErrorAs(t, err, &closed)
	case <-time.After(time.Second):
		t.Fatal("registration after close should fail immediately")
	}
}

func TestTaskHandleCancel(t *testing.T) {
	r := NewTaskRegistry()
	handle, _, pktCh := r.Register(0, matchPacketID(PacketPUBACK, 1))
	handle.Cancel()

	assert.Equal(t, 0, r.Len())

	matched := r.Match(&PubackPacket{PacketID: 1})
	assert.False(t, matched)

	select {
	case <-pktCh:
		t.Fatal("cancelled task should not complete")
	case <-time.After(50 * time.Millisecond):
	}
}
