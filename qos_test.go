package mqttc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketIDManagerUniqueness(t *testing.T) {
	m := NewPacketIDManager(0)
	seen := make(map[uint16]bool)
	for i := 0; i < 1000; i++ {
		id, err := m.Allocate()
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestPacketIDManagerWraparound(t *testing.T) {
	m := NewPacketIDManager(0)
	m.next = 65535

	id1, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), id1)

	id2, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id2, "allocation wraps 65535 -> 1")
}

func TestPacketIDManagerExhaustion(t *testing.T) {
	m := NewPacketIDManager(2)

	id1, err := m.Allocate()
	require.NoError(t, err)
	_, err = m.Allocate()
	require.NoError(t, err)

	_, err = m.Allocate()
	assert.ErrorIs(t, err, TooManyInflight)

	require.NoError(t, m.Release(id1))
	_, err = m.Allocate()
	assert.NoError(t, err)
}

func TestPacketIDManagerReleaseUnknown(t *testing.T) {
	m := NewPacketIDManager(0)
	err := m.Release(99)
	assert.ErrorIs(t, err, ErrPacketIDNotFound)
}

func TestQoS1TrackerAcknowledge(t *testing.T) {
	tr := NewQoS1Tracker(time.Minute, 3)
	tr.Track(3, &Message{Topic: "a", QoS: 1})
	assert.Equal(t, 1, tr.Count())

	msg, ok := tr.Acknowledge(3)
	require.True(t, ok)
	assert.Equal(t, QoS1Complete, msg.State)
	assert.Equal(t, 0, tr.Count())

	_, ok = tr.Acknowledge(3)
	assert.False(t, ok)
}

func TestQoS1TrackerShouldRetry(t *testing.T) {
	tr := NewQoS1Tracker(10*time.Millisecond, 2)
	tr.Track(1, &Message{Topic: "a", QoS: 1})

	time.Sleep(20 * time.Millisecond)
	pending := tr.GetPendingRetries()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func TestQoS2TrackerSuppressesDuplicateDelivery(t *testing.T) {
	tr := NewQoS2Tracker(time.Minute, 0)

	_, already := tr.Get(9)
	assert.False(t, already)

	tr.TrackReceive(9, &Message{Topic: "a", QoS: 2})
	_, already = tr.Get(9)
	assert.True(t, already)
}

// TestQoS2TrackerHandlePubrelIdempotent covers the receiver-side
// invariant: a retransmitted PUBREL for an already-completed packet id
// gets PUBCOMP resent without redelivering the message.
func TestQoS2TrackerHandlePubrelIdempotent(t *testing.T) {
	tr := NewQoS2Tracker(time.Minute, 0)
	msg := &Message{Topic: "a", QoS: 2}
	tr.TrackReceive(5, msg)

	got, ok := tr.HandlePubrel(5)
	require.True(t, ok)
	assert.Equal(t, msg, got.Message)

	got2, ok2 := tr.HandlePubrel(5)
	assert.True(t, ok2)
	assert.Nil(t, got2)
}

func TestQoS2TrackerSenderFlow(t *testing.T) {
	tr := NewQoS2Tracker(time.Minute, 0)
	msg := &Message{Topic: "a", QoS: 2}
	tr.TrackSend(3, msg)

	got, ok := tr.HandlePubrec(3)
	require.True(t, ok)
	assert.Equal(t, QoS2AwaitingPubcomp, got.State)

	got, ok = tr.HandlePubcomp(3)
	require.True(t, ok)
	assert.Equal(t, QoS2Complete, got.State)
	assert.Equal(t, 0, tr.Count())
}
