package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEnvelope(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestHubDeliverParsesEventID(t *testing.T) {
	hub := NewHub(0)
	sub, err := hub.Subscribe(ProjectChannel("p1"))
	require.NoError(t, err)
	defer sub.Close()

	hub.Deliver(ProjectChannel("p1"), []byte(`{"type":"session.status","db_event_id":17}`))

	env := receiveEnvelope(t, sub)
	assert.Equal(t, int64(17), env.ID)
	assert.Contains(t, string(env.Payload), "session.status")
}

func TestHubDeliverTransientEventHasZeroID(t *testing.T) {
	hub := NewHub(0)
	sub, err := hub.Subscribe(ProjectChannel("p1"))
	require.NoError(t, err)
	defer sub.Close()

	hub.Deliver(ProjectChannel("p1"), []byte(`{"type":"session.progress","tool_calls":3}`))

	env := receiveEnvelope(t, sub)
	assert.Equal(t, int64(0), env.ID)
}

func TestHubFanOutToAllSubscribers(t *testing.T) {
	hub := NewHub(0)
	channel := ProjectChannel("p2")

	sub1, err := hub.Subscribe(channel)
	require.NoError(t, err)
	defer sub1.Close()
	sub2, err := hub.Subscribe(channel)
	require.NoError(t, err)
	defer sub2.Close()

	hub.Deliver(channel, []byte(`{"type":"project.status"}`))

	assert.Contains(t, string(receiveEnvelope(t, sub1).Payload), "project.status")
	assert.Contains(t, string(receiveEnvelope(t, sub2).Payload), "project.status")
}

func TestHubChannelIsolation(t *testing.T) {
	hub := NewHub(0)

	subA, err := hub.Subscribe(ProjectChannel("a"))
	require.NoError(t, err)
	defer subA.Close()
	subB, err := hub.Subscribe(ProjectChannel("b"))
	require.NoError(t, err)
	defer subB.Close()

	hub.Deliver(ProjectChannel("a"), []byte(`{"type":"project.status"}`))

	receiveEnvelope(t, subA)
	select {
	case env := <-subB.C:
		t.Fatalf("subscriber on another channel received %s", env.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCloseDetachesSubscriber(t *testing.T) {
	hub := NewHub(0)
	channel := ProjectChannel("p3")

	sub, err := hub.Subscribe(channel)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.SubscriberCount(channel))

	sub.Close()
	assert.Equal(t, 0, hub.SubscriberCount(channel))

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after Close")

	// Second Close is a no-op.
	sub.Close()
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1)
	channel := ProjectChannel("p4")

	slow, err := hub.Subscribe(channel)
	require.NoError(t, err)

	hub.Deliver(channel, []byte(`{"n":1}`))
	// Buffer is full; the next delivery drops the subscriber.
	hub.Deliver(channel, []byte(`{"n":2}`))

	assert.Equal(t, 0, hub.SubscriberCount(channel))

	env, ok := <-slow.C
	require.True(t, ok)
	assert.Contains(t, string(env.Payload), `"n":1`)

	_, ok = <-slow.C
	assert.False(t, ok, "dropped subscriber's channel should be closed")
}

func TestHubDeliverWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(0)
	hub.Deliver(ProjectChannel("nobody"), []byte(`{}`))
}

func TestParseEventID(t *testing.T) {
	assert.Equal(t, int64(12), parseEventID([]byte(`{"db_event_id":12}`)))
	assert.Equal(t, int64(0), parseEventID([]byte(`{"type":"session.progress"}`)))
	assert.Equal(t, int64(0), parseEventID([]byte(`not json`)))
}
