package events

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamBusFanOutPreservesOrder(t *testing.T) {
	bus := NewStreamBus()
	const count = 50

	metrics := bus.Subscribe(count)
	intervention := bus.Subscribe(count)

	for i := 0; i < count; i++ {
		bus.Publish(StreamEvent{Kind: StreamAssistantText, Text: fmt.Sprintf("msg-%d", i)})
	}
	bus.Close()

	for name, ch := range map[string]<-chan StreamEvent{"metrics": metrics, "intervention": intervention} {
		i := 0
		for ev := range ch {
			assert.Equal(t, fmt.Sprintf("msg-%d", i), ev.Text, "consumer %s out of order at %d", name, i)
			i++
		}
		assert.Equal(t, count, i, "consumer %s missed events", name)
	}
}

func TestStreamBusBlocksUntilSlowConsumerReads(t *testing.T) {
	bus := NewStreamBus()
	ch := bus.Subscribe(1)

	bus.Publish(StreamEvent{Kind: StreamPrompt, Text: "first"})

	// Second publish would block on the full buffer; drain concurrently.
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Publish(StreamEvent{Kind: StreamPrompt, Text: "second"})
	}()

	first := <-ch
	assert.Equal(t, "first", first.Text)
	second := <-ch
	assert.Equal(t, "second", second.Text)
	<-done
}

func TestStreamBusCloseEndsConsumers(t *testing.T) {
	bus := NewStreamBus()
	ch := bus.Subscribe(4)

	bus.Publish(StreamEvent{Kind: StreamSessionEnd, Reason: "natural"})
	bus.Close()

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, StreamSessionEnd, ev.Kind)

	_, ok = <-ch
	assert.False(t, ok, "channel should be closed after Close")
}

func TestStreamBusCloseIsIdempotent(t *testing.T) {
	bus := NewStreamBus()
	_ = bus.Subscribe(1)
	bus.Close()
	bus.Close()
}

func TestStreamBusPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewStreamBus()
	ch := bus.Subscribe(1)
	bus.Close()

	bus.Publish(StreamEvent{Kind: StreamError, Message: "late"})

	_, ok := <-ch
	assert.False(t, ok)
}

func TestStreamBusSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	bus := NewStreamBus()
	bus.Close()

	ch := bus.Subscribe(1)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestStreamEventWireFormat(t *testing.T) {
	t.Run("tool_use", func(t *testing.T) {
		line := `{"kind":"tool_use","tool":"bash","input":{"command":"ls"},"request_id":"req-7"}`

		var ev StreamEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))

		assert.Equal(t, StreamToolUse, ev.Kind)
		assert.Equal(t, "bash", ev.Tool)
		assert.Equal(t, "req-7", ev.RequestID)
		assert.JSONEq(t, `{"command":"ls"}`, string(ev.Input))
	})

	t.Run("tool_result", func(t *testing.T) {
		line := `{"kind":"tool_result","request_id":"req-7","is_error":true,"text":"BLOCKED: sudo is not allowed"}`

		var ev StreamEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))

		assert.Equal(t, StreamToolResult, ev.Kind)
		assert.Equal(t, "req-7", ev.RequestID)
		assert.True(t, ev.IsError)
		assert.Contains(t, ev.Text, "BLOCKED:")
	})

	t.Run("system_message carries open fields", func(t *testing.T) {
		line := `{"kind":"system_message","subtype":"compact","fields":{"tokens_saved":1200}}`

		var ev StreamEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))

		assert.Equal(t, StreamSystemMessage, ev.Kind)
		assert.Equal(t, "compact", ev.Subtype)
		assert.Equal(t, float64(1200), ev.Fields["tokens_saved"])
	})

	t.Run("session_end", func(t *testing.T) {
		line := `{"kind":"session_end","reason":"natural"}`

		var ev StreamEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))

		assert.Equal(t, StreamSessionEnd, ev.Kind)
		assert.Equal(t, "natural", ev.Reason)
	})

	t.Run("receipt time is not serialized", func(t *testing.T) {
		data, err := json.Marshal(StreamEvent{Kind: StreamError, Message: "boom"})
		require.NoError(t, err)
		assert.NotContains(t, string(data), "At")
	})
}
