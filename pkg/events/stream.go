package events

import (
	"encoding/json"
	"sync"
	"time"
)

// StreamKind discriminates the records on a session's event stream.
type StreamKind string

const (
	StreamPrompt        StreamKind = "prompt"
	StreamAssistantText StreamKind = "assistant_text"
	StreamToolUse       StreamKind = "tool_use"
	StreamToolResult    StreamKind = "tool_result"
	StreamSystemMessage StreamKind = "system_message"
	StreamError         StreamKind = "error"
	StreamSessionEnd    StreamKind = "session_end"

	// Core-emitted kinds; the agent never produces these.
	StreamNotification       StreamKind = "notification"
	StreamInterventionAction StreamKind = "intervention_action"
)

// StreamEvent is one record on the session event stream. The runner frames
// these as newline-delimited JSON with Kind as the discriminator; the tool
// surface appends tool_use/tool_result records for every RPC it serves.
// Only the fields belonging to the record's kind are populated.
type StreamEvent struct {
	Kind StreamKind `json:"kind"`

	// prompt, assistant_text, tool_result
	Text string `json:"text,omitempty"`

	// tool_use
	Tool  string          `json:"tool,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_use, tool_result — pairs a result with its originating call
	RequestID string `json:"request_id,omitempty"`

	// tool_result
	IsError bool `json:"is_error,omitempty"`

	// system_message
	Subtype string         `json:"subtype,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// session_end
	Reason string `json:"reason,omitempty"`

	// At is stamped by the stream reader when the record is received.
	// It is not part of the wire format.
	At time.Time `json:"-"`
}

// StreamBus fans a session's event stream out to its in-process consumers
// (metrics collector, intervention engine). Each subscriber receives every
// published event exactly once, in publish order: Publish sends to each
// subscriber channel synchronously, so a slow consumer applies backpressure
// to the stream reader rather than dropping records.
//
// The bus is created per session by the orchestrator. Subscribe before the
// first Publish; Close once the stream has ended and no Publish is in flight.
type StreamBus struct {
	mu     sync.Mutex
	subs   []chan StreamEvent
	closed bool
}

// NewStreamBus creates an empty bus.
func NewStreamBus() *StreamBus {
	return &StreamBus{}
}

// Subscribe registers a consumer and returns its receive channel. The
// channel is closed by Close. buffer bounds how far this consumer may lag
// before Publish blocks on it.
func (b *StreamBus) Subscribe(buffer int) <-chan StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan StreamEvent, buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers ev to every subscriber in subscription order. It blocks
// until each subscriber has buffer room, preserving the exactly-once,
// in-order contract. Publishing on a closed bus is a no-op. The lock is held
// across the sends so Close cannot close a channel mid-delivery.
func (b *StreamBus) Publish(ev StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		ch <- ev
	}
}

// Close closes every subscriber channel. Consumers detect end-of-stream by
// channel close. Close is idempotent.
func (b *StreamBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
}
