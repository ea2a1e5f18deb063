package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// defaultSubscriberBuffer bounds how many undelivered events a subscriber
// may accumulate before it is dropped as too slow.
const defaultSubscriberBuffer = 64

// listenTimeout bounds how long a LISTEN command may block when subscribing
// to a new PG channel. Without this, a stalled connection would block the
// subscribing HTTP handler indefinitely.
const listenTimeout = 10 * time.Second

// Hub fans NOTIFY payloads out to in-process SSE subscribers. Each server
// process has one Hub instance; it implements Sink for the NotifyListener
// and manages LISTEN/UNLISTEN lifecycle per channel as subscribers come
// and go.
//
// Delivery to a subscriber never blocks: a subscriber whose buffer is full
// is dropped and its channel closed. The SSE handler sees the close, ends
// the response, and the client reconnects with Last-Event-ID to replay what
// it missed from the events table.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Subscription]bool

	// NotifyListener for dynamic LISTEN/UNLISTEN (set after construction)
	listener   *NotifyListener
	listenerMu sync.RWMutex

	buffer int
}

// Subscription is one subscriber's view of a channel. Receive from C until
// it is closed; a close means either Close was called or the subscriber
// fell too far behind and was dropped.
type Subscription struct {
	C <-chan Envelope

	ch      chan Envelope
	channel string
	hub     *Hub
	closed  bool // guarded by hub.mu
}

// Channel returns the channel this subscription is attached to.
func (s *Subscription) Channel() string {
	return s.channel
}

// Close detaches the subscription from the hub and closes C.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// NewHub creates a Hub. buffer is the per-subscriber queue depth;
// values < 1 use the default.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		channels: make(map[string]map[*Subscription]bool),
		buffer:   buffer,
	}
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN. Called
// once during startup after both Hub and NotifyListener are created (the
// listener needs the Hub as its Sink, so the Hub is built first).
func (h *Hub) SetListener(l *NotifyListener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listener = l
}

// Subscribe registers a subscriber for a channel and starts LISTEN if it is
// the first. LISTEN completes before Subscribe returns, so a catch-up read
// issued afterwards cannot miss events published in between: anything newer
// than the catch-up snapshot arrives live and the reader dedupes by id.
func (h *Hub) Subscribe(channel string) (*Subscription, error) {
	sub := &Subscription{
		ch:      make(chan Envelope, h.buffer),
		channel: channel,
		hub:     h,
	}
	sub.C = sub.ch

	h.mu.Lock()
	needsListen := false
	if _, exists := h.channels[channel]; !exists {
		h.channels[channel] = make(map[*Subscription]bool)
		needsListen = true
	}
	h.channels[channel][sub] = true
	h.mu.Unlock()

	if needsListen {
		h.listenerMu.RLock()
		l := h.listener
		h.listenerMu.RUnlock()
		if l != nil {
			listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
			defer cancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
				h.cleanupFailedChannel(channel)
				return nil, err
			}
		}
	}

	return sub, nil
}

// Deliver implements Sink: it parses the event id out of the payload and
// hands the envelope to every subscriber of the channel. Subscribers with
// full buffers are dropped. Sends happen under the hub lock, so a
// concurrent Close cannot close a channel mid-send.
func (h *Hub) Deliver(channel string, payload []byte) {
	env := Envelope{ID: parseEventID(payload), Payload: payload}

	var dropped []*Subscription

	h.mu.Lock()
	for sub := range h.channels[channel] {
		select {
		case sub.ch <- env:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		slog.Warn("Dropping slow event subscriber", "channel", channel)
		h.removeLocked(sub)
	}
	h.mu.Unlock()

	for _, sub := range dropped {
		h.maybeUnlisten(sub.channel)
	}
}

// SubscriberCount returns the number of subscribers for a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// remove detaches a subscription and stops LISTEN if it was the last one.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()

	h.maybeUnlisten(sub.channel)
}

// removeLocked detaches a subscription and closes its channel. Callers hold
// h.mu, which is what makes closing safe against concurrent Deliver sends.
func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	if subs, exists := h.channels[sub.channel]; exists {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.channels, sub.channel)
		}
	}
}

// maybeUnlisten stops LISTEN for a channel that has no subscribers left.
// The goroutine re-checks h.channels before issuing UNLISTEN to prevent a
// race where a rapid unsubscribe/resubscribe cycle (a client reconnecting
// immediately) would drop the LISTEN:
//
//	subscribe → LISTEN active
//	unsubscribe → goroutine: UNLISTEN (deferred)
//	resubscribe → channel re-added to h.channels
//	goroutine → sees resubscribed → skips UNLISTEN
func (h *Hub) maybeUnlisten(channel string) {
	h.mu.Lock()
	_, stillUsed := h.channels[channel]
	h.mu.Unlock()
	if stillUsed {
		return
	}

	h.listenerMu.RLock()
	l := h.listener
	h.listenerMu.RUnlock()
	if l == nil {
		return
	}

	go func() {
		h.mu.Lock()
		_, resubscribed := h.channels[channel]
		h.mu.Unlock()
		if resubscribed {
			return
		}
		if err := l.Unsubscribe(context.Background(), channel); err != nil {
			slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
		}
	}()
}

// cleanupFailedChannel removes every subscriber from a channel after a
// LISTEN failure. Between the channel entry being created and LISTEN
// completing, other subscribers may have attached; because they saw the
// channel already existed they skipped LISTEN and got a success they should
// not have. Closing their channels tells their handlers to end the stream
// so clients reconnect and retry.
func (h *Hub) cleanupFailedChannel(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.channels[channel]
	if len(subs) > 0 {
		slog.Warn("Removing subscribers after LISTEN failure",
			"channel", channel, "subscribers", len(subs))
	}
	for sub := range subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(h.channels, channel)
}

// parseEventID extracts db_event_id from a NOTIFY payload. Transient events
// carry no id and map to 0.
func parseEventID(payload []byte) int64 {
	var meta struct {
		DBEventID int64 `json:"db_event_id"`
	}
	if err := json.Unmarshal(payload, &meta); err != nil {
		return 0
	}
	return meta.DBEventID
}
