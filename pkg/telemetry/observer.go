package telemetry

import (
	"encoding/json"
	"time"

	"github.com/yokeflow/yokeflow/pkg/events"
)

// StreamObserver feeds the shared instruments from one session's event
// stream. The orchestrator creates one per session and calls Observe from
// the event pump goroutine; the observer is not safe for concurrent use.
type StreamObserver struct {
	t       *Telemetry
	pending map[string]pendingCall
}

// pendingCall is an in-flight tool call awaiting its result event.
type pendingCall struct {
	tool string
	at   time.Time
}

// NewStreamObserver creates an observer recording into t.
func NewStreamObserver(t *Telemetry) *StreamObserver {
	return &StreamObserver{t: t, pending: map[string]pendingCall{}}
}

// Observe folds one stream event into the instruments. Results without a
// previously observed call are ignored.
func (o *StreamObserver) Observe(ev events.StreamEvent) {
	switch ev.Kind {
	case events.StreamToolUse:
		o.t.RecordToolCall(ev.Tool)
		if ev.RequestID != "" {
			o.pending[ev.RequestID] = pendingCall{tool: ev.Tool, at: ev.At}
		}
	case events.StreamToolResult:
		pc, ok := o.pending[ev.RequestID]
		if !ok {
			return
		}
		delete(o.pending, ev.RequestID)

		var d time.Duration
		if !pc.at.IsZero() && ev.At.After(pc.at) {
			d = ev.At.Sub(pc.at)
		}
		o.t.RecordToolResult(pc.tool, ev.IsError, d)
		if pc.tool == "bash" {
			o.recordExec(ev, d)
		}
	}
}

// recordExec derives the sandbox exec outcome from a bash tool result. The
// result payload carries the measured execution time, which is more precise
// than the stream pairing delta.
func (o *StreamObserver) recordExec(ev events.StreamEvent, d time.Duration) {
	if ev.IsError {
		o.t.RecordSandboxExec(ExecOutcomeError, 0)
		return
	}

	var res struct {
		DurationMS int64 `json:"duration_ms"`
		TimedOut   bool  `json:"timed_out"`
	}
	if err := json.Unmarshal([]byte(ev.Text), &res); err != nil {
		return
	}
	if res.DurationMS > 0 {
		d = time.Duration(res.DurationMS) * time.Millisecond
	}

	outcome := ExecOutcomeOK
	if res.TimedOut {
		outcome = ExecOutcomeTimeout
	}
	o.t.RecordSandboxExec(outcome, d)
}
