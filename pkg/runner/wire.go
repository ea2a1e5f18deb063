package runner

import (
	"encoding/json"
	"fmt"

	"github.com/yokeflow/yokeflow/pkg/events"
)

// Request is a tool call from the agent.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a successful tool call.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// ErrorResponse answers a failed tool call.
type ErrorResponse struct {
	ID    string     `json:"id"`
	Error *WireError `json:"error"`
}

// Partial streams one increment of bash output to the agent before the
// terminal result.
type Partial struct {
	ID      string       `json:"id"`
	Partial PartialChunk `json:"partial"`
}

// PartialChunk carries one line of stdout or stderr.
type PartialChunk struct {
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// ErrorKind classifies tool failures on the wire.
type ErrorKind string

const (
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindConflict         ErrorKind = "conflict"
	ErrorKindQualityViolation ErrorKind = "quality_violation"
	ErrorKindBlockedCommand   ErrorKind = "blocked_command"
	ErrorKindSandboxError     ErrorKind = "sandbox_error"
	ErrorKindStorageError     ErrorKind = "storage_error"
	ErrorKindInternal         ErrorKind = "internal"
)

// WireError is the error shape agents receive.
type WireError struct {
	Kind    ErrorKind       `json:"kind"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *WireError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// NewWireError builds a wire error with a formatted message.
func NewWireError(kind ErrorKind, format string, args ...any) *WireError {
	return &WireError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// DecodeLine classifies one line from the agent's stdout. Exactly one of
// the two returns is non-nil: a frame with a method field is a tool call, a
// frame with a kind field is a stream event.
func DecodeLine(line []byte) (*Request, *events.StreamEvent, error) {
	var probe struct {
		Method string            `json:"method"`
		Kind   events.StreamKind `json:"kind"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch {
	case probe.Method != "":
		var call Request
		if err := json.Unmarshal(line, &call); err != nil {
			return nil, nil, fmt.Errorf("malformed request frame: %w", err)
		}
		if call.ID == "" {
			return nil, nil, fmt.Errorf("request frame for %s has no id", call.Method)
		}
		return &call, nil, nil
	case probe.Kind != "":
		var ev events.StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, nil, fmt.Errorf("malformed event frame: %w", err)
		}
		return nil, &ev, nil
	default:
		return nil, nil, fmt.Errorf("frame carries neither method nor kind")
	}
}
