// Package runner hosts the external agent process for a session and speaks
// the stdio protocol with it.
//
// The agent writes one JSON object per line on stdout. Frames carrying a
// "method" field are tool calls {id, method, params}; frames carrying a
// "kind" field are session events (assistant_text, system_message, error,
// session_end). Tool responses travel back on the agent's stdin as
// {id, result} or {id, error} frames, preceded by {id, partial} frames for
// streamed bash output. The host synthesizes the stream records the agent
// does not produce itself: the opening prompt record, and a session_end
// when the agent exits without one. Agent stderr lines surface as error
// events.
package runner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yokeflow/yokeflow/pkg/events"
)

// ErrAgentCrashed reports an agent process that exited nonzero or ended its
// stream without a session_end event.
var ErrAgentCrashed = errors.New("agent process crashed")

// Synthesized session_end reasons.
const (
	// ReasonCrash marks an agent exit without a clean session_end.
	ReasonCrash = "crash"
	// ReasonCancelled marks a run killed by context cancellation.
	ReasonCancelled = "cancelled"
	// ReasonCompleted substitutes for a session_end that carried no reason.
	ReasonCompleted = "completed"
)

// AgentRunner runs one session's agent from prompt to exit. The production
// implementation is Host; the orchestrator's tests substitute scripted
// fakes.
type AgentRunner interface {
	// Run blocks until the agent finishes, publishing every session event
	// to req.Bus in stream order and dispatching tool calls to req.Tools.
	// The bus is closed before Run returns. An agent crash returns
	// ErrAgentCrashed; context cancellation kills the agent and returns the
	// context's error. Both publish a synthesized session_end first so
	// stream consumers always see a terminal record.
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// RunRequest carries everything one agent run needs.
type RunRequest struct {
	SessionID string
	ProjectID string
	Model     string
	Prompt    string
	Bus       *events.StreamBus
	Tools     ToolHandler
}

// RunResult summarizes a finished run.
type RunResult struct {
	// Reason is the session_end reason reported by the agent, or one of the
	// synthesized reasons.
	Reason   string
	ExitCode int
}

// ToolHandler executes one tool call from the agent. Implementations return
// either a raw result or a wire error; partial streams incremental bash
// output back to the agent while the call runs. Handle must honor ctx
// cancellation, or an aborted run cannot finish killing its agent.
type ToolHandler interface {
	Handle(ctx context.Context, call *Request, partial func(PartialChunk)) (json.RawMessage, *WireError)
}
