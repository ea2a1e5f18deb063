// Package sandbox manages isolated per-project workspaces and command
// execution inside them. Two backends exist: a long-lived docker container
// per project (the default) and direct host execution for development.
// Every command on the normal path is screened against the token-based
// blocklist before it spawns; the privileged path exists only for the
// intervention engine's recovery actions and is not reachable from the
// agent tool surface.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExecRequest describes one command execution inside a sandbox.
type ExecRequest struct {
	// Command is the shell command line, run via sh -lc.
	Command string
	// Timeout bounds the execution; zero means the configured default.
	Timeout time.Duration
	// OnStdout/OnStderr receive output lines as they stream, before the
	// command finishes. Used by the tool surface for partial frames.
	OnStdout func(line string)
	OnStderr func(line string)
}

// ExecResult is the outcome of one command execution.
type ExecResult struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
	// TimedOut is set when the per-call timeout expired and the command
	// was terminated. The caller surfaces this as a tool error.
	TimedOut bool `json:"timed_out"`
}

// Status reports the observable state of a project's sandbox.
type Status struct {
	State         string  `json:"state"`
	Ports         []int   `json:"ports,omitempty"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPct        float64 `json:"cpu_pct"`
	MemoryBytes   int64   `json:"memory_bytes"`
}

// Lifecycle states reported in Status.State. The container driver passes
// docker's state strings through; StateMissing means no sandbox exists.
const (
	StateRunning = "running"
	StateExited  = "exited"
	StateCreated = "created"
	StateMissing = "missing"
)

// Sandbox is one project's workspace. Implementations are the container
// driver and the host driver; both enforce the blocklist on Execute and
// skip it on ExecutePrivileged.
type Sandbox interface {
	// Name identifies the sandbox (container name, or host path in
	// no-sandbox mode).
	Name() string

	// Execute runs a command through the blocklist. Blocked commands
	// return a *BlockedCommandError without spawning anything. A timeout
	// produces a result with TimedOut set, not an error.
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)

	// ExecutePrivileged runs a command without blocklist screening.
	// Reserved for intervention auto-recovery and sandbox maintenance.
	ExecutePrivileged(ctx context.Context, req ExecRequest) (*ExecResult, error)

	// Stop halts the sandbox but keeps it; the next acquire reuses it.
	Stop(ctx context.Context) error

	// Remove force-removes the sandbox and its volumes.
	Remove(ctx context.Context) error

	// Status reports current state and resource usage.
	Status(ctx context.Context) (*Status, error)
}

// ErrSandboxBusy is returned when a project's sandbox is already acquired
// by another session. At most one session owns a sandbox at a time.
var ErrSandboxBusy = errors.New("sandbox already acquired by another session")

// BlockedCommandError reports a command rejected by the blocklist. The tool
// surface renders it with the BLOCKED: prefix agents are told to expect.
type BlockedCommandError struct {
	Command     string
	Rule        string
	Description string
}

func (e *BlockedCommandError) Error() string {
	return fmt.Sprintf("command blocked by rule %s: %s", e.Rule, e.Description)
}

// IsBlocked reports whether err is a blocklist rejection.
func IsBlocked(err error) bool {
	var bce *BlockedCommandError
	return errors.As(err, &bce)
}
