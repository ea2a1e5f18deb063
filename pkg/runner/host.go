package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/events"
)

// Host spawns the configured agent binary once per session and pumps its
// stdio. Stateless across runs; safe for concurrent sessions.
type Host struct {
	cfg    config.AgentConfig
	grace  time.Duration
	logger *slog.Logger
}

// NewHost builds the production agent host from configuration.
func NewHost(cfg *config.Config, logger *slog.Logger) *Host {
	return &Host{
		cfg:    cfg.Agent,
		grace:  cfg.Execution.SigtermGrace(),
		logger: logger.With("component", "agent_host"),
	}
}

// Run implements AgentRunner.
func (h *Host) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	defer req.Bus.Close()

	logger := h.logger.With("session_id", req.SessionID, "project_id", req.ProjectID)

	args := append([]string{}, h.cfg.Args...)
	args = append(args, "--model", req.Model, "-p", req.Prompt)

	cmd := exec.Command(h.cfg.Command, args...)
	cmd.Env = append(os.Environ(),
		"YOKEFLOW_SESSION_ID="+req.SessionID,
		"YOKEFLOW_PROJECT_ID="+req.ProjectID,
	)
	// Own process group so the kill sequence reaches agent children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %s: %w", h.cfg.Command, err)
	}
	logger.Info("agent started", "pid", cmd.Process.Pid, "model", req.Model)

	// The prompt record opens every session stream.
	req.Bus.Publish(events.StreamEvent{Kind: events.StreamPrompt, Text: req.Prompt, At: time.Now()})

	out := &responder{enc: json.NewEncoder(stdin)}

	var (
		readers   sync.WaitGroup
		endReason string
		sawEnd    bool
	)
	readers.Add(2)
	go func() {
		defer readers.Done()
		endReason, sawEnd = h.pumpStdout(ctx, stdout, req, out, logger)
	}()
	go func() {
		defer readers.Done()
		h.pumpStderr(stderr, req.Bus)
	}()

	// Wait runs after both pipe readers finish (Wait closes the pipes).
	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	var waitErr error
	cancelled := false
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		cancelled = true
		waitErr = killGroup(cmd, h.grace, waitCh)
	}
	_ = stdin.Close()

	result := &RunResult{ExitCode: processExitCode(cmd, waitErr)}

	switch {
	case cancelled:
		result.Reason = ReasonCancelled
		if !sawEnd {
			req.Bus.Publish(events.StreamEvent{Kind: events.StreamSessionEnd, Reason: ReasonCancelled, At: time.Now()})
		}
		logger.Info("agent cancelled", "exit_code", result.ExitCode)
		return result, ctx.Err()
	case sawEnd && result.ExitCode == 0:
		result.Reason = endReason
		logger.Info("agent finished", "reason", endReason)
		return result, nil
	default:
		result.Reason = ReasonCrash
		if !sawEnd {
			req.Bus.Publish(events.StreamEvent{Kind: events.StreamSessionEnd, Reason: ReasonCrash, At: time.Now()})
		}
		logger.Error("agent crashed", "exit_code", result.ExitCode, "clean_end", sawEnd)
		return result, fmt.Errorf("%w: exit code %d", ErrAgentCrashed, result.ExitCode)
	}
}

// pumpStdout reads the agent's stdout until EOF. Events go to the bus in
// read order; tool calls dispatch synchronously, so the order consumers see
// is the order the agent produced. Returns the session_end reason.
func (h *Host) pumpStdout(ctx context.Context, r io.Reader, req RunRequest, out *responder, logger *slog.Logger) (string, bool) {
	reason := ""
	sawEnd := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		call, ev, err := DecodeLine(line)
		if err != nil {
			logger.Warn("Skipping malformed agent frame", "error", err)
			continue
		}

		if ev != nil {
			ev.At = time.Now()
			req.Bus.Publish(*ev)
			if ev.Kind == events.StreamSessionEnd && !sawEnd {
				sawEnd = true
				reason = ev.Reason
				if reason == "" {
					reason = ReasonCompleted
				}
			}
			continue
		}

		h.dispatch(ctx, call, req, out, logger)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Agent stdout closed with error", "error", err)
	}
	return reason, sawEnd
}

// dispatch serves one tool call and writes the terminal frame back.
func (h *Host) dispatch(ctx context.Context, call *Request, req RunRequest, out *responder, logger *slog.Logger) {
	result, wireErr := req.Tools.Handle(ctx, call, func(chunk PartialChunk) {
		if err := out.send(Partial{ID: call.ID, Partial: chunk}); err != nil {
			logger.Warn("Failed to stream partial output", "request_id", call.ID, "error", err)
		}
	})

	if wireErr != nil {
		if err := out.send(ErrorResponse{ID: call.ID, Error: wireErr}); err != nil {
			logger.Warn("Failed to send error response", "request_id", call.ID, "error", err)
		}
		return
	}
	if result == nil {
		result = json.RawMessage(`{}`)
	}
	if err := out.send(Response{ID: call.ID, Result: result}); err != nil {
		logger.Warn("Failed to send response", "request_id", call.ID, "error", err)
	}
}

// pumpStderr surfaces agent stderr lines as error events.
func (h *Host) pumpStderr(r io.Reader, bus *events.StreamBus) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		bus.Publish(events.StreamEvent{Kind: events.StreamError, Message: line, At: time.Now()})
	}
}

// responder serializes response frames onto the agent's stdin. Partial
// callbacks fire from sandbox reader goroutines, so sends need the lock.
type responder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (r *responder) send(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(v)
}

// killGroup sends SIGTERM to the agent's process group, waits out the grace
// period, then SIGKILLs. Returns the process's Wait error.
func killGroup(cmd *exec.Cmd, grace time.Duration, waitCh <-chan error) error {
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL)
	return <-waitCh
}

func processExitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
