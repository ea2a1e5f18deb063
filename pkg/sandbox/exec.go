package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// commandSpec is the shared subprocess description both drivers feed into
// runCommand.
type commandSpec struct {
	argv      []string
	dir       string
	timeout   time.Duration
	grace     time.Duration
	maxOutput int64
	onStdout  func(string)
	onStderr  func(string)
}

// runCommand executes argv in its own process group, streaming output lines
// through the callbacks while capturing up to maxOutput bytes per stream.
// On timeout the process group gets SIGTERM, the grace period, then SIGKILL,
// and the result comes back with TimedOut set and a nil error. On context
// cancellation the same termination sequence runs and ctx.Err() is returned
// alongside the partial result.
func runCommand(ctx context.Context, spec commandSpec) (*ExecResult, error) {
	if len(spec.argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	start := time.Now()

	cmd := exec.Command(spec.argv[0], spec.argv[1:]...)
	cmd.Dir = spec.dir
	// Own process group so termination reaches children the command spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	outBuf := newCappedBuffer(spec.maxOutput)
	errBuf := newCappedBuffer(spec.maxOutput)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanLines(stdout, outBuf, spec.onStdout)
	}()
	go func() {
		defer readers.Done()
		scanLines(stderr, errBuf, spec.onStderr)
	}()

	// Wait must run after both pipe readers finish (Wait closes the pipes).
	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(spec.timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	cancelled := false

	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
		waitErr = terminate(cmd, spec.grace, waitCh)
	case <-ctx.Done():
		cancelled = true
		waitErr = terminate(cmd, spec.grace, waitCh)
	}

	result := &ExecResult{
		ExitCode:   exitCode(cmd, waitErr),
		Stdout:     outBuf.String(),
		Stderr:     errBuf.String(),
		DurationMS: time.Since(start).Milliseconds(),
		TimedOut:   timedOut,
	}

	if cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// terminate sends SIGTERM to the process group, waits out the grace period,
// then SIGKILLs whatever is left. Returns the process's Wait error.
func terminate(cmd *exec.Cmd, grace time.Duration, waitCh <-chan error) error {
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-graceTimer.C:
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL)
	return <-waitCh
}

// exitCode extracts the command's exit code; -1 when it was signaled or
// never produced a status.
func exitCode(cmd *exec.Cmd, waitErr error) int {
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

// scanLines streams reader lines into the buffer and the callback.
func scanLines(r io.Reader, buf *cappedBuffer, cb func(string)) {
	scanner := bufio.NewScanner(r)
	// Large tokens: build logs and test output can produce very long lines.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.appendLine(line)
		if cb != nil {
			cb(line)
		}
	}
}

// cappedBuffer accumulates output up to a byte limit, then records that
// truncation happened and drops the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	b         []byte
	limit     int64
	truncated bool
}

const truncationMarker = "\n[output truncated]\n"

func newCappedBuffer(limit int64) *cappedBuffer {
	if limit <= 0 {
		limit = 1 << 20
	}
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) appendLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return
	}
	if int64(len(c.b)+len(line)+1) > c.limit {
		c.truncated = true
		c.b = append(c.b, truncationMarker...)
		return
	}
	c.b = append(c.b, line...)
	c.b = append(c.b, '\n')
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.b)
}
