package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
)

// shortTimeoutSeconds is the threshold under which a server-start command
// looks like a doomed foreground launch.
const shortTimeoutSeconds = 30

// bash executes a command in the session's sandbox. Output streams back as
// partial frames while the command runs; the final result carries exit code,
// captured output and timing. A nonzero exit or a timeout is still a result,
// not a wire error; only blocklist rejections and sandbox infrastructure
// failures surface as errors.
func (s *Service) bash(ctx context.Context, call *runner.Request, partial func(runner.PartialChunk)) (any, error) {
	var p bashParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	if p.Command == "" {
		return nil, validationf("bash needs a command")
	}
	if p.Timeout < 0 {
		return nil, validationf("bash timeout must not be negative")
	}

	if pattern, ok := sandbox.DetectServerStart(p.Command); ok {
		if p.Background || (p.Timeout > 0 && p.Timeout <= shortTimeoutSeconds) {
			s.bus.Publish(events.StreamEvent{
				Kind:    events.StreamSystemMessage,
				Subtype: "background_bash_warning",
				Message: "server-start command in a transient shell; it will die with this call, use the init script instead",
				Fields: map[string]any{
					"pattern": pattern,
					"command": p.Command,
				},
				At: time.Now(),
			})
		}
	}

	command := p.Command
	if p.Background {
		command = fmt.Sprintf("(%s) >/dev/null 2>&1 & echo $!", p.Command)
	}

	req := sandbox.ExecRequest{
		Command: command,
		Timeout: time.Duration(p.Timeout) * time.Second,
	}
	if !p.Background && partial != nil {
		req.OnStdout = func(line string) { partial(runner.PartialChunk{Stdout: line}) }
		req.OnStderr = func(line string) { partial(runner.PartialChunk{Stderr: line}) }
	}

	res, err := s.sandbox.Execute(ctx, req)
	if err != nil {
		if sandbox.IsBlocked(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errSandbox, err)
	}
	return res, nil
}
