package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yokeflow/yokeflow/pkg/config"
)

// hostSandbox runs commands directly on the host in the project's workspace
// directory. Development only; there is no isolation beyond the blocklist.
type hostSandbox struct {
	dir       string
	execCfg   config.ExecutionConfig
	blocklist *Blocklist
	logger    *slog.Logger
}

func newHostSandbox(projectName string, cfg config.SandboxConfig, execCfg config.ExecutionConfig, bl *Blocklist, logger *slog.Logger) *hostSandbox {
	dir := filepath.Join(cfg.WorkspaceRoot, Slug(projectName))
	return &hostSandbox{
		dir:       dir,
		execCfg:   execCfg,
		blocklist: bl,
		logger:    logger.With("workspace", dir),
	}
}

func (h *hostSandbox) Name() string { return h.dir }

func (h *hostSandbox) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if blocked := h.blocklist.Check(req.Command); blocked != nil {
		return nil, blocked
	}
	return h.run(ctx, req)
}

func (h *hostSandbox) ExecutePrivileged(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return h.run(ctx, req)
}

func (h *hostSandbox) run(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = h.execCfg.DefaultTimeout()
	}
	return runCommand(ctx, commandSpec{
		argv:      []string{"sh", "-c", req.Command},
		dir:       h.dir,
		timeout:   timeout,
		grace:     h.execCfg.SigtermGrace(),
		maxOutput: h.execCfg.MaxOutputBytes,
		onStdout:  req.OnStdout,
		onStderr:  req.OnStderr,
	})
}

// Stop is a no-op; host mode has no long-lived process to halt.
func (h *hostSandbox) Stop(ctx context.Context) error { return nil }

// Remove is a no-op. The workspace directory holds the project sources;
// project deletion erases it separately.
func (h *hostSandbox) Remove(ctx context.Context) error { return nil }

func (h *hostSandbox) Status(ctx context.Context) (*Status, error) {
	if _, err := os.Stat(h.dir); err != nil {
		if os.IsNotExist(err) {
			return &Status{State: StateMissing}, nil
		}
		return nil, fmt.Errorf("stat workspace dir: %w", err)
	}
	return &Status{State: StateRunning}, nil
}

func (h *hostSandbox) state(ctx context.Context) (string, error) {
	status, err := h.Status(ctx)
	if err != nil {
		return "", err
	}
	return status.State, nil
}

func (h *hostSandbox) create(ctx context.Context) error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	return nil
}

func (h *hostSandbox) start(ctx context.Context) error { return nil }

func (h *hostSandbox) runSetup(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(h.dir, setupScript)); err != nil {
		return nil
	}
	h.logger.Info("running workspace setup script")
	res, err := h.run(ctx, ExecRequest{Command: "sh ./" + setupScript, Timeout: setupTimeout})
	if err != nil {
		return fmt.Errorf("run setup script: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("setup script exited %d", res.ExitCode)
	}
	return nil
}
