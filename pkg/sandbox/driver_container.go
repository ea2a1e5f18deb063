package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yokeflow/yokeflow/pkg/config"
)

// Timeouts for docker CLI calls. Create covers an image pull, setup covers a
// toolchain install.
const (
	dockerOpTimeout = 30 * time.Second
	createTimeout   = 10 * time.Minute
	setupTimeout    = 10 * time.Minute
)

// setupScript is run inside a freshly created container when the project
// workspace provides it.
const setupScript = "setup.sh"

// containerSandbox drives a long-lived workspace container through the
// docker CLI. The project directory on the host is bind-mounted at
// /workspace inside the container.
type containerSandbox struct {
	name      string
	projectID string
	hostDir   string
	cfg       config.SandboxConfig
	execCfg   config.ExecutionConfig
	blocklist *Blocklist
	logger    *slog.Logger
}

func newContainerSandbox(projectID, projectName string, cfg config.SandboxConfig, execCfg config.ExecutionConfig, bl *Blocklist, logger *slog.Logger) *containerSandbox {
	slug := Slug(projectName)
	return &containerSandbox{
		name:      "yokeflow-" + slug,
		projectID: projectID,
		hostDir:   filepath.Join(cfg.WorkspaceRoot, slug),
		cfg:       cfg,
		execCfg:   execCfg,
		blocklist: bl,
		logger:    logger.With("container", "yokeflow-"+slug),
	}
}

func (c *containerSandbox) Name() string { return c.name }

// Execute runs a command inside the container after the blocklist check.
func (c *containerSandbox) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if blocked := c.blocklist.Check(req.Command); blocked != nil {
		return nil, blocked
	}
	return c.run(ctx, req)
}

// ExecutePrivileged runs a command inside the container without the
// blocklist. Reserved for intervention recovery and acquire-time cleanup.
func (c *containerSandbox) ExecutePrivileged(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return c.run(ctx, req)
}

func (c *containerSandbox) run(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.execCfg.DefaultTimeout()
	}
	// Timeout and kill apply to the docker client process; a process left
	// behind inside the container is cleaned up on the next acquire.
	return runCommand(ctx, commandSpec{
		argv:      []string{"docker", "exec", "-w", "/workspace", c.name, "sh", "-c", req.Command},
		timeout:   timeout,
		grace:     c.execCfg.SigtermGrace(),
		maxOutput: c.execCfg.MaxOutputBytes,
		onStdout:  req.OnStdout,
		onStderr:  req.OnStderr,
	})
}

// Stop halts the container without removing it; the next acquire restarts it.
func (c *containerSandbox) Stop(ctx context.Context) error {
	res, err := c.docker(ctx, dockerOpTimeout, "stop", c.name)
	if err != nil {
		return fmt.Errorf("stop container %s: %w", c.name, err)
	}
	if res.ExitCode != 0 && !isNoSuchContainer(res.Stderr) {
		return fmt.Errorf("stop container %s: %s", c.name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Remove force-removes the container and its anonymous volumes. The host
// workspace directory is left in place; project deletion erases it
// separately.
func (c *containerSandbox) Remove(ctx context.Context) error {
	res, err := c.docker(ctx, dockerOpTimeout, "rm", "-f", "-v", c.name)
	if err != nil {
		return fmt.Errorf("remove container %s: %w", c.name, err)
	}
	if res.ExitCode != 0 && !isNoSuchContainer(res.Stderr) {
		return fmt.Errorf("remove container %s: %s", c.name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Status reports container state plus live resource usage when running.
func (c *containerSandbox) Status(ctx context.Context) (*Status, error) {
	res, err := c.docker(ctx, dockerOpTimeout, "inspect", "--format", "{{json .}}", c.name)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", c.name, err)
	}
	if res.ExitCode != 0 {
		if isNoSuchContainer(res.Stderr) {
			return &Status{State: StateMissing}, nil
		}
		return nil, fmt.Errorf("inspect container %s: %s", c.name, strings.TrimSpace(res.Stderr))
	}

	var info dockerInspect
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, fmt.Errorf("parse inspect output for %s: %w", c.name, err)
	}

	status := &Status{
		State: info.State.Status,
		Ports: portsFromInspect(info.NetworkSettings.Ports),
	}
	if info.State.Status == StateRunning && !info.State.StartedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(info.State.StartedAt).Seconds())
	}
	if info.State.Status == StateRunning {
		c.fillStats(ctx, status)
	}
	return status, nil
}

// fillStats adds CPU and memory usage. Stats failures degrade to zeros
// rather than failing the whole status call.
func (c *containerSandbox) fillStats(ctx context.Context, status *Status) {
	res, err := c.docker(ctx, dockerOpTimeout, "stats", "--no-stream", "--format", "{{json .}}", c.name)
	if err != nil || res.ExitCode != 0 {
		c.logger.Warn("container stats unavailable", "error", err, "exit_code", res.ExitCode)
		return
	}
	var stats dockerStats
	if err := json.Unmarshal([]byte(res.Stdout), &stats); err != nil {
		c.logger.Warn("container stats unparseable", "error", err)
		return
	}
	status.CPUPct = parsePercent(stats.CPUPerc)
	status.MemoryBytes = parseMemUsage(stats.MemUsage)
}

// state resolves the container's lifecycle state for acquire decisions.
func (c *containerSandbox) state(ctx context.Context) (string, error) {
	res, err := c.docker(ctx, dockerOpTimeout, "inspect", "--format", "{{.State.Status}}", c.name)
	if err != nil {
		return "", fmt.Errorf("inspect container %s: %w", c.name, err)
	}
	if res.ExitCode != 0 {
		if isNoSuchContainer(res.Stderr) {
			return StateMissing, nil
		}
		return "", fmt.Errorf("inspect container %s: %s", c.name, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// create provisions the container with the workspace bind mount and
// resource caps, idling on tail so it stays up between execs.
func (c *containerSandbox) create(ctx context.Context) error {
	absDir, err := filepath.Abs(c.hostDir)
	if err != nil {
		return fmt.Errorf("resolve workspace dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}

	args := []string{
		"run", "-d",
		"--name", c.name,
		"--memory", c.cfg.MemoryLimit,
		"--cpus", strconv.FormatFloat(c.cfg.CPULimit, 'f', -1, 64),
		"--label", "yokeflow.project=" + c.projectID,
		"-v", absDir + ":/workspace",
		"-w", "/workspace",
		c.cfg.Image,
		"tail", "-f", "/dev/null",
	}
	res, err := c.docker(ctx, createTimeout, args...)
	if err != nil {
		return fmt.Errorf("create container %s: %w", c.name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("create container %s: %s", c.name, strings.TrimSpace(res.Stderr))
	}
	c.logger.Info("container created", "image", c.cfg.Image, "workspace", absDir)
	return nil
}

func (c *containerSandbox) start(ctx context.Context) error {
	res, err := c.docker(ctx, dockerOpTimeout, "start", c.name)
	if err != nil {
		return fmt.Errorf("start container %s: %w", c.name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("start container %s: %s", c.name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// runSetup executes the workspace's setup script inside the container when
// one exists. Missing script is not an error.
func (c *containerSandbox) runSetup(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(c.hostDir, setupScript)); err != nil {
		return nil
	}
	c.logger.Info("running workspace setup script")
	res, err := c.run(ctx, ExecRequest{Command: "sh ./" + setupScript, Timeout: setupTimeout})
	if err != nil {
		return fmt.Errorf("run setup script: %w", err)
	}
	if res.TimedOut {
		return fmt.Errorf("setup script timed out after %s", setupTimeout)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("setup script exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// docker invokes the docker CLI without blocklist or output callbacks.
func (c *containerSandbox) docker(ctx context.Context, timeout time.Duration, args ...string) (*ExecResult, error) {
	return runCommand(ctx, commandSpec{
		argv:      append([]string{"docker"}, args...),
		timeout:   timeout,
		grace:     c.execCfg.SigtermGrace(),
		maxOutput: c.execCfg.MaxOutputBytes,
	})
}

func isNoSuchContainer(stderr string) bool {
	return strings.Contains(stderr, "No such object") || strings.Contains(stderr, "No such container")
}

// dockerInspect holds the subset of `docker inspect` output Status reads.
type dockerInspect struct {
	State struct {
		Status    string    `json:"Status"`
		StartedAt time.Time `json:"StartedAt"`
	} `json:"State"`
	NetworkSettings struct {
		Ports map[string]json.RawMessage `json:"Ports"`
	} `json:"NetworkSettings"`
}

// dockerStats holds the subset of `docker stats` output Status reads.
type dockerStats struct {
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
}

// portsFromInspect extracts container-side port numbers from inspect's
// Ports map, whose keys look like "3000/tcp".
func portsFromInspect(ports map[string]json.RawMessage) []int {
	var out []int
	for key := range ports {
		numStr, _, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(numStr); err == nil {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// parsePercent converts docker's "12.34%" to a float.
func parsePercent(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseMemUsage converts the used portion of docker's "12.3MiB / 3GiB" to
// bytes.
func parseMemUsage(s string) int64 {
	used, _, _ := strings.Cut(s, "/")
	return parseSize(strings.TrimSpace(used))
}

var sizeUnits = map[string]float64{
	"b":   1,
	"kb":  1000,
	"kib": 1 << 10,
	"mb":  1000 * 1000,
	"mib": 1 << 20,
	"gb":  1000 * 1000 * 1000,
	"gib": 1 << 30,
	"tb":  1000 * 1000 * 1000 * 1000,
	"tib": 1 << 40,
}

// parseSize converts a docker size string like "12.3MiB" to bytes.
func parseSize(s string) int64 {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if i <= 0 {
		return 0
	}
	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0
	}
	mult, ok := sizeUnits[strings.ToLower(strings.TrimSpace(s[i:]))]
	if !ok {
		return 0
	}
	return int64(value * mult)
}
