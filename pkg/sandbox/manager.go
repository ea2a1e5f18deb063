package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/models"
)

// driver extends Sandbox with the lifecycle verbs Acquire uses.
type driver interface {
	Sandbox
	state(ctx context.Context) (string, error)
	create(ctx context.Context) error
	start(ctx context.Context) error
	runSetup(ctx context.Context) error
}

// killTimeout bounds each residual dev-server cleanup command.
const killTimeout = 10 * time.Second

// Manager hands out sandboxes with exclusive per-project ownership. One
// session holds a project's sandbox at a time; acquiring while another
// session holds it fails with ErrSandboxBusy.
type Manager struct {
	cfg       *config.Config
	blocklist *Blocklist
	logger    *slog.Logger

	mu     sync.Mutex
	owners map[string]*ownership
}

type ownership struct {
	sandbox   driver
	sessionID string
}

// NewManager builds a manager from the sandbox, security, and execution
// sections of the configuration.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		blocklist: NewBlocklist(cfg.Security.AdditionalBlockedCommands),
		logger:    logger.With("component", "sandbox_manager"),
		owners:    make(map[string]*ownership),
	}
}

// Acquire prepares a project's sandbox for a session and records the session
// as owner. Initializer sessions start from a freshly created sandbox; other
// session types reuse a running one, start a stopped one, or create a missing
// one, then clear residual dev-server processes. Re-acquiring with the owning
// session returns the same sandbox.
func (m *Manager) Acquire(ctx context.Context, projectID, projectName, sessionID string, sessionType models.SessionType) (Sandbox, error) {
	m.mu.Lock()
	if own, ok := m.owners[projectID]; ok {
		if own.sessionID == sessionID && own.sandbox != nil {
			m.mu.Unlock()
			return own.sandbox, nil
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: project %s held by session %s", ErrSandboxBusy, projectID, own.sessionID)
	}
	// Register before provisioning so a concurrent acquire conflicts instead
	// of racing container creation.
	own := &ownership{sessionID: sessionID}
	m.owners[projectID] = own
	m.mu.Unlock()

	drv := m.newDriver(projectID, projectName)
	if err := m.prepare(ctx, drv, sessionType); err != nil {
		m.mu.Lock()
		delete(m.owners, projectID)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	own.sandbox = drv
	m.mu.Unlock()

	m.logger.Info("sandbox acquired",
		"project_id", projectID,
		"session_id", sessionID,
		"session_type", string(sessionType),
		"sandbox", drv.Name())
	return drv, nil
}

func (m *Manager) prepare(ctx context.Context, drv driver, sessionType models.SessionType) error {
	if sessionType == models.SessionTypeInitializer {
		if err := drv.Remove(ctx); err != nil {
			return fmt.Errorf("remove stale sandbox: %w", err)
		}
		if err := drv.create(ctx); err != nil {
			return err
		}
		return drv.runSetup(ctx)
	}

	state, err := drv.state(ctx)
	if err != nil {
		return err
	}
	switch state {
	case StateMissing:
		if err := drv.create(ctx); err != nil {
			return err
		}
		if err := drv.runSetup(ctx); err != nil {
			return err
		}
	case StateRunning:
	default:
		if err := drv.start(ctx); err != nil {
			return err
		}
	}
	m.killResidualDevServers(ctx, drv)
	return nil
}

// killResidualDevServers terminates dev-server processes left behind by a
// previous session so their ports come free. Container driver only; pkill on
// the host would reach unrelated processes.
func (m *Manager) killResidualDevServers(ctx context.Context, drv driver) {
	if _, ok := drv.(*containerSandbox); !ok {
		return
	}
	for _, pattern := range config.GetBuiltinConfig().DevServerKillPatterns {
		req := ExecRequest{
			Command: fmt.Sprintf("pkill -f %q || true", pattern),
			Timeout: killTimeout,
		}
		if _, err := drv.ExecutePrivileged(ctx, req); err != nil {
			m.logger.Warn("dev-server cleanup command failed", "pattern", pattern, "error", err)
		}
	}
}

// Release drops the session's ownership. The sandbox itself keeps running
// for the next session to reuse.
func (m *Manager) Release(projectID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	own, ok := m.owners[projectID]
	if !ok || own.sessionID != sessionID {
		return
	}
	delete(m.owners, projectID)
}

// Stop halts a project's sandbox outside any session. The orchestrator calls
// this when a project completes.
func (m *Manager) Stop(ctx context.Context, projectID, projectName string) error {
	if err := m.requireUnowned(projectID); err != nil {
		return err
	}
	return m.newDriver(projectID, projectName).Stop(ctx)
}

// Remove force-removes a project's sandbox outside any session. The
// orchestrator calls this before deleting the project's rows.
func (m *Manager) Remove(ctx context.Context, projectID, projectName string) error {
	if err := m.requireUnowned(projectID); err != nil {
		return err
	}
	return m.newDriver(projectID, projectName).Remove(ctx)
}

// Status reports a project's sandbox state without acquiring it.
func (m *Manager) Status(ctx context.Context, projectID, projectName string) (*Status, error) {
	return m.newDriver(projectID, projectName).Status(ctx)
}

func (m *Manager) requireUnowned(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if own, ok := m.owners[projectID]; ok {
		return fmt.Errorf("%w: project %s held by session %s", ErrSandboxBusy, projectID, own.sessionID)
	}
	return nil
}

func (m *Manager) newDriver(projectID, projectName string) driver {
	if m.cfg.Sandbox.Type == config.SandboxTypeNone {
		return newHostSandbox(projectName, m.cfg.Sandbox, m.cfg.Execution, m.blocklist, m.logger)
	}
	return newContainerSandbox(projectID, projectName, m.cfg.Sandbox, m.cfg.Execution, m.blocklist, m.logger)
}
