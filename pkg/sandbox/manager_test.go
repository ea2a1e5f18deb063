package sandbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/models"
)

func newTestManager(t *testing.T, blockedCommands ...string) *Manager {
	t.Helper()
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			Type:          config.SandboxTypeNone,
			WorkspaceRoot: t.TempDir(),
		},
		Security:  config.SecurityConfig{AdditionalBlockedCommands: blockedCommands},
		Execution: config.DefaultExecutionConfig(),
	}
	return NewManager(cfg, slog.Default())
}

func TestManagerAcquireCreatesWorkspace(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sb, err := m.Acquire(ctx, "proj-1", "Todo App", "sess-1", models.SessionTypeCoding)
	require.NoError(t, err)

	dir := filepath.Join(m.cfg.Sandbox.WorkspaceRoot, "todo-app")
	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, sb.Name())
}

func TestManagerAcquireConflict(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "proj-1", "app", "sess-a", models.SessionTypeCoding)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "proj-1", "app", "sess-b", models.SessionTypeCoding)
	assert.ErrorIs(t, err, ErrSandboxBusy)
}

func TestManagerReacquireSameSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "proj-1", "app", "sess-a", models.SessionTypeCoding)
	require.NoError(t, err)

	second, err := m.Acquire(ctx, "proj-1", "app", "sess-a", models.SessionTypeCoding)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestManagerReleaseAllowsNewOwner(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "proj-1", "app", "sess-a", models.SessionTypeCoding)
	require.NoError(t, err)

	// Release by a non-owner is ignored.
	m.Release("proj-1", "sess-b")
	_, err = m.Acquire(ctx, "proj-1", "app", "sess-b", models.SessionTypeCoding)
	assert.ErrorIs(t, err, ErrSandboxBusy)

	m.Release("proj-1", "sess-a")
	_, err = m.Acquire(ctx, "proj-1", "app", "sess-b", models.SessionTypeCoding)
	assert.NoError(t, err)
}

func TestManagerStopAndRemoveConflictWhileOwned(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "proj-1", "app", "sess-a", models.SessionTypeCoding)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Stop(ctx, "proj-1", "app"), ErrSandboxBusy)
	assert.ErrorIs(t, m.Remove(ctx, "proj-1", "app"), ErrSandboxBusy)

	m.Release("proj-1", "sess-a")
	assert.NoError(t, m.Stop(ctx, "proj-1", "app"))
	assert.NoError(t, m.Remove(ctx, "proj-1", "app"))
}

func TestManagerInitializerRunsSetupScript(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	dir := filepath.Join(m.cfg.Sandbox.WorkspaceRoot, "init-project")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	script := "#!/bin/sh\ntouch setup-ran.marker\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, setupScript), []byte(script), 0o755))

	_, err := m.Acquire(ctx, "proj-1", "Init Project", "sess-1", models.SessionTypeInitializer)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "setup-ran.marker"))
	assert.NoError(t, statErr)
}

func TestManagerExecuteEnforcesBlocklist(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sb, err := m.Acquire(ctx, "proj-1", "app", "sess-1", models.SessionTypeCoding)
	require.NoError(t, err)

	res, err := sb.Execute(ctx, ExecRequest{Command: "sudo ls"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsBlocked(err))

	res, err = sb.ExecutePrivileged(ctx, ExecRequest{Command: "echo privileged"})
	require.NoError(t, err)
	assert.Equal(t, "privileged\n", res.Stdout)
}

func TestManagerExecuteRunsInWorkspace(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sb, err := m.Acquire(ctx, "proj-1", "app", "sess-1", models.SessionTypeCoding)
	require.NoError(t, err)

	res, err := sb.Execute(ctx, ExecRequest{Command: "touch created-here.txt"})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	_, statErr := os.Stat(filepath.Join(sb.Name(), "created-here.txt"))
	assert.NoError(t, statErr)
}

func TestManagerAdditionalBlockedCommands(t *testing.T) {
	m := newTestManager(t, "forbidden-tool")
	ctx := context.Background()

	sb, err := m.Acquire(ctx, "proj-1", "app", "sess-1", models.SessionTypeCoding)
	require.NoError(t, err)

	_, err = sb.Execute(ctx, ExecRequest{Command: "forbidden-tool run"})
	require.Error(t, err)

	var blocked *BlockedCommandError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "custom:forbidden-tool", blocked.Rule)
}

func TestManagerStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	status, err := m.Status(ctx, "proj-1", "app")
	require.NoError(t, err)
	assert.Equal(t, StateMissing, status.State)

	_, err = m.Acquire(ctx, "proj-1", "app", "sess-1", models.SessionTypeCoding)
	require.NoError(t, err)

	status, err = m.Status(ctx, "proj-1", "app")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
}
