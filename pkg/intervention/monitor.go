// Package intervention watches a session's event stream for signs the agent
// is stuck or cutting corners and pauses the session before more work is
// wasted. Three automatic triggers: the same command failing repeatedly, a
// known critical error pattern in command output, and repeated rejected task
// completions. A pause checkpoints the session, records a PausedSession row,
// and may run one auto-recovery command for known blockers.
package intervention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
)

const (
	// pauseTimeout bounds the whole pause sequence, auto-recovery included.
	pauseTimeout = 60 * time.Second
	// recoveryTimeout bounds a single recovery command.
	recoveryTimeout = 30 * time.Second
)

// Store is the slice of the persistence layer the monitor writes through.
// *store.Store satisfies it.
type Store interface {
	CreatePausedSession(ctx context.Context, paused *models.PausedSession) (*models.PausedSession, error)
	MarkSessionPaused(ctx context.Context, id string) error
	UpdateProjectStatus(ctx context.Context, id string, status models.ProjectStatus) error
	AppendProgressNote(ctx context.Context, id, note string) error
	SetAutoResume(ctx context.Context, id int64, canAutoResume bool, outcome string) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListTaskTests(ctx context.Context, projectID string, taskID int) ([]models.Test, error)
}

// Executor runs auto-recovery commands. It is the privileged exec path of
// the session's sandbox, so recovery bypasses the command blocklist.
type Executor interface {
	ExecutePrivileged(ctx context.Context, req sandbox.ExecRequest) (*sandbox.ExecResult, error)
}

// Hooks are callbacks into the session loop. Checkpoint captures resumable
// state before the pause is recorded; Terminate asks the runner to stop
// after it. Either may be nil.
type Hooks struct {
	Checkpoint func(ctx context.Context, t models.CheckpointType) error
	Terminate  func()
}

// Monitor is the per-session intervention engine. It consumes the session's
// event stream, keeps retry and violation counters, and owns the pause
// sequence. One instance per session; the counters die with it, so a resumed
// session starts clean.
type Monitor struct {
	logger    *slog.Logger
	cfg       config.InterventionConfig
	store     Store
	sandbox   Executor
	bus       *events.StreamBus
	projectID string
	sessionID string
	hooks     Hooks
	patterns  []*criticalPattern

	mu            sync.Mutex
	retries       *retryTracker
	pendingBash   map[string]string
	currentTaskID *int
	violations    int
	paused        bool

	pauseWG sync.WaitGroup
}

// NewMonitor builds a monitor for one session.
func NewMonitor(logger *slog.Logger, cfg config.InterventionConfig, st Store, exec Executor, bus *events.StreamBus, projectID, sessionID string, hooks Hooks) *Monitor {
	return &Monitor{
		logger:      logger.With("component", "intervention_monitor", "session_id", sessionID),
		cfg:         cfg,
		store:       st,
		sandbox:     exec,
		bus:         bus,
		projectID:   projectID,
		sessionID:   sessionID,
		hooks:       hooks,
		patterns:    compilePatterns(logger, config.GetBuiltinConfig().CriticalErrorPatterns),
		retries:     newRetryTracker(),
		pendingBash: make(map[string]string),
	}
}

// Run consumes events until the channel closes. The orchestrator runs it in
// its own goroutine on a subscription of the session's stream bus.
func (m *Monitor) Run(ctx context.Context, ch <-chan events.StreamEvent) {
	for ev := range ch {
		m.Observe(ctx, ev)
	}
}

// Wait blocks until any in-flight pause sequence has finished. The
// orchestrator calls it before closing the stream bus so the pause
// notification is not dropped.
func (m *Monitor) Wait() {
	m.pauseWG.Wait()
}

// Paused reports whether a pause has been triggered for this session.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// RequestPause pauses the session on an operator's or the orchestrator's
// behalf. The pause runs asynchronously; callers observe completion through
// the session status or Wait.
func (m *Monitor) RequestPause(ctx context.Context, reason string) {
	m.triggerPause(ctx, models.PauseTypeManual, reason, models.BlockerInfo{}, nil)
}

// Observe applies one stream event to the monitor's counters and triggers a
// pause when a threshold is crossed. It never blocks on the pause itself.
func (m *Monitor) Observe(ctx context.Context, ev events.StreamEvent) {
	switch ev.Kind {
	case events.StreamToolUse:
		m.onToolUse(ev)
	case events.StreamToolResult:
		m.onToolResult(ctx, ev)
	case events.StreamError:
		m.checkCritical(ctx, ev.Message, "")
	}
}

func (m *Monitor) onToolUse(ev events.StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Tool {
	case "bash":
		var in struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(ev.Input, &in); err != nil || in.Command == "" {
			return
		}
		if ev.RequestID != "" {
			m.pendingBash[ev.RequestID] = in.Command
		}
	case "start_task":
		var in struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(ev.Input, &in); err != nil {
			return
		}
		id := in.ID
		m.currentTaskID = &id
	}
}

// onToolResult tracks bash outcomes. Only bash results feed the retry
// counters and the critical-pattern scan: query results legitimately echo
// stored error text (a task's last_error, say) and must not trip a pause.
func (m *Monitor) onToolResult(ctx context.Context, ev events.StreamEvent) {
	m.mu.Lock()
	cmd, isBash := m.pendingBash[ev.RequestID]
	if isBash {
		delete(m.pendingBash, ev.RequestID)
	}
	m.mu.Unlock()

	if !isBash {
		return
	}

	if ev.IsError {
		m.onBashFailure(ctx, cmd, ev.Text)
		return
	}

	// The RPC succeeded, but the command itself may still have failed.
	var res sandbox.ExecResult
	if err := json.Unmarshal([]byte(ev.Text), &res); err != nil {
		return
	}
	if res.ExitCode == 0 && !res.TimedOut {
		m.mu.Lock()
		m.retries.succeed(cmd)
		m.mu.Unlock()
		return
	}
	m.onBashFailure(ctx, cmd, res.Stdout+"\n"+res.Stderr)
}

func (m *Monitor) onBashFailure(ctx context.Context, cmd, output string) {
	m.mu.Lock()
	count := m.retries.fail(cmd)
	limit := m.cfg.RetryLimit
	m.mu.Unlock()

	if m.checkCritical(ctx, output, cmd) {
		return
	}

	if count > limit {
		m.triggerPause(ctx, models.PauseTypeRetryLimit,
			fmt.Sprintf("command failed %d consecutive times: %s", count, normalizeCommand(cmd)),
			models.BlockerInfo{Command: cmd}, nil)
	}
}

// checkCritical scans text against the critical-pattern registry and pauses
// on a match. It reports whether a pattern matched.
func (m *Monitor) checkCritical(ctx context.Context, text, cmd string) bool {
	p, matched := matchCritical(m.patterns, text)
	if p == nil {
		return false
	}
	m.triggerPause(ctx, models.PauseTypeCriticalError,
		fmt.Sprintf("critical error detected: %s", p.name),
		models.BlockerInfo{Pattern: p.name, MatchedText: matched, Command: cmd}, p)
	return true
}

// triggerPause flips the session into the paused state and runs the pause
// sequence in its own goroutine. The monitor consumes the same bus it
// publishes notifications to, so the sequence must not run on the Observe
// path: a Publish there could block on the monitor's own full subscription
// buffer. Only the first trigger wins; later ones are no-ops.
func (m *Monitor) triggerPause(ctx context.Context, pauseType models.PauseType, reason string, blocker models.BlockerInfo, pattern *criticalPattern) {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = true
	blocker.CurrentTaskID = m.currentTaskID
	stats := models.RetryStats{
		Counts:     m.retries.snapshot(),
		Limit:      m.cfg.RetryLimit,
		Violations: m.violations,
	}
	m.mu.Unlock()

	m.logger.Warn("pausing session",
		"pause_type", string(pauseType),
		"reason", reason)

	// Detached from the session context: teardown must not abort the
	// bookkeeping that records why teardown happened.
	m.pauseWG.Add(1)
	go func() {
		defer m.pauseWG.Done()
		m.pause(context.WithoutCancel(ctx), pauseType, reason, blocker, stats, pattern)
	}()
}

func (m *Monitor) pause(ctx context.Context, pauseType models.PauseType, reason string, blocker models.BlockerInfo, stats models.RetryStats, pattern *criticalPattern) {
	ctx, cancel := context.WithTimeout(ctx, pauseTimeout)
	defer cancel()

	if m.hooks.Checkpoint != nil {
		if err := m.hooks.Checkpoint(ctx, models.CheckpointPreBlocker); err != nil {
			m.logger.Error("checkpoint before pause failed", "error", err)
		}
	}

	paused, err := m.store.CreatePausedSession(ctx, &models.PausedSession{
		SessionID:   m.sessionID,
		ProjectID:   m.projectID,
		PauseReason: reason,
		PauseType:   pauseType,
		BlockerInfo: blocker,
		RetryStats:  stats,
	})
	if err != nil {
		m.logger.Error("recording paused session failed", "error", err)
		return
	}

	if err := m.store.MarkSessionPaused(ctx, m.sessionID); err != nil {
		m.logger.Error("marking session paused failed", "error", err)
	}
	if err := m.store.UpdateProjectStatus(ctx, m.projectID, models.ProjectStatusPaused); err != nil {
		m.logger.Error("marking project paused failed", "error", err)
	}

	if m.hooks.Terminate != nil {
		m.hooks.Terminate()
	}

	note := fmt.Sprintf("BLOCKER [%s]: %s", pauseType, reason)
	if err := m.store.AppendProgressNote(ctx, m.projectID, note); err != nil {
		m.logger.Error("appending blocker note failed", "error", err)
	}

	m.bus.Publish(events.StreamEvent{
		Kind:    events.StreamNotification,
		Subtype: string(pauseType),
		Message: reason,
		Fields: map[string]any{
			"project_id":   m.projectID,
			"session_id":   m.sessionID,
			"blocker_type": string(pauseType),
			"message":      reason,
			"retry_stats":  stats,
		},
		At: time.Now(),
	})

	if pattern != nil && pattern.recovery != "" && m.cfg.AutoRecovery {
		m.attemptRecovery(ctx, paused.ID, pattern, blocker)
	}
}

// attemptRecovery runs the recovery rule for the matched pattern, at most
// once per pause. Success flips can_auto_resume on the PausedSession row.
// Every attempt, including ones that never ran a command, is published as an
// intervention_action event.
func (m *Monitor) attemptRecovery(ctx context.Context, pausedID int64, pattern *criticalPattern, blocker models.BlockerInfo) {
	fields := map[string]any{
		"pattern":      pattern.name,
		"rule":         pattern.recovery,
		"matched_text": blocker.MatchedText,
	}

	command, err := recoveryCommand(pattern.recovery, blocker.MatchedText)
	if err != nil {
		m.logger.Warn("auto recovery skipped",
			"pattern_name", pattern.name,
			"error", err)
		fields["outcome"] = "skipped: " + err.Error()
		fields["succeeded"] = false
		m.publishAction(pattern.recovery, fields)
		return
	}
	fields["command"] = command

	var outcome string
	succeeded := false
	res, execErr := m.sandbox.ExecutePrivileged(ctx, sandbox.ExecRequest{
		Command: command,
		Timeout: recoveryTimeout,
	})
	switch {
	case execErr != nil:
		outcome = "recovery command failed: " + execErr.Error()
	case res.TimedOut:
		outcome = "recovery command timed out"
	case res.ExitCode != 0:
		outcome = fmt.Sprintf("recovery command exited %d", res.ExitCode)
	default:
		outcome = "recovery command succeeded"
		succeeded = true
	}

	if succeeded {
		if err := m.store.SetAutoResume(ctx, pausedID, true, outcome); err != nil {
			m.logger.Error("setting auto resume failed", "error", err)
		}
	}

	m.logger.Info("auto recovery attempted",
		"pattern_name", pattern.name,
		"rule", pattern.recovery,
		"succeeded", succeeded)

	fields["outcome"] = outcome
	fields["succeeded"] = succeeded
	m.publishAction(pattern.recovery, fields)
}

func (m *Monitor) publishAction(rule string, fields map[string]any) {
	m.bus.Publish(events.StreamEvent{
		Kind:    events.StreamInterventionAction,
		Subtype: rule,
		Fields:  fields,
		At:      time.Now(),
	})
}
