package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/intervention"
	"github.com/yokeflow/yokeflow/pkg/metrics"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
	"github.com/yokeflow/yokeflow/pkg/store"
	"github.com/yokeflow/yokeflow/pkg/telemetry"
	"github.com/yokeflow/yokeflow/pkg/tools"
)

// sessionOutcome classifies how a session ended for the loop's continuation
// decision.
type sessionOutcome string

const (
	outcomeCompleted sessionOutcome = "completed"
	outcomePaused    sessionOutcome = "paused"
	outcomeCancelled sessionOutcome = "cancelled"
	outcomeError     sessionOutcome = "error"
)

// runLoop walks one project's session loop until something breaks the chain.
// Only completed sessions continue; a pause, cancellation or crash leaves
// the next move to the operator.
func (o *Orchestrator) runLoop(ctx context.Context, project *models.Project, session *models.Session, prompt string, autoContinue bool) {
	logger := o.logger.With("project_id", project.ID)

	for {
		outcome, summary := o.runSession(ctx, project, session, prompt)
		logger.Info("session finished",
			"session_id", session.ID,
			"session_number", session.SessionNumber,
			"session_type", session.Type,
			"outcome", outcome)

		if outcome != outcomeCompleted {
			return
		}

		if session.Type != models.SessionTypeRetest {
			final := false
			if autoContinue {
				pending, err := o.store.CountPendingTasks(ctx, project.ID)
				if err != nil {
					logger.Error("counting pending tasks", "error", err)
				} else {
					final = pending == 0
				}
			}
			o.quality.OnSessionEnd(ctx, session, summary, final)
		}

		if !autoContinue {
			return
		}

		// A due retest runs in its own session before coding continues.
		if session.Type == models.SessionTypeCoding {
			if next, nextPrompt := o.planRetest(ctx, project, session.Model); next != nil {
				session, prompt = next, nextPrompt
				continue
			}
		}

		fresh, stopped, err := o.stopRequested(ctx, project.ID)
		if err != nil {
			logger.Error("loading project", "error", err)
			return
		}
		project = fresh
		if stopped {
			logger.Info("stop honored, auto-continue halted")
			return
		}

		pending, err := o.store.CountPendingTasks(ctx, project.ID)
		if err != nil {
			logger.Error("counting pending tasks", "error", err)
			return
		}
		if pending == 0 {
			o.completeProject(ctx, project)
			return
		}

		select {
		case <-time.After(o.cfg.Timing.AutoContinueDelay()):
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		}

		fresh, stopped, err = o.stopRequested(ctx, project.ID)
		if err != nil {
			logger.Error("loading project", "error", err)
			return
		}
		project = fresh
		if stopped {
			logger.Info("stop honored, auto-continue halted")
			return
		}

		next, err := o.store.BeginSession(ctx, store.CreateSessionParams{
			ProjectID: project.ID,
			Type:      models.SessionTypeCoding,
			Model:     session.Model,
			Owner:     o.owner,
		})
		if err != nil {
			logger.Error("starting next coding session", "error", err)
			return
		}
		o.announceSession(ctx, next)
		logger.Info("auto-continue",
			"session_id", next.ID,
			"session_number", next.SessionNumber,
			"pending_tasks", pending)
		session, prompt = next, codingPrompt(project)
	}
}

// runSession hosts one agent run from sandbox acquisition to the terminal
// status write. Returns how the session ended and the metrics summary
// folded from its stream.
func (o *Orchestrator) runSession(ctx context.Context, project *models.Project, session *models.Session, prompt string) (sessionOutcome, *models.MetricsSummary) {
	logger := o.logger.With(
		"project_id", project.ID,
		"session_id", session.ID,
		"session_number", session.SessionNumber,
		"session_type", session.Type)
	started := time.Now()

	sb, err := o.acquireSandbox(ctx, project, session)
	if err != nil {
		logger.Error("sandbox unavailable", "error", err)
		outcome := o.pauseForFailure(ctx, logger, project, session, fmt.Sprintf("sandbox unavailable: %v", err))
		o.tel.RecordSessionEnd(string(session.Type), string(outcome), time.Since(started))
		return outcome, nil
	}
	defer o.sandboxes.Release(project.ID, session.ID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := events.NewStreamBus()
	collector := metrics.NewCollector(logger)
	observer := telemetry.NewStreamObserver(o.tel)
	journal := newSessionJournal()

	checkpoint := func(cpCtx context.Context, t models.CheckpointType) error {
		payload, lastTask := journal.snapshot()
		_, err := o.store.SaveCheckpoint(cpCtx, &models.Checkpoint{
			SessionID:  session.ID,
			Type:       t,
			Payload:    payload,
			LastTaskID: lastTask,
		})
		return err
	}

	monitor := intervention.NewMonitor(logger, o.cfg.Intervention, o.store, sb, bus, project.ID, session.ID, intervention.Hooks{
		Checkpoint: checkpoint,
		Terminate:  cancel,
	})
	o.registerSession(session.ID, cancel, monitor)
	defer o.unregisterSession(session.ID)

	service := tools.NewService(logger, o.store, sb, bus, monitor, o.retests, o.notifier, tools.SessionInfo{
		ProjectID: project.ID,
		SessionID: session.ID,
		Type:      session.Type,
		EpicGate: store.EpicGate{
			Autonomous:       o.cfg.EpicTesting.Mode == config.EpicTestingAutonomous,
			FailureTolerance: o.cfg.EpicTesting.AutoFailureTolerance,
		},
	})

	var consumers sync.WaitGroup

	monitorCh := bus.Subscribe(streamBuffer)
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		monitor.Run(runCtx, monitorCh)
	}()

	collectCh := bus.Subscribe(streamBuffer)
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		for ev := range collectCh {
			collector.Observe(ev)
			observer.Observe(ev)
		}
	}()

	watchCh := bus.Subscribe(streamBuffer)
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		o.watchSession(runCtx, watchCh, session, journal, checkpoint)
	}()

	consumers.Add(1)
	go func() {
		defer consumers.Done()
		o.heartbeatLoop(runCtx, session.ID, cancel)
	}()

	result, runErr := o.agents.Run(runCtx, runner.RunRequest{
		SessionID: session.ID,
		ProjectID: project.ID,
		Model:     session.Model,
		Prompt:    prompt,
		Bus:       bus,
		Tools:     service,
	})
	cancel()
	consumers.Wait()
	monitor.Wait()

	if result != nil {
		logger.Info("agent run finished", "reason", result.Reason, "exit_code", result.ExitCode)
	}

	summary := collector.Summary()
	outcome := o.finishSession(ctx, logger, session, summary, runErr, monitor.Paused())
	o.tel.RecordSessionEnd(string(session.Type), string(outcome), time.Since(started))

	if _, err := o.store.PruneCheckpoints(context.WithoutCancel(ctx), session.ID, checkpointKeep); err != nil {
		logger.Warn("pruning checkpoints", "error", err)
	}
	return outcome, summary
}

// finishSession writes the terminal row. Writes run on a detached context:
// the session context is often already cancelled here, and a terminal
// status that never lands strands the row until the orphan sweep.
func (o *Orchestrator) finishSession(ctx context.Context, logger *slog.Logger, session *models.Session, summary *models.MetricsSummary, runErr error, paused bool) sessionOutcome {
	endCtx := context.WithoutCancel(ctx)

	switch {
	case paused:
		// The monitor already paused the row and the project. Fill in the
		// metrics gathered so far and surface the intervention.
		if err := o.store.SaveSessionMetrics(endCtx, session.ID, summary); err != nil {
			logger.Warn("saving metrics for paused session", "error", err)
		}
		o.publishInterventionCreated(endCtx, session)
		o.publishSessionStatus(endCtx, session, models.SessionStatusPaused, "")
		return outcomePaused

	case runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		if err := o.store.EndSession(endCtx, session.ID, models.SessionStatusCancelled, summary, nil); err != nil {
			logger.Error("ending cancelled session", "error", err)
		}
		o.publishSessionStatus(endCtx, session, models.SessionStatusCancelled, "")
		return outcomeCancelled

	case runErr != nil:
		msg := runErr.Error()
		if err := o.store.EndSession(endCtx, session.ID, models.SessionStatusError, summary, &msg); err != nil {
			logger.Error("ending crashed session", "error", err)
		}
		o.publishSessionStatus(endCtx, session, models.SessionStatusError, msg)
		return outcomeError

	default:
		if err := o.store.EndSession(endCtx, session.ID, models.SessionStatusCompleted, summary, nil); err != nil {
			logger.Error("ending session", "error", err)
		}
		o.publishSessionStatus(endCtx, session, models.SessionStatusCompleted, "")
		return outcomeCompleted
	}
}

// pauseForFailure records a critical-error pause for a session that could
// not run at all. Mirrors the monitor's pause sequence minus checkpoint and
// auto-recovery: there is no stream to checkpoint and no sandbox to recover
// with.
func (o *Orchestrator) pauseForFailure(ctx context.Context, logger *slog.Logger, project *models.Project, session *models.Session, reason string) sessionOutcome {
	ctx = context.WithoutCancel(ctx)

	paused, err := o.store.CreatePausedSession(ctx, &models.PausedSession{
		SessionID:   session.ID,
		ProjectID:   project.ID,
		PauseReason: reason,
		PauseType:   models.PauseTypeCriticalError,
	})
	if err != nil {
		logger.Error("recording pause, failing the session instead", "error", err)
		msg := reason
		if endErr := o.store.EndSession(ctx, session.ID, models.SessionStatusError, nil, &msg); endErr != nil {
			logger.Error("ending session", "error", endErr)
		}
		o.publishSessionStatus(ctx, session, models.SessionStatusError, reason)
		return outcomeError
	}

	if err := o.store.MarkSessionPaused(ctx, session.ID); err != nil {
		logger.Error("marking session paused", "error", err)
	}
	if err := o.store.UpdateProjectStatus(ctx, project.ID, models.ProjectStatusPaused); err != nil {
		logger.Error("marking project paused", "error", err)
	}
	note := fmt.Sprintf("BLOCKER [%s]: %s", paused.PauseType, paused.PauseReason)
	if err := o.store.AppendProgressNote(ctx, project.ID, note); err != nil {
		logger.Warn("appending progress note", "error", err)
	}
	o.publishIntervention(ctx, paused)
	o.publishSessionStatus(ctx, session, models.SessionStatusPaused, "")
	o.publishProjectStatus(ctx, project, models.ProjectStatusPaused)
	return outcomePaused
}

// watchSession keeps the checkpoint cadence, one checkpoint per completed
// task plus interval checkpoints while anything changed, and publishes live
// progress on task boundaries.
func (o *Orchestrator) watchSession(ctx context.Context, ch <-chan events.StreamEvent, session *models.Session, journal *sessionJournal, checkpoint func(context.Context, models.CheckpointType) error) {
	logger := o.logger.With("session_id", session.ID)
	writeCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(o.cfg.Timing.CheckpointInterval())
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			up := journal.observe(ev)
			if up == nil {
				continue
			}
			if up.taskCompleted != nil {
				if err := checkpoint(writeCtx, models.CheckpointTaskCompletion); err != nil {
					logger.Warn("checkpoint write failed", "error", err)
				}
			}
			o.publishProgress(writeCtx, session, up)

		case <-ticker.C:
			if !journal.dirty() {
				continue
			}
			if err := checkpoint(writeCtx, models.CheckpointPeriodic); err != nil {
				logger.Warn("checkpoint write failed", "error", err)
			}
		}
	}
}

// heartbeatLoop stamps the session's liveness column. A false return from
// the store means something else ended or paused the row, so the agent must
// stop.
func (o *Orchestrator) heartbeatLoop(ctx context.Context, sessionID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(o.cfg.Timing.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive, err := o.store.Heartbeat(ctx, sessionID)
			if err != nil {
				o.logger.Warn("session heartbeat failed", "session_id", sessionID, "error", err)
				continue
			}
			if !alive {
				o.logger.Warn("session row no longer running, stopping its agent", "session_id", sessionID)
				cancel()
				return
			}
		}
	}
}

// acquireSandbox gets the project sandbox with a single spaced retry. A
// sandbox owned by another session is not retried; that resolves by the
// other session ending, not by waiting two seconds.
func (o *Orchestrator) acquireSandbox(ctx context.Context, project *models.Project, session *models.Session) (sandbox.Sandbox, error) {
	var sb sandbox.Sandbox
	op := func() error {
		acquired, err := o.sandboxes.Acquire(ctx, project.ID, project.Name, session.ID, session.Type)
		if err != nil {
			if errors.Is(err, sandbox.ErrSandboxBusy) {
				return backoff.Permanent(err)
			}
			o.logger.Warn("sandbox acquire failed",
				"project_id", project.ID,
				"session_id", session.ID,
				"error", err)
			return err
		}
		sb = acquired
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(sandboxRetryDelay), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return sb, nil
}

// planRetest starts a retest session when the planner says one is due.
// Planning failures never stop the coding loop.
func (o *Orchestrator) planRetest(ctx context.Context, project *models.Project, model string) (*models.Session, string) {
	logger := o.logger.With("project_id", project.ID)

	due, err := o.retests.ShouldTrigger(ctx, project.ID)
	if err != nil {
		logger.Error("evaluating retest trigger", "error", err)
		return nil, ""
	}
	if !due {
		return nil, ""
	}
	candidates, err := o.retests.SelectCandidates(ctx, project.ID)
	if err != nil {
		logger.Error("selecting retest candidates", "error", err)
		return nil, ""
	}
	if len(candidates) == 0 {
		return nil, ""
	}

	session, err := o.store.BeginSession(ctx, store.CreateSessionParams{
		ProjectID: project.ID,
		Type:      models.SessionTypeRetest,
		Model:     model,
		Owner:     o.owner,
	})
	if err != nil {
		logger.Error("starting retest session", "error", err)
		return nil, ""
	}
	o.announceSession(ctx, session)
	logger.Info("retest session planned", "session_id", session.ID, "candidates", len(candidates))
	return session, retestPrompt(project, candidates)
}

// completeProject marks the backlog done, stops the sandbox, and runs the
// completion review. Review failures are logged; the project is complete
// either way.
func (o *Orchestrator) completeProject(ctx context.Context, project *models.Project) {
	logger := o.logger.With("project_id", project.ID)

	if err := o.store.UpdateProjectStatus(ctx, project.ID, models.ProjectStatusCompleted); err != nil {
		logger.Error("marking project completed", "error", err)
		return
	}
	o.publishProjectStatus(ctx, project, models.ProjectStatusCompleted)
	if err := o.sandboxes.Stop(ctx, project.ID, project.Name); err != nil {
		logger.Warn("stopping sandbox", "error", err)
	}
	if _, err := o.TriggerCompletionReview(ctx, project.ID); err != nil {
		logger.Error("completion review failed", "error", err)
	}
	logger.Info("project completed")
}

// stopRequested reloads the project and consumes a pending stop flag.
func (o *Orchestrator) stopRequested(ctx context.Context, projectID string) (*models.Project, bool, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, false, err
	}
	if !project.StopRequested {
		return project, false, nil
	}
	if err := o.store.SetStopRequested(ctx, projectID, false); err != nil {
		o.logger.Error("clearing stop flag", "project_id", projectID, "error", err)
	}
	return project, true, nil
}

// announceSession publishes the running status and counts the start.
func (o *Orchestrator) announceSession(ctx context.Context, session *models.Session) {
	o.tel.RecordSessionStart(string(session.Type))
	o.publishSessionStatus(ctx, session, models.SessionStatusRunning, "")
	o.logger.Info("session started",
		"project_id", session.ProjectID,
		"session_id", session.ID,
		"session_number", session.SessionNumber,
		"session_type", session.Type,
		"model", session.Model)
}
