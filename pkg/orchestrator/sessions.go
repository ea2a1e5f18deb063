package orchestrator

import (
	"context"
	"fmt"

	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/store"
)

// StartCodingOptions tweaks a coding run.
type StartCodingOptions struct {
	// Model overrides the configured coding model. Sessions started later by
	// auto-continue inherit it.
	Model string `json:"model,omitempty"`
}

// Initialize runs the one-time initializer session that turns the source
// spec into a backlog. The loop hosts exactly this session; coding starts
// separately once an operator has looked at the result.
func (o *Orchestrator) Initialize(ctx context.Context, projectID string) (*models.Session, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	loop, err := o.claimLoop(project.ID)
	if err != nil {
		return nil, err
	}
	session, err := o.store.BeginSession(ctx, store.CreateSessionParams{
		ProjectID: project.ID,
		Type:      models.SessionTypeInitializer,
		Model:     o.cfg.Models.ForSessionType(string(models.SessionTypeInitializer)),
		Owner:     o.owner,
	})
	if err != nil {
		o.releaseLoop(project.ID)
		return nil, err
	}

	o.announceSession(ctx, session)
	o.startLoop(loop, project, session, initializerPrompt(project), false)
	return session, nil
}

// StartCoding begins the autonomous coding loop: sessions run back to back
// until the backlog is empty, a blocker pauses the project, or an operator
// stops it.
func (o *Orchestrator) StartCoding(ctx context.Context, projectID string, opts StartCodingOptions) (*models.Session, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = o.cfg.Models.ForSessionType(string(models.SessionTypeCoding))
	}

	loop, err := o.claimLoop(project.ID)
	if err != nil {
		return nil, err
	}
	session, err := o.store.BeginSession(ctx, store.CreateSessionParams{
		ProjectID: project.ID,
		Type:      models.SessionTypeCoding,
		Model:     model,
		Owner:     o.owner,
	})
	if err != nil {
		o.releaseLoop(project.ID)
		return nil, err
	}

	o.announceSession(ctx, session)
	o.startLoop(loop, project, session, codingPrompt(project), true)
	return session, nil
}

// PauseSession asks the running session's intervention monitor for a manual
// pause. The pause completes asynchronously; callers observe it through the
// session status.
func (o *Orchestrator) PauseSession(ctx context.Context, sessionID, reason string) error {
	entry := o.lookupSession(sessionID)
	if entry == nil {
		session, err := o.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: session %s is not active (status %s)", store.ErrConflict, sessionID, session.Status)
	}
	if reason == "" {
		reason = "pause requested by operator"
	}
	entry.monitor.RequestPause(ctx, reason)
	return nil
}

// CancelSession aborts a running session. The agent gets SIGTERM, then
// SIGKILL after the grace period, and the session ends with status
// cancelled.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID string) error {
	entry := o.lookupSession(sessionID)
	if entry == nil {
		session, err := o.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: session %s is not active (status %s)", store.ErrConflict, sessionID, session.Status)
	}
	entry.cancel()
	o.logger.Info("session cancellation requested", "session_id", sessionID)
	return nil
}

// ResumeSession resolves a paused session's intervention and starts its
// replacement: a fresh session whose prompt replays the last checkpoint's
// history plus the operator's resolution notes, linked to the paused row
// through parent_session_id. A paused initializer resumes as another
// initializer so the backlog tools stay available; everything else resumes
// as coding. The new session's monitor starts with clean retry counters.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID, resolvedBy, notes string) (*models.Session, error) {
	paused, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if paused.Status != models.SessionStatusPaused {
		return nil, fmt.Errorf("%w: session %s is %s, only paused sessions resume", store.ErrConflict, sessionID, paused.Status)
	}
	blocker, err := o.store.UnresolvedForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if blocker == nil {
		return nil, fmt.Errorf("%w: session %s has no unresolved intervention", store.ErrConflict, sessionID)
	}
	project, err := o.store.GetProject(ctx, paused.ProjectID)
	if err != nil {
		return nil, err
	}
	cp, err := o.store.LatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sessionType := models.SessionTypeCoding
	if paused.Type == models.SessionTypeInitializer {
		sessionType = models.SessionTypeInitializer
	}
	if resolvedBy == "" {
		resolvedBy = "operator"
	}

	loop, err := o.claimLoop(project.ID)
	if err != nil {
		return nil, err
	}
	session, err := o.store.ResumeSession(ctx, store.CreateSessionParams{
		ProjectID:       project.ID,
		Type:            sessionType,
		Model:           o.cfg.Models.ForSessionType(string(sessionType)),
		Owner:           o.owner,
		ParentSessionID: &paused.ID,
	}, blocker.ID, resolvedBy, notes)
	if err != nil {
		o.releaseLoop(project.ID)
		return nil, err
	}

	o.publishInterventionResolved(ctx, blocker, resolvedBy, notes)
	project.Status = models.ProjectStatusActive
	o.publishProjectStatus(ctx, project, models.ProjectStatusActive)
	o.announceSession(ctx, session)

	o.startLoop(loop, project, session, resumePrompt(project, cp, notes), sessionType == models.SessionTypeCoding)
	o.logger.Info("session resumed",
		"project_id", project.ID,
		"paused_session_id", sessionID,
		"session_id", session.ID,
		"resolved_by", resolvedBy)
	return session, nil
}
