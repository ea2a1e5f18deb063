package orchestrator

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
)

// Notification publishing. The rows of record are committed before any of
// these run, so failures are logged and dropped rather than propagated.

func (o *Orchestrator) publishProjectStatus(ctx context.Context, project *models.Project, status models.ProjectStatus) {
	payload := events.ProjectStatusPayload{
		BasePayload: events.NewBasePayload(events.EventTypeProjectStatus, project.ID, ""),
		Name:        project.Name,
		Status:      status,
	}
	if err := o.notifier.PublishProjectStatus(ctx, payload); err != nil {
		o.logger.Warn("publishing project status", "project_id", project.ID, "status", status, "error", err)
	}
}

func (o *Orchestrator) publishSessionStatus(ctx context.Context, session *models.Session, status models.SessionStatus, errText string) {
	payload := events.SessionStatusPayload{
		BasePayload:   events.NewBasePayload(events.EventTypeSessionStatus, session.ProjectID, session.ID),
		SessionNumber: session.SessionNumber,
		SessionType:   session.Type,
		Status:        status,
		Error:         errText,
	}
	if err := o.notifier.PublishSessionStatus(ctx, payload); err != nil {
		o.logger.Warn("publishing session status", "session_id", session.ID, "status", status, "error", err)
	}
}

func (o *Orchestrator) publishProgress(ctx context.Context, session *models.Session, up *journalUpdate) {
	taskID := up.taskStarted
	if up.taskCompleted != nil {
		taskID = up.taskCompleted
	}
	payload := events.SessionProgressPayload{
		BasePayload: events.NewBasePayload(events.EventTypeSessionProgress, session.ProjectID, session.ID),
		EpicID:      up.epicID,
		TaskID:      taskID,
		ToolCalls:   up.toolCalls,
		StatusText:  up.statusText,
	}
	if err := o.notifier.PublishSessionProgress(ctx, payload); err != nil {
		o.logger.Warn("publishing session progress", "session_id", session.ID, "error", err)
	}
}

// publishInterventionCreated loads the pause row the monitor recorded and
// surfaces it on the notification plane. Runs after the monitor's pause
// sequence has finished, so auto-recovery's can_auto_resume verdict is in.
func (o *Orchestrator) publishInterventionCreated(ctx context.Context, session *models.Session) {
	paused, err := o.store.UnresolvedForSession(ctx, session.ID)
	if err != nil {
		o.logger.Warn("loading intervention for notification", "session_id", session.ID, "error", err)
		return
	}
	if paused == nil {
		return
	}
	o.publishIntervention(ctx, paused)
}

func (o *Orchestrator) publishIntervention(ctx context.Context, paused *models.PausedSession) {
	stats, err := json.Marshal(paused.RetryStats)
	if err != nil {
		stats = nil
	}
	payload := events.InterventionPayload{
		BasePayload:    events.NewBasePayload(events.EventTypeInterventionCreated, paused.ProjectID, paused.SessionID),
		InterventionID: strconv.FormatInt(paused.ID, 10),
		BlockerType:    paused.PauseType,
		Message:        paused.PauseReason,
		RetryStats:     stats,
		CanAutoResume:  paused.CanAutoResume,
	}
	if err := o.notifier.PublishIntervention(ctx, payload); err != nil {
		o.logger.Warn("publishing intervention", "session_id", paused.SessionID, "error", err)
	}
}

func (o *Orchestrator) publishInterventionResolved(ctx context.Context, paused *models.PausedSession, resolvedBy, notes string) {
	payload := events.InterventionResolvedPayload{
		BasePayload:    events.NewBasePayload(events.EventTypeInterventionResolved, paused.ProjectID, paused.SessionID),
		InterventionID: strconv.FormatInt(paused.ID, 10),
		ResolvedBy:     resolvedBy,
		Resolution:     notes,
	}
	if err := o.notifier.PublishInterventionResolved(ctx, payload); err != nil {
		o.logger.Warn("publishing intervention resolution", "intervention_id", paused.ID, "error", err)
	}
}

func (o *Orchestrator) publishReviewCompleted(ctx context.Context, projectID string, review *models.CompletionReview) {
	score := review.OverallScore
	payload := events.ReviewCompletedPayload{
		BasePayload:    events.NewBasePayload(events.EventTypeReviewCompleted, projectID, ""),
		ReviewKind:     "completion",
		QualityScore:   &score,
		Recommendation: review.Recommendation,
	}
	if err := o.notifier.PublishReviewCompleted(ctx, payload); err != nil {
		o.logger.Warn("publishing review completion", "project_id", projectID, "error", err)
	}
}
