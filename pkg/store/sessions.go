package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yokeflow/yokeflow/pkg/models"
)

const sessionColumns = `id, project_id, session_number, type, status, started_at, ended_at,
	model, metrics, parent_session_id, error_message, owner, heartbeat_at`

// CreateSessionParams carries the fields for a new session row.
type CreateSessionParams struct {
	ProjectID       string
	Type            models.SessionType
	Model           string
	Owner           string
	ParentSessionID *string
}

// CreateSession allocates the next session number and inserts a running
// session. Callers must hold the project lock (AcquireProjectLock) in the
// same transaction; a concurrent running session yields ErrConflict through
// the partial unique index.
func (s *Store) CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, error) {
	if !params.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown session type %q", ErrValidation, params.Type)
	}

	var session models.Session
	err := s.get(ctx, &session, "session",
		`INSERT INTO sessions (id, project_id, session_number, type, status, model, owner, parent_session_id, heartbeat_at)
		 VALUES ($1, $2,
		         (SELECT COALESCE(MAX(session_number), 0) + 1 FROM sessions WHERE project_id = $2),
		         $3, 'running', $4, $5, $6, now())
		 RETURNING `+sessionColumns,
		uuid.NewString(), params.ProjectID, params.Type, params.Model, params.Owner, params.ParentSessionID)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// BeginSession creates the project's next session under the project lock,
// enforcing the lifecycle rules per session type: the initializer runs
// exactly once, coding and retest sessions require a completed initializer,
// and paused or archived projects refuse new sessions. A concurrent running
// session surfaces as ErrConflict through the partial unique index. Starting
// a session on a completed project reactivates it.
func (s *Store) BeginSession(ctx context.Context, params CreateSessionParams) (*models.Session, error) {
	var session *models.Session
	err := s.WithTx(ctx, func(tx *Store) error {
		project, err := tx.AcquireProjectLock(ctx, params.ProjectID)
		if err != nil {
			return err
		}
		switch project.Status {
		case models.ProjectStatusActive, models.ProjectStatusCompleted:
		case models.ProjectStatusPaused:
			return fmt.Errorf("%w: project %s is paused, resume its paused session instead", ErrConflict, project.ID)
		default:
			return fmt.Errorf("%w: project %s is %s", ErrConflict, project.ID, project.Status)
		}

		initialized, err := tx.HasCompletedInitializer(ctx, params.ProjectID)
		if err != nil {
			return err
		}
		if params.Type == models.SessionTypeInitializer && initialized {
			return fmt.Errorf("%w: project %s already has a completed initializer session", ErrConflict, project.ID)
		}
		if params.Type != models.SessionTypeInitializer && !initialized {
			return fmt.Errorf("%w: project %s is not initialized", ErrConflict, project.ID)
		}

		created, err := tx.CreateSession(ctx, params)
		if err != nil {
			return err
		}
		session = created

		if project.Status == models.ProjectStatusCompleted {
			return tx.UpdateProjectStatus(ctx, params.ProjectID, models.ProjectStatusActive)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ResumeSession resolves a paused session's intervention, creates its
// replacement session, and reactivates the project in one transaction. The
// paused row keeps its status as the lineage record; the new session points
// back at it through parent_session_id. An already-resolved intervention
// aborts with ErrConflict, so concurrent resumes collapse to one winner.
func (s *Store) ResumeSession(ctx context.Context, params CreateSessionParams, interventionID int64, resolvedBy, notes string) (*models.Session, error) {
	var session *models.Session
	err := s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.AcquireProjectLock(ctx, params.ProjectID); err != nil {
			return err
		}
		if _, err := tx.ResolveIntervention(ctx, interventionID, resolvedBy, notes); err != nil {
			return err
		}
		created, err := tx.CreateSession(ctx, params)
		if err != nil {
			return err
		}
		session = created
		return tx.UpdateProjectStatus(ctx, params.ProjectID, models.ProjectStatusActive)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.get(ctx, &session, "session",
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ActiveSession returns the project's running session, or nil when idle.
func (s *Store) ActiveSession(ctx context.Context, projectID string) (*models.Session, error) {
	var session models.Session
	err := s.get(ctx, &session, "session",
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE project_id = $1 AND status = 'running'`, projectID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// ListSessions returns a project's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, projectID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	sessions := []models.Session{}
	err := s.selectAll(ctx, &sessions, "sessions",
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE project_id = $1
		 ORDER BY session_number DESC
		 LIMIT $2`, projectID, limit)
	return sessions, err
}

// SessionHistory returns recent sessions with their metric summaries for the
// get_session_history tool.
func (s *Store) SessionHistory(ctx context.Context, projectID string, limit int) ([]models.SessionHistoryEntry, error) {
	sessions, err := s.ListSessions(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	history := make([]models.SessionHistoryEntry, 0, len(sessions))
	for _, sess := range sessions {
		history = append(history, models.SessionHistoryEntry{
			ID:            sess.ID,
			SessionNumber: sess.SessionNumber,
			Type:          sess.Type,
			Status:        sess.Status,
			StartedAt:     sess.StartedAt,
			EndedAt:       sess.EndedAt,
			Metrics:       sess.Metrics,
		})
	}
	return history, nil
}

// EndSession finalizes a running or paused session: final status, end
// timestamp, metrics summary and optional error message land in one update.
// Terminal sessions are never overwritten.
func (s *Store) EndSession(ctx context.Context, id string, status models.SessionStatus, metrics *models.MetricsSummary, errorMessage *string) error {
	if status == models.SessionStatusRunning {
		return fmt.Errorf("%w: cannot end a session into status running", ErrValidation)
	}
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown session status %q", ErrValidation, status)
	}

	affected, err := s.exec(ctx, "session",
		`UPDATE sessions
		 SET status = $2, ended_at = now(),
		     metrics = COALESCE($3, metrics),
		     error_message = COALESCE($4, error_message)
		 WHERE id = $1 AND status IN ('running', 'paused', 'blocked')`,
		id, status, metrics, errorMessage)
	if err != nil {
		return err
	}
	if affected == 0 {
		current, getErr := s.GetSession(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: session %s already ended with status %s", ErrConflict, id, current.Status)
	}
	return nil
}

// SaveSessionMetrics stores a metrics summary without touching the session's
// status. Used when a session pauses: the row stays paused, but the work done
// so far should still show up in history.
func (s *Store) SaveSessionMetrics(ctx context.Context, id string, metrics *models.MetricsSummary) error {
	return s.requireOne(ctx, "session",
		`UPDATE sessions SET metrics = $2 WHERE id = $1`, id, metrics)
}

// MarkSessionPaused moves a running session to paused without ending it.
func (s *Store) MarkSessionPaused(ctx context.Context, id string) error {
	return s.requireOne(ctx, "session",
		`UPDATE sessions SET status = 'paused' WHERE id = $1 AND status = 'running'`, id)
}

// MarkSessionRunning moves a paused session back to running and refreshes the
// heartbeat. The partial unique index rejects it when another session of the
// project is already running.
func (s *Store) MarkSessionRunning(ctx context.Context, id, owner string) error {
	return s.requireOne(ctx, "session",
		`UPDATE sessions SET status = 'running', owner = $2, heartbeat_at = now()
		 WHERE id = $1 AND status = 'paused'`, id, owner)
}

// Heartbeat refreshes the liveness stamp of a running session. A false return
// means the session is no longer running and its loop should wind down.
func (s *Store) Heartbeat(ctx context.Context, id string) (bool, error) {
	affected, err := s.exec(ctx, "session",
		`UPDATE sessions SET heartbeat_at = now() WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SweepAbandonedSessions fails every running session owned by the given
// process identity. Called once at startup: any session this process owned
// before restarting has no loop serving it anymore.
func (s *Store) SweepAbandonedSessions(ctx context.Context, owner, message string) (int64, error) {
	return s.exec(ctx, "sessions",
		`UPDATE sessions
		 SET status = 'error', ended_at = now(), error_message = $2
		 WHERE owner = $1 AND status = 'running'`,
		owner, message)
}

// FindOrphanedSessions returns running sessions whose heartbeat is older than
// the threshold, meaning their owning process died without ending them.
func (s *Store) FindOrphanedSessions(ctx context.Context, threshold time.Duration) ([]models.Session, error) {
	sessions := []models.Session{}
	err := s.selectAll(ctx, &sessions, "sessions",
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status = 'running' AND heartbeat_at < now() - make_interval(secs => $1)
		 ORDER BY heartbeat_at`,
		threshold.Seconds())
	return sessions, err
}

// SweepOrphanedSession marks one orphan as errored, re-checking the heartbeat
// so a session that revived since FindOrphanedSessions is left alone. Returns
// whether the row was swept.
func (s *Store) SweepOrphanedSession(ctx context.Context, id string, threshold time.Duration, message string) (bool, error) {
	affected, err := s.exec(ctx, "session",
		`UPDATE sessions
		 SET status = 'error', ended_at = now(), error_message = $2
		 WHERE id = $1 AND status = 'running'
		   AND heartbeat_at < now() - make_interval(secs => $3)`,
		id, message, threshold.Seconds())
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// HasCompletedInitializer reports whether the project already ran its
// initializer to completion.
func (s *Store) HasCompletedInitializer(ctx context.Context, projectID string) (bool, error) {
	var count int
	err := s.get(ctx, &count, "sessions",
		`SELECT COUNT(*) FROM sessions
		 WHERE project_id = $1 AND type = 'initializer' AND status = 'completed'`,
		projectID)
	return count > 0, err
}
