package store

import (
	"context"
	"fmt"

	"github.com/yokeflow/yokeflow/pkg/models"
)

const pausedSessionColumns = `id, session_id, project_id, pause_reason, pause_type, blocker_info,
	retry_stats, resolved, resolved_at, resolved_by, resolution_notes, can_auto_resume, created_at`

// CreatePausedSession writes the intervention record for a paused session.
// The partial unique index rejects a second unresolved record per session
// with ErrConflict.
func (s *Store) CreatePausedSession(ctx context.Context, paused *models.PausedSession) (*models.PausedSession, error) {
	if !paused.PauseType.IsValid() {
		return nil, fmt.Errorf("%w: unknown pause type %q", ErrValidation, paused.PauseType)
	}
	var saved models.PausedSession
	err := s.get(ctx, &saved, "paused session",
		`INSERT INTO paused_sessions
		   (session_id, project_id, pause_reason, pause_type, blocker_info, retry_stats, can_auto_resume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+pausedSessionColumns,
		paused.SessionID, paused.ProjectID, paused.PauseReason, paused.PauseType,
		paused.BlockerInfo, paused.RetryStats, paused.CanAutoResume)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// GetPausedSession fetches one intervention record by id.
func (s *Store) GetPausedSession(ctx context.Context, id int64) (*models.PausedSession, error) {
	var paused models.PausedSession
	err := s.get(ctx, &paused, "paused session",
		`SELECT `+pausedSessionColumns+` FROM paused_sessions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &paused, nil
}

// UnresolvedForSession returns the open intervention of a session, or nil.
func (s *Store) UnresolvedForSession(ctx context.Context, sessionID string) (*models.PausedSession, error) {
	var paused models.PausedSession
	err := s.get(ctx, &paused, "paused session",
		`SELECT `+pausedSessionColumns+` FROM paused_sessions
		 WHERE session_id = $1 AND NOT resolved`, sessionID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &paused, nil
}

// ListInterventions returns intervention records matching the filter, newest
// first.
func (s *Store) ListInterventions(ctx context.Context, filter models.InterventionFilter) ([]models.PausedSession, error) {
	query := `SELECT ` + pausedSessionColumns + ` FROM paused_sessions WHERE TRUE`
	args := []any{}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		query += fmt.Sprintf(" AND resolved = $%d", len(args))
	}
	if filter.PauseType != nil {
		args = append(args, *filter.PauseType)
		query += fmt.Sprintf(" AND pause_type = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	interventions := []models.PausedSession{}
	err := s.selectAll(ctx, &interventions, "paused sessions", query, args...)
	return interventions, err
}

// ResolveIntervention closes an open intervention with the resolver identity
// and notes. Resolving an already-resolved record yields ErrConflict.
func (s *Store) ResolveIntervention(ctx context.Context, id int64, resolvedBy, notes string) (*models.PausedSession, error) {
	var paused models.PausedSession
	err := s.get(ctx, &paused, "paused session",
		`UPDATE paused_sessions
		 SET resolved = TRUE, resolved_at = now(), resolved_by = $2, resolution_notes = $3
		 WHERE id = $1 AND NOT resolved
		 RETURNING `+pausedSessionColumns,
		id, resolvedBy, notes)
	if err != nil {
		if IsNotFound(err) {
			if _, getErr := s.GetPausedSession(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: intervention %d already resolved", ErrConflict, id)
		}
		return nil, err
	}
	return &paused, nil
}

// SetAutoResume flips can_auto_resume after a recovery attempt.
func (s *Store) SetAutoResume(ctx context.Context, id int64, canAutoResume bool, outcome string) error {
	return s.requireOne(ctx, "paused session",
		`UPDATE paused_sessions
		 SET can_auto_resume = $2,
		     blocker_info = blocker_info || jsonb_build_object('recovery_outcome', $3::text)
		 WHERE id = $1 AND NOT resolved`,
		id, canAutoResume, outcome)
}
