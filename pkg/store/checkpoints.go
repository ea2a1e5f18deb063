package store

import (
	"context"
	"fmt"

	"github.com/yokeflow/yokeflow/pkg/models"
)

const checkpointColumns = `id, session_id, checkpoint_type, payload, last_task_id, created_at`

// SaveCheckpoint appends a checkpoint for a session.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) (*models.Checkpoint, error) {
	if !cp.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown checkpoint type %q", ErrValidation, cp.Type)
	}
	var saved models.Checkpoint
	err := s.get(ctx, &saved, "checkpoint",
		`INSERT INTO checkpoints (session_id, checkpoint_type, payload, last_task_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+checkpointColumns,
		cp.SessionID, cp.Type, cp.Payload, cp.LastTaskID)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// LatestCheckpoint returns a session's most recent checkpoint, or nil when it
// has none.
func (s *Store) LatestCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	err := s.get(ctx, &cp, "checkpoint",
		`SELECT `+checkpointColumns+` FROM checkpoints
		 WHERE session_id = $1
		 ORDER BY id DESC
		 LIMIT 1`, sessionID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

// PruneCheckpoints drops all but the newest keep checkpoints of a session and
// returns how many were removed.
func (s *Store) PruneCheckpoints(ctx context.Context, sessionID string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	affected, err := s.exec(ctx, "checkpoints",
		`DELETE FROM checkpoints
		 WHERE session_id = $1
		   AND id NOT IN (SELECT id FROM checkpoints
		                  WHERE session_id = $1
		                  ORDER BY id DESC
		                  LIMIT $2)`,
		sessionID, keep)
	return int(affected), err
}
