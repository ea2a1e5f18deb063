package store

import (
	"context"
	"fmt"
	"time"

	"github.com/yokeflow/yokeflow/pkg/models"
)

// EventFilter narrows ListEvents results. AfterID implements catch-up reads
// for dispatchers resuming a stream.
type EventFilter struct {
	Channel   string
	ProjectID string
	SessionID string
	AfterID   int64
	Limit     int
}

// ListEvents returns persisted events in id order.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	query := `SELECT id, project_id, session_id, channel, payload, created_at
		FROM events WHERE id > $1`
	args := []any{filter.AfterID}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		query += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	events := []models.Event{}
	err := s.selectAll(ctx, &events, "events", query, args...)
	return events, err
}

// DeleteEventsBefore removes events older than the cutoff and returns the
// number removed. The retention sweeper calls this on its interval.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.exec(ctx, "events",
		`DELETE FROM events WHERE created_at < $1`, cutoff)
}

// DeleteEndedSessionsBefore removes terminal sessions that ended before the
// cutoff, cascading to their checkpoints and quality records.
func (s *Store) DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.exec(ctx, "sessions",
		`DELETE FROM sessions
		 WHERE status IN ('completed', 'error', 'cancelled')
		   AND ended_at IS NOT NULL AND ended_at < $1`, cutoff)
}
