package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yokeflow/yokeflow/pkg/database"
)

// notifyLimit is the payload size above which the NOTIFY wire copy is
// replaced by a truncation envelope. PostgreSQL rejects NOTIFY payloads
// over 8000 bytes; 7900 leaves headroom for the injected db_event_id.
const notifyLimit = 7900

// Redactor masks secrets in event payload text before it leaves the
// process. Implemented by redact.Service; a nil Redactor disables masking.
type Redactor interface {
	Redact(s string) string
}

// Publisher publishes notification events for SSE delivery.
// Persistent events are stored in the events table then broadcast via
// NOTIFY in the same transaction; transient events (progress heartbeats)
// are broadcast via NOTIFY only.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. Internally, payloads are marshaled to JSON, passed through
// the redactor, and routed to the project channel (plus a transient copy on
// the global channel for cross-project dashboards where noted).
type Publisher struct {
	db       *database.Client
	redactor Redactor
}

// NewPublisher creates a Publisher. redactor may be nil.
func NewPublisher(db *database.Client, redactor Redactor) *Publisher {
	return &Publisher{db: db, redactor: redactor}
}

// --- Typed public methods ---

// PublishProjectStatus persists and broadcasts a project.status event, with
// a transient copy on the global channel.
func (p *Publisher) PublishProjectStatus(ctx context.Context, payload ProjectStatusPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ProjectStatusPayload: %w", err)
	}
	return p.publishWithGlobalCopy(ctx, payload.ProjectID, payload.SessionID, payloadJSON)
}

// PublishSessionStatus persists a session status event to the project
// channel and broadcasts a transient copy to the global channel.
// Both publishes are best-effort: if the persistent one fails, the
// transient one is still attempted. Returns the first error encountered.
func (p *Publisher) PublishSessionStatus(ctx context.Context, payload SessionStatusPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionStatusPayload: %w", err)
	}
	return p.publishWithGlobalCopy(ctx, payload.ProjectID, payload.SessionID, payloadJSON)
}

// PublishSessionProgress broadcasts a session.progress transient event
// (no DB persistence) on the project channel.
func (p *Publisher) PublishSessionProgress(ctx context.Context, payload SessionProgressPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionProgressPayload: %w", err)
	}
	return p.notifyOnly(ctx, ProjectChannel(payload.ProjectID), payloadJSON)
}

// PublishIntervention persists and broadcasts an intervention.created
// event, with a transient copy on the global channel so dispatchers
// watching all projects see it without a per-project subscription.
func (p *Publisher) PublishIntervention(ctx context.Context, payload InterventionPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal InterventionPayload: %w", err)
	}
	return p.publishWithGlobalCopy(ctx, payload.ProjectID, payload.SessionID, payloadJSON)
}

// PublishInterventionResolved persists and broadcasts an
// intervention.resolved event.
func (p *Publisher) PublishInterventionResolved(ctx context.Context, payload InterventionResolvedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal InterventionResolvedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, ProjectChannel(payload.ProjectID), payload.ProjectID, payload.SessionID, payloadJSON)
}

// PublishRetestRecorded persists and broadcasts a retest.recorded event.
func (p *Publisher) PublishRetestRecorded(ctx context.Context, payload RetestRecordedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal RetestRecordedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, ProjectChannel(payload.ProjectID), payload.ProjectID, payload.SessionID, payloadJSON)
}

// PublishReviewCompleted persists and broadcasts a review.completed event.
func (p *Publisher) PublishReviewCompleted(ctx context.Context, payload ReviewCompletedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ReviewCompletedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, ProjectChannel(payload.ProjectID), payload.ProjectID, payload.SessionID, payloadJSON)
}

// --- Internal core methods ---

// publishWithGlobalCopy persists the event on the project channel and
// broadcasts a transient copy on the global channel. Returns the first
// error encountered; both deliveries are attempted regardless.
func (p *Publisher) publishWithGlobalCopy(ctx context.Context, projectID, sessionID string, payloadJSON []byte) error {
	var firstErr error
	if err := p.persistAndNotify(ctx, ProjectChannel(projectID), projectID, sessionID, payloadJSON); err != nil {
		slog.Warn("Failed to publish event to project channel",
			"project_id", projectID, "error", err)
		firstErr = err
	}

	if err := p.notifyOnly(ctx, GlobalProjectsChannel, payloadJSON); err != nil {
		slog.Warn("Failed to publish event to global channel",
			"project_id", projectID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// persistAndNotify persists a pre-marshaled event to the database and
// broadcasts via NOTIFY in a single transaction (pg_notify is transactional,
// held until COMMIT).
func (p *Publisher) persistAndNotify(ctx context.Context, channel, projectID, sessionID string, payloadJSON []byte) error {
	payloadJSON = p.redact(payloadJSON)

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 1. Persist to events table (within transaction)
	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (project_id, session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		nullable(projectID), nullable(sessionID), channel, payloadJSON, time.Now().UTC(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	// Build NOTIFY payload with db_event_id for catch-up tracking.
	notifyPayload, err := injectEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	// 2. pg_notify within same transaction — held until COMMIT
	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	// 3. Commit — INSERT is persisted and NOTIFY fires atomically
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}

	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting.
func (p *Publisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	payloadJSON = p.redact(payloadJSON)

	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// redact masks secrets in the payload text. Payload structure survives
// because the redaction patterns replace value text, not JSON syntax.
func (p *Publisher) redact(payloadJSON []byte) []byte {
	if p.redactor == nil {
		return payloadJSON
	}
	return []byte(p.redactor.Redact(string(payloadJSON)))
}

// nullable maps an empty string to NULL for optional columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// injectEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's NOTIFY limit, otherwise returns a minimal truncation
// envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= notifyLimit {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the subscriber
// needs to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		ProjectID string `json:"project_id"`
		SessionID string `json:"session_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":       routing.Type,
		"project_id": routing.ProjectID,
		"truncated":  true,
	}
	if routing.SessionID != "" {
		truncated["session_id"] = routing.SessionID
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
