// Package events carries the two event planes of the orchestrator.
//
// ════════════════════════════════════════════════════════════════
// Event Planes
// ════════════════════════════════════════════════════════════════
//
// Plane 1 — SESSION STREAM (in-process, per session):
//
//	The agent runner emits newline-framed records (prompt, assistant_text,
//	tool_use, tool_result, system_message, error, session_end) that the
//	orchestrator reads and republishes on a StreamBus. The metrics
//	collector and the intervention engine each subscribe once per session
//	and see every record exactly once, in stream order. The bus lives and
//	dies with the session; nothing on this plane is persisted.
//
// Plane 2 — NOTIFICATION EVENTS (persisted + NOTIFY, cross-process):
//
//	Lifecycle facts worth telling the outside world (session status
//	changes, pauses needing a human, retest outcomes, review results) are
//	written to the events table and broadcast via PostgreSQL NOTIFY in
//	the same transaction. A dedicated LISTEN connection feeds the SSE Hub,
//	and reconnecting subscribers replay missed rows by id. The retention
//	sweeper deletes rows past their TTL, so this plane is a bounded
//	window, not an audit log.
//
// Payloads larger than PostgreSQL's NOTIFY limit are replaced on the wire
// by a truncation envelope carrying only routing fields; subscribers fetch
// the full row from the database by db_event_id.
//
// ════════════════════════════════════════════════════════════════
package events

// Persistent notification event types (stored in DB + NOTIFY).
const (
	// Project lifecycle
	EventTypeProjectStatus = "project.status"

	// Session lifecycle
	EventTypeSessionStatus = "session.status"

	// Intervention lifecycle — created when a session pauses on a blocker,
	// resolved when a human (or auto-recovery) clears it.
	EventTypeInterventionCreated  = "intervention.created"
	EventTypeInterventionResolved = "intervention.resolved"

	// Quality pipeline outcomes
	EventTypeRetestRecorded  = "retest.recorded"
	EventTypeReviewCompleted = "review.completed"
)

// Transient notification event types (NOTIFY only, no DB persistence).
const (
	// Per-session progress heartbeats — high-frequency, ephemeral.
	EventTypeSessionProgress = "session.progress"
)

// GlobalProjectsChannel is the channel for cross-project lifecycle events.
// Dashboards listing all projects subscribe to this for real-time updates.
const GlobalProjectsChannel = "global:projects"

// ProjectChannel returns the channel name for a specific project's events.
// Format: "project:{project_id}"
func ProjectChannel(projectID string) string {
	return "project:" + projectID
}

// Envelope is one event as delivered to an SSE subscriber. ID is the events
// table row id (0 for transient events) and doubles as the SSE event id, so
// clients can resume with Last-Event-ID after a disconnect.
type Envelope struct {
	ID      int64
	Payload []byte
}
