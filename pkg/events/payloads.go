package events

import (
	"encoding/json"
	"time"

	"github.com/yokeflow/yokeflow/pkg/models"
)

// BasePayload carries the routing fields common to every notification event.
// Type names the event, ProjectID routes it, SessionID is set when the event
// belongs to one session.
type BasePayload struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// NewBasePayload builds a BasePayload stamped with the current time.
// sessionID may be empty for project-level events.
func NewBasePayload(eventType, projectID, sessionID string) BasePayload {
	return BasePayload{
		Type:      eventType,
		ProjectID: projectID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// ProjectStatusPayload is the payload for project.status events.
// Published when a project transitions between lifecycle states.
type ProjectStatusPayload struct {
	BasePayload
	Name   string               `json:"name"`
	Status models.ProjectStatus `json:"status"`
}

// SessionStatusPayload is the payload for session.status events.
// Published when a session starts, pauses, resumes, or ends.
type SessionStatusPayload struct {
	BasePayload
	SessionNumber int                  `json:"session_number"`
	SessionType   models.SessionType   `json:"session_type"`
	Status        models.SessionStatus `json:"status"`
	Error         string               `json:"error,omitempty"`
}

// SessionProgressPayload is the payload for session.progress transient
// events (no DB persistence). Published while a session works so dashboards
// can show live activity without polling.
type SessionProgressPayload struct {
	BasePayload
	EpicID     *int   `json:"epic_id,omitempty"`
	TaskID     *int   `json:"task_id,omitempty"`
	ToolCalls  int    `json:"tool_calls"`
	StatusText string `json:"status_text,omitempty"`
}

// InterventionPayload is the payload for intervention.created events.
// External dispatchers (webhook, email, SMS relays) consume these to alert
// a human that a session paused on a blocker.
type InterventionPayload struct {
	BasePayload
	InterventionID string           `json:"intervention_id"`
	BlockerType    models.PauseType `json:"blocker_type"`
	Message        string           `json:"message"`
	RetryStats     json.RawMessage  `json:"retry_stats,omitempty"`
	CanAutoResume  bool             `json:"can_auto_resume"`
}

// InterventionResolvedPayload is the payload for intervention.resolved
// events. Published when a human or auto-recovery clears a blocker.
type InterventionResolvedPayload struct {
	BasePayload
	InterventionID string `json:"intervention_id"`
	ResolvedBy     string `json:"resolved_by,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
}

// RetestRecordedPayload is the payload for retest.recorded events.
// Published when an epic retest outcome lands, regression or not.
type RetestRecordedPayload struct {
	BasePayload
	EpicID             int                  `json:"epic_id"`
	Trigger            models.RetestTrigger `json:"trigger"`
	Passed             bool                 `json:"passed"`
	FailedTestCount    int                  `json:"failed_test_count"`
	TotalTestCount     int                  `json:"total_test_count"`
	StabilityScore     float64              `json:"stability_score"`
	RegressionDetected bool                 `json:"regression_detected"`
}

// ReviewCompletedPayload is the payload for review.completed events.
// Covers both deep reviews and project completion reviews; ReviewKind
// tells them apart.
type ReviewCompletedPayload struct {
	BasePayload
	ReviewKind     string                      `json:"review_kind"` // "deep" or "completion"
	QualityScore   *int                        `json:"quality_score,omitempty"`
	Recommendation models.ReviewRecommendation `json:"recommendation,omitempty"`
}
