package models

import (
	"database/sql/driver"
	"time"
)

// Session is one contiguous execution of an agent against a project.
type Session struct {
	ID              string          `db:"id" json:"id"`
	ProjectID       string          `db:"project_id" json:"project_id"`
	SessionNumber   int             `db:"session_number" json:"session_number"`
	Type            SessionType     `db:"type" json:"type"`
	Status          SessionStatus   `db:"status" json:"status"`
	StartedAt       time.Time       `db:"started_at" json:"started_at"`
	EndedAt         *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	Model           string          `db:"model" json:"model,omitempty"`
	Metrics         *MetricsSummary `db:"metrics" json:"metrics,omitempty"`
	ParentSessionID *string         `db:"parent_session_id" json:"parent_session_id,omitempty"`
	ErrorMessage    *string         `db:"error_message" json:"error_message,omitempty"`
	// Owner identifies the process driving the session; HeartbeatAt is
	// refreshed by its loop so crashed owners can be swept.
	Owner       string    `db:"owner" json:"-"`
	HeartbeatAt time.Time `db:"heartbeat_at" json:"-"`
}

// MetricsSummary is the end-of-session quality summary stored in
// sessions.metrics. Field meanings follow the collector that produces it.
type MetricsSummary struct {
	MetricsVersion      int                    `json:"metrics_version"`
	QualityScore        int                    `json:"quality_score"`
	ToolUseCounts       map[string]int         `json:"tool_use_counts,omitempty"`
	ToolCalls           int                    `json:"tool_calls"`
	ErrorCount          int                    `json:"error_count"`
	ErrorRate           float64                `json:"error_rate"`
	ToolDurationMS      int64                  `json:"tool_duration_ms"`
	TasksStarted        int                    `json:"tasks_started"`
	TasksCompleted      int                    `json:"tasks_completed"`
	TestsRecorded       int                    `json:"tests_recorded"`
	Verifications       []TaskVerification     `json:"verifications,omitempty"`
	InappropriateVerifs int                    `json:"inappropriate_verifications"`
	UITaskCount         int                    `json:"ui_task_count"`
	UIBrowserVerified   int                    `json:"ui_browser_verified"`
	VerificationRate    float64                `json:"verification_rate"`
	AdherenceViolations map[string]int         `json:"adherence_violations,omitempty"`
	TotalViolations     int                    `json:"total_violations"`
	ErrorFingerprints   map[string]*ErrorNgram `json:"error_fingerprints,omitempty"`
	RepeatedErrors      int                    `json:"repeated_errors"`
	HourlyProgression   []ProgressionBucket    `json:"hourly_progression,omitempty"`
	ScoreDeductions     map[string]int         `json:"score_deductions,omitempty"`
}

// TaskVerification records which verification method a task used and whether
// it matched the inferred task type.
type TaskVerification struct {
	TaskID      int    `json:"task_id"`
	TaskType    string `json:"task_type"`
	Method      string `json:"method"`
	Appropriate bool   `json:"appropriate"`
}

// ErrorNgram tracks one normalized error fingerprint within a session.
type ErrorNgram struct {
	Count            int       `json:"count"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	RecoveryAttempts int       `json:"recovery_attempts"`
}

// ProgressionBucket is one hour of session progress.
type ProgressionBucket struct {
	Hour           int `json:"hour"`
	TasksCompleted int `json:"tasks_completed"`
	Errors         int `json:"errors"`
}

// Value implements driver.Valuer.
func (m *MetricsSummary) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return jsonValue(m)
}

// Scan implements sql.Scanner.
func (m *MetricsSummary) Scan(src any) error {
	return scanJSON(src, m)
}

// SessionHistoryEntry is one line of get_session_history output.
type SessionHistoryEntry struct {
	ID            string          `json:"id"`
	SessionNumber int             `json:"session_number"`
	Type          SessionType     `json:"type"`
	Status        SessionStatus   `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	Metrics       *MetricsSummary `json:"metrics,omitempty"`
}
