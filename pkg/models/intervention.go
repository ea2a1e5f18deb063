package models

import (
	"database/sql/driver"
	"time"
)

// PausedSession is the intervention record written when a session is paused.
// At most one unresolved record exists per session.
type PausedSession struct {
	ID              int64       `db:"id" json:"id"`
	SessionID       string      `db:"session_id" json:"session_id"`
	ProjectID       string      `db:"project_id" json:"project_id"`
	PauseReason     string      `db:"pause_reason" json:"pause_reason"`
	PauseType       PauseType   `db:"pause_type" json:"pause_type"`
	BlockerInfo     BlockerInfo `db:"blocker_info" json:"blocker_info"`
	RetryStats      RetryStats  `db:"retry_stats" json:"retry_stats"`
	Resolved        bool        `db:"resolved" json:"resolved"`
	ResolvedAt      *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy      *string     `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionNotes *string     `db:"resolution_notes" json:"resolution_notes,omitempty"`
	CanAutoResume   bool        `db:"can_auto_resume" json:"can_auto_resume"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// BlockerInfo describes what blocked a session: the matched pattern, the
// offending output, and anything auto-recovery learned.
type BlockerInfo struct {
	Pattern         string `json:"pattern,omitempty"`
	MatchedText     string `json:"matched_text,omitempty"`
	Command         string `json:"command,omitempty"`
	CurrentTaskID   *int   `json:"current_task_id,omitempty"`
	RecoveryAction  string `json:"recovery_action,omitempty"`
	RecoveryOutcome string `json:"recovery_outcome,omitempty"`
}

// Value implements driver.Valuer.
func (b BlockerInfo) Value() (driver.Value, error) { return jsonValue(b) }

// Scan implements sql.Scanner.
func (b *BlockerInfo) Scan(src any) error { return scanJSON(src, b) }

// RetryStats captures the repeated-command counters at pause time.
type RetryStats struct {
	// Counts maps normalized commands to consecutive failure counts.
	Counts map[string]int `json:"counts,omitempty"`
	// Limit is the configured threshold that was in effect.
	Limit int `json:"limit"`
	// Violations is the session's quality-violation count at pause time.
	Violations int `json:"violations"`
}

// Value implements driver.Valuer.
func (r RetryStats) Value() (driver.Value, error) { return jsonValue(r) }

// Scan implements sql.Scanner.
func (r *RetryStats) Scan(src any) error { return scanJSON(src, r) }

// InterventionFilter narrows ListInterventions results.
type InterventionFilter struct {
	ProjectID string     `json:"project_id,omitempty"`
	Resolved  *bool      `json:"resolved,omitempty"`
	PauseType *PauseType `json:"pause_type,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}
