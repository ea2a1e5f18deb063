package models

import (
	"database/sql/driver"
	"time"
)

// Checkpoint is a snapshot of session state enabling later resume. The most
// recent checkpoint per session is the resume point.
type Checkpoint struct {
	ID         int64             `db:"id" json:"id"`
	SessionID  string            `db:"session_id" json:"session_id"`
	Type       CheckpointType    `db:"checkpoint_type" json:"checkpoint_type"`
	Payload    CheckpointPayload `db:"payload" json:"payload"`
	LastTaskID *int              `db:"last_task_id" json:"last_task_id,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// CheckpointPayload is the serialized conversation state. History entries are
// opaque to the core; they replay verbatim into the resume prompt.
type CheckpointPayload struct {
	ConversationHistory []string `json:"conversation_history,omitempty"`
	TasksCompleted      int      `json:"tasks_completed"`
	LastToolUse         string   `json:"last_tool_use,omitempty"`
}

// Value implements driver.Valuer.
func (p CheckpointPayload) Value() (driver.Value, error) { return jsonValue(p) }

// Scan implements sql.Scanner.
func (p *CheckpointPayload) Scan(src any) error { return scanJSON(src, p) }
