package models

import (
	"encoding/json"
	"time"
)

// Event is one persisted event row. Rows back the NOTIFY payloads and the
// catch-up reads for reconnecting subscribers; the retention sweeper removes
// them past their TTL.
type Event struct {
	ID        int64           `db:"id" json:"id"`
	ProjectID *string         `db:"project_id" json:"project_id,omitempty"`
	SessionID *string         `db:"session_id" json:"session_id,omitempty"`
	Channel   string          `db:"channel" json:"channel"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
