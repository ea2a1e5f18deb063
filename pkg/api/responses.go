package api

import (
	"github.com/yokeflow/yokeflow/pkg/database"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by GET /readyz.
type ReadyResponse struct {
	Status   string                 `json:"status"`
	Database *database.HealthStatus `json:"database,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// StopResponse is returned by POST /api/v1/projects/:id/stop.
type StopResponse struct {
	ProjectID string `json:"project_id"`
	Message   string `json:"message"`
}

// PauseResponse is returned by POST /api/v1/sessions/:id/pause.
type PauseResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// CancelResponse is returned by POST /api/v1/sessions/:id/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}
