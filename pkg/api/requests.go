package api

// PauseSessionRequest is the body for POST /api/v1/sessions/:id/pause.
type PauseSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ResumeSessionRequest is the body for POST /api/v1/sessions/:id/resume.
// Notes are handed to the resumed agent verbatim, so operators can explain
// what they fixed.
type ResumeSessionRequest struct {
	ResolvedBy string `json:"resolved_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
