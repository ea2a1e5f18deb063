package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yokeflow/yokeflow/pkg/models"
)

// defaultPauseReason is recorded when an operator pauses without saying why.
const defaultPauseReason = "paused by operator"

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	session, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// pauseSessionHandler handles POST /api/v1/sessions/:id/pause. The pause
// lands asynchronously: the agent is cancelled and the session row flips to
// paused once its loop winds down.
func (s *Server) pauseSessionHandler(c *gin.Context) {
	var req PauseSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = defaultPauseReason
	}

	sessionID := c.Param("id")
	if err := s.orch.PauseSession(c.Request.Context(), sessionID, req.Reason); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, PauseResponse{
		SessionID: sessionID,
		Message:   "pause requested",
	})
}

// resumeSessionHandler handles POST /api/v1/sessions/:id/resume. It resolves
// the open intervention and starts a successor session from the last
// checkpoint.
func (s *Server) resumeSessionHandler(c *gin.Context) {
	var req ResumeSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	session, err := s.orch.ResumeSession(c.Request.Context(), c.Param("id"), req.ResolvedBy, req.Notes)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, session)
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.orch.CancelSession(c.Request.Context(), sessionID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, CancelResponse{
		SessionID: sessionID,
		Message:   "cancel requested",
	})
}

// listInterventionsHandler handles GET /api/v1/interventions.
// Query parameters: project, resolved, limit.
func (s *Server) listInterventionsHandler(c *gin.Context) {
	filter := models.InterventionFilter{
		ProjectID: c.Query("project"),
	}

	if v := c.Query("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid resolved: must be true or false")
			return
		}
		filter.Resolved = &resolved
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "invalid limit: must be a positive integer")
			return
		}
		filter.Limit = n
	}

	interventions, err := s.store.ListInterventions(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, interventions)
}
