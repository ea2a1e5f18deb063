package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/orchestrator"
)

// createProjectHandler handles POST /api/v1/projects.
func (s *Server) createProjectHandler(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	project, err := s.orch.CreateProject(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// listProjectsHandler handles GET /api/v1/projects.
func (s *Server) listProjectsHandler(c *gin.Context) {
	projects, err := s.store.ListProjects(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, projects)
}

// getProjectHandler handles GET /api/v1/projects/:id.
func (s *Server) getProjectHandler(c *gin.Context) {
	project, err := s.store.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// deleteProjectHandler handles DELETE /api/v1/projects/:id.
func (s *Server) deleteProjectHandler(c *gin.Context) {
	if err := s.orch.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// initializeHandler handles POST /api/v1/projects/:id/initialize. The
// initializer session runs in the background; the response carries the
// session row so clients can follow it on the event stream.
func (s *Server) initializeHandler(c *gin.Context) {
	session, err := s.orch.Initialize(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, session)
}

// startCodingHandler handles POST /api/v1/projects/:id/sessions. The body
// is optional; an empty one starts coding with the configured model.
func (s *Server) startCodingHandler(c *gin.Context) {
	var opts orchestrator.StartCodingOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	session, err := s.orch.StartCoding(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, session)
}

// listSessionsHandler handles GET /api/v1/projects/:id/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "invalid limit: must be a positive integer")
			return
		}
		limit = n
	}

	// Probe the project so an unknown id reads as 404, not an empty list.
	projectID := c.Param("id")
	if _, err := s.store.GetProject(c.Request.Context(), projectID); err != nil {
		s.writeError(c, err)
		return
	}

	sessions, err := s.store.ListSessions(c.Request.Context(), projectID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// stopProjectHandler handles POST /api/v1/projects/:id/stop. The running
// session finishes; auto-continue then stops instead of starting the next
// one.
func (s *Server) stopProjectHandler(c *gin.Context) {
	projectID := c.Param("id")
	if err := s.orch.StopAfterCurrent(c.Request.Context(), projectID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, StopResponse{
		ProjectID: projectID,
		Message:   "project will stop after the current session",
	})
}

// archiveProjectHandler handles POST /api/v1/projects/:id/archive.
func (s *Server) archiveProjectHandler(c *gin.Context) {
	project, err := s.orch.ArchiveProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// progressHandler handles GET /api/v1/projects/:id/progress.
func (s *Server) progressHandler(c *gin.Context) {
	progress, err := s.store.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

// reviewHandler handles POST /api/v1/projects/:id/review. The review runs
// synchronously; expect the response to take as long as one model call.
func (s *Server) reviewHandler(c *gin.Context) {
	review, err := s.orch.TriggerCompletionReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, review)
}
