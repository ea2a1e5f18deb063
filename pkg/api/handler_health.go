package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yokeflow/yokeflow/pkg/version"
)

// healthProbeTimeout bounds the database round trip of the readiness probe.
const healthProbeTimeout = 5 * time.Second

// healthzHandler handles GET /healthz: process liveness only, no dependency
// checks, so restarts never cascade from a flaky database.
func (s *Server) healthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Full(),
	})
}

// readyzHandler handles GET /readyz: the process is ready to serve traffic
// and the database answers.
func (s *Server) readyzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	health, err := s.health.Health(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{
			Status: "unavailable",
			Error:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ReadyResponse{
		Status:   "ready",
		Database: health,
	})
}
