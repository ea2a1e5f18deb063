// Package api serves the control surface: project and session lifecycle
// operations, intervention listing, live event streams, and operational
// probes. Handlers validate input, delegate to the orchestrator or store,
// and map errors to a uniform JSON shape; no business logic lives here.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/database"
	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/orchestrator"
	"github.com/yokeflow/yokeflow/pkg/store"
	"github.com/yokeflow/yokeflow/pkg/telemetry"
)

// Orchestrator is the subset of orchestrator operations the API exposes.
type Orchestrator interface {
	CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	ArchiveProject(ctx context.Context, projectID string) (*models.Project, error)
	StopAfterCurrent(ctx context.Context, projectID string) error
	TriggerCompletionReview(ctx context.Context, projectID string) (*models.CompletionReview, error)
	Initialize(ctx context.Context, projectID string) (*models.Session, error)
	StartCoding(ctx context.Context, projectID string, opts orchestrator.StartCodingOptions) (*models.Session, error)
	PauseSession(ctx context.Context, sessionID, reason string) error
	ResumeSession(ctx context.Context, sessionID, resolvedBy, notes string) (*models.Session, error)
	CancelSession(ctx context.Context, sessionID string) error
}

// Store is the read side the API serves directly, without going through
// the orchestrator.
type Store interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	GetProgress(ctx context.Context, projectID string) (*models.Progress, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, projectID string, limit int) ([]models.Session, error)
	ListInterventions(ctx context.Context, filter models.InterventionFilter) ([]models.PausedSession, error)
	ListEvents(ctx context.Context, filter store.EventFilter) ([]models.Event, error)
}

// HealthChecker reports whether the backing database is reachable. The
// readiness probe depends on this rather than on a concrete client so the
// server can be exercised without a database.
type HealthChecker interface {
	Health(ctx context.Context) (*database.HealthStatus, error)
}

// Server is the HTTP control API.
type Server struct {
	logger *slog.Logger
	cfg    config.ServerConfig
	orch   Orchestrator
	store  Store
	hub    *events.Hub
	health HealthChecker
	tel    *telemetry.Telemetry
	engine *gin.Engine
}

// NewServer wires the handlers onto a gin engine. The caller owns the
// http.Server; Handler exposes the engine for it.
func NewServer(logger *slog.Logger, cfg config.ServerConfig, orch Orchestrator, st Store, hub *events.Hub, health HealthChecker, tel *telemetry.Telemetry) *Server {
	s := &Server{
		logger: logger.With("component", "api"),
		cfg:    cfg,
		orch:   orch,
		store:  st,
		hub:    hub,
		health: health,
		tel:    tel,
		engine: gin.New(),
	}
	s.routes()
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the host:port the server is configured to listen on.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), securityHeaders(), requestTelemetry(s.tel))

	s.engine.GET("/healthz", s.healthzHandler)
	s.engine.GET("/readyz", s.readyzHandler)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.tel.Gatherer(), promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/api/v1")

	v1.POST("/projects", s.createProjectHandler)
	v1.GET("/projects", s.listProjectsHandler)
	v1.GET("/projects/:id", s.getProjectHandler)
	v1.DELETE("/projects/:id", s.deleteProjectHandler)
	v1.POST("/projects/:id/initialize", s.initializeHandler)
	v1.POST("/projects/:id/sessions", s.startCodingHandler)
	v1.GET("/projects/:id/sessions", s.listSessionsHandler)
	v1.POST("/projects/:id/stop", s.stopProjectHandler)
	v1.POST("/projects/:id/archive", s.archiveProjectHandler)
	v1.GET("/projects/:id/progress", s.progressHandler)
	v1.POST("/projects/:id/review", s.reviewHandler)
	v1.GET("/projects/:id/events/stream", s.streamProjectEventsHandler)

	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/pause", s.pauseSessionHandler)
	v1.POST("/sessions/:id/resume", s.resumeSessionHandler)
	v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)

	v1.GET("/interventions", s.listInterventionsHandler)

	v1.GET("/events/stream", s.streamGlobalEventsHandler)
}
