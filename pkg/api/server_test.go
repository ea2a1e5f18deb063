package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/database"
	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/orchestrator"
	"github.com/yokeflow/yokeflow/pkg/store"
	"github.com/yokeflow/yokeflow/pkg/telemetry"
)

// fakeControl records orchestrator calls and returns scripted results.
type fakeControl struct {
	mu sync.Mutex

	created   []models.CreateProjectRequest
	createErr error

	deleted   []string
	deleteErr error

	archived   []string
	archiveErr error

	stopped []string
	stopErr error

	reviewed  []string
	reviewRes *models.CompletionReview
	reviewErr error

	initialized []string
	initErr     error

	codingStarts []codingStart
	codingErr    error

	paused   []pauseCall
	pauseErr error

	resumed   []resumeCall
	resumeErr error

	cancelled []string
	cancelErr error
}

type codingStart struct {
	projectID string
	opts      orchestrator.StartCodingOptions
}

type pauseCall struct {
	sessionID string
	reason    string
}

type resumeCall struct {
	sessionID  string
	resolvedBy string
	notes      string
}

func (f *fakeControl) CreateProject(_ context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Project{
		ID:          "proj-1",
		Name:        req.Name,
		Status:      models.ProjectStatusActive,
		ProjectType: req.ProjectType,
	}, nil
}

func (f *fakeControl) DeleteProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, projectID)
	return f.deleteErr
}

func (f *fakeControl) ArchiveProject(_ context.Context, projectID string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, projectID)
	if f.archiveErr != nil {
		return nil, f.archiveErr
	}
	return &models.Project{ID: projectID, Status: models.ProjectStatusArchived}, nil
}

func (f *fakeControl) StopAfterCurrent(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, projectID)
	return f.stopErr
}

func (f *fakeControl) TriggerCompletionReview(_ context.Context, projectID string) (*models.CompletionReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewed = append(f.reviewed, projectID)
	if f.reviewErr != nil {
		return nil, f.reviewErr
	}
	if f.reviewRes != nil {
		return f.reviewRes, nil
	}
	return &models.CompletionReview{
		ProjectID:      projectID,
		OverallScore:   8,
		Recommendation: models.ReviewRecommendationComplete,
	}, nil
}

func (f *fakeControl) Initialize(_ context.Context, projectID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = append(f.initialized, projectID)
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &models.Session{
		ID:        "sess-1",
		ProjectID: projectID,
		Type:      models.SessionTypeInitializer,
		Status:    models.SessionStatusRunning,
	}, nil
}

func (f *fakeControl) StartCoding(_ context.Context, projectID string, opts orchestrator.StartCodingOptions) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codingStarts = append(f.codingStarts, codingStart{projectID: projectID, opts: opts})
	if f.codingErr != nil {
		return nil, f.codingErr
	}
	return &models.Session{
		ID:        "sess-1",
		ProjectID: projectID,
		Type:      models.SessionTypeCoding,
		Status:    models.SessionStatusRunning,
		Model:     opts.Model,
	}, nil
}

func (f *fakeControl) PauseSession(_ context.Context, sessionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, pauseCall{sessionID: sessionID, reason: reason})
	return f.pauseErr
}

func (f *fakeControl) ResumeSession(_ context.Context, sessionID, resolvedBy, notes string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, resumeCall{sessionID: sessionID, resolvedBy: resolvedBy, notes: notes})
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	parent := sessionID
	return &models.Session{
		ID:              "sess-2",
		Type:            models.SessionTypeCoding,
		Status:          models.SessionStatusRunning,
		ParentSessionID: &parent,
	}, nil
}

func (f *fakeControl) CancelSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, sessionID)
	return f.cancelErr
}

// fakeReadStore serves the API's read-side queries from memory.
type fakeReadStore struct {
	mu sync.Mutex

	projects      map[string]*models.Project
	sessionRows   []models.Session
	sessionByID   map[string]*models.Session
	progress      *models.Progress
	interventions []models.PausedSession
	events        []models.Event

	listProjectsErr error
	eventsErr       error

	sessionLists        []sessionListCall
	interventionFilters []models.InterventionFilter
	eventFilters        []store.EventFilter
}

type sessionListCall struct {
	projectID string
	limit     int
}

func newFakeReadStore() *fakeReadStore {
	return &fakeReadStore{
		projects:    make(map[string]*models.Project),
		sessionByID: make(map[string]*models.Session),
	}
}

func (f *fakeReadStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project", store.ErrNotFound)
	}
	return project, nil
}

func (f *fakeReadStore) ListProjects(_ context.Context) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listProjectsErr != nil {
		return nil, f.listProjectsErr
	}
	out := make([]models.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeReadStore) GetProgress(_ context.Context, projectID string) (*models.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return nil, fmt.Errorf("%w: project", store.ErrNotFound)
	}
	if f.progress != nil {
		return f.progress, nil
	}
	return &models.Progress{}, nil
}

func (f *fakeReadStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessionByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: session", store.ErrNotFound)
	}
	return session, nil
}

func (f *fakeReadStore) ListSessions(_ context.Context, projectID string, limit int) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionLists = append(f.sessionLists, sessionListCall{projectID: projectID, limit: limit})
	return f.sessionRows, nil
}

func (f *fakeReadStore) ListInterventions(_ context.Context, filter models.InterventionFilter) ([]models.PausedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interventionFilters = append(f.interventionFilters, filter)
	return f.interventions, nil
}

func (f *fakeReadStore) ListEvents(_ context.Context, filter store.EventFilter) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventFilters = append(f.eventFilters, filter)
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var out []models.Event
	for _, ev := range f.events {
		if ev.ID <= filter.AfterID {
			continue
		}
		if filter.Channel != "" && ev.Channel != filter.Channel {
			continue
		}
		if filter.ProjectID != "" && (ev.ProjectID == nil || *ev.ProjectID != filter.ProjectID) {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// addEvent appends a persisted event row; callers keep ids ascending.
func (f *fakeReadStore) addEvent(ev models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeReadStore) recordedEventFilters() []store.EventFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.EventFilter(nil), f.eventFilters...)
}

// fakeHealth satisfies HealthChecker without a database.
type fakeHealth struct {
	err error
}

func (f *fakeHealth) Health(context.Context) (*database.HealthStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &database.HealthStatus{Status: "healthy"}, nil
}

type apiFixture struct {
	srv    *Server
	orch   *fakeControl
	store  *fakeReadStore
	hub    *events.Hub
	health *fakeHealth
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		orch:   &fakeControl{},
		store:  newFakeReadStore(),
		hub:    events.NewHub(8),
		health: &fakeHealth{},
	}
	f.srv = NewServer(slog.Default(), config.DefaultServerConfig(), f.orch, f.store, f.hub, f.health, telemetry.New())
	return f
}

func (f *apiFixture) addProject(id string) *models.Project {
	project := &models.Project{
		ID:          id,
		Name:        "todo-app",
		Status:      models.ProjectStatusActive,
		ProjectType: models.ProjectTypeGreenfield,
	}
	f.store.mu.Lock()
	f.store.projects[id] = project
	f.store.mu.Unlock()
	return project
}

func (f *apiFixture) addSession(id, projectID string, status models.SessionStatus) *models.Session {
	session := &models.Session{
		ID:        id,
		ProjectID: projectID,
		Type:      models.SessionTypeCoding,
		Status:    status,
	}
	f.store.mu.Lock()
	f.store.sessionByID[id] = session
	f.store.mu.Unlock()
	return session
}

// request performs one round trip against the server. A nil body sends no
// content, matching how optional-body endpoints are called.
func (f *apiFixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestErrorMapping(t *testing.T) {
	t.Run("validation maps to 400", func(t *testing.T) {
		f := newAPIFixture(t)
		f.orch.createErr = fmt.Errorf("%w: project name is required", store.ErrValidation)

		rec := f.request(t, http.MethodPost, "/api/v1/projects", models.CreateProjectRequest{})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "validation", resp.Kind)
		assert.Contains(t, resp.Error, "project name is required")
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodGet, "/api/v1/projects/missing", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeError(t, rec).Kind)
	})

	t.Run("conflict maps to 409", func(t *testing.T) {
		f := newAPIFixture(t)
		f.orch.initErr = fmt.Errorf("%w: project proj-1 already has an active session loop", store.ErrConflict)

		rec := f.request(t, http.MethodPost, "/api/v1/projects/proj-1/initialize", nil)

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "conflict", decodeError(t, rec).Kind)
	})

	t.Run("unknown errors map to opaque 500", func(t *testing.T) {
		f := newAPIFixture(t)
		f.orch.stopErr = errors.New("pg connection refused at 10.0.0.3")

		rec := f.request(t, http.MethodPost, "/api/v1/projects/proj-1/stop", nil)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "internal", resp.Kind)
		assert.Equal(t, "internal server error", resp.Error)
		assert.NotContains(t, rec.Body.String(), "10.0.0.3")
	})
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Permissions-Policy"))
}

func TestHealthzReportsVersion(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Contains(t, resp.Version, "yokeflow/")
}

func TestReadyzReflectsDatabaseHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	require.NotNil(t, ready.Database)
	assert.Equal(t, "healthy", ready.Database.Status)

	f.health.err = errors.New("dial tcp: connection refused")
	rec = f.request(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "unavailable", ready.Status)
	assert.Contains(t, ready.Error, "connection refused")
}

func TestMetricsEndpointServesRequestCounters(t *testing.T) {
	f := newAPIFixture(t)

	// Serve one request so the HTTP counters have a sample.
	f.request(t, http.MethodGet, "/healthz", nil)

	rec := f.request(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "yokeflow_http_requests_total")
	assert.Contains(t, body, `route="/healthz"`)
}

func TestUnknownRouteReturns404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/nope", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouteTelemetryUsesPatternNotPath(t *testing.T) {
	f := newAPIFixture(t)
	f.addProject("proj-1")

	f.request(t, http.MethodGet, "/api/v1/projects/proj-1", nil)

	rec := f.request(t, http.MethodGet, "/metrics", nil)
	body := rec.Body.String()
	assert.Contains(t, body, `route="/api/v1/projects/:id"`)
	assert.NotContains(t, body, `route="/api/v1/projects/proj-1"`)
}
