package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
	"github.com/yokeflow/yokeflow/pkg/store"
	"github.com/yokeflow/yokeflow/pkg/telemetry"
)

type endCall struct {
	sessionID string
	status    models.SessionStatus
	metrics   *models.MetricsSummary
	errorMsg  *string
}

type resumeCall struct {
	params         store.CreateSessionParams
	interventionID int64
	resolvedBy     string
	notes          string
}

type fakeStore struct {
	mu sync.Mutex

	project *models.Project
	pending int

	sessionSeq int
	sessions   map[string]*models.Session
	begun      []store.CreateSessionParams
	resumes    []resumeCall
	ended      []endCall
	metrics    map[string]*models.MetricsSummary
	beginErr   error

	heartbeatAlive bool
	heartbeats     int

	checkpoints []models.Checkpoint
	latest      *models.Checkpoint
	pruneKeeps  []int

	paused         []*models.PausedSession
	pausedSessions []string
	unresolved     *models.PausedSession
	autoResume     map[int64]string

	statuses []models.ProjectStatus
	notes    []string
	stopSets []bool
	revs     []string
	created  []models.CreateProjectRequest
	deleted  []string

	orphans      []models.Session
	orphansSwept []string
	abandoned    int64
	sweepOwners  []string
}

func newFakeStore(project *models.Project) *fakeStore {
	return &fakeStore{
		project:        project,
		sessions:       make(map[string]*models.Session),
		metrics:        make(map[string]*models.MetricsSummary),
		autoResume:     make(map[int64]string),
		heartbeatAlive: true,
	}
}

func (f *fakeStore) CreateProject(_ context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	f.project = &models.Project{
		ID:          "proj-1",
		Name:        req.Name,
		SourceSpec:  req.SourceSpec,
		Status:      models.ProjectStatusActive,
		ProjectType: req.ProjectType,
		Settings:    req.Settings,
	}
	cp := *f.project
	return &cp, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) SetStopRequested(_ context.Context, _ string, stop bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopSets = append(f.stopSets, stop)
	f.project.StopRequested = stop
	return nil
}

func (f *fakeStore) SetSourceRevision(_ context.Context, _ string, revision string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revs = append(f.revs, revision)
	f.project.SourceRevision = revision
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.project == nil || f.project.ID != id {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	cp := *f.project
	return &cp, nil
}

func (f *fakeStore) UpdateProjectStatus(_ context.Context, _ string, status models.ProjectStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.project.Status = status
	return nil
}

func (f *fakeStore) AppendProgressNote(_ context.Context, _ string, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeStore) BeginSession(_ context.Context, params store.CreateSessionParams) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begun = append(f.begun, params)
	return f.newSessionLocked(params), nil
}

func (f *fakeStore) ResumeSession(_ context.Context, params store.CreateSessionParams, interventionID int64, resolvedBy, notes string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes = append(f.resumes, resumeCall{params: params, interventionID: interventionID, resolvedBy: resolvedBy, notes: notes})
	if f.unresolved != nil && f.unresolved.ID == interventionID {
		f.unresolved.Resolved = true
		f.unresolved = nil
	}
	f.project.Status = models.ProjectStatusActive
	return f.newSessionLocked(params), nil
}

func (f *fakeStore) newSessionLocked(params store.CreateSessionParams) *models.Session {
	f.sessionSeq++
	session := &models.Session{
		ID:              fmt.Sprintf("sess-%d", f.sessionSeq),
		ProjectID:       params.ProjectID,
		SessionNumber:   f.sessionSeq,
		Type:            params.Type,
		Status:          models.SessionStatusRunning,
		StartedAt:       time.Now(),
		Model:           params.Model,
		Owner:           params.Owner,
		ParentSessionID: params.ParentSessionID,
	}
	f.sessions[session.ID] = session
	cp := *session
	return &cp
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	cp := *session
	return &cp, nil
}

func (f *fakeStore) EndSession(_ context.Context, id string, status models.SessionStatus, metrics *models.MetricsSummary, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, endCall{sessionID: id, status: status, metrics: metrics, errorMsg: errorMessage})
	if session, ok := f.sessions[id]; ok {
		session.Status = status
	}
	return nil
}

func (f *fakeStore) SaveSessionMetrics(_ context.Context, id string, metrics *models.MetricsSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[id] = metrics
	return nil
}

func (f *fakeStore) Heartbeat(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return f.heartbeatAlive, nil
}

func (f *fakeStore) SweepAbandonedSessions(_ context.Context, owner, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepOwners = append(f.sweepOwners, owner)
	return f.abandoned, nil
}

func (f *fakeStore) FindOrphanedSessions(_ context.Context, _ time.Duration) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Session(nil), f.orphans...), nil
}

func (f *fakeStore) SweepOrphanedSession(_ context.Context, id string, _ time.Duration, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphansSwept = append(f.orphansSwept, id)
	return true, nil
}

func (f *fakeStore) SaveCheckpoint(_ context.Context, cp *models.Checkpoint) (*models.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := *cp
	saved.ID = int64(len(f.checkpoints) + 1)
	f.checkpoints = append(f.checkpoints, saved)
	return &saved, nil
}

func (f *fakeStore) LatestCheckpoint(_ context.Context, _ string) (*models.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeStore) PruneCheckpoints(_ context.Context, _ string, keep int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneKeeps = append(f.pruneKeeps, keep)
	return 0, nil
}

func (f *fakeStore) CreatePausedSession(_ context.Context, paused *models.PausedSession) (*models.PausedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *paused
	cp.ID = int64(len(f.paused) + 1)
	f.paused = append(f.paused, &cp)
	f.unresolved = &cp
	return &cp, nil
}

func (f *fakeStore) MarkSessionPaused(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pausedSessions = append(f.pausedSessions, id)
	if session, ok := f.sessions[id]; ok {
		session.Status = models.SessionStatusPaused
	}
	return nil
}

func (f *fakeStore) SetAutoResume(_ context.Context, id int64, canAutoResume bool, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if canAutoResume {
		f.autoResume[id] = outcome
		if f.unresolved != nil && f.unresolved.ID == id {
			f.unresolved.CanAutoResume = true
		}
	}
	return nil
}

func (f *fakeStore) UnresolvedForSession(_ context.Context, sessionID string) (*models.PausedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unresolved == nil || f.unresolved.SessionID != sessionID {
		return nil, nil
	}
	cp := *f.unresolved
	return &cp, nil
}

func (f *fakeStore) CountPendingTasks(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeStore) setPending(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = n
}

func (f *fakeStore) endedCalls() []endCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]endCall(nil), f.ended...)
}

func (f *fakeStore) begunSessions() []store.CreateSessionParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.CreateSessionParams(nil), f.begun...)
}

func (f *fakeStore) resumeCalls() []resumeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resumeCall(nil), f.resumes...)
}

func (f *fakeStore) pausedRows() []*models.PausedSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.PausedSession(nil), f.paused...)
}

func (f *fakeStore) allCheckpoints() []models.Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Checkpoint(nil), f.checkpoints...)
}

func (f *fakeStore) allNotes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notes...)
}

func (f *fakeStore) projectStatuses() []models.ProjectStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProjectStatus(nil), f.statuses...)
}

// tools.Storage surface. The orchestrator hands the same store to the tool
// service; nothing in these tests dispatches tool calls.

func (f *fakeStore) GetProgress(context.Context, string) (*models.Progress, error) {
	return &models.Progress{}, nil
}
func (f *fakeStore) ListEpics(context.Context, string) ([]models.Epic, error) { return nil, nil }
func (f *fakeStore) GetEpic(context.Context, string, int) (*models.Epic, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) CreateEpic(context.Context, string, models.CreateEpicRequest) (*models.Epic, error) {
	return nil, store.ErrValidation
}
func (f *fakeStore) CompleteEpicsWithAllTasksDone(context.Context, string, store.EpicGate) (int, error) {
	return 0, nil
}
func (f *fakeStore) NextTask(context.Context, string) (*models.Task, error) { return nil, nil }
func (f *fakeStore) ListTasks(context.Context, string, store.TaskFilter) ([]models.Task, error) {
	return nil, nil
}
func (f *fakeStore) GetTask(context.Context, string, int) (*models.Task, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) CreateTask(context.Context, string, models.CreateTaskRequest) (*models.Task, error) {
	return nil, store.ErrValidation
}
func (f *fakeStore) StartTask(context.Context, string, int, string) (*models.Task, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) CompleteTask(context.Context, string, int) error { return nil }
func (f *fakeStore) ReopenTask(context.Context, string, int) error   { return nil }
func (f *fakeStore) ExpandEpic(context.Context, string, int, []models.TaskExpansion) ([]models.Task, []models.Test, error) {
	return nil, nil, nil
}
func (f *fakeStore) CreateTest(context.Context, string, models.CreateTestRequest) (*models.Test, error) {
	return nil, store.ErrValidation
}
func (f *fakeStore) ListTaskTests(context.Context, string, int) ([]models.Test, error) {
	return nil, nil
}
func (f *fakeStore) ListEpicTests(context.Context, string, int) ([]models.Test, error) {
	return nil, nil
}
func (f *fakeStore) UpdateTestResult(context.Context, string, int, models.TestResultUpdate) (*models.Test, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) GetTest(context.Context, string, int) (*models.Test, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) RecordEpicTestResult(context.Context, string, int, models.TestResultUpdate, string) (*models.Test, *models.EpicTestFailure, error) {
	return nil, nil, store.ErrNotFound
}
func (f *fakeStore) SessionHistory(context.Context, string, int) ([]models.SessionHistoryEntry, error) {
	return nil, nil
}
func (f *fakeStore) EpicStabilityMetrics(context.Context, string, *int) ([]models.EpicStability, error) {
	return nil, nil
}

// scriptedRun tells the fake runner what one session does. Zero value
// completes immediately with no events.
type scriptedRun struct {
	events []events.StreamEvent
	result *runner.RunResult
	err    error
	// block waits for cancellation after publishing events, the way a live
	// agent keeps running until something kills it.
	block bool
	// before runs at session start; tests use it to mutate fake state
	// between sessions.
	before func()
}

type fakeRunner struct {
	mu      sync.Mutex
	scripts []scriptedRun
	runs    []runner.RunRequest
}

func (f *fakeRunner) Run(ctx context.Context, req runner.RunRequest) (*runner.RunResult, error) {
	f.mu.Lock()
	idx := len(f.runs)
	f.runs = append(f.runs, req)
	var script scriptedRun
	if idx < len(f.scripts) {
		script = f.scripts[idx]
	}
	f.mu.Unlock()

	defer req.Bus.Close()
	if script.before != nil {
		script.before()
	}
	for _, ev := range script.events {
		req.Bus.Publish(ev)
	}
	if script.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if script.err != nil {
		return script.result, script.err
	}
	if script.result != nil {
		return script.result, nil
	}
	return &runner.RunResult{Reason: "completed"}, nil
}

func (f *fakeRunner) requests() []runner.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.RunRequest(nil), f.runs...)
}

type stubSandbox struct{}

func (stubSandbox) Name() string { return "stub-sandbox" }
func (stubSandbox) Execute(context.Context, sandbox.ExecRequest) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{ExitCode: 0}, nil
}
func (stubSandbox) ExecutePrivileged(context.Context, sandbox.ExecRequest) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{ExitCode: 0}, nil
}
func (stubSandbox) Stop(context.Context) error                      { return nil }
func (stubSandbox) Remove(context.Context) error                    { return nil }
func (stubSandbox) Status(context.Context) (*sandbox.Status, error) { return &sandbox.Status{}, nil }

type fakeSandboxes struct {
	mu          sync.Mutex
	acquireErrs []error
	acquires    int
	releases    int
	stops       []string
	removes     []string
	removeErr   error
}

func (f *fakeSandboxes) Acquire(_ context.Context, _, _, _ string, _ models.SessionType) (sandbox.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.acquires
	f.acquires++
	if idx < len(f.acquireErrs) && f.acquireErrs[idx] != nil {
		return nil, f.acquireErrs[idx]
	}
	return stubSandbox{}, nil
}

func (f *fakeSandboxes) Release(_, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeSandboxes) Stop(_ context.Context, projectID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, projectID)
	return nil
}

func (f *fakeSandboxes) Remove(_ context.Context, projectID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removes = append(f.removes, projectID)
	return nil
}

func (f *fakeSandboxes) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires
}

type qualityCall struct {
	sessionID string
	sessType  models.SessionType
	final     bool
}

type fakeQuality struct {
	mu       sync.Mutex
	calls    []qualityCall
	review   *models.CompletionReview
	reviewed []string
}

func (f *fakeQuality) OnSessionEnd(_ context.Context, session *models.Session, _ *models.MetricsSummary, finalSession bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, qualityCall{sessionID: session.ID, sessType: session.Type, final: finalSession})
}

func (f *fakeQuality) RunCompletionReview(_ context.Context, projectID string) (*models.CompletionReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewed = append(f.reviewed, projectID)
	if f.review == nil {
		return &models.CompletionReview{ProjectID: projectID, OverallScore: 8, Recommendation: models.ReviewRecommendationComplete}, nil
	}
	return f.review, nil
}

func (f *fakeQuality) sessionCalls() []qualityCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]qualityCall(nil), f.calls...)
}

type fakePlanner struct {
	mu         sync.Mutex
	due        bool
	candidates []models.RetestCandidate
}

func (f *fakePlanner) ShouldTrigger(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	due := f.due
	f.due = false
	return due, nil
}

func (f *fakePlanner) SelectCandidates(context.Context, string) ([]models.RetestCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candidates, nil
}

func (f *fakePlanner) RecordResult(context.Context, string, *string, models.RetestResultUpdate) (*models.EpicRetest, error) {
	return nil, nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	projectStates []events.ProjectStatusPayload
	sessionStates []events.SessionStatusPayload
	progress      []events.SessionProgressPayload
	interventions []events.InterventionPayload
	resolved      []events.InterventionResolvedPayload
	reviews       []events.ReviewCompletedPayload
	retests       []events.RetestRecordedPayload
}

func (n *fakeNotifier) PublishProjectStatus(_ context.Context, p events.ProjectStatusPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.projectStates = append(n.projectStates, p)
	return nil
}

func (n *fakeNotifier) PublishSessionStatus(_ context.Context, p events.SessionStatusPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessionStates = append(n.sessionStates, p)
	return nil
}

func (n *fakeNotifier) PublishSessionProgress(_ context.Context, p events.SessionProgressPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, p)
	return nil
}

func (n *fakeNotifier) PublishIntervention(_ context.Context, p events.InterventionPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interventions = append(n.interventions, p)
	return nil
}

func (n *fakeNotifier) PublishInterventionResolved(_ context.Context, p events.InterventionResolvedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, p)
	return nil
}

func (n *fakeNotifier) PublishReviewCompleted(_ context.Context, p events.ReviewCompletedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reviews = append(n.reviews, p)
	return nil
}

func (n *fakeNotifier) PublishRetestRecorded(_ context.Context, p events.RetestRecordedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.retests = append(n.retests, p)
	return nil
}

func (n *fakeNotifier) sessionStatuses() []events.SessionStatusPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.SessionStatusPayload(nil), n.sessionStates...)
}

func (n *fakeNotifier) progressEvents() []events.SessionProgressPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.SessionProgressPayload(nil), n.progress...)
}

func (n *fakeNotifier) resolvedEvents() []events.InterventionResolvedPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.InterventionResolvedPayload(nil), n.resolved...)
}

func (n *fakeNotifier) reviewEvents() []events.ReviewCompletedPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.ReviewCompletedPayload(nil), n.reviews...)
}

func (n *fakeNotifier) interventionEvents() []events.InterventionPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.InterventionPayload(nil), n.interventions...)
}

func (n *fakeNotifier) projectStatusEvents() []events.ProjectStatusPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.ProjectStatusPayload(nil), n.projectStates...)
}

// fixture wires an orchestrator to fakes. The auto-continue delay is zeroed
// so loops run back to back.
type fixture struct {
	store    *fakeStore
	boxes    *fakeSandboxes
	runner   *fakeRunner
	quality  *fakeQuality
	planner  *fakePlanner
	notifier *fakeNotifier
	orch     *Orchestrator
}

func testProject() *models.Project {
	return &models.Project{
		ID:          "proj-1",
		Name:        "todo-app",
		SourceSpec:  "Build a todo app with projects and due dates.",
		Status:      models.ProjectStatusActive,
		ProjectType: models.ProjectTypeGreenfield,
		Settings:    models.JSONMap{},
	}
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Timing.AutoContinueDelaySeconds = 0
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		store:    newFakeStore(testProject()),
		boxes:    &fakeSandboxes{},
		runner:   &fakeRunner{},
		quality:  &fakeQuality{},
		planner:  &fakePlanner{},
		notifier: &fakeNotifier{},
	}
	f.orch = New(slog.Default(), cfg, f.store, f.boxes, f.runner, f.quality, f.planner, f.notifier, telemetry.New(), "test-owner")
	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(f.orch.Stop)
	return f
}

func (f *fixture) waitLoopDone(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.orch.lookupLoop("proj-1") == nil
	}, 10*time.Second, 5*time.Millisecond, "session loop did not wind down")
}

func (f *fixture) waitSessionActive(t *testing.T, sessionID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.orch.lookupSession(sessionID) != nil
	}, 10*time.Second, 5*time.Millisecond, "session never registered")
}

func intp(v int) *int { return &v }

func TestStartBeforeUseIsRequired(t *testing.T) {
	f := &fixture{
		store:    newFakeStore(testProject()),
		boxes:    &fakeSandboxes{},
		runner:   &fakeRunner{},
		quality:  &fakeQuality{},
		planner:  &fakePlanner{},
		notifier: &fakeNotifier{},
	}
	f.orch = New(slog.Default(), config.Default(), f.store, f.boxes, f.runner, f.quality, f.planner, f.notifier, telemetry.New(), "test-owner")

	_, err := f.orch.StartCoding(context.Background(), "proj-1", StartCodingOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestStartSweepsOwnAbandonedSessions(t *testing.T) {
	st := newFakeStore(testProject())
	st.abandoned = 2
	o := New(slog.Default(), config.Default(), st, &fakeSandboxes{}, &fakeRunner{}, &fakeQuality{}, &fakePlanner{}, &fakeNotifier{}, telemetry.New(), "test-owner")

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, []string{"test-owner"}, st.sweepOwners, "a restart sweeps only this owner's sessions")
	o.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.Stop()
	assert.NotPanics(t, f.orch.Stop)
}

func TestSecondSessionOnProjectConflicts(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.scripts = []scriptedRun{{block: true}}

	session, err := f.orch.StartCoding(context.Background(), "proj-1", StartCodingOptions{})
	require.NoError(t, err)

	_, err = f.orch.StartCoding(context.Background(), "proj-1", StartCodingOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)

	f.waitSessionActive(t, session.ID)
	require.NoError(t, f.orch.CancelSession(context.Background(), session.ID))
	f.waitLoopDone(t)
}

func TestOrphanSweepFailsExpiredSessions(t *testing.T) {
	f := newFixture(t, nil)
	f.store.orphans = []models.Session{
		{ID: "sess-dead", ProjectID: "proj-1", SessionNumber: 9, Type: models.SessionTypeCoding, Owner: "other-pod", StartedAt: time.Now().Add(-time.Hour)},
	}

	f.orch.sweepOrphans(context.Background())

	assert.Equal(t, []string{"sess-dead"}, f.store.orphansSwept)
	statuses := f.notifier.sessionStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, models.SessionStatusError, statuses[0].Status)
	assert.Equal(t, "heartbeat expired", statuses[0].Error)
	assert.Equal(t, "sess-dead", statuses[0].SessionID)
}
