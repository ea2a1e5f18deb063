// Package orchestrator drives projects through their lifecycle: it creates
// sessions, hosts the agent run for each one, and decides what happens when
// a session ends. One goroutine per active project walks the session loop
// (run, checkpoint, end, auto-continue) until the backlog is done, a blocker
// pauses the project, or an operator stops it. A registry of cancel
// functions makes running sessions addressable for pause, cancel and
// shutdown, and a background scan sweeps sessions whose owning process died
// without ending them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/intervention"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
	"github.com/yokeflow/yokeflow/pkg/store"
	"github.com/yokeflow/yokeflow/pkg/telemetry"
	"github.com/yokeflow/yokeflow/pkg/tools"
)

const (
	// streamBuffer is the per-consumer event buffer on a session's bus.
	streamBuffer = 256
	// checkpointKeep bounds how many checkpoints a session retains; only the
	// latest one matters for resume, the rest are kept for inspection.
	checkpointKeep = 20
	// sandboxRetryDelay spaces the single reacquire attempt after a sandbox
	// failure at session start.
	sandboxRetryDelay = 2 * time.Second
)

// Store is the persistence surface the orchestrator drives. It spans the
// slices its per-session collaborators need (the tool service and the
// intervention monitor take the same value) plus the lifecycle methods the
// orchestrator calls itself. *store.Store satisfies it.
type Store interface {
	tools.Storage
	intervention.Store

	CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error)
	DeleteProject(ctx context.Context, id string) error
	SetStopRequested(ctx context.Context, id string, stop bool) error
	SetSourceRevision(ctx context.Context, id, revision string) error

	BeginSession(ctx context.Context, params store.CreateSessionParams) (*models.Session, error)
	ResumeSession(ctx context.Context, params store.CreateSessionParams, interventionID int64, resolvedBy, notes string) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	EndSession(ctx context.Context, id string, status models.SessionStatus, metrics *models.MetricsSummary, errorMessage *string) error
	SaveSessionMetrics(ctx context.Context, id string, metrics *models.MetricsSummary) error
	Heartbeat(ctx context.Context, id string) (bool, error)
	SweepAbandonedSessions(ctx context.Context, owner, message string) (int64, error)
	FindOrphanedSessions(ctx context.Context, threshold time.Duration) ([]models.Session, error)
	SweepOrphanedSession(ctx context.Context, id string, threshold time.Duration, message string) (bool, error)

	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) (*models.Checkpoint, error)
	LatestCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error)
	PruneCheckpoints(ctx context.Context, sessionID string, keep int) (int, error)

	UnresolvedForSession(ctx context.Context, sessionID string) (*models.PausedSession, error)
	CountPendingTasks(ctx context.Context, projectID string) (int, error)
}

// Sandboxes is the sandbox manager slice the orchestrator uses.
// *sandbox.Manager satisfies it.
type Sandboxes interface {
	Acquire(ctx context.Context, projectID, projectName, sessionID string, sessionType models.SessionType) (sandbox.Sandbox, error)
	Release(projectID, sessionID string)
	Stop(ctx context.Context, projectID, projectName string) error
	Remove(ctx context.Context, projectID, projectName string) error
}

// QualityPipeline runs the post-session and post-project quality work.
// *quality.Pipeline satisfies it.
type QualityPipeline interface {
	OnSessionEnd(ctx context.Context, session *models.Session, summary *models.MetricsSummary, finalSession bool)
	RunCompletionReview(ctx context.Context, projectID string) (*models.CompletionReview, error)
}

// RetestPlanner decides when completed epics need re-testing and which ones.
// The orchestrator consults ShouldTrigger between sessions and hands the
// planner to the tool service so retest sessions can record outcomes.
// *quality.RetestPlanner satisfies it.
type RetestPlanner interface {
	tools.RetestPlanner
	ShouldTrigger(ctx context.Context, projectID string) (bool, error)
}

// Notifier publishes lifecycle facts to the persistent notification plane.
// *events.Publisher satisfies it. Publish failures are logged, never fatal:
// the rows of record are already committed by the time an event goes out.
type Notifier interface {
	tools.Notifier

	PublishProjectStatus(ctx context.Context, payload events.ProjectStatusPayload) error
	PublishSessionStatus(ctx context.Context, payload events.SessionStatusPayload) error
	PublishSessionProgress(ctx context.Context, payload events.SessionProgressPayload) error
	PublishIntervention(ctx context.Context, payload events.InterventionPayload) error
	PublishInterventionResolved(ctx context.Context, payload events.InterventionResolvedPayload) error
	PublishReviewCompleted(ctx context.Context, payload events.ReviewCompletedPayload) error
}

// projectLoop is one registered session loop. cancel aborts the in-flight
// session; done closes when the loop goroutine has fully wound down.
type projectLoop struct {
	projectID string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// activeSession makes a running session addressable while its loop owns it.
type activeSession struct {
	cancel  context.CancelFunc
	monitor *intervention.Monitor
}

// Orchestrator owns every project loop in this process.
type Orchestrator struct {
	logger    *slog.Logger
	cfg       *config.Config
	store     Store
	sandboxes Sandboxes
	agents    runner.AgentRunner
	quality   QualityPipeline
	retests   RetestPlanner
	notifier  Notifier
	tel       *telemetry.Telemetry
	owner     string

	mu      sync.Mutex
	started bool
	loops   map[string]*projectLoop
	active  map[string]*activeSession

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds the orchestrator. owner is this process's identity, stamped on
// every session row it creates so restarts can tell their own leftovers from
// another process's.
func New(logger *slog.Logger, cfg *config.Config, st Store, sandboxes Sandboxes, agents runner.AgentRunner, quality QualityPipeline, retests RetestPlanner, notifier Notifier, tel *telemetry.Telemetry, owner string) *Orchestrator {
	return &Orchestrator{
		logger:    logger.With("component", "orchestrator"),
		cfg:       cfg,
		store:     st,
		sandboxes: sandboxes,
		agents:    agents,
		quality:   quality,
		retests:   retests,
		notifier:  notifier,
		tel:       tel,
		owner:     owner,
		loops:     make(map[string]*projectLoop),
		active:    make(map[string]*activeSession),
		stopCh:    make(chan struct{}),
	}
}

// Start sweeps sessions this process owned before a restart and begins the
// periodic orphan scan. It must be called before any session is started.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		o.logger.Warn("orchestrator already started")
		return nil
	}
	o.started = true
	o.mu.Unlock()

	swept, err := o.store.SweepAbandonedSessions(ctx, o.owner, "session abandoned: orchestrator restarted")
	if err != nil {
		return fmt.Errorf("sweeping abandoned sessions: %w", err)
	}
	if swept > 0 {
		o.logger.Warn("abandoned sessions swept at startup", "count", swept)
	}

	o.wg.Add(1)
	go o.runOrphanScan()

	o.logger.Info("orchestrator started",
		"owner", o.owner,
		"orphan_scan_interval", o.cfg.Timing.OrphanScanInterval())
	return nil
}

// Stop cancels every running session and waits for all loops to wind down.
// Cancelled sessions end with status cancelled; paused work is untouched.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.mu.Lock()
		loops := make([]*projectLoop, 0, len(o.loops))
		for _, loop := range o.loops {
			loops = append(loops, loop)
		}
		o.mu.Unlock()
		for _, loop := range loops {
			loop.cancel()
		}
	})
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

// claimLoop reserves the single loop slot of a project. The slot is claimed
// before the session row is created so a slow wind-down cannot race a fresh
// start into a session nobody serves.
func (o *Orchestrator) claimLoop(projectID string) (*projectLoop, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil, errors.New("orchestrator is not started")
	}
	if _, exists := o.loops[projectID]; exists {
		return nil, fmt.Errorf("%w: project %s already has an active session loop", store.ErrConflict, projectID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &projectLoop{projectID: projectID, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	o.loops[projectID] = loop
	return loop, nil
}

func (o *Orchestrator) releaseLoop(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.loops, projectID)
}

// startLoop launches the loop goroutine on a previously claimed slot.
func (o *Orchestrator) startLoop(loop *projectLoop, project *models.Project, session *models.Session, prompt string, autoContinue bool) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(loop.done)
		defer o.releaseLoop(project.ID)
		o.runLoop(loop.ctx, project, session, prompt, autoContinue)
	}()
}

// lookupLoop returns the project's loop entry, or nil.
func (o *Orchestrator) lookupLoop(projectID string) *projectLoop {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loops[projectID]
}

func (o *Orchestrator) registerSession(sessionID string, cancel context.CancelFunc, monitor *intervention.Monitor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[sessionID] = &activeSession{cancel: cancel, monitor: monitor}
}

func (o *Orchestrator) unregisterSession(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, sessionID)
}

func (o *Orchestrator) lookupSession(sessionID string) *activeSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[sessionID]
}

// runOrphanScan periodically fails running sessions whose heartbeat expired.
// Catches sessions left behind by other processes that died mid-run; this
// process's own leftovers were already swept at startup.
func (o *Orchestrator) runOrphanScan() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.Timing.OrphanScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.sweepOrphans(context.Background())
		}
	}
}

func (o *Orchestrator) sweepOrphans(ctx context.Context) {
	threshold := o.cfg.Timing.OrphanThreshold()
	orphans, err := o.store.FindOrphanedSessions(ctx, threshold)
	if err != nil {
		o.logger.Error("scanning for orphaned sessions", "error", err)
		return
	}

	for _, session := range orphans {
		swept, err := o.store.SweepOrphanedSession(ctx, session.ID, threshold, "session abandoned: heartbeat expired")
		if err != nil {
			o.logger.Error("sweeping orphaned session", "session_id", session.ID, "error", err)
			continue
		}
		if !swept {
			continue
		}
		o.logger.Warn("orphaned session swept",
			"session_id", session.ID,
			"project_id", session.ProjectID,
			"session_number", session.SessionNumber,
			"owner", session.Owner)
		o.tel.RecordSessionEnd(string(session.Type), string(models.SessionStatusError), time.Since(session.StartedAt))
		o.publishSessionStatus(ctx, &session, models.SessionStatusError, "heartbeat expired")
	}
}
