// Package tools is the typed RPC surface the agent calls over the session
// stdio channel. Every call is scoped to the session's project; agents
// cannot reach across projects. The service publishes a tool_use record
// before dispatch and a tool_result record after, so the metrics collector
// and the intervention engine observe every call and its outcome in stream
// order. Mutations commit before the tool_result is published.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
	"github.com/yokeflow/yokeflow/pkg/store"
)

// Storage is the persistence slice the tool surface uses. *store.Store
// satisfies it.
type Storage interface {
	GetProgress(ctx context.Context, projectID string) (*models.Progress, error)
	AppendProgressNote(ctx context.Context, id, note string) error

	ListEpics(ctx context.Context, projectID string) ([]models.Epic, error)
	GetEpic(ctx context.Context, projectID string, epicID int) (*models.Epic, error)
	CreateEpic(ctx context.Context, projectID string, req models.CreateEpicRequest) (*models.Epic, error)
	CompleteEpicsWithAllTasksDone(ctx context.Context, projectID string, gate store.EpicGate) (int, error)

	NextTask(ctx context.Context, projectID string) (*models.Task, error)
	ListTasks(ctx context.Context, projectID string, filter store.TaskFilter) ([]models.Task, error)
	GetTask(ctx context.Context, projectID string, taskID int) (*models.Task, error)
	CreateTask(ctx context.Context, projectID string, req models.CreateTaskRequest) (*models.Task, error)
	StartTask(ctx context.Context, projectID string, taskID int, sessionID string) (*models.Task, error)
	CompleteTask(ctx context.Context, projectID string, taskID int) error
	ReopenTask(ctx context.Context, projectID string, taskID int) error
	ExpandEpic(ctx context.Context, projectID string, epicID int, batch []models.TaskExpansion) ([]models.Task, []models.Test, error)

	CreateTest(ctx context.Context, projectID string, req models.CreateTestRequest) (*models.Test, error)
	ListTaskTests(ctx context.Context, projectID string, taskID int) ([]models.Test, error)
	ListEpicTests(ctx context.Context, projectID string, epicID int) ([]models.Test, error)
	UpdateTestResult(ctx context.Context, projectID string, testID int, upd models.TestResultUpdate) (*models.Test, error)
	GetTest(ctx context.Context, projectID string, testID int) (*models.Test, error)
	RecordEpicTestResult(ctx context.Context, projectID string, testID int, upd models.TestResultUpdate, sessionID string) (*models.Test, *models.EpicTestFailure, error)

	SessionHistory(ctx context.Context, projectID string, limit int) ([]models.SessionHistoryEntry, error)
	EpicStabilityMetrics(ctx context.Context, projectID string, epicID *int) ([]models.EpicStability, error)
}

// CompletionGate vets update_task_status(done=true) before the task is
// marked complete. *intervention.Monitor satisfies it.
type CompletionGate interface {
	CheckTaskCompletion(ctx context.Context, task *models.Task) error
}

// RetestPlanner selects completed epics for re-testing and records their
// outcomes. *quality.RetestPlanner satisfies it.
type RetestPlanner interface {
	SelectCandidates(ctx context.Context, projectID string) ([]models.RetestCandidate, error)
	RecordResult(ctx context.Context, projectID string, sessionID *string, result models.RetestResultUpdate) (*models.EpicRetest, error)
}

// Notifier broadcasts cross-process notification events. *events.Publisher
// satisfies it; nil disables publishing.
type Notifier interface {
	PublishRetestRecorded(ctx context.Context, payload events.RetestRecordedPayload) error
}

// SessionInfo scopes every call the service handles to one session.
type SessionInfo struct {
	ProjectID string
	SessionID string
	Type      models.SessionType
	// EpicGate is the project's epic-test completion policy, applied by the
	// epic sweep after each task completion.
	EpicGate store.EpicGate
}

// handler executes one decoded tool call. The returned value is marshaled
// into the RPC result; errors are mapped to wire kinds by the dispatcher.
type handler func(ctx context.Context, call *runner.Request, partial func(runner.PartialChunk)) (any, error)

// Service implements runner.ToolHandler for one session.
type Service struct {
	logger   *slog.Logger
	store    Storage
	sandbox  sandbox.Sandbox
	bus      *events.StreamBus
	gate     CompletionGate
	retests  RetestPlanner
	notifier Notifier
	session  SessionInfo
	methods  map[string]handler
}

// NewService builds the tool surface for one session. gate, retests and
// notifier may be nil; the corresponding methods then degrade (no completion
// gate, retest methods unavailable, no notification events).
func NewService(logger *slog.Logger, st Storage, sb sandbox.Sandbox, bus *events.StreamBus, gate CompletionGate, retests RetestPlanner, notifier Notifier, session SessionInfo) *Service {
	s := &Service{
		logger: logger.With(
			"component", "tool_service",
			"session_id", session.SessionID,
		),
		store:    st,
		sandbox:  sb,
		bus:      bus,
		gate:     gate,
		retests:  retests,
		notifier: notifier,
		session:  session,
	}
	s.methods = map[string]handler{
		"task_status":                s.taskStatus,
		"get_next_task":              s.getNextTask,
		"list_epics":                 s.listEpics,
		"get_epic":                   s.getEpic,
		"list_tasks":                 s.listTasks,
		"get_task":                   s.getTask,
		"list_tests":                 s.listTests,
		"get_session_history":        s.getSessionHistory,
		"get_epic_stability_metrics": s.getEpicStabilityMetrics,

		"start_task":              s.startTask,
		"update_task_status":      s.updateTaskStatus,
		"update_task_test_result": s.updateTaskTestResult,
		"update_epic_test_result": s.updateEpicTestResult,

		"trigger_epic_retest":       s.triggerEpicRetest,
		"record_epic_retest_result": s.recordEpicRetestResult,

		"create_epic": s.createEpic,
		"create_task": s.createTask,
		"create_test": s.createTest,
		"expand_epic": s.expandEpic,
		"log_session": s.logSession,

		"bash": s.bash,
	}
	return s
}

// Handle dispatches one tool call: tool_use on the stream, the handler, then
// tool_result carrying either the marshaled result or the wire error text.
// The handler completes (mutations committed) before the result record is
// published, so stream consumers never observe an outcome that later rolls
// back.
func (s *Service) Handle(ctx context.Context, call *runner.Request, partial func(runner.PartialChunk)) (json.RawMessage, *runner.WireError) {
	s.bus.Publish(events.StreamEvent{
		Kind:      events.StreamToolUse,
		Tool:      call.Method,
		Input:     call.Params,
		RequestID: call.ID,
		At:        time.Now(),
	})

	h, ok := s.methods[call.Method]
	if !ok {
		return nil, s.fail(call, runner.NewWireError(runner.ErrorKindValidation, "unknown method %q", call.Method))
	}

	result, err := h(ctx, call, partial)
	if err != nil {
		return nil, s.fail(call, s.wireError(call.Method, err))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("tool result not marshalable", "method", call.Method, "error", err)
		return nil, s.fail(call, runner.NewWireError(runner.ErrorKindInternal, "internal error"))
	}

	s.bus.Publish(events.StreamEvent{
		Kind:      events.StreamToolResult,
		RequestID: call.ID,
		Text:      string(raw),
		At:        time.Now(),
	})
	return raw, nil
}

// fail publishes the error-bearing tool_result and passes the wire error
// through for the RPC response.
func (s *Service) fail(call *runner.Request, werr *runner.WireError) *runner.WireError {
	s.bus.Publish(events.StreamEvent{
		Kind:      events.StreamToolResult,
		RequestID: call.ID,
		Text:      werr.Message,
		IsError:   true,
		At:        time.Now(),
	})
	return werr
}

// requireInitializer guards the backlog-creation methods.
func (s *Service) requireInitializer(method string) error {
	if s.session.Type != models.SessionTypeInitializer {
		return runner.NewWireError(runner.ErrorKindValidation, "%s is only available to initializer sessions", method)
	}
	return nil
}
