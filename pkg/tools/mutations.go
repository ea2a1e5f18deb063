package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
)

func (s *Service) startTask(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p taskIDParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	return s.store.StartTask(ctx, s.session.ProjectID, p.ID, s.session.SessionID)
}

// updateTaskStatusResult is the update_task_status response. EpicsCompleted
// counts epics auto-completed because this was their last open task.
type updateTaskStatusResult struct {
	Task           *models.Task `json:"task"`
	EpicsCompleted int          `json:"epics_completed,omitempty"`
}

// updateTaskStatus marks a task done or reopens it. Completion passes
// through the quality gate first; a gate rejection reaches the agent as a
// quality_violation before anything is written.
func (s *Service) updateTaskStatus(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p updateTaskStatusParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, s.session.ProjectID, p.ID)
	if err != nil {
		return nil, err
	}

	var epicsCompleted int
	switch {
	case p.Done && !task.Done:
		if s.gate != nil {
			if err := s.gate.CheckTaskCompletion(ctx, task); err != nil {
				return nil, err
			}
		}
		if err := s.store.CompleteTask(ctx, s.session.ProjectID, p.ID); err != nil {
			return nil, err
		}
		// The epic sweep runs in its own transaction. A crash between
		// CompleteTask and the sweep leaves the task done with the sweep
		// deferred; the sweep is idempotent over all epics, so the next
		// completion in the single-writer session loop picks it up.
		epicsCompleted, err = s.store.CompleteEpicsWithAllTasksDone(ctx, s.session.ProjectID, s.session.EpicGate)
		if err != nil {
			return nil, err
		}
	case !p.Done && task.Done:
		if err := s.store.ReopenTask(ctx, s.session.ProjectID, p.ID); err != nil {
			return nil, err
		}
	}

	if notes := strings.TrimSpace(p.Notes); notes != "" {
		note := fmt.Sprintf("[task %d] %s", p.ID, notes)
		if err := s.store.AppendProgressNote(ctx, s.session.ProjectID, note); err != nil {
			return nil, err
		}
	}

	task, err = s.store.GetTask(ctx, s.session.ProjectID, p.ID)
	if err != nil {
		return nil, err
	}
	return updateTaskStatusResult{Task: task, EpicsCompleted: epicsCompleted}, nil
}

// updateTaskTestResult records an outcome for a task-level test. Epic tests
// go through update_epic_test_result so failures get classified.
func (s *Service) updateTaskTestResult(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p testResultParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}

	test, err := s.store.GetTest(ctx, s.session.ProjectID, p.TestID)
	if err != nil {
		return nil, err
	}
	if test.IsEpicTest() {
		return nil, validationf("test %d belongs to an epic, use update_epic_test_result", p.TestID)
	}
	return s.store.UpdateTestResult(ctx, s.session.ProjectID, p.TestID, p.update())
}

// epicTestResultOutcome is the update_epic_test_result response. Failure is
// set only when the result failed, carrying the flaky/implementation_gap
// classification.
type epicTestResultOutcome struct {
	Test    *models.Test            `json:"test"`
	Failure *models.EpicTestFailure `json:"failure,omitempty"`
}

func (s *Service) updateEpicTestResult(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p epicTestResultParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}

	test, failure, err := s.store.RecordEpicTestResult(ctx, s.session.ProjectID, p.EpicTestID, p.update(), s.session.SessionID)
	if err != nil {
		return nil, err
	}
	return epicTestResultOutcome{Test: test, Failure: failure}, nil
}

func (s *Service) triggerEpicRetest(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	if s.retests == nil {
		return nil, errRetestsDisabled
	}
	candidates, err := s.retests.SelectCandidates(ctx, s.session.ProjectID)
	if err != nil {
		return nil, err
	}
	return struct {
		Candidates []models.RetestCandidate `json:"candidates"`
	}{Candidates: candidates}, nil
}

func (s *Service) recordEpicRetestResult(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	if s.retests == nil {
		return nil, errRetestsDisabled
	}
	var p models.RetestResultUpdate
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	if p.EpicID <= 0 {
		return nil, validationf("record_epic_retest_result needs epic_id")
	}
	if p.FailedTestCount < 0 || p.TotalTestCount < 0 || p.FailedTestCount > p.TotalTestCount {
		return nil, validationf("inconsistent test counts: %d failed of %d", p.FailedTestCount, p.TotalTestCount)
	}
	if p.Passed && p.FailedTestCount > 0 {
		return nil, validationf("a passing retest cannot report %d failing tests", p.FailedTestCount)
	}

	sessionID := s.session.SessionID
	retest, err := s.retests.RecordResult(ctx, s.session.ProjectID, &sessionID, p)
	if err != nil {
		return nil, err
	}
	s.notifyRetest(ctx, retest, p)
	return retest, nil
}

// notifyRetest broadcasts the recorded outcome. Delivery is best-effort; the
// retest row is already committed.
func (s *Service) notifyRetest(ctx context.Context, retest *models.EpicRetest, result models.RetestResultUpdate) {
	if s.notifier == nil {
		return
	}
	var stability float64
	if retest.StabilityScore != nil {
		stability = *retest.StabilityScore
	}
	payload := events.RetestRecordedPayload{
		BasePayload:        events.NewBasePayload(events.EventTypeRetestRecorded, s.session.ProjectID, s.session.SessionID),
		EpicID:             retest.EpicID,
		Trigger:            retest.TriggerReason,
		Passed:             result.Passed,
		FailedTestCount:    result.FailedTestCount,
		TotalTestCount:     result.TotalTestCount,
		StabilityScore:     stability,
		RegressionDetected: retest.RegressionDetected,
	}
	if err := s.notifier.PublishRetestRecorded(ctx, payload); err != nil {
		s.logger.Warn("retest notification failed", "epic_id", retest.EpicID, "error", err)
	}
	if retest.RegressionDetected {
		s.bus.Publish(events.StreamEvent{
			Kind:    events.StreamNotification,
			Subtype: "regression_detected",
			Message: fmt.Sprintf("regression detected on epic %d", retest.EpicID),
			Fields: map[string]any{
				"project_id": s.session.ProjectID,
				"epic_id":    retest.EpicID,
				"trigger":    string(retest.TriggerReason),
			},
			At: time.Now(),
		})
	}
}
