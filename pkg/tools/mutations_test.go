package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/intervention"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/store"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestStartTaskPassesSessionID(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.tasks[3] = &models.Task{TaskID: 3, EpicID: 1, Description: "index the queue table"}

	raw, werr := ts.handle("start_task", `{"id": 3}`)
	require.Nil(t, werr)

	require.Len(t, ts.st.started, 1)
	assert.Equal(t, startCall{taskID: 3, sessionID: "sess-1"}, ts.st.started[0])

	var task models.Task
	require.NoError(t, json.Unmarshal(raw, &task))
	assert.Equal(t, 3, task.TaskID)
}

func TestStartTaskConflict(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.startErr = fmt.Errorf("task 3 is held by another session: %w", store.ErrConflict)

	_, werr := ts.handle("start_task", `{"id": 3}`)
	require.NotNil(t, werr)
	assert.Equal(t, runner.ErrorKindConflict, werr.Kind)
}

func TestUpdateTaskStatusCompletes(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.tasks[3] = &models.Task{TaskID: 3, EpicID: 1, Description: "index the queue table"}
	ts.st.epicsSwept = 1

	raw, werr := ts.handle("update_task_status", `{"id": 3, "done": true, "notes": "all tests green"}`)
	require.Nil(t, werr)

	assert.Equal(t, []int{3}, ts.gate.checked)
	assert.Equal(t, []int{3}, ts.st.completed)
	assert.Equal(t, 1, ts.st.sweepCount)
	assert.Equal(t, []string{"[task 3] all tests green"}, ts.st.notes)

	var result struct {
		Task           *models.Task `json:"task"`
		EpicsCompleted int          `json:"epics_completed"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.NotNil(t, result.Task)
	assert.True(t, result.Task.Done)
	assert.Equal(t, 1, result.EpicsCompleted)
}

func TestUpdateTaskStatusGateRejection(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.tasks[3] = &models.Task{TaskID: 3, EpicID: 1}
	ts.gate.err = &intervention.QualityViolationError{TaskID: 3, Reason: "task has no passing tests"}

	_, werr := ts.handle("update_task_status", `{"id": 3, "done": true}`)
	require.NotNil(t, werr)
	assert.Equal(t, runner.ErrorKindQualityViolation, werr.Kind)
	assert.Contains(t, werr.Message, "no passing tests")

	assert.Empty(t, ts.st.completed)
	assert.Zero(t, ts.st.sweepCount)

	published := ts.drain()
	require.Len(t, published, 2)
	assert.True(t, published[1].IsError)
}

func TestUpdateTaskStatusReopens(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.tasks[4] = &models.Task{TaskID: 4, EpicID: 1, Done: true}

	raw, werr := ts.handle("update_task_status", `{"id": 4, "done": false}`)
	require.Nil(t, werr)

	assert.Equal(t, []int{4}, ts.st.reopened)
	assert.Empty(t, ts.gate.checked)

	var result struct {
		Task *models.Task `json:"task"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.Task.Done)
}

func TestUpdateTaskStatusAlreadyDone(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.tasks[5] = &models.Task{TaskID: 5, EpicID: 1, Done: true}

	_, werr := ts.handle("update_task_status", `{"id": 5, "done": true}`)
	require.Nil(t, werr)

	assert.Empty(t, ts.gate.checked)
	assert.Empty(t, ts.st.completed)
	assert.Zero(t, ts.st.sweepCount)
}

func TestUpdateTaskStatusNotesWithoutTransition(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.tasks[6] = &models.Task{TaskID: 6, EpicID: 2}

	_, werr := ts.handle("update_task_status", `{"id": 6, "done": false, "notes": "  blocked on schema review  "}`)
	require.Nil(t, werr)

	assert.Empty(t, ts.st.completed)
	assert.Empty(t, ts.st.reopened)
	assert.Equal(t, []string{"[task 6] blocked on schema review"}, ts.st.notes)
}

func TestUpdateTaskTestResult(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.tests[9] = &models.Test{TestID: 9, TaskID: intp(3), Category: models.TestCategoryUnit}

	_, werr := ts.handle("update_task_test_result", `{"test_id": 9, "passed": false, "error": "assertion failed", "execution_time_ms": 120}`)
	require.Nil(t, werr)

	require.Len(t, ts.st.testUpdates, 1)
	upd := ts.st.testUpdates[0]
	assert.Equal(t, 9, upd.testID)
	assert.False(t, upd.upd.Passed)
	require.NotNil(t, upd.upd.Error)
	assert.Equal(t, "assertion failed", *upd.upd.Error)
	require.NotNil(t, upd.upd.ExecutionTimeMS)
	assert.Equal(t, 120, *upd.upd.ExecutionTimeMS)
}

func TestUpdateTaskTestResultRejectsEpicTest(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.tests[9] = &models.Test{TestID: 9, EpicID: intp(2), Category: models.TestCategoryIntegration}

	_, werr := ts.handle("update_task_test_result", `{"test_id": 9, "passed": true}`)
	require.NotNil(t, werr)
	assert.Equal(t, runner.ErrorKindValidation, werr.Kind)
	assert.Contains(t, werr.Message, "update_epic_test_result")
	assert.Empty(t, ts.st.testUpdates)
}

func TestUpdateEpicTestResult(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.epicTest = &models.Test{TestID: 12, EpicID: intp(2), RetryCount: 1}
	ts.st.epicFailure = &models.EpicTestFailure{
		EpicID:        2,
		EpicTestID:    12,
		ErrorCategory: models.FailureCategoryFlaky,
	}

	raw, werr := ts.handle("update_epic_test_result", `{"epic_test_id": 12, "passed": false, "error": "timeout"}`)
	require.Nil(t, werr)

	require.Len(t, ts.st.epicResults, 1)
	call := ts.st.epicResults[0]
	assert.Equal(t, 12, call.testID)
	assert.Equal(t, "sess-1", call.sessionID)
	require.NotNil(t, call.upd.Error)
	assert.Equal(t, "timeout", *call.upd.Error)

	var result struct {
		Test    *models.Test            `json:"test"`
		Failure *models.EpicTestFailure `json:"failure"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.NotNil(t, result.Failure)
	assert.Equal(t, models.FailureCategoryFlaky, result.Failure.ErrorCategory)
}

func TestUpdateEpicTestResultPassOmitsFailure(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.epicTest = &models.Test{TestID: 12, EpicID: intp(2)}

	raw, werr := ts.handle("update_epic_test_result", `{"epic_test_id": 12, "passed": true}`)
	require.Nil(t, werr)
	assert.NotContains(t, string(raw), "failure")
}

func TestTriggerEpicRetest(t *testing.T) {
	ts := newTestService(models.SessionTypeRetest)
	ts.retests.candidates = []models.RetestCandidate{
		{EpicID: 1, Name: "User auth", Tier: models.EpicTierFoundation},
	}

	raw, werr := ts.handle("trigger_epic_retest", "")
	require.Nil(t, werr)
	assert.Equal(t, 1, ts.retests.selects)

	var result struct {
		Candidates []models.RetestCandidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "User auth", result.Candidates[0].Name)
}

func TestRetestMethodsWithoutPlanner(t *testing.T) {
	st := newFakeStorage()
	bus := events.NewStreamBus()
	svc := NewService(slog.Default(), st, &fakeSandbox{}, bus, nil, nil, nil, SessionInfo{
		ProjectID: "proj-1",
		SessionID: "sess-1",
		Type:      models.SessionTypeRetest,
	})

	for _, method := range []string{"trigger_epic_retest", "record_epic_retest_result"} {
		_, werr := svc.Handle(context.Background(), &runner.Request{ID: "r", Method: method, Params: json.RawMessage(`{"epic_id": 1, "total_test_count": 1}`)}, nil)
		require.NotNil(t, werr, method)
		assert.Equal(t, runner.ErrorKindValidation, werr.Kind, method)
	}
}

func TestRecordEpicRetestResult(t *testing.T) {
	ts := newTestService(models.SessionTypeRetest)
	ts.retests.retest = &models.EpicRetest{
		ID:             21,
		EpicID:         4,
		TriggerReason:  models.RetestTriggerEpicInterval,
		StabilityScore: floatp(0.9),
	}

	raw, werr := ts.handle("record_epic_retest_result", `{"epic_id": 4, "passed": true, "failed_test_count": 0, "total_test_count": 6}`)
	require.Nil(t, werr)

	require.Len(t, ts.retests.recorded, 1)
	rec := ts.retests.recorded[0]
	assert.Equal(t, "proj-1", rec.projectID)
	require.NotNil(t, rec.sessionID)
	assert.Equal(t, "sess-1", *rec.sessionID)
	assert.Equal(t, 4, rec.result.EpicID)
	assert.True(t, rec.result.Passed)

	var retest models.EpicRetest
	require.NoError(t, json.Unmarshal(raw, &retest))
	assert.Equal(t, int64(21), retest.ID)

	require.Len(t, ts.notifier.payloads, 1)
	payload := ts.notifier.payloads[0]
	assert.Equal(t, events.EventTypeRetestRecorded, payload.Type)
	assert.Equal(t, 4, payload.EpicID)
	assert.Equal(t, models.RetestTriggerEpicInterval, payload.Trigger)
	assert.True(t, payload.Passed)
	assert.Equal(t, 6, payload.TotalTestCount)
	assert.InDelta(t, 0.9, payload.StabilityScore, 0.0001)
}

func TestRecordEpicRetestResultValidation(t *testing.T) {
	tests := []struct {
		name   string
		params string
	}{
		{name: "missing epic", params: `{"passed": true, "total_test_count": 3}`},
		{name: "failed exceeds total", params: `{"epic_id": 1, "failed_test_count": 4, "total_test_count": 3}`},
		{name: "negative counts", params: `{"epic_id": 1, "failed_test_count": -1, "total_test_count": 3}`},
		{name: "pass with failures", params: `{"epic_id": 1, "passed": true, "failed_test_count": 1, "total_test_count": 3}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestService(models.SessionTypeRetest)
			_, werr := ts.handle("record_epic_retest_result", tc.params)
			require.NotNil(t, werr)
			assert.Equal(t, runner.ErrorKindValidation, werr.Kind)
			assert.Empty(t, ts.retests.recorded)
		})
	}
}

func TestRecordEpicRetestRegressionNotification(t *testing.T) {
	ts := newTestService(models.SessionTypeRetest)
	ts.retests.retest = &models.EpicRetest{
		ID:                 22,
		EpicID:             4,
		TriggerReason:      models.RetestTriggerFoundationStale,
		StabilityScore:     floatp(0.5),
		RegressionDetected: true,
	}

	_, werr := ts.handle("record_epic_retest_result", `{"epic_id": 4, "passed": false, "failed_test_count": 2, "total_test_count": 6}`)
	require.Nil(t, werr)

	published := ts.drain()
	require.Len(t, published, 3)
	assert.Equal(t, events.StreamNotification, published[1].Kind)
	assert.Equal(t, "regression_detected", published[1].Subtype)
	assert.Equal(t, 4, published[1].Fields["epic_id"])
}

func TestRecordEpicRetestNotifierFailureIsNotFatal(t *testing.T) {
	ts := newTestService(models.SessionTypeRetest)
	ts.retests.retest = &models.EpicRetest{ID: 23, EpicID: 4, TriggerReason: models.RetestTriggerManual}
	ts.notifier.err = fmt.Errorf("listener gone")

	raw, werr := ts.handle("record_epic_retest_result", `{"epic_id": 4, "passed": false, "failed_test_count": 1, "total_test_count": 2}`)
	require.Nil(t, werr)
	assert.NotEmpty(t, raw)
	require.Len(t, ts.retests.recorded, 1)
}
