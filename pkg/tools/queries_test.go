package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
)

func TestGetNextTaskDrainedBacklog(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)

	raw, werr := ts.handle("get_next_task", "")
	require.Nil(t, werr)
	assert.JSONEq(t, `{"task": null}`, string(raw))
}

func TestGetNextTaskReturnsTask(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.next = &models.Task{TaskID: 7, EpicID: 2, Description: "add retry loop"}

	raw, werr := ts.handle("get_next_task", "")
	require.Nil(t, werr)

	var result struct {
		Task *models.Task `json:"task"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.NotNil(t, result.Task)
	assert.Equal(t, 7, result.Task.TaskID)
}

func TestListTasksForwardsFilter(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.taskList = []models.Task{{TaskID: 1}, {TaskID: 2}}

	raw, werr := ts.handle("list_tasks", `{"epic_id": 3, "only_pending": true}`)
	require.Nil(t, werr)

	require.NotNil(t, ts.st.taskFilter)
	require.NotNil(t, ts.st.taskFilter.EpicID)
	assert.Equal(t, 3, *ts.st.taskFilter.EpicID)
	assert.True(t, ts.st.taskFilter.OnlyPending)

	var result struct {
		Tasks []models.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Tasks, 2)
}

func TestListTasksNoFilter(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)

	_, werr := ts.handle("list_tasks", "")
	require.Nil(t, werr)
	require.NotNil(t, ts.st.taskFilter)
	assert.Nil(t, ts.st.taskFilter.EpicID)
	assert.False(t, ts.st.taskFilter.OnlyPending)
}

func TestListTestsByTask(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.testList = []models.Test{{TestID: 1}, {TestID: 2}}

	raw, werr := ts.handle("list_tests", `{"task_id": 5}`)
	require.Nil(t, werr)
	require.NotNil(t, ts.st.listedTask)
	assert.Equal(t, 5, *ts.st.listedTask)
	assert.Nil(t, ts.st.listedEpic)

	var result struct {
		Tests []models.Test `json:"tests"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Tests, 2)
}

func TestListTestsByEpic(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)

	_, werr := ts.handle("list_tests", `{"epic_id": 8}`)
	require.Nil(t, werr)
	require.NotNil(t, ts.st.listedEpic)
	assert.Equal(t, 8, *ts.st.listedEpic)
}

func TestListTestsRequiresExactlyOneOwner(t *testing.T) {
	tests := []struct {
		name   string
		params string
	}{
		{name: "neither", params: `{}`},
		{name: "both", params: `{"task_id": 1, "epic_id": 2}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestService(models.SessionTypeCoding)
			_, werr := ts.handle("list_tests", tc.params)
			require.NotNil(t, werr)
			assert.Equal(t, runner.ErrorKindValidation, werr.Kind)
		})
	}
}

func TestGetSessionHistoryDefaultLimit(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)

	_, werr := ts.handle("get_session_history", "")
	require.Nil(t, werr)
	assert.Equal(t, defaultHistoryLimit, ts.st.historyLimit)
}

func TestGetSessionHistoryExplicitLimit(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.history = []models.SessionHistoryEntry{{}, {}}

	raw, werr := ts.handle("get_session_history", `{"limit": 5}`)
	require.Nil(t, werr)
	assert.Equal(t, 5, ts.st.historyLimit)

	var result struct {
		Sessions []models.SessionHistoryEntry `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Sessions, 2)
}

func TestGetEpicStabilityMetrics(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.stability = []models.EpicStability{{EpicID: 1, Name: "User auth"}}

	raw, werr := ts.handle("get_epic_stability_metrics", `{"epic_id": 1}`)
	require.Nil(t, werr)
	require.NotNil(t, ts.st.stabilityFor)
	assert.Equal(t, 1, *ts.st.stabilityFor)

	var result struct {
		Epics []models.EpicStability `json:"epics"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Epics, 1)
	assert.Equal(t, "User auth", result.Epics[0].Name)
}

func TestGetEpicStabilityMetricsAllEpics(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)

	_, werr := ts.handle("get_epic_stability_metrics", "")
	require.Nil(t, werr)
	assert.Nil(t, ts.st.stabilityFor)
}

func TestGetEpic(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.epics[2] = &models.Epic{EpicID: 2, Name: "Checkout flow"}

	raw, werr := ts.handle("get_epic", `{"epic_id": 2}`)
	require.Nil(t, werr)

	var epic models.Epic
	require.NoError(t, json.Unmarshal(raw, &epic))
	assert.Equal(t, "Checkout flow", epic.Name)
}

func TestListEpics(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)
	ts.st.epicList = []models.Epic{{EpicID: 1}, {EpicID: 2}, {EpicID: 3}}

	raw, werr := ts.handle("list_epics", "")
	require.Nil(t, werr)

	var result struct {
		Epics []models.Epic `json:"epics"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Epics, 3)
}
