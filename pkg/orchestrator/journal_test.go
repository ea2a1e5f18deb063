package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/events"
)

func TestJournalTaskLifecycle(t *testing.T) {
	j := newSessionJournal()

	up := j.observe(events.StreamEvent{Kind: events.StreamAssistantText, Text: "Looking at the backlog."})
	assert.Nil(t, up, "narration alone is not a task boundary")

	up = j.observe(events.StreamEvent{
		Kind:      events.StreamToolUse,
		Tool:      "start_task",
		RequestID: "r1",
		Input:     json.RawMessage(`{"id":4}`),
	})
	assert.Nil(t, up, "the boundary lands on the result, not the call")

	up = j.observe(events.StreamEvent{
		Kind:      events.StreamToolResult,
		Tool:      "start_task",
		RequestID: "r1",
		Text:      `{"project_id":"proj-1","epic_id":2,"task_id":4,"description":"Build the login form\nwith validation","action":"create"}`,
	})
	require.NotNil(t, up)
	require.NotNil(t, up.taskStarted)
	assert.Equal(t, 4, *up.taskStarted)
	require.NotNil(t, up.epicID)
	assert.Equal(t, 2, *up.epicID)
	assert.Equal(t, "task 4 started: Build the login form", up.statusText)

	up = j.observe(events.StreamEvent{
		Kind:      events.StreamToolUse,
		Tool:      "update_task_status",
		RequestID: "r2",
		Input:     json.RawMessage(`{"id":4,"done":true,"notes":"all tests pass"}`),
	})
	assert.Nil(t, up)

	up = j.observe(events.StreamEvent{
		Kind:      events.StreamToolResult,
		Tool:      "update_task_status",
		RequestID: "r2",
		Text:      `{"done":true}`,
	})
	require.NotNil(t, up)
	require.NotNil(t, up.taskCompleted)
	assert.Equal(t, 4, *up.taskCompleted)
	assert.Equal(t, "task 4 completed", up.statusText)
	assert.Equal(t, 2, up.toolCalls)

	payload, lastTaskID := j.snapshot()
	assert.Equal(t, []string{"Looking at the backlog."}, payload.ConversationHistory)
	assert.Equal(t, 1, payload.TasksCompleted)
	assert.Equal(t, "update_task_status", payload.LastToolUse)
	require.NotNil(t, lastTaskID)
	assert.Equal(t, 4, *lastTaskID)
}

func TestJournalIgnoresNonBoundaries(t *testing.T) {
	j := newSessionJournal()

	assert.Nil(t, j.observe(events.StreamEvent{Kind: events.StreamAssistantText, Text: ""}))
	assert.Nil(t, j.observe(events.StreamEvent{Kind: events.StreamToolResult, RequestID: "unseen", Text: "{}"}))

	j.observe(events.StreamEvent{Kind: events.StreamToolUse, Tool: "start_task", RequestID: "r1", Input: json.RawMessage(`{"id":9}`)})
	assert.Nil(t, j.observe(events.StreamEvent{
		Kind:      events.StreamToolResult,
		RequestID: "r1",
		IsError:   true,
		Text:      "task 9 is already done",
	}), "failed calls do not move the journal")

	j.observe(events.StreamEvent{Kind: events.StreamToolUse, Tool: "update_task_status", RequestID: "r2", Input: json.RawMessage(`{"id":9,"done":false}`)})
	assert.Nil(t, j.observe(events.StreamEvent{
		Kind:      events.StreamToolResult,
		RequestID: "r2",
		Text:      `{"done":false}`,
	}), "reopening a task is not a completion")

	j.observe(events.StreamEvent{Kind: events.StreamToolUse, Tool: "get_next_task", RequestID: "r3"})
	assert.Nil(t, j.observe(events.StreamEvent{
		Kind:      events.StreamToolResult,
		RequestID: "r3",
		Text:      `{"task_id":12}`,
	}), "only start_task and update_task_status mark boundaries")

	payload, lastTaskID := j.snapshot()
	assert.Empty(t, payload.ConversationHistory)
	assert.Zero(t, payload.TasksCompleted)
	assert.Nil(t, lastTaskID)
}

func TestJournalHistoryKeepsTail(t *testing.T) {
	j := newSessionJournal()
	for i := 0; i < historyLimit+10; i++ {
		j.observe(events.StreamEvent{Kind: events.StreamAssistantText, Text: fmt.Sprintf("line %d", i)})
	}

	payload, _ := j.snapshot()
	require.Len(t, payload.ConversationHistory, historyLimit)
	assert.Equal(t, "line 10", payload.ConversationHistory[0])
	assert.Equal(t, fmt.Sprintf("line %d", historyLimit+9), payload.ConversationHistory[historyLimit-1])
}

func TestJournalDirtyTracking(t *testing.T) {
	j := newSessionJournal()
	assert.False(t, j.dirty())

	j.observe(events.StreamEvent{Kind: events.StreamAssistantText, Text: "working"})
	assert.True(t, j.dirty())

	j.snapshot()
	assert.False(t, j.dirty(), "snapshot marks the journal clean")

	j.observe(events.StreamEvent{Kind: events.StreamToolUse, Tool: "bash", RequestID: "r1"})
	assert.True(t, j.dirty())
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "short", firstLine("short", 120))
	assert.Equal(t, "first", firstLine("first\nsecond", 120))
	long := strings.Repeat("x", 130)
	assert.Equal(t, strings.Repeat("x", 120)+"...", firstLine(long, 120))
}
