package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
)

// historyLimit caps the conversation history carried in checkpoints. Resume
// prompts replay the tail; older narration costs tokens without adding
// context the agent can still act on.
const historyLimit = 50

// journalUpdate reports a task boundary to the session watcher, which
// responds with a checkpoint and a progress event.
type journalUpdate struct {
	taskStarted   *int
	taskCompleted *int
	epicID        *int
	toolCalls     int
	statusText    string
}

type pendingTool struct {
	name  string
	input json.RawMessage
}

// sessionJournal folds a session's event stream into the resumable state a
// checkpoint captures: recent assistant narration, tool-call counters, and
// which task the agent last worked. The pause path snapshots it concurrently
// with the watcher's observe calls, so state is guarded.
type sessionJournal struct {
	mu             sync.Mutex
	history        []string
	pending        map[string]pendingTool
	toolCalls      int
	tasksCompleted int
	lastToolUse    string
	lastTaskID     *int
	changed        bool
}

func newSessionJournal() *sessionJournal {
	return &sessionJournal{pending: make(map[string]pendingTool)}
}

// observe folds one stream event. The returned update is non-nil when a task
// was started or completed.
func (j *sessionJournal) observe(ev events.StreamEvent) *journalUpdate {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch ev.Kind {
	case events.StreamAssistantText:
		if ev.Text == "" {
			return nil
		}
		j.history = append(j.history, ev.Text)
		if len(j.history) > historyLimit {
			j.history = j.history[len(j.history)-historyLimit:]
		}
		j.changed = true

	case events.StreamToolUse:
		j.toolCalls++
		j.lastToolUse = ev.Tool
		j.changed = true
		if ev.RequestID != "" {
			j.pending[ev.RequestID] = pendingTool{name: ev.Tool, input: ev.Input}
		}

	case events.StreamToolResult:
		pc, ok := j.pending[ev.RequestID]
		if !ok {
			return nil
		}
		delete(j.pending, ev.RequestID)
		if ev.IsError {
			return nil
		}
		return j.onToolOutcome(pc, ev.Text)
	}
	return nil
}

// onToolOutcome inspects successful task-lifecycle calls. Results are the
// marshaled tool responses, so a start_task result decodes as the task row.
func (j *sessionJournal) onToolOutcome(pc pendingTool, result string) *journalUpdate {
	switch pc.name {
	case "start_task":
		var task models.Task
		if err := json.Unmarshal([]byte(result), &task); err != nil || task.TaskID == 0 {
			return nil
		}
		id := task.TaskID
		epic := task.EpicID
		j.lastTaskID = &id
		j.changed = true
		return &journalUpdate{
			taskStarted: &id,
			epicID:      &epic,
			toolCalls:   j.toolCalls,
			statusText:  fmt.Sprintf("task %d started: %s", id, firstLine(task.Description, 120)),
		}

	case "update_task_status":
		var in struct {
			ID   int  `json:"id"`
			Done bool `json:"done"`
		}
		if err := json.Unmarshal(pc.input, &in); err != nil || !in.Done || in.ID == 0 {
			return nil
		}
		j.tasksCompleted++
		id := in.ID
		j.lastTaskID = &id
		j.changed = true
		return &journalUpdate{
			taskCompleted: &id,
			toolCalls:     j.toolCalls,
			statusText:    fmt.Sprintf("task %d completed", id),
		}
	}
	return nil
}

// snapshot returns the checkpoint payload for the current state and marks it
// clean, so interval checkpoints skip stretches where nothing happened.
func (j *sessionJournal) snapshot() (models.CheckpointPayload, *int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	history := make([]string, len(j.history))
	copy(history, j.history)

	var last *int
	if j.lastTaskID != nil {
		id := *j.lastTaskID
		last = &id
	}
	j.changed = false
	return models.CheckpointPayload{
		ConversationHistory: history,
		TasksCompleted:      j.tasksCompleted,
		LastToolUse:         j.lastToolUse,
	}, last
}

// dirty reports whether anything changed since the last snapshot.
func (j *sessionJournal) dirty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.changed
}

// firstLine truncates s to its first line, capped at max runes.
func firstLine(s string, max int) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			s = s[:i]
			break
		}
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
