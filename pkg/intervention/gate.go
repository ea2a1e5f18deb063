package intervention

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/metrics"
	"github.com/yokeflow/yokeflow/pkg/models"
)

// CheckTaskCompletion is the verification gate for update_task_status with
// done=true. It rejects the completion with a QualityViolationError when the
// task's tests are unresolved or failing, when a UI task has no passing
// browser run since the task started, or when the task has no tests at all
// and the project does not allow untested tasks. Each rejection counts
// toward the quality-violation pause threshold.
func (m *Monitor) CheckTaskCompletion(ctx context.Context, task *models.Task) error {
	tests, err := m.store.ListTaskTests(ctx, m.projectID, task.TaskID)
	if err != nil {
		return fmt.Errorf("listing tests for task %d: %w", task.TaskID, err)
	}

	if len(tests) == 0 {
		project, err := m.store.GetProject(ctx, m.projectID)
		if err != nil {
			return fmt.Errorf("loading project %s: %w", m.projectID, err)
		}
		if project.AllowUntestedTasks() {
			return nil
		}
		return m.violation(ctx, task, "no tests recorded; add at least one test result before completing the task")
	}

	var unresolved, failing []int
	for _, t := range tests {
		switch {
		case t.Passed == nil:
			unresolved = append(unresolved, t.TestID)
		case !*t.Passed:
			failing = append(failing, t.TestID)
		}
	}
	if len(unresolved)+len(failing) > 0 {
		var parts []string
		if len(unresolved) > 0 {
			parts = append(parts, fmt.Sprintf("tests %s have no recorded outcome", joinIDs(unresolved)))
		}
		if len(failing) > 0 {
			parts = append(parts, fmt.Sprintf("tests %s are failing", joinIDs(failing)))
		}
		return m.violation(ctx, task, strings.Join(parts, "; "))
	}

	if metrics.InferTaskType(task) == metrics.TaskTypeUI && !browserVerifiedSinceStart(task, tests) {
		return m.violation(ctx, task, "ui task has no passing browser test run since the task was started")
	}

	return nil
}

// browserVerifiedSinceStart reports whether any browser-category test passed
// on a run after the task was started.
func browserVerifiedSinceStart(task *models.Task, tests []models.Test) bool {
	for _, t := range tests {
		if t.Category != models.TestCategoryBrowser || t.Passed == nil || !*t.Passed || t.LastRunAt == nil {
			continue
		}
		if task.StartedAt == nil || t.LastRunAt.After(*task.StartedAt) {
			return true
		}
	}
	return false
}

// violation records one rejected completion, pauses the session once the
// configured threshold is exceeded, and returns the error the agent sees.
func (m *Monitor) violation(ctx context.Context, task *models.Task, reason string) error {
	m.mu.Lock()
	m.violations++
	count := m.violations
	threshold := m.cfg.ViolationPauseThreshold
	m.mu.Unlock()

	m.logger.Warn("task completion rejected",
		"task_id", task.TaskID,
		"reason", reason,
		"violation_count", count)

	if count > threshold {
		m.triggerPause(ctx, models.PauseTypeQualityViolation,
			fmt.Sprintf("%d task completions rejected by the verification gate", count),
			models.BlockerInfo{}, nil)
	}

	return &QualityViolationError{TaskID: task.TaskID, Reason: reason}
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
