package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/models"
)

const taskColumns = `t.project_id, t.task_id, t.epic_id, t.description, t.action, t.priority,
	t.done, t.started_at, t.completed_at, t.started_by, t.metadata`

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	EpicID      *int
	OnlyPending bool
}

// CreateTask inserts a new task under an existing epic with the next
// per-project task id.
func (s *Store) CreateTask(ctx context.Context, projectID string, req models.CreateTaskRequest) (*models.Task, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: task description must not be empty", ErrValidation)
	}

	var task models.Task
	err := s.get(ctx, &task, "task",
		`INSERT INTO tasks (project_id, task_id, epic_id, description, action, priority, metadata)
		 VALUES ($1, (SELECT COALESCE(MAX(task_id), 0) + 1 FROM tasks WHERE project_id = $1),
		         $2, $3, $4, $5, $6)
		 RETURNING project_id, task_id, epic_id, description, action, priority, done,
		           started_at, completed_at, started_by, metadata`,
		projectID, req.EpicID, req.Description, req.Action, req.Priority, req.Metadata)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches one task by its per-project id.
func (s *Store) GetTask(ctx context.Context, projectID string, taskID int) (*models.Task, error) {
	var task models.Task
	err := s.get(ctx, &task, "task",
		`SELECT `+taskColumns+` FROM tasks t WHERE t.project_id = $1 AND t.task_id = $2`,
		projectID, taskID)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns a project's tasks, optionally narrowed to one epic or to
// pending work only. Ordering matches NextTask.
func (s *Store) ListTasks(ctx context.Context, projectID string, filter TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + `, e.priority AS epic_priority
		FROM tasks t
		JOIN epics e ON e.project_id = t.project_id AND e.epic_id = t.epic_id
		WHERE t.project_id = $1`
	args := []any{projectID}
	if filter.EpicID != nil {
		args = append(args, *filter.EpicID)
		query += fmt.Sprintf(" AND t.epic_id = $%d", len(args))
	}
	if filter.OnlyPending {
		query += " AND NOT t.done"
	}
	query += " ORDER BY e.priority, t.priority, t.task_id"

	tasks := []models.Task{}
	err := s.selectAll(ctx, &tasks, "tasks", query, args...)
	return tasks, err
}

// NextTask returns the lowest-(epic priority, task priority) pending task of
// a pending or in-progress epic, or nil when the backlog is drained.
func (s *Store) NextTask(ctx context.Context, projectID string) (*models.Task, error) {
	var task models.Task
	err := s.get(ctx, &task, "task",
		`SELECT `+taskColumns+`, e.priority AS epic_priority
		 FROM tasks t
		 JOIN epics e ON e.project_id = t.project_id AND e.epic_id = t.epic_id
		 WHERE t.project_id = $1 AND NOT t.done AND e.status IN ('pending', 'in_progress')
		 ORDER BY e.priority, t.priority, t.task_id
		 LIMIT 1`, projectID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// StartTask stamps started_at/started_by, and moves the owning epic to
// in_progress. It refuses with ErrConflict when another live session already
// started the task.
func (s *Store) StartTask(ctx context.Context, projectID string, taskID int, sessionID string) (*models.Task, error) {
	var task models.Task
	err := s.get(ctx, &task, "task",
		`UPDATE tasks t
		 SET started_at = COALESCE(t.started_at, now()), started_by = $3
		 WHERE t.project_id = $1 AND t.task_id = $2
		   AND NOT t.done
		   AND (t.started_by IS NULL
		        OR t.started_by = $3
		        OR NOT EXISTS (SELECT 1 FROM sessions sess
		                       WHERE sess.id = t.started_by AND sess.status = 'running'))
		 RETURNING t.project_id, t.task_id, t.epic_id, t.description, t.action, t.priority,
		           t.done, t.started_at, t.completed_at, t.started_by, t.metadata`,
		projectID, taskID, sessionID)
	if err != nil {
		if !IsNotFound(err) {
			return nil, err
		}
		// Distinguish a missing task from one held by another session.
		if _, getErr := s.GetTask(ctx, projectID, taskID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: task %d is held by another session or already done", ErrConflict, taskID)
	}

	_, err = s.exec(ctx, "epic",
		`UPDATE epics SET status = 'in_progress'
		 WHERE project_id = $1 AND epic_id = $2 AND status = 'pending'`,
		projectID, task.EpicID)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CompleteTask marks a task done. Callers gate this behind the quality checks
// before invoking it; the store only enforces existence.
func (s *Store) CompleteTask(ctx context.Context, projectID string, taskID int) error {
	return s.requireOne(ctx, "task",
		`UPDATE tasks SET done = TRUE, completed_at = now()
		 WHERE project_id = $1 AND task_id = $2`,
		projectID, taskID)
}

// ReopenTask clears the done flag, used when an operator sends a task back.
func (s *Store) ReopenTask(ctx context.Context, projectID string, taskID int) error {
	return s.requireOne(ctx, "task",
		`UPDATE tasks SET done = FALSE, completed_at = NULL
		 WHERE project_id = $1 AND task_id = $2`,
		projectID, taskID)
}

// CountPendingTasks returns how many tasks remain open for a project.
func (s *Store) CountPendingTasks(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.get(ctx, &count, "tasks",
		`SELECT COUNT(*) FROM tasks WHERE project_id = $1 AND NOT done`, projectID)
	return count, err
}

// ExpandEpic creates a batch of tasks, each with its tests, under one epic in
// a single transaction. Either the whole batch lands or none of it does.
func (s *Store) ExpandEpic(ctx context.Context, projectID string, epicID int, batch []models.TaskExpansion) ([]models.Task, []models.Test, error) {
	if len(batch) == 0 {
		return nil, nil, fmt.Errorf("%w: expand_epic needs at least one task", ErrValidation)
	}

	var tasks []models.Task
	var tests []models.Test
	err := s.WithTx(ctx, func(tx *Store) error {
		// WithTx may rerun fn; start each attempt from scratch.
		tasks, tests = tasks[:0], tests[:0]

		if _, err := tx.GetEpic(ctx, projectID, epicID); err != nil {
			return err
		}
		for _, item := range batch {
			task, err := tx.CreateTask(ctx, projectID, models.CreateTaskRequest{
				EpicID:      epicID,
				Description: item.Description,
				Action:      item.Action,
				Priority:    item.Priority,
				Metadata:    item.Metadata,
			})
			if err != nil {
				return err
			}
			tasks = append(tasks, *task)

			for _, spec := range item.Tests {
				taskID := task.TaskID
				test, err := tx.CreateTest(ctx, projectID, models.CreateTestRequest{
					TaskID:       &taskID,
					Category:     spec.Category,
					Description:  spec.Description,
					Requirements: spec.Requirements,
				})
				if err != nil {
					return err
				}
				tests = append(tests, *test)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return tasks, tests, nil
}
