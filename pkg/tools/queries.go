package tools

import (
	"context"

	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/store"
)

const defaultHistoryLimit = 20

// taskStatusResult is the task_status response: backlog counters plus the
// number of tasks still open.
type taskStatusResult struct {
	models.Progress
	RemainingTasks int `json:"remaining_tasks"`
}

func (s *Service) taskStatus(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	progress, err := s.store.GetProgress(ctx, s.session.ProjectID)
	if err != nil {
		return nil, err
	}
	return taskStatusResult{Progress: *progress, RemainingTasks: progress.Remaining()}, nil
}

// getNextTask returns {"task": null} when the backlog is drained so agents
// can distinguish "nothing left" from an error.
func (s *Service) getNextTask(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	task, err := s.store.NextTask(ctx, s.session.ProjectID)
	if err != nil {
		return nil, err
	}
	return struct {
		Task *models.Task `json:"task"`
	}{Task: task}, nil
}

func (s *Service) listEpics(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	epics, err := s.store.ListEpics(ctx, s.session.ProjectID)
	if err != nil {
		return nil, err
	}
	return struct {
		Epics []models.Epic `json:"epics"`
	}{Epics: epics}, nil
}

func (s *Service) getEpic(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p epicParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	return s.store.GetEpic(ctx, s.session.ProjectID, p.EpicID)
}

func (s *Service) listTasks(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p listTasksParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, s.session.ProjectID, store.TaskFilter{
		EpicID:      p.EpicID,
		OnlyPending: p.OnlyPending,
	})
	if err != nil {
		return nil, err
	}
	return struct {
		Tasks []models.Task `json:"tasks"`
	}{Tasks: tasks}, nil
}

func (s *Service) getTask(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p taskIDParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	return s.store.GetTask(ctx, s.session.ProjectID, p.ID)
}

// listTests requires exactly one of task_id / epic_id, mirroring the
// exclusive test ownership model.
func (s *Service) listTests(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p listTestsParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	var (
		tests []models.Test
		err   error
	)
	switch {
	case p.TaskID != nil && p.EpicID != nil:
		return nil, validationf("list_tests takes task_id or epic_id, not both")
	case p.TaskID != nil:
		tests, err = s.store.ListTaskTests(ctx, s.session.ProjectID, *p.TaskID)
	case p.EpicID != nil:
		tests, err = s.store.ListEpicTests(ctx, s.session.ProjectID, *p.EpicID)
	default:
		return nil, validationf("list_tests needs task_id or epic_id")
	}
	if err != nil {
		return nil, err
	}
	return struct {
		Tests []models.Test `json:"tests"`
	}{Tests: tests}, nil
}

func (s *Service) getSessionHistory(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p historyParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := s.store.SessionHistory(ctx, s.session.ProjectID, limit)
	if err != nil {
		return nil, err
	}
	return struct {
		Sessions []models.SessionHistoryEntry `json:"sessions"`
	}{Sessions: entries}, nil
}

func (s *Service) getEpicStabilityMetrics(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	var p stabilityParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	metrics, err := s.store.EpicStabilityMetrics(ctx, s.session.ProjectID, p.EpicID)
	if err != nil {
		return nil, err
	}
	return struct {
		Epics []models.EpicStability `json:"epics"`
	}{Epics: metrics}, nil
}
