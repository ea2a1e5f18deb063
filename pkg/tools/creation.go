package tools

import (
	"context"
	"strings"
	"time"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
)

// The creation methods are reserved for initializer sessions. Coding and
// review agents work the backlog; only the initializer shapes it.

func (s *Service) createEpic(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	if err := s.requireInitializer(call.Method); err != nil {
		return nil, err
	}
	var p createEpicParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	return s.store.CreateEpic(ctx, s.session.ProjectID, models.CreateEpicRequest{
		Name:        p.Name,
		Description: p.Description,
		Priority:    p.Priority,
		Tier:        p.Tier,
	})
}

func (s *Service) createTask(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	if err := s.requireInitializer(call.Method); err != nil {
		return nil, err
	}
	var p createTaskParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	return s.store.CreateTask(ctx, s.session.ProjectID, models.CreateTaskRequest{
		EpicID:      p.EpicID,
		Description: p.Description,
		Action:      p.Action,
		Priority:    p.Priority,
		Metadata:    p.Metadata,
	})
}

func (s *Service) createTest(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	if err := s.requireInitializer(call.Method); err != nil {
		return nil, err
	}
	var p createTestParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	return s.store.CreateTest(ctx, s.session.ProjectID, models.CreateTestRequest{
		TaskID:       p.TaskID,
		EpicID:       p.EpicID,
		Category:     p.Category,
		Description:  p.Description,
		Requirements: p.Requirements,
	})
}

// expandEpicResult is the expand_epic response: everything the batch
// created, in insertion order.
type expandEpicResult struct {
	Tasks []models.Task `json:"tasks"`
	Tests []models.Test `json:"tests"`
}

// expandEpic creates a batch of tasks with their tests under an existing
// epic in one transaction. All or nothing.
func (s *Service) expandEpic(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	if err := s.requireInitializer(call.Method); err != nil {
		return nil, err
	}
	var p expandEpicParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	tasks, tests, err := s.store.ExpandEpic(ctx, s.session.ProjectID, p.EpicID, p.Tasks)
	if err != nil {
		return nil, err
	}
	return expandEpicResult{Tasks: tasks, Tests: tests}, nil
}

// logSession appends a progress note and surfaces it on the stream so the
// transcript shows the initializer's own narration.
func (s *Service) logSession(ctx context.Context, call *runner.Request, _ func(runner.PartialChunk)) (any, error) {
	if err := s.requireInitializer(call.Method); err != nil {
		return nil, err
	}
	var p logSessionParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	message := strings.TrimSpace(p.Message)
	if message == "" {
		return nil, validationf("log_session needs a message")
	}
	if err := s.store.AppendProgressNote(ctx, s.session.ProjectID, message); err != nil {
		return nil, err
	}
	s.bus.Publish(events.StreamEvent{
		Kind:    events.StreamSystemMessage,
		Subtype: "session_log",
		Message: message,
		At:      time.Now(),
	})
	return struct {
		Logged bool `json:"logged"`
	}{Logged: true}, nil
}
