package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/models"
)

const testColumns = `project_id, test_id, task_id, epic_id, category, description, requirements,
	passed, last_error, execution_time_ms, retry_count, verification_notes, last_run_at`

// CreateTest inserts a new test owned by exactly one task or epic.
func (s *Store) CreateTest(ctx context.Context, projectID string, req models.CreateTestRequest) (*models.Test, error) {
	if (req.TaskID == nil) == (req.EpicID == nil) {
		return nil, fmt.Errorf("%w: a test needs exactly one of task_id or epic_id", ErrValidation)
	}
	if !req.Category.IsValid() {
		return nil, fmt.Errorf("%w: unknown test category %q", ErrValidation, req.Category)
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: test description must not be empty", ErrValidation)
	}

	var test models.Test
	err := s.get(ctx, &test, "test",
		`INSERT INTO tests (project_id, test_id, task_id, epic_id, category, description, requirements)
		 VALUES ($1, (SELECT COALESCE(MAX(test_id), 0) + 1 FROM tests WHERE project_id = $1),
		         $2, $3, $4, $5, $6)
		 RETURNING `+testColumns,
		projectID, req.TaskID, req.EpicID, req.Category, req.Description, req.Requirements)
	if err != nil {
		return nil, err
	}
	return &test, nil
}

// GetTest fetches one test by its per-project id.
func (s *Store) GetTest(ctx context.Context, projectID string, testID int) (*models.Test, error) {
	var test models.Test
	err := s.get(ctx, &test, "test",
		`SELECT `+testColumns+` FROM tests WHERE project_id = $1 AND test_id = $2`,
		projectID, testID)
	if err != nil {
		return nil, err
	}
	return &test, nil
}

// ListTaskTests returns the tests owned by one task.
func (s *Store) ListTaskTests(ctx context.Context, projectID string, taskID int) ([]models.Test, error) {
	tests := []models.Test{}
	err := s.selectAll(ctx, &tests, "tests",
		`SELECT `+testColumns+` FROM tests
		 WHERE project_id = $1 AND task_id = $2
		 ORDER BY test_id`, projectID, taskID)
	return tests, err
}

// ListEpicTests returns the epic-owned tests of one epic (task-owned tests of
// the epic's tasks are not included).
func (s *Store) ListEpicTests(ctx context.Context, projectID string, epicID int) ([]models.Test, error) {
	tests := []models.Test{}
	err := s.selectAll(ctx, &tests, "tests",
		`SELECT `+testColumns+` FROM tests
		 WHERE project_id = $1 AND epic_id = $2 AND task_id IS NULL
		 ORDER BY test_id`, projectID, epicID)
	return tests, err
}

// CountUnresolvedTaskTests returns how many of a task's tests still have no
// recorded outcome or a failing one. Task completion requires zero.
func (s *Store) CountUnresolvedTaskTests(ctx context.Context, projectID string, taskID int) (int, error) {
	var count int
	err := s.get(ctx, &count, "tests",
		`SELECT COUNT(*) FROM tests
		 WHERE project_id = $1 AND task_id = $2 AND passed IS DISTINCT FROM TRUE`,
		projectID, taskID)
	return count, err
}

// UpdateTestResult records a test outcome. retry_count increments atomically
// with a failing result and is untouched by a passing one.
func (s *Store) UpdateTestResult(ctx context.Context, projectID string, testID int, upd models.TestResultUpdate) (*models.Test, error) {
	var test models.Test
	err := s.get(ctx, &test, "test",
		`UPDATE tests
		 SET passed = $3,
		     last_error = CASE WHEN $3 THEN NULL ELSE $4 END,
		     execution_time_ms = COALESCE($5, execution_time_ms),
		     verification_notes = COALESCE($6, verification_notes),
		     retry_count = CASE WHEN $3 THEN retry_count ELSE retry_count + 1 END,
		     last_run_at = now()
		 WHERE project_id = $1 AND test_id = $2
		 RETURNING `+testColumns,
		projectID, testID, upd.Passed, upd.Error, upd.ExecutionTimeMS, upd.VerificationNotes)
	if err != nil {
		return nil, err
	}
	return &test, nil
}

// RecordEpicTestResult applies one epic-test outcome transactionally: the
// result update and, on failure, the appended EpicTestFailure commit or roll
// back together. A failure is classified flaky only when a prior failure is
// on record and the test's previous pass postdates it; a first-ever failure
// is an implementation gap even when the test was passing. The returned
// failure is nil for passing outcomes.
func (s *Store) RecordEpicTestResult(ctx context.Context, projectID string, testID int, upd models.TestResultUpdate, sessionID string) (*models.Test, *models.EpicTestFailure, error) {
	var test *models.Test
	var failure *models.EpicTestFailure
	err := s.WithTx(ctx, func(tx *Store) error {
		prior, err := tx.GetTest(ctx, projectID, testID)
		if err != nil {
			return err
		}
		if !prior.IsEpicTest() {
			return fmt.Errorf("%w: test %d belongs to a task, not an epic", ErrValidation, testID)
		}

		test, err = tx.UpdateTestResult(ctx, projectID, testID, upd)
		if err != nil {
			return err
		}
		if upd.Passed {
			return nil
		}

		lastFailure, err := tx.LatestFailureForTest(ctx, projectID, testID)
		if err != nil {
			return err
		}
		wasPassing := prior.Passed != nil && *prior.Passed
		category := models.FailureCategoryImplementationGap
		if wasPassing && lastFailure != nil &&
			prior.LastRunAt != nil && prior.LastRunAt.After(lastFailure.FailedAt) {
			category = models.FailureCategoryFlaky
		}

		message := ""
		if upd.Error != nil {
			message = *upd.Error
		}
		failure, err = tx.RecordEpicTestFailure(ctx, &models.EpicTestFailure{
			ProjectID:           projectID,
			EpicID:              *prior.EpicID,
			EpicTestID:          testID,
			SessionID:           sessionID,
			ErrorMessage:        message,
			ErrorCategory:       category,
			WasPassingBefore:    wasPassing,
			RetryCountAtFailure: test.RetryCount,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return test, failure, nil
}
