package store

import (
	"context"
	"fmt"
	"time"

	"github.com/yokeflow/yokeflow/pkg/models"
)

const retestColumns = `id, project_id, epic_id, trigger_reason, tier, selected_at, tested_at,
	passed, failed_test_count, total_test_count, regression_detected, stability_score, session_id`

// RetestCandidateRow is the raw per-epic data the quality pipeline ranks when
// selecting retest candidates.
type RetestCandidateRow struct {
	EpicID         int             `db:"epic_id"`
	Name           string          `db:"name"`
	Tier           models.EpicTier `db:"tier"`
	CompletedAt    *time.Time      `db:"completed_at"`
	LastRetestedAt *time.Time      `db:"last_retested_at"`
	DependentCount int             `db:"dependent_count"`
}

// ListRetestCandidateRows returns every completed epic with its last retest
// time and dependent count. Epics with a retest still pending are excluded.
func (s *Store) ListRetestCandidateRows(ctx context.Context, projectID string) ([]RetestCandidateRow, error) {
	rows := []RetestCandidateRow{}
	err := s.selectAll(ctx, &rows, "retest candidates",
		`SELECT e.epic_id, e.name, e.tier, e.completed_at,
		        (SELECT MAX(r.tested_at) FROM epic_retests r
		         WHERE r.project_id = e.project_id AND r.epic_id = e.epic_id) AS last_retested_at,
		        (SELECT COUNT(*) FROM epics d
		         WHERE d.project_id = e.project_id AND d.priority > e.priority) AS dependent_count
		 FROM epics e
		 WHERE e.project_id = $1 AND e.status = 'completed'
		   AND NOT EXISTS (SELECT 1 FROM epic_retests p
		                   WHERE p.project_id = e.project_id AND p.epic_id = e.epic_id
		                     AND p.tested_at IS NULL)
		 ORDER BY e.epic_id`, projectID)
	return rows, err
}

// CreateEpicRetest inserts a pending retest selection for an epic.
func (s *Store) CreateEpicRetest(ctx context.Context, projectID string, epicID int, trigger models.RetestTrigger, tier models.EpicTier) (*models.EpicRetest, error) {
	if !trigger.IsValid() {
		return nil, fmt.Errorf("%w: unknown retest trigger %q", ErrValidation, trigger)
	}
	var retest models.EpicRetest
	err := s.get(ctx, &retest, "epic retest",
		`INSERT INTO epic_retests (project_id, epic_id, trigger_reason, tier)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+retestColumns,
		projectID, epicID, trigger, tier)
	if err != nil {
		return nil, err
	}
	return &retest, nil
}

// PendingRetests returns retests selected but not yet executed, oldest first.
func (s *Store) PendingRetests(ctx context.Context, projectID string) ([]models.EpicRetest, error) {
	retests := []models.EpicRetest{}
	err := s.selectAll(ctx, &retests, "epic retests",
		`SELECT `+retestColumns+` FROM epic_retests
		 WHERE project_id = $1 AND tested_at IS NULL
		 ORDER BY selected_at`, projectID)
	return retests, err
}

// PendingRetestForEpic returns the oldest untested retest row for one epic,
// or nil when none is pending.
func (s *Store) PendingRetestForEpic(ctx context.Context, projectID string, epicID int) (*models.EpicRetest, error) {
	var retest models.EpicRetest
	err := s.get(ctx, &retest, "epic retest",
		`SELECT `+retestColumns+` FROM epic_retests
		 WHERE project_id = $1 AND epic_id = $2 AND tested_at IS NULL
		 ORDER BY selected_at
		 LIMIT 1`, projectID, epicID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &retest, nil
}

// CompleteEpicRetest finalizes a pending retest row with its outcome and the
// derived stability score and regression flag.
func (s *Store) CompleteEpicRetest(ctx context.Context, id int64, result models.RetestResultUpdate, stability float64, regression bool, sessionID *string) (*models.EpicRetest, error) {
	var retest models.EpicRetest
	err := s.get(ctx, &retest, "epic retest",
		`UPDATE epic_retests
		 SET tested_at = now(), passed = $2, failed_test_count = $3, total_test_count = $4,
		     stability_score = $5, regression_detected = $6, session_id = $7
		 WHERE id = $1 AND tested_at IS NULL
		 RETURNING `+retestColumns,
		id, result.Passed, result.FailedTestCount, result.TotalTestCount, stability, regression, sessionID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: retest %d missing or already recorded", ErrConflict, id)
		}
		return nil, err
	}
	return &retest, nil
}

// RetestOutcomes returns the most recent executed retest outcomes for an
// epic, newest first, up to limit. Used for the stability EMA window and the
// regression check.
func (s *Store) RetestOutcomes(ctx context.Context, projectID string, epicID, limit int) ([]models.EpicRetest, error) {
	if limit <= 0 {
		limit = 10
	}
	retests := []models.EpicRetest{}
	err := s.selectAll(ctx, &retests, "epic retests",
		`SELECT `+retestColumns+` FROM epic_retests
		 WHERE project_id = $1 AND epic_id = $2 AND tested_at IS NOT NULL
		 ORDER BY tested_at DESC
		 LIMIT $3`, projectID, epicID, limit)
	return retests, err
}

// HasIntervalRetestSince reports whether an epic_interval selection happened
// at or after t. The quality pipeline uses it to fire at most one selection
// per completed-epic milestone.
func (s *Store) HasIntervalRetestSince(ctx context.Context, projectID string, t time.Time) (bool, error) {
	var count int
	err := s.get(ctx, &count, "epic retests",
		`SELECT COUNT(*) FROM epic_retests
		 WHERE project_id = $1 AND trigger_reason = 'epic_interval' AND selected_at >= $2`,
		projectID, t)
	return count > 0, err
}

// EpicStabilityMetrics aggregates retest history per completed epic. Pass a
// non-nil epicID to narrow to one epic.
func (s *Store) EpicStabilityMetrics(ctx context.Context, projectID string, epicID *int) ([]models.EpicStability, error) {
	query := `
		SELECT e.epic_id, e.name, e.tier,
		       (SELECT r.stability_score FROM epic_retests r
		        WHERE r.project_id = e.project_id AND r.epic_id = e.epic_id AND r.tested_at IS NOT NULL
		        ORDER BY r.tested_at DESC LIMIT 1) AS stability_score,
		       (SELECT COUNT(*) FROM epic_retests r
		        WHERE r.project_id = e.project_id AND r.epic_id = e.epic_id AND r.tested_at IS NOT NULL) AS retest_count,
		       (SELECT COUNT(*) FROM epic_retests r
		        WHERE r.project_id = e.project_id AND r.epic_id = e.epic_id AND r.passed IS TRUE) AS pass_count,
		       (SELECT COUNT(*) FROM epic_retests r
		        WHERE r.project_id = e.project_id AND r.epic_id = e.epic_id AND r.passed IS FALSE) AS fail_count,
		       (SELECT COUNT(*) FROM epic_retests r
		        WHERE r.project_id = e.project_id AND r.epic_id = e.epic_id AND r.regression_detected) AS regression_count
		FROM epics e
		WHERE e.project_id = $1 AND e.status = 'completed'`
	args := []any{projectID}
	if epicID != nil {
		args = append(args, *epicID)
		query += fmt.Sprintf(" AND e.epic_id = $%d", len(args))
	}
	query += " ORDER BY e.epic_id"

	metrics := []models.EpicStability{}
	err := s.selectAll(ctx, &metrics, "epic stability", query, args...)
	return metrics, err
}

// RecordEpicTestFailure appends one epic-test failure record.
func (s *Store) RecordEpicTestFailure(ctx context.Context, failure *models.EpicTestFailure) (*models.EpicTestFailure, error) {
	if !failure.ErrorCategory.IsValid() {
		return nil, fmt.Errorf("%w: unknown failure category %q", ErrValidation, failure.ErrorCategory)
	}
	var saved models.EpicTestFailure
	err := s.get(ctx, &saved, "epic test failure",
		`INSERT INTO epic_test_failures
		   (project_id, epic_id, epic_test_id, session_id, error_message, error_category,
		    was_passing_before, retry_count_at_failure)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, project_id, epic_id, epic_test_id, session_id, failed_at, error_message,
		           error_category, was_passing_before, retry_count_at_failure`,
		failure.ProjectID, failure.EpicID, failure.EpicTestID, failure.SessionID,
		failure.ErrorMessage, failure.ErrorCategory, failure.WasPassingBefore, failure.RetryCountAtFailure)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// LatestFailureForTest returns the newest failure record of one epic test, or
// nil when it never failed.
func (s *Store) LatestFailureForTest(ctx context.Context, projectID string, testID int) (*models.EpicTestFailure, error) {
	var failure models.EpicTestFailure
	err := s.get(ctx, &failure, "epic test failure",
		`SELECT id, project_id, epic_id, epic_test_id, session_id, failed_at, error_message,
		        error_category, was_passing_before, retry_count_at_failure
		 FROM epic_test_failures
		 WHERE project_id = $1 AND epic_test_id = $2
		 ORDER BY failed_at DESC
		 LIMIT 1`, projectID, testID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &failure, nil
}

// LastEpicCompletionTime returns when the most recent epic completed, or nil
// when none has.
func (s *Store) LastEpicCompletionTime(ctx context.Context, projectID string) (*time.Time, error) {
	var t *time.Time
	err := s.get(ctx, &t, "epics",
		`SELECT MAX(completed_at) FROM epics WHERE project_id = $1 AND status = 'completed'`,
		projectID)
	if err != nil {
		return nil, err
	}
	return t, nil
}
