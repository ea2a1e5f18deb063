package store

import (
	"context"
	"fmt"

	"github.com/yokeflow/yokeflow/pkg/models"
)

// SaveQualityCheck stores the per-session quick quality check. One per
// session; a duplicate yields ErrConflict.
func (s *Store) SaveQualityCheck(ctx context.Context, check *models.QualityCheck) (*models.QualityCheck, error) {
	var saved models.QualityCheck
	err := s.get(ctx, &saved, "quality check",
		`INSERT INTO session_quality_checks (session_id, project_id, quality_score, rating, summary)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, session_id, project_id, quality_score, rating, summary, created_at`,
		check.SessionID, check.ProjectID, check.QualityScore, check.Rating, check.Summary)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// ListQualityChecks returns a project's quality checks, newest first.
func (s *Store) ListQualityChecks(ctx context.Context, projectID string, limit int) ([]models.QualityCheck, error) {
	if limit <= 0 {
		limit = 50
	}
	checks := []models.QualityCheck{}
	err := s.selectAll(ctx, &checks, "quality checks",
		`SELECT id, session_id, project_id, quality_score, rating, summary, created_at
		 FROM session_quality_checks
		 WHERE project_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, projectID, limit)
	return checks, err
}

// CountQualityChecks returns how many quality checks a project has recorded.
func (s *Store) CountQualityChecks(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.get(ctx, &count, "quality checks",
		`SELECT COUNT(*) FROM session_quality_checks WHERE project_id = $1`, projectID)
	return count, err
}

// AverageQualityScore returns the mean score over the project's most recent
// limit checks, or nil when it has none.
func (s *Store) AverageQualityScore(ctx context.Context, projectID string, limit int) (*float64, error) {
	if limit <= 0 {
		limit = 10
	}
	var avg *float64
	err := s.get(ctx, &avg, "quality checks",
		`SELECT AVG(quality_score) FROM (
		   SELECT quality_score FROM session_quality_checks
		   WHERE project_id = $1
		   ORDER BY created_at DESC
		   LIMIT $2) recent`, projectID, limit)
	return avg, err
}

// SaveCompletionReview stores a whole-project completion review.
func (s *Store) SaveCompletionReview(ctx context.Context, review *models.CompletionReview) (*models.CompletionReview, error) {
	if !review.Recommendation.IsValid() {
		return nil, fmt.Errorf("%w: unknown recommendation %q", ErrValidation, review.Recommendation)
	}
	var saved models.CompletionReview
	err := s.get(ctx, &saved, "completion review",
		`INSERT INTO completion_reviews (project_id, overall_score, coverage_percentage, recommendation, requirements)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, project_id, overall_score, coverage_percentage, recommendation, requirements, created_at`,
		review.ProjectID, review.OverallScore, review.CoveragePercentage, review.Recommendation, review.Requirements)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// LatestCompletionReview returns the most recent completion review of a
// project, or nil when none exists.
func (s *Store) LatestCompletionReview(ctx context.Context, projectID string) (*models.CompletionReview, error) {
	var review models.CompletionReview
	err := s.get(ctx, &review, "completion review",
		`SELECT id, project_id, overall_score, coverage_percentage, recommendation, requirements, created_at
		 FROM completion_reviews
		 WHERE project_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, projectID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &review, nil
}

// SaveDeepReview stores the report and recommendations of one deep review.
// The review session already exists; a second deep review for the same
// session yields ErrConflict.
func (s *Store) SaveDeepReview(ctx context.Context, review *models.DeepReview) (*models.DeepReview, error) {
	var saved models.DeepReview
	err := s.get(ctx, &saved, "deep review",
		`INSERT INTO deep_reviews (session_id, project_id, trigger_reasons, report_markdown, recommendations)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, session_id, project_id, trigger_reasons, report_markdown, recommendations, created_at`,
		review.SessionID, review.ProjectID, review.TriggerReasons, review.ReportMarkdown, review.Recommendations)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// ListDeepReviews returns a project's deep reviews, newest first.
func (s *Store) ListDeepReviews(ctx context.Context, projectID string, limit int) ([]models.DeepReview, error) {
	if limit <= 0 {
		limit = 20
	}
	reviews := []models.DeepReview{}
	err := s.selectAll(ctx, &reviews, "deep reviews",
		`SELECT id, session_id, project_id, trigger_reasons, report_markdown, recommendations, created_at
		 FROM deep_reviews
		 WHERE project_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, projectID, limit)
	return reviews, err
}
