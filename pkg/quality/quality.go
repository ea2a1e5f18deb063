// Package quality scores what the agent produced. The quick check is free
// and runs on every session; a deep review costs a reviewing-agent call and
// runs only when a trigger condition fires; epic re-testing keeps completed
// work from silently regressing; the completion review scores a finished
// project against its source spec. None of this work may fail the session
// that produced it, so the session-end entry point logs and moves on.
package quality

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/store"
)

// Ratings stored on quality checks.
const (
	RatingExcellent  = "excellent"
	RatingGood       = "good"
	RatingAcceptable = "acceptable"
	RatingPoor       = "poor"
)

// Store is the persistence slice the pipeline uses. *store.Store satisfies it.
type Store interface {
	SaveQualityCheck(ctx context.Context, check *models.QualityCheck) (*models.QualityCheck, error)
	SaveDeepReview(ctx context.Context, review *models.DeepReview) (*models.DeepReview, error)
	ListDeepReviews(ctx context.Context, projectID string, limit int) ([]models.DeepReview, error)
	SaveCompletionReview(ctx context.Context, review *models.CompletionReview) (*models.CompletionReview, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListEpics(ctx context.Context, projectID string) ([]models.Epic, error)
	ListTasks(ctx context.Context, projectID string, filter store.TaskFilter) ([]models.Task, error)
}

// Pipeline runs the post-session and post-project quality work.
type Pipeline struct {
	logger   *slog.Logger
	cfg      *config.Config
	store    Store
	reviewer Reviewer
}

// NewPipeline builds the pipeline. reviewer may be nil, in which case deep
// reviews are skipped with a warning.
func NewPipeline(logger *slog.Logger, cfg *config.Config, st Store, reviewer Reviewer) *Pipeline {
	return &Pipeline{
		logger:   logger.With("component", "quality_pipeline"),
		cfg:      cfg,
		store:    st,
		reviewer: reviewer,
	}
}

// Rating maps a quality score to its stored rating band.
func Rating(score int) string {
	switch {
	case score >= 9:
		return RatingExcellent
	case score >= 7:
		return RatingGood
	case score >= 5:
		return RatingAcceptable
	default:
		return RatingPoor
	}
}

// RunQuickCheck stores the zero-cost per-session quality record.
func (p *Pipeline) RunQuickCheck(ctx context.Context, session *models.Session, summary *models.MetricsSummary) (*models.QualityCheck, error) {
	score := 0
	if summary != nil {
		score = summary.QualityScore
	}
	check, err := p.store.SaveQualityCheck(ctx, &models.QualityCheck{
		SessionID:    session.ID,
		ProjectID:    session.ProjectID,
		QualityScore: score,
		Rating:       Rating(score),
		Summary:      summary,
	})
	if err != nil {
		return nil, fmt.Errorf("saving quality check for session %s: %w", session.ID, err)
	}
	return check, nil
}

// OnSessionEnd runs the quick check and, when a trigger condition fires, the
// deep review. Failures are logged rather than returned: quality work never
// fails the session that produced it.
func (p *Pipeline) OnSessionEnd(ctx context.Context, session *models.Session, summary *models.MetricsSummary, finalSession bool) {
	if _, err := p.RunQuickCheck(ctx, session, summary); err != nil {
		p.logger.Error("quick check failed",
			"session_id", session.ID,
			"error", err)
	}

	reasons := TriggerReasons(summary, finalSession)
	if len(reasons) == 0 {
		return
	}
	p.logger.Info("deep review triggered",
		"session_id", session.ID,
		"reasons", reasons)

	if _, err := p.RunDeepReview(ctx, session, summary, reasons); err != nil {
		p.logger.Error("deep review failed",
			"session_id", session.ID,
			"error", err)
	}
}
