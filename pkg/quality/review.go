package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/yokeflow/yokeflow/pkg/models"
)

// ReviewRequest is the out-of-band request handed to the reviewing agent.
type ReviewRequest struct {
	ProjectID string
	SessionID string
	// Model is the reviewing model identifier from configuration.
	Model   string
	Reasons []string
	Summary *models.MetricsSummary
}

// Reviewer produces a markdown quality report for one session. The runner
// host implements it by spawning the agent out-of-band with the review
// model; tests script it.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (string, error)
}

// RunDeepReview asks the reviewing agent for a report on the session and
// stores it with its parsed recommendations and the reasons that earned it.
func (p *Pipeline) RunDeepReview(ctx context.Context, session *models.Session, summary *models.MetricsSummary, reasons []string) (*models.DeepReview, error) {
	if p.reviewer == nil {
		return nil, errors.New("no reviewer configured")
	}

	report, err := p.reviewer.Review(ctx, ReviewRequest{
		ProjectID: session.ProjectID,
		SessionID: session.ID,
		Model:     p.cfg.Models.Review,
		Reasons:   reasons,
		Summary:   summary,
	})
	if err != nil {
		return nil, fmt.Errorf("reviewing session %s: %w", session.ID, err)
	}

	review, err := p.store.SaveDeepReview(ctx, &models.DeepReview{
		SessionID:       session.ID,
		ProjectID:       session.ProjectID,
		TriggerReasons:  reasons,
		ReportMarkdown:  report,
		Recommendations: extractRecommendations(p.logger, report),
	})
	if err != nil {
		return nil, fmt.Errorf("saving deep review for session %s: %w", session.ID, err)
	}
	return review, nil
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// extractRecommendations pulls the structured recommendations block out of a
// review report. The reviewing agent is instructed to end its report with a
// fenced json block; reports without a parseable one keep their markdown and
// store an empty list.
func extractRecommendations(logger *slog.Logger, report string) models.RecommendationList {
	for _, m := range fencedJSON.FindAllStringSubmatch(report, -1) {
		var payload struct {
			Recommendations models.RecommendationList `json:"recommendations"`
		}
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
			continue
		}
		if len(payload.Recommendations) > 0 {
			return payload.Recommendations
		}
	}
	logger.Warn("deep review report had no parseable recommendations block")
	return models.RecommendationList{}
}
