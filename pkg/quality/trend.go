package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/models"
)

// ThemeTrend is one recurring recommendation theme across deep reviews.
type ThemeTrend struct {
	Theme string `json:"theme"`
	// Reviews is how many distinct reviews raised the theme; Count is the
	// total recommendations under it.
	Reviews  int      `json:"reviews"`
	Count    int      `json:"count"`
	Examples []string `json:"examples,omitempty"`
}

// TrendSummary aggregates recurring themes across a project's deep reviews.
// Available is false until min_reviews_for_analysis reviews exist.
type TrendSummary struct {
	Available   bool         `json:"available"`
	ReviewCount int          `json:"review_count"`
	MinReviews  int          `json:"min_reviews"`
	Themes      []ThemeTrend `json:"themes,omitempty"`
}

// ProjectTrends aggregates the stored deep reviews for a project.
func (p *Pipeline) ProjectTrends(ctx context.Context, projectID string) (TrendSummary, error) {
	min := p.cfg.Review.MinReviewsForAnalysis
	reviews, err := p.store.ListDeepReviews(ctx, projectID, 0)
	if err != nil {
		return TrendSummary{}, fmt.Errorf("listing deep reviews for %s: %w", projectID, err)
	}
	return AnalyzeTrends(reviews, min), nil
}

// AnalyzeTrends counts recommendation themes across reviews. Only themes
// raised by at least two distinct reviews are recurring enough to report.
// Themes are ordered by distinct reviews, then total count, then name.
func AnalyzeTrends(reviews []models.DeepReview, minReviews int) TrendSummary {
	summary := TrendSummary{ReviewCount: len(reviews), MinReviews: minReviews}
	if len(reviews) < minReviews {
		return summary
	}
	summary.Available = true

	type agg struct {
		count    int
		reviews  map[int64]struct{}
		examples []string
	}
	themes := make(map[string]*agg)
	for _, review := range reviews {
		for _, rec := range review.Recommendations {
			theme := strings.ToLower(strings.TrimSpace(rec.Theme))
			if theme == "" {
				continue
			}
			a := themes[theme]
			if a == nil {
				a = &agg{reviews: make(map[int64]struct{})}
				themes[theme] = a
			}
			a.count++
			a.reviews[review.ID] = struct{}{}
			if len(a.examples) < 3 && rec.Title != "" {
				a.examples = append(a.examples, rec.Title)
			}
		}
	}

	for theme, a := range themes {
		if len(a.reviews) < 2 {
			continue
		}
		summary.Themes = append(summary.Themes, ThemeTrend{
			Theme:    theme,
			Reviews:  len(a.reviews),
			Count:    a.count,
			Examples: a.examples,
		})
	}
	sort.Slice(summary.Themes, func(i, j int) bool {
		a, b := summary.Themes[i], summary.Themes[j]
		if a.Reviews != b.Reviews {
			return a.Reviews > b.Reviews
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Theme < b.Theme
	})
	return summary
}
