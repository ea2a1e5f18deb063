package quality

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/store"
)

// Requirement statuses and priorities produced by the completion review.
const (
	RequirementComplete = "complete"
	RequirementPartial  = "partial"
	RequirementMissing  = "missing"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// matchThreshold is the minimum token overlap for a backlog item to count as
// addressing a requirement.
const matchThreshold = 0.3

// RunCompletionReview scores a finished project against its source spec:
// requirement lines are extracted from the spec, matched against epic and
// task text by normalized token overlap, and rolled up into an overall score,
// a coverage percentage, and a ship recommendation.
func (p *Pipeline) RunCompletionReview(ctx context.Context, projectID string) (*models.CompletionReview, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	epics, err := p.store.ListEpics(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing epics for %s: %w", projectID, err)
	}
	tasks, err := p.store.ListTasks(ctx, projectID, store.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing tasks for %s: %w", projectID, err)
	}

	requirements := matchRequirements(extractRequirements(project.SourceSpec), epics, tasks)
	overall, coverage, recommendation := scoreReview(requirements)

	review, err := p.store.SaveCompletionReview(ctx, &models.CompletionReview{
		ProjectID:          projectID,
		OverallScore:       overall,
		CoveragePercentage: coverage,
		Recommendation:     recommendation,
		Requirements:       requirements,
	})
	if err != nil {
		return nil, fmt.Errorf("saving completion review for %s: %w", projectID, err)
	}
	return review, nil
}

var bulletLine = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.+)$`)

// extractRequirements pulls requirement lines out of a source spec: bullet
// items first, and if the spec has none, any substantial prose line. Headings
// and fenced code are never requirements.
func extractRequirements(spec string) []string {
	var bullets, prose []string
	inFence := false
	for _, line := range strings.Split(spec, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			bullets = append(bullets, strings.TrimSpace(m[1]))
			continue
		}
		if len(trimmed) >= 30 {
			prose = append(prose, trimmed)
		}
	}
	if len(bullets) > 0 {
		return bullets
	}
	return prose
}

// requirementPriority reads the requirement's own language: imperatives make
// it high, advisories medium, everything else low.
func requirementPriority(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range []string{"must", "critical", "required", "shall"} {
		if strings.Contains(lower, marker) {
			return PriorityHigh
		}
	}
	for _, marker := range []string{"should", "important"} {
		if strings.Contains(lower, marker) {
			return PriorityMedium
		}
	}
	return PriorityLow
}

type backlogItem struct {
	epicID int
	taskID int
	tokens map[string]struct{}
	done   bool
}

func matchRequirements(texts []string, epics []models.Epic, tasks []models.Task) models.RequirementList {
	items := make([]backlogItem, 0, len(epics)+len(tasks))
	for _, e := range epics {
		items = append(items, backlogItem{
			epicID: e.EpicID,
			tokens: tokenSet(e.Name + " " + e.Description),
			done:   e.Status == models.EpicStatusCompleted,
		})
	}
	for _, t := range tasks {
		items = append(items, backlogItem{
			epicID: t.EpicID,
			taskID: t.TaskID,
			tokens: tokenSet(t.Description + " " + t.Action),
			done:   t.Done,
		})
	}

	requirements := make(models.RequirementList, 0, len(texts))
	for _, text := range texts {
		req := models.Requirement{
			Text:     text,
			Priority: requirementPriority(text),
			Status:   RequirementMissing,
		}
		reqTokens := tokenSet(text)
		if len(reqTokens) == 0 {
			requirements = append(requirements, req)
			continue
		}

		matchedAllDone := true
		for _, item := range items {
			score := overlap(reqTokens, item.tokens)
			if score < matchThreshold {
				continue
			}
			if score > req.CoverageScore {
				req.CoverageScore = score
			}
			if item.taskID != 0 {
				req.MatchedTasks = append(req.MatchedTasks, item.taskID)
			} else {
				req.MatchedEpics = append(req.MatchedEpics, item.epicID)
			}
			if !item.done {
				matchedAllDone = false
			}
		}

		switch {
		case len(req.MatchedEpics)+len(req.MatchedTasks) == 0:
			req.Status = RequirementMissing
		case matchedAllDone:
			req.Status = RequirementComplete
		default:
			req.Status = RequirementPartial
		}
		req.CoverageScore = math.Round(req.CoverageScore*100) / 100
		requirements = append(requirements, req)
	}
	return requirements
}

// scoreReview rolls requirement statuses up into the overall score (1-100,
// priority-weighted), the coverage percentage (share of requirements with any
// match), and the ship recommendation. A missing high-priority requirement
// caps the recommendation at needs_work regardless of score.
func scoreReview(requirements models.RequirementList) (int, float64, models.ReviewRecommendation) {
	if len(requirements) == 0 {
		return 1, 0, models.ReviewRecommendationFailed
	}

	weights := map[string]float64{PriorityHigh: 3, PriorityMedium: 2, PriorityLow: 1}
	var achieved, total float64
	matched := 0
	missingHigh := false
	for _, req := range requirements {
		w := weights[req.Priority]
		total += w
		switch req.Status {
		case RequirementComplete:
			achieved += w
			matched++
		case RequirementPartial:
			achieved += w / 2
			matched++
		default:
			if req.Priority == PriorityHigh {
				missingHigh = true
			}
		}
	}

	overall := int(math.Round(100 * achieved / total))
	if overall < 1 {
		overall = 1
	}
	coverage := math.Round(10000*float64(matched)/float64(len(requirements))) / 100

	var recommendation models.ReviewRecommendation
	switch {
	case overall >= 80 && !missingHigh:
		recommendation = models.ReviewRecommendationComplete
	case overall >= 50:
		recommendation = models.ReviewRecommendationNeedsWork
	default:
		recommendation = models.ReviewRecommendationFailed
	}
	return overall, coverage, recommendation
}

var specStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "into": {}, "are": {}, "was": {}, "when": {}, "all": {},
	"can": {}, "must": {}, "should": {}, "shall": {}, "will": {}, "have": {},
	"has": {}, "its": {}, "their": {}, "each": {}, "any": {}, "via": {},
	"support": {}, "user": {}, "users": {}, "able": {}, "allow": {},
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := specStopwords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// overlap is the share of requirement tokens found in the item.
func overlap(req, item map[string]struct{}) float64 {
	if len(req) == 0 {
		return 0
	}
	hits := 0
	for tok := range req {
		if _, ok := item[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(req))
}
