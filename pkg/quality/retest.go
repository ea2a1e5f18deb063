package quality

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/store"
)

// RetestStore is the persistence slice the planner uses. *store.Store
// satisfies it.
type RetestStore interface {
	CountCompletedEpics(ctx context.Context, projectID string) (int, error)
	LastEpicCompletionTime(ctx context.Context, projectID string) (*time.Time, error)
	HasIntervalRetestSince(ctx context.Context, projectID string, t time.Time) (bool, error)
	ListRetestCandidateRows(ctx context.Context, projectID string) ([]store.RetestCandidateRow, error)
	CreateEpicRetest(ctx context.Context, projectID string, epicID int, trigger models.RetestTrigger, tier models.EpicTier) (*models.EpicRetest, error)
	GetEpic(ctx context.Context, projectID string, epicID int) (*models.Epic, error)
	PendingRetests(ctx context.Context, projectID string) ([]models.EpicRetest, error)
	PendingRetestForEpic(ctx context.Context, projectID string, epicID int) (*models.EpicRetest, error)
	RetestOutcomes(ctx context.Context, projectID string, epicID, limit int) ([]models.EpicRetest, error)
	CompleteEpicRetest(ctx context.Context, id int64, result models.RetestResultUpdate, stability float64, regression bool, sessionID *string) (*models.EpicRetest, error)
}

// RetestPlanner selects completed epics for re-testing and records the
// outcomes with their stability math.
type RetestPlanner struct {
	logger   *slog.Logger
	retest   config.EpicRetestingConfig
	critical []string
	store    RetestStore
}

// NewRetestPlanner builds a planner from the retesting and epic-testing
// sections of the configuration.
func NewRetestPlanner(logger *slog.Logger, cfg *config.Config, st RetestStore) *RetestPlanner {
	return &RetestPlanner{
		logger:   logger.With("component", "retest_planner"),
		retest:   cfg.EpicRetesting,
		critical: cfg.EpicTesting.CriticalEpics,
		store:    st,
	}
}

// ShouldTrigger reports whether a new interval selection round is due:
// retesting enabled, the completed-epic count at a multiple of the trigger
// frequency, and no interval selection made since the last epic completed.
func (p *RetestPlanner) ShouldTrigger(ctx context.Context, projectID string) (bool, error) {
	if !p.retest.Enabled {
		return false, nil
	}
	freq := p.retest.TriggerFrequency
	if freq <= 0 {
		freq = 1
	}

	completed, err := p.store.CountCompletedEpics(ctx, projectID)
	if err != nil {
		return false, err
	}
	if completed == 0 || completed%freq != 0 {
		return false, nil
	}

	last, err := p.store.LastEpicCompletionTime(ctx, projectID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	selected, err := p.store.HasIntervalRetestSince(ctx, projectID, *last)
	if err != nil {
		return false, err
	}
	return !selected, nil
}

// PendingCandidates returns retests selected in an earlier round but never
// executed, mapped back to candidates. A process that dies between selection
// and the retest session leaves pending rows behind; the next session
// boundary runs those instead of selecting fresh ones.
func (p *RetestPlanner) PendingCandidates(ctx context.Context, projectID string) ([]models.RetestCandidate, error) {
	pending, err := p.store.PendingRetests(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing pending retests for %s: %w", projectID, err)
	}
	candidates := make([]models.RetestCandidate, 0, len(pending))
	for _, r := range pending {
		epic, err := p.store.GetEpic(ctx, projectID, r.EpicID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, models.RetestCandidate{
			EpicID:        r.EpicID,
			Name:          epic.Name,
			Tier:          r.Tier,
			TriggerReason: r.TriggerReason,
			Stale:         r.TriggerReason == models.RetestTriggerFoundationStale,
		})
	}
	return candidates, nil
}

// SelectCandidates ranks completed epics and creates pending retest rows for
// the top picks. Ranking: tier (foundation first, with critical-epic name
// overrides), staleness, dependent count, then how long since the epic was
// last verified. Epics already holding a pending retest are not offered by
// the store.
func (p *RetestPlanner) SelectCandidates(ctx context.Context, projectID string) ([]models.RetestCandidate, error) {
	rows, err := p.store.ListRetestCandidateRows(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing retest candidates for %s: %w", projectID, err)
	}

	now := time.Now()
	staleAfter := time.Duration(p.retest.FoundationRetestDays) * 24 * time.Hour
	candidates := make([]models.RetestCandidate, 0, len(rows))
	for _, r := range rows {
		tier := r.Tier
		if p.isCritical(r.Name) {
			tier = models.EpicTierFoundation
		}

		// An epic with no retest yet was last verified when it completed.
		ref := r.LastRetestedAt
		if ref == nil {
			ref = r.CompletedAt
		}
		var days *float64
		if ref != nil {
			d := now.Sub(*ref).Hours() / 24
			days = &d
		}

		stale := tier == models.EpicTierFoundation && ref != nil && now.Sub(*ref) > staleAfter
		trigger := models.RetestTriggerEpicInterval
		if stale {
			trigger = models.RetestTriggerFoundationStale
		}

		candidates = append(candidates, models.RetestCandidate{
			EpicID:          r.EpicID,
			Name:            r.Name,
			Tier:            tier,
			TriggerReason:   trigger,
			DaysSinceRetest: days,
			DependentCount:  r.DependentCount,
			Stale:           stale,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Tier.RetestRank() != b.Tier.RetestRank() {
			return a.Tier.RetestRank() > b.Tier.RetestRank()
		}
		if a.Stale != b.Stale {
			return a.Stale
		}
		if a.DependentCount != b.DependentCount {
			return a.DependentCount > b.DependentCount
		}
		return daysOrZero(a.DaysSinceRetest) > daysOrZero(b.DaysSinceRetest)
	})

	limit := p.retest.MaxRetestsPerTrigger
	if limit <= 0 {
		limit = 1
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, c := range candidates {
		if _, err := p.store.CreateEpicRetest(ctx, projectID, c.EpicID, c.TriggerReason, c.Tier); err != nil {
			return nil, fmt.Errorf("scheduling retest for epic %d: %w", c.EpicID, err)
		}
		p.logger.Info("epic selected for retest",
			"project_id", projectID,
			"epic_id", c.EpicID,
			"tier", string(c.Tier),
			"trigger", string(c.TriggerReason))
	}
	return candidates, nil
}

// RecordResult finalizes one retest outcome: finds the pending selection (or
// records an unsolicited manual one), computes the stability EMA over the
// trailing window including this outcome, flags a regression when the
// previous outcome passed and this one failed, and completes the row.
func (p *RetestPlanner) RecordResult(ctx context.Context, projectID string, sessionID *string, result models.RetestResultUpdate) (*models.EpicRetest, error) {
	pending, err := p.store.PendingRetestForEpic(ctx, projectID, result.EpicID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		epic, err := p.store.GetEpic(ctx, projectID, result.EpicID)
		if err != nil {
			return nil, err
		}
		pending, err = p.store.CreateEpicRetest(ctx, projectID, result.EpicID, models.RetestTriggerManual, epic.Tier)
		if err != nil {
			return nil, err
		}
	}

	window := p.retest.StabilityWindow
	if window <= 0 {
		window = 1
	}
	history, err := p.store.RetestOutcomes(ctx, projectID, result.EpicID, window-1)
	if err != nil {
		return nil, err
	}

	stability := stabilityEMA(history, result.Passed, window)
	regression := len(history) > 0 && history[0].Passed != nil && *history[0].Passed && !result.Passed

	retest, err := p.store.CompleteEpicRetest(ctx, pending.ID, result, stability, regression, sessionID)
	if err != nil {
		return nil, err
	}
	if regression {
		p.logger.Warn("epic regression detected",
			"project_id", projectID,
			"epic_id", result.EpicID,
			"stability_score", stability)
	}
	return retest, nil
}

// stabilityEMA folds the trailing outcomes (newest first, as the store
// returns them) plus the current one into an exponential moving average of
// pass=1/fail=0 with smoothing 2/(window+1). A lone outcome yields exactly
// 1.0 or 0.0.
func stabilityEMA(history []models.EpicRetest, current bool, window int) float64 {
	values := make([]float64, 0, len(history)+1)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Passed == nil {
			continue
		}
		if *history[i].Passed {
			values = append(values, 1)
		} else {
			values = append(values, 0)
		}
	}
	if current {
		values = append(values, 1)
	} else {
		values = append(values, 0)
	}

	alpha := 2.0 / (float64(window) + 1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

func (p *RetestPlanner) isCritical(name string) bool {
	for _, sub := range p.critical {
		if sub == "" {
			continue
		}
		if containsFold(name, sub) {
			return true
		}
	}
	return false
}

func daysOrZero(d *float64) float64 {
	if d == nil {
		return 0
	}
	return *d
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
