package models

import (
	"database/sql/driver"
	"time"
)

// CompletionReview scores a finished project against its source spec.
type CompletionReview struct {
	ID                 int64                `db:"id" json:"id"`
	ProjectID          string               `db:"project_id" json:"project_id"`
	OverallScore       int                  `db:"overall_score" json:"overall_score"`
	CoveragePercentage float64              `db:"coverage_percentage" json:"coverage_percentage"`
	Recommendation     ReviewRecommendation `db:"recommendation" json:"recommendation"`
	Requirements       RequirementList      `db:"requirements" json:"requirements"`
	CreatedAt          time.Time            `db:"created_at" json:"created_at"`
}

// Requirement is one spec requirement matched against the backlog.
type Requirement struct {
	Text          string  `json:"text"`
	Priority      string  `json:"priority"`
	Status        string  `json:"status"`
	MatchedEpics  []int   `json:"matched_epics,omitempty"`
	MatchedTasks  []int   `json:"matched_tasks,omitempty"`
	CoverageScore float64 `json:"coverage_score"`
}

// RequirementList is a jsonb-stored slice of requirements.
type RequirementList []Requirement

// Value implements driver.Valuer.
func (l RequirementList) Value() (driver.Value, error) { return jsonValue(l) }

// Scan implements sql.Scanner.
func (l *RequirementList) Scan(src any) error { return scanJSON(src, l) }

// QualityCheck is the zero-cost per-session record written at session end.
type QualityCheck struct {
	ID           int64           `db:"id" json:"id"`
	SessionID    string          `db:"session_id" json:"session_id"`
	ProjectID    string          `db:"project_id" json:"project_id"`
	QualityScore int             `db:"quality_score" json:"quality_score"`
	Rating       string          `db:"rating" json:"rating"`
	Summary      *MetricsSummary `db:"summary" json:"summary,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// DeepReview stores the report a reviewing agent returned for one session.
type DeepReview struct {
	ID              int64              `db:"id" json:"id"`
	SessionID       string             `db:"session_id" json:"session_id"`
	ProjectID       string             `db:"project_id" json:"project_id"`
	TriggerReasons  StringList         `db:"trigger_reasons" json:"trigger_reasons"`
	ReportMarkdown  string             `db:"report_markdown" json:"report_markdown"`
	Recommendations RecommendationList `db:"recommendations" json:"recommendations"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
}

// Recommendation is one structured suggestion extracted from a deep-review
// report.
type Recommendation struct {
	Title          string  `json:"title"`
	Priority       string  `json:"priority"`
	Theme          string  `json:"theme"`
	Problem        string  `json:"problem"`
	ProposedChange string  `json:"proposed_change"`
	Confidence     float64 `json:"confidence"`
}

// RecommendationList is a jsonb-stored slice of recommendations.
type RecommendationList []Recommendation

// Value implements driver.Valuer.
func (l RecommendationList) Value() (driver.Value, error) { return jsonValue(l) }

// Scan implements sql.Scanner.
func (l *RecommendationList) Scan(src any) error { return scanJSON(src, l) }

// StringList is a jsonb-stored slice of strings.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) { return jsonValue(l) }

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error { return scanJSON(src, l) }
