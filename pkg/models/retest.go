package models

import "time"

// EpicRetest is a scheduled or completed re-test of a previously completed
// epic. Once TestedAt is set the outcome fields are immutable.
type EpicRetest struct {
	ID                 int64         `db:"id" json:"id"`
	ProjectID          string        `db:"project_id" json:"project_id"`
	EpicID             int           `db:"epic_id" json:"epic_id"`
	TriggerReason      RetestTrigger `db:"trigger_reason" json:"trigger_reason"`
	Tier               EpicTier      `db:"tier" json:"tier"`
	SelectedAt         time.Time     `db:"selected_at" json:"selected_at"`
	TestedAt           *time.Time    `db:"tested_at" json:"tested_at,omitempty"`
	Passed             *bool         `db:"passed" json:"passed,omitempty"`
	FailedTestCount    int           `db:"failed_test_count" json:"failed_test_count"`
	TotalTestCount     int           `db:"total_test_count" json:"total_test_count"`
	RegressionDetected bool          `db:"regression_detected" json:"regression_detected"`
	StabilityScore     *float64      `db:"stability_score" json:"stability_score,omitempty"`
	SessionID          *string       `db:"session_id" json:"session_id,omitempty"`
}

// EpicTestFailure is an append-only record of one epic-test failure.
type EpicTestFailure struct {
	ID                  int64           `db:"id" json:"id"`
	ProjectID           string          `db:"project_id" json:"project_id"`
	EpicID              int             `db:"epic_id" json:"epic_id"`
	EpicTestID          int             `db:"epic_test_id" json:"epic_test_id"`
	SessionID           string          `db:"session_id" json:"session_id"`
	FailedAt            time.Time       `db:"failed_at" json:"failed_at"`
	ErrorMessage        string          `db:"error_message" json:"error_message"`
	ErrorCategory       FailureCategory `db:"error_category" json:"error_category"`
	WasPassingBefore    bool            `db:"was_passing_before" json:"was_passing_before"`
	RetryCountAtFailure int             `db:"retry_count_at_failure" json:"retry_count_at_failure"`
}

// RetestCandidate is one entry of a trigger_epic_retest response, ranked for
// execution order.
type RetestCandidate struct {
	EpicID          int           `json:"epic_id"`
	Name            string        `json:"name"`
	Tier            EpicTier      `json:"tier"`
	TriggerReason   RetestTrigger `json:"trigger_reason"`
	DaysSinceRetest *float64      `json:"days_since_retest,omitempty"`
	DependentCount  int           `json:"dependent_count"`
	Stale           bool          `json:"stale"`
}

// EpicStability summarizes retest history for one epic.
type EpicStability struct {
	EpicID          int      `db:"epic_id" json:"epic_id"`
	Name            string   `db:"name" json:"name"`
	Tier            EpicTier `db:"tier" json:"tier"`
	StabilityScore  *float64 `db:"stability_score" json:"stability_score,omitempty"`
	RetestCount     int      `db:"retest_count" json:"retest_count"`
	PassCount       int      `db:"pass_count" json:"pass_count"`
	FailCount       int      `db:"fail_count" json:"fail_count"`
	RegressionCount int      `db:"regression_count" json:"regression_count"`
}

// RetestResultUpdate carries record_epic_retest_result parameters.
type RetestResultUpdate struct {
	EpicID          int  `json:"epic_id"`
	Passed          bool `json:"passed"`
	FailedTestCount int  `json:"failed_test_count"`
	TotalTestCount  int  `json:"total_test_count"`
}
