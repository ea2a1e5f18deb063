package models

// ProjectStatus defines the lifecycle state of a project
type ProjectStatus string

const (
	// ProjectStatusActive means the project has sessions running or pending work
	ProjectStatusActive ProjectStatus = "active"
	// ProjectStatusPaused means the project's current session hit a blocker
	ProjectStatusPaused ProjectStatus = "paused"
	// ProjectStatusCompleted means every task is done and no session is active
	ProjectStatusCompleted ProjectStatus = "completed"
	// ProjectStatusArchived means the project was shelved by an operator
	ProjectStatusArchived ProjectStatus = "archived"
)

// IsValid checks if the project status is valid
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusActive, ProjectStatusPaused, ProjectStatusCompleted, ProjectStatusArchived:
		return true
	default:
		return false
	}
}

// ProjectType distinguishes fresh builds from imported codebases
type ProjectType string

const (
	// ProjectTypeGreenfield starts from an empty workspace
	ProjectTypeGreenfield ProjectType = "greenfield"
	// ProjectTypeBrownfield starts from an imported codebase
	ProjectTypeBrownfield ProjectType = "brownfield"
)

// IsValid checks if the project type is valid
func (t ProjectType) IsValid() bool {
	return t == ProjectTypeGreenfield || t == ProjectTypeBrownfield
}

// EpicStatus defines the lifecycle state of an epic
type EpicStatus string

const (
	EpicStatusPending    EpicStatus = "pending"
	EpicStatusInProgress EpicStatus = "in_progress"
	EpicStatusCompleted  EpicStatus = "completed"
	EpicStatusBlocked    EpicStatus = "blocked"
)

// IsValid checks if the epic status is valid
func (s EpicStatus) IsValid() bool {
	switch s {
	case EpicStatusPending, EpicStatusInProgress, EpicStatusCompleted, EpicStatusBlocked:
		return true
	default:
		return false
	}
}

// EpicTier ranks epics for re-test prioritization
type EpicTier string

const (
	// EpicTierFoundation epics underpin everything else and go stale fastest
	EpicTierFoundation EpicTier = "foundation"
	// EpicTierHighDependency epics have many dependents
	EpicTierHighDependency EpicTier = "high_dependency"
	// EpicTierStandard is the default tier
	EpicTierStandard EpicTier = "standard"
)

// IsValid checks if the epic tier is valid
func (t EpicTier) IsValid() bool {
	return t == EpicTierFoundation || t == EpicTierHighDependency || t == EpicTierStandard
}

// RetestRank orders tiers for candidate selection (lower sorts first).
func (t EpicTier) RetestRank() int {
	switch t {
	case EpicTierFoundation:
		return 0
	case EpicTierHighDependency:
		return 1
	default:
		return 2
	}
}

// TestCategory classifies how a test requirement is verified
type TestCategory string

const (
	TestCategoryUnit        TestCategory = "unit"
	TestCategoryAPI         TestCategory = "api"
	TestCategoryBrowser     TestCategory = "browser"
	TestCategoryBuild       TestCategory = "build"
	TestCategoryDatabase    TestCategory = "database"
	TestCategoryIntegration TestCategory = "integration"
	TestCategoryE2E         TestCategory = "e2e"
)

// IsValid checks if the test category is valid
func (c TestCategory) IsValid() bool {
	switch c {
	case TestCategoryUnit, TestCategoryAPI, TestCategoryBrowser, TestCategoryBuild,
		TestCategoryDatabase, TestCategoryIntegration, TestCategoryE2E:
		return true
	default:
		return false
	}
}

// SessionType defines what kind of work a session performs
type SessionType string

const (
	// SessionTypeInitializer builds the backlog from the project spec
	SessionTypeInitializer SessionType = "initializer"
	// SessionTypeCoding implements tasks from the backlog
	SessionTypeCoding SessionType = "coding"
	// SessionTypeReview runs a deep quality review out-of-band
	SessionTypeReview SessionType = "review"
	// SessionTypeRetest re-verifies previously completed epics
	SessionTypeRetest SessionType = "retest"
)

// IsValid checks if the session type is valid
func (t SessionType) IsValid() bool {
	switch t {
	case SessionTypeInitializer, SessionTypeCoding, SessionTypeReview, SessionTypeRetest:
		return true
	default:
		return false
	}
}

// SessionStatus defines the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
	SessionStatusBlocked   SessionStatus = "blocked"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsValid checks if the session status is valid
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusRunning, SessionStatusPaused, SessionStatusCompleted,
		SessionStatusError, SessionStatusBlocked, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusError, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// PauseType classifies why a session was paused
type PauseType string

const (
	// PauseTypeRetryLimit means the same command failed too many times
	PauseTypeRetryLimit PauseType = "retry_limit"
	// PauseTypeCriticalError means a known-fatal pattern appeared in output
	PauseTypeCriticalError PauseType = "critical_error"
	// PauseTypeQualityViolation means repeated rejected completion attempts
	PauseTypeQualityViolation PauseType = "quality_violation"
	// PauseTypeManual means an operator requested the pause
	PauseTypeManual PauseType = "manual"
)

// IsValid checks if the pause type is valid
func (t PauseType) IsValid() bool {
	switch t {
	case PauseTypeRetryLimit, PauseTypeCriticalError, PauseTypeQualityViolation, PauseTypeManual:
		return true
	default:
		return false
	}
}

// RetestTrigger records why an epic was selected for re-testing
type RetestTrigger string

const (
	// RetestTriggerEpicInterval fires after every N newly completed epics
	RetestTriggerEpicInterval RetestTrigger = "epic_interval"
	// RetestTriggerFoundationStale fires when a foundation epic goes untested too long
	RetestTriggerFoundationStale RetestTrigger = "foundation_stale"
	// RetestTriggerManual is operator-requested
	RetestTriggerManual RetestTrigger = "manual"
)

// IsValid checks if the retest trigger is valid
func (t RetestTrigger) IsValid() bool {
	return t == RetestTriggerEpicInterval || t == RetestTriggerFoundationStale || t == RetestTriggerManual
}

// FailureCategory classifies an epic-test failure
type FailureCategory string

const (
	// FailureCategoryTestQuality means the test itself is suspect
	FailureCategoryTestQuality FailureCategory = "test_quality"
	// FailureCategoryImplementationGap means the implementation regressed or never covered it
	FailureCategoryImplementationGap FailureCategory = "implementation_gap"
	// FailureCategoryFlaky means the test passed after its most recent failure
	FailureCategoryFlaky FailureCategory = "flaky"
)

// IsValid checks if the failure category is valid
func (c FailureCategory) IsValid() bool {
	return c == FailureCategoryTestQuality || c == FailureCategoryImplementationGap || c == FailureCategoryFlaky
}

// CheckpointType records what prompted a checkpoint capture
type CheckpointType string

const (
	// CheckpointTaskCompletion is written after each task completes
	CheckpointTaskCompletion CheckpointType = "task_completion"
	// CheckpointPeriodic is written on the checkpoint interval timer
	CheckpointPeriodic CheckpointType = "periodic"
	// CheckpointPreBlocker is written just before a pause
	CheckpointPreBlocker CheckpointType = "pre_blocker"
)

// IsValid checks if the checkpoint type is valid
func (t CheckpointType) IsValid() bool {
	return t == CheckpointTaskCompletion || t == CheckpointPeriodic || t == CheckpointPreBlocker
}

// ReviewRecommendation summarizes a completion review verdict
type ReviewRecommendation string

const (
	ReviewRecommendationComplete  ReviewRecommendation = "complete"
	ReviewRecommendationNeedsWork ReviewRecommendation = "needs_work"
	ReviewRecommendationFailed    ReviewRecommendation = "failed"
)

// IsValid checks if the review recommendation is valid
func (r ReviewRecommendation) IsValid() bool {
	return r == ReviewRecommendationComplete || r == ReviewRecommendationNeedsWork || r == ReviewRecommendationFailed
}
