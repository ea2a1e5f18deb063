package models

import "time"

// Epic is a planned feature area containing ordered tasks.
type Epic struct {
	ProjectID   string     `db:"project_id" json:"project_id"`
	EpicID      int        `db:"epic_id" json:"epic_id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
	Priority    int        `db:"priority" json:"priority"`
	Status      EpicStatus `db:"status" json:"status"`
	Tier        EpicTier   `db:"tier" json:"tier"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Task is a single concrete work item executed by the agent.
type Task struct {
	ProjectID   string     `db:"project_id" json:"project_id"`
	EpicID      int        `db:"epic_id" json:"epic_id"`
	TaskID      int        `db:"task_id" json:"task_id"`
	Description string     `db:"description" json:"description"`
	Action      string     `db:"action" json:"action"`
	Priority    int        `db:"priority" json:"priority"`
	Done        bool       `db:"done" json:"done"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	StartedBy   *string    `db:"started_by" json:"started_by,omitempty"`
	Metadata    JSONMap    `db:"metadata" json:"metadata,omitempty"`
	// EpicPriority is populated by joins that order across epics.
	EpicPriority int `db:"epic_priority" json:"-"`
}

// Test is a verifiable requirement attached to a task or, for integration
// requirements, directly to an epic.
type Test struct {
	ProjectID         string       `db:"project_id" json:"project_id"`
	TestID            int          `db:"test_id" json:"test_id"`
	TaskID            *int         `db:"task_id" json:"task_id,omitempty"`
	EpicID            *int         `db:"epic_id" json:"epic_id,omitempty"`
	Category          TestCategory `db:"category" json:"category"`
	Description       string       `db:"description" json:"description"`
	Requirements      string       `db:"requirements" json:"requirements"`
	Passed            *bool        `db:"passed" json:"passed"`
	LastError         *string      `db:"last_error" json:"last_error,omitempty"`
	ExecutionTimeMS   *int         `db:"execution_time_ms" json:"execution_time_ms,omitempty"`
	RetryCount        int          `db:"retry_count" json:"retry_count"`
	VerificationNotes *string      `db:"verification_notes" json:"verification_notes,omitempty"`
	LastRunAt         *time.Time   `db:"last_run_at" json:"last_run_at,omitempty"`
}

// Resolved reports whether the test has a recorded outcome.
func (t *Test) Resolved() bool {
	return t.Passed != nil
}

// IsEpicTest reports whether the test is owned by an epic rather than a task.
func (t *Test) IsEpicTest() bool {
	return t.TaskID == nil && t.EpicID != nil
}

// CreateEpicRequest contains fields for creating an epic (initializer only).
type CreateEpicRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Tier        EpicTier `json:"tier,omitempty"`
}

// CreateTaskRequest contains fields for creating a task (initializer only).
type CreateTaskRequest struct {
	EpicID      int     `json:"epic_id"`
	Description string  `json:"description"`
	Action      string  `json:"action,omitempty"`
	Priority    int     `json:"priority"`
	Metadata    JSONMap `json:"metadata,omitempty"`
}

// CreateTestRequest contains fields for creating a test (initializer only).
// Exactly one of TaskID / EpicID must be set.
type CreateTestRequest struct {
	TaskID       *int         `json:"task_id,omitempty"`
	EpicID       *int         `json:"epic_id,omitempty"`
	Category     TestCategory `json:"category"`
	Description  string       `json:"description"`
	Requirements string       `json:"requirements"`
}

// TestResultUpdate carries an agent-reported test outcome.
type TestResultUpdate struct {
	Passed            bool    `json:"passed"`
	Error             *string `json:"error,omitempty"`
	ExecutionTimeMS   *int    `json:"execution_time_ms,omitempty"`
	VerificationNotes *string `json:"verification_notes,omitempty"`
}

// TaskExpansion is one expand_epic entry: a task plus its tests, created
// together under an existing epic.
type TaskExpansion struct {
	Description string          `json:"description"`
	Action      string          `json:"action,omitempty"`
	Priority    int             `json:"priority"`
	Metadata    JSONMap         `json:"metadata,omitempty"`
	Tests       []ExpansionTest `json:"tests,omitempty"`
}

// ExpansionTest is one test created alongside its task by expand_epic.
type ExpansionTest struct {
	Category     TestCategory `json:"category"`
	Description  string       `json:"description"`
	Requirements string       `json:"requirements"`
}
