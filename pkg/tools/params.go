package tools

import (
	"bytes"
	"encoding/json"

	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
)

// decodeParams unmarshals the call's params into dst. Absent params leave
// dst at its zero value so no-argument calls stay valid. Unknown fields are
// tolerated for agent compatibility; malformed JSON is a validation error.
func decodeParams(call *runner.Request, dst any) error {
	if len(call.Params) == 0 || bytes.Equal(call.Params, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(call.Params, dst); err != nil {
		return validationf("invalid %s parameters: %v", call.Method, err)
	}
	return nil
}

type epicParams struct {
	EpicID int `json:"epic_id"`
}

type taskIDParams struct {
	ID int `json:"id"`
}

type listTasksParams struct {
	EpicID      *int `json:"epic_id,omitempty"`
	OnlyPending bool `json:"only_pending,omitempty"`
}

type listTestsParams struct {
	TaskID *int `json:"task_id,omitempty"`
	EpicID *int `json:"epic_id,omitempty"`
}

type historyParams struct {
	Limit int `json:"limit,omitempty"`
}

type stabilityParams struct {
	EpicID *int `json:"epic_id,omitempty"`
}

type updateTaskStatusParams struct {
	ID    int    `json:"id"`
	Done  bool   `json:"done"`
	Notes string `json:"notes,omitempty"`
}

type testResultParams struct {
	TestID            int     `json:"test_id"`
	Passed            bool    `json:"passed"`
	Error             *string `json:"error,omitempty"`
	ExecutionTimeMS   *int    `json:"execution_time_ms,omitempty"`
	VerificationNotes *string `json:"verification_notes,omitempty"`
}

type epicTestResultParams struct {
	EpicTestID        int     `json:"epic_test_id"`
	Passed            bool    `json:"passed"`
	Error             *string `json:"error,omitempty"`
	ExecutionTimeMS   *int    `json:"execution_time_ms,omitempty"`
	VerificationNotes *string `json:"verification_notes,omitempty"`
}

type createEpicParams struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	Tier        models.EpicTier `json:"tier,omitempty"`
}

type createTaskParams struct {
	EpicID      int            `json:"epic_id"`
	Description string         `json:"description"`
	Action      string         `json:"action,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	Metadata    models.JSONMap `json:"metadata,omitempty"`
}

type createTestParams struct {
	TaskID       *int                `json:"task_id,omitempty"`
	EpicID       *int                `json:"epic_id,omitempty"`
	Category     models.TestCategory `json:"category"`
	Description  string              `json:"description"`
	Requirements string              `json:"requirements,omitempty"`
}

type expandEpicParams struct {
	EpicID int                    `json:"epic_id"`
	Tasks  []models.TaskExpansion `json:"tasks"`
}

type logSessionParams struct {
	Message string `json:"message"`
}

type bashParams struct {
	Command    string `json:"command"`
	Timeout    int    `json:"timeout,omitempty"`
	Background bool   `json:"background,omitempty"`
}

func (p testResultParams) update() models.TestResultUpdate {
	return models.TestResultUpdate{
		Passed:            p.Passed,
		Error:             p.Error,
		ExecutionTimeMS:   p.ExecutionTimeMS,
		VerificationNotes: p.VerificationNotes,
	}
}

func (p epicTestResultParams) update() models.TestResultUpdate {
	return models.TestResultUpdate{
		Passed:            p.Passed,
		Error:             p.Error,
		ExecutionTimeMS:   p.ExecutionTimeMS,
		VerificationNotes: p.VerificationNotes,
	}
}
