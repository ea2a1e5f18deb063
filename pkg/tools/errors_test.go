package tools

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/intervention"
	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
	"github.com/yokeflow/yokeflow/pkg/store"
)

func TestWireErrorMapping(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)

	tests := []struct {
		name     string
		err      error
		kind     runner.ErrorKind
		contains string
	}{
		{
			name:     "wire error passes through",
			err:      runner.NewWireError(runner.ErrorKindConflict, "task 3 already held"),
			kind:     runner.ErrorKindConflict,
			contains: "already held",
		},
		{
			name:     "quality violation",
			err:      &intervention.QualityViolationError{TaskID: 3, Reason: "task has no passing tests"},
			kind:     runner.ErrorKindQualityViolation,
			contains: "no passing tests",
		},
		{
			name:     "blocked command gets prefix",
			err:      &sandbox.BlockedCommandError{Command: "rm -rf /", Rule: "rm_rf", Description: "recursive delete"},
			kind:     runner.ErrorKindBlockedCommand,
			contains: "BLOCKED: command blocked by rule rm_rf",
		},
		{
			name:     "wrapped blocked command",
			err:      fmt.Errorf("execute: %w", &sandbox.BlockedCommandError{Rule: "git_push", Description: "no pushing"}),
			kind:     runner.ErrorKindBlockedCommand,
			contains: "BLOCKED:",
		},
		{
			name:     "validation sentinel",
			err:      fmt.Errorf("epic name is required: %w", store.ErrValidation),
			kind:     runner.ErrorKindValidation,
			contains: "name is required",
		},
		{
			name:     "not found sentinel",
			err:      fmt.Errorf("epic 9: %w", store.ErrNotFound),
			kind:     runner.ErrorKindNotFound,
			contains: "epic 9",
		},
		{
			name:     "conflict sentinel",
			err:      fmt.Errorf("task 3 is held: %w", store.ErrConflict),
			kind:     runner.ErrorKindConflict,
			contains: "held",
		},
		{
			name:     "retests disabled",
			err:      errRetestsDisabled,
			kind:     runner.ErrorKindValidation,
			contains: "not enabled",
		},
		{
			name:     "sandbox infrastructure",
			err:      fmt.Errorf("%w: container exited", errSandbox),
			kind:     runner.ErrorKindSandboxError,
			contains: "container exited",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			werr := ts.svc.wireError("get_task", tc.err)
			require.NotNil(t, werr)
			assert.Equal(t, tc.kind, werr.Kind)
			assert.Contains(t, werr.Message, tc.contains)
		})
	}
}

func TestWireErrorHidesUnclassifiedDetail(t *testing.T) {
	ts := newTestService(models.SessionTypeCoding)

	werr := ts.svc.wireError("get_task", errors.New("pq: connection refused on 10.0.3.7"))
	require.NotNil(t, werr)
	assert.Equal(t, runner.ErrorKindStorageError, werr.Kind)
	assert.Contains(t, werr.Message, "get_task")
	assert.NotContains(t, werr.Message, "10.0.3.7")
}
