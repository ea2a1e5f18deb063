package tools

import (
	"errors"

	"github.com/yokeflow/yokeflow/pkg/intervention"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
	"github.com/yokeflow/yokeflow/pkg/store"
)

// errSandbox marks execution-infrastructure failures from the bash handler
// so they map to sandbox_error instead of storage_error.
var errSandbox = errors.New("sandbox failure")

// errRetestsDisabled is returned by the retest methods when no planner is
// wired into the session.
var errRetestsDisabled = errors.New("epic retesting is not enabled for this project")

// wireError maps a handler error onto the wire taxonomy. Blocked commands
// keep the BLOCKED: prefix the metrics collector and the transcripts key on.
// Unclassified errors surface as storage_error with a generic message; the
// detail stays in the orchestrator log.
func (s *Service) wireError(method string, err error) *runner.WireError {
	var werr *runner.WireError
	if errors.As(err, &werr) {
		return werr
	}

	var qv *intervention.QualityViolationError
	if errors.As(err, &qv) {
		return runner.NewWireError(runner.ErrorKindQualityViolation, "%s", qv.Error())
	}

	var blocked *sandbox.BlockedCommandError
	if errors.As(err, &blocked) {
		return runner.NewWireError(runner.ErrorKindBlockedCommand, "BLOCKED: %s", blocked.Error())
	}

	switch {
	case errors.Is(err, store.ErrValidation):
		return runner.NewWireError(runner.ErrorKindValidation, "%s", err.Error())
	case errors.Is(err, store.ErrNotFound):
		return runner.NewWireError(runner.ErrorKindNotFound, "%s", err.Error())
	case errors.Is(err, store.ErrConflict):
		return runner.NewWireError(runner.ErrorKindConflict, "%s", err.Error())
	case errors.Is(err, errRetestsDisabled):
		return runner.NewWireError(runner.ErrorKindValidation, "%s", err.Error())
	case errors.Is(err, errSandbox):
		return runner.NewWireError(runner.ErrorKindSandboxError, "%s", err.Error())
	}

	s.logger.Error("tool call failed", "method", method, "error", err)
	return runner.NewWireError(runner.ErrorKindStorageError, "%s failed, retry or report the issue", method)
}

// validationf builds a validation wire error for malformed or out-of-range
// parameters.
func validationf(format string, args ...any) error {
	return runner.NewWireError(runner.ErrorKindValidation, format, args...)
}
