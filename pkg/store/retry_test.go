package store

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pgError(code string) error {
	return &pgconn.PgError{Code: code, Message: "synthetic"}
}

func TestIsRecoverable(t *testing.T) {
	testCases := []struct {
		name        string
		err         error
		recoverable bool
	}{
		{"nil", nil, false},
		{"serialization failure", pgError("40001"), true},
		{"deadlock", pgError("40P01"), true},
		{"connection failure", pgError("08006"), true},
		{"too many connections", pgError("53300"), true},
		{"admin shutdown", pgError("57P01"), true},
		{"crash shutdown", pgError("57P02"), true},
		{"cannot connect now", pgError("57P03"), true},
		{"unique violation", pgError("23505"), false},
		{"undefined table", pgError("42P01"), false},
		{"syntax error", pgError("42601"), false},
		{"plain error", errors.New("boom"), false},
		{"eof", io.EOF, true},
		{"conn reset", syscall.ECONNRESET, true},
		{"broken pipe", syscall.EPIPE, true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.recoverable, isRecoverable(tc.err))
		})
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return pgError("23505")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesRecoverableErrors(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return pgError("40001")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return pgError("40001")
	})

	require.Error(t, err)
	// initial attempt plus maxRetries retries
	assert.Equal(t, maxRetries+1, calls)
}

func TestMapError(t *testing.T) {
	conflict := mapError("project", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "projects_name_key"})
	assert.True(t, IsConflict(conflict))
	assert.Contains(t, conflict.Error(), "projects_name_key")

	missing := mapError("task", &pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "tasks_project_id_fkey"})
	assert.True(t, IsNotFound(missing))

	passthrough := mapError("epic", errors.New("boom"))
	assert.False(t, IsNotFound(passthrough))
	assert.False(t, IsConflict(passthrough))
	assert.Contains(t, passthrough.Error(), "epic")
}
