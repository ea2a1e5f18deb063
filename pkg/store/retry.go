package store

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxRetries      = 5
	baseDelay       = 100 * time.Millisecond
	maxDelay        = 5 * time.Second
	jitterFraction  = 0.2
	delayMultiplier = 2.0
)

// recoverablePgCodes lists the SQLSTATE codes that are worth retrying: the
// statement may succeed on a fresh connection or after competing work
// finishes. Everything else surfaces immediately.
var recoverablePgCodes = map[string]struct{}{
	// Class 08: connection exceptions
	"08000": {}, // connection_exception
	"08001": {}, // sqlclient_unable_to_establish_sqlconnection
	"08003": {}, // connection_does_not_exist
	"08004": {}, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": {}, // connection_failure
	"08007": {}, // transaction_resolution_unknown
	"08P01": {}, // protocol_violation
	// Class 40: transaction rollback
	"40001": {}, // serialization_failure
	"40003": {}, // statement_completion_unknown
	"40P01": {}, // deadlock_detected
	// Class 53: insufficient resources
	"53000": {}, // insufficient_resources
	"53200": {}, // out_of_memory
	"53300": {}, // too_many_connections
	// Class 55: object state
	"55006": {}, // object_in_use
	"55P03": {}, // lock_not_available
	// Class 57: operator intervention
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
	// Class 58: system errors external to postgres
	"58000": {}, // system_error
	"58030": {}, // io_error
}

// isRecoverable classifies an error as transient. Beyond the SQLSTATE table
// it covers the network-level failures the driver reports before a statement
// reaches the server.
func isRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := recoverablePgCodes[pgErr.Code]
		return ok
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}

// withRetry runs op, retrying recoverable failures with exponential backoff
// and jitter. Non-recoverable errors return immediately.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.RandomizationFactor = jitterFraction
	bo.Multiplier = delayMultiplier
	bo.MaxInterval = maxDelay
	bo.MaxElapsedTime = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isRecoverable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(wrapped, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), maxRetries))
}
