// Package store is the relational persistence layer. All reads and writes go
// through a Store, which adds transient-error retry and scoped transactions
// on top of the pooled database client.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yokeflow/yokeflow/pkg/database"
)

// Store executes queries against the pool or, when created by WithTx, against
// a single transaction.
type Store struct {
	db  *database.Client // nil inside a transaction scope
	ext sqlx.ExtContext  // pool handle or open transaction
}

// New returns a Store bound to the connection pool.
func New(db *database.Client) *Store {
	return &Store{db: db, ext: db.DB}
}

// DB returns the underlying database client. It is nil for transaction-scoped
// stores.
func (s *Store) DB() *database.Client {
	return s.db
}

// InTx reports whether this store is bound to an open transaction.
func (s *Store) InTx() bool {
	return s.db == nil
}

// WithTx runs fn inside a transaction and commits when fn returns nil. Any
// error rolls the transaction back. Recoverable failures (serialization,
// deadlock, dropped connection) rerun fn from scratch per the retry policy,
// so fn must not carry side effects outside the transaction.
//
// Calling WithTx on a transaction-scoped store runs fn in the same
// transaction; there is no nesting.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.InTx() {
		return fn(s)
	}

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(&Store{ext: tx}); err != nil {
			_ = tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// run executes op with retry when bound to the pool. Inside a transaction the
// statement runs once: a transient failure aborts the whole transaction, and
// WithTx reruns it from scratch.
func (s *Store) run(ctx context.Context, op func() error) error {
	if s.InTx() {
		return op()
	}
	return withRetry(ctx, op)
}

// get wraps sqlx.GetContext with retry and not-found mapping.
func (s *Store) get(ctx context.Context, dst any, entity string, query string, args ...any) error {
	return s.run(ctx, func() error {
		if err := sqlx.GetContext(ctx, s.ext, dst, query, args...); err != nil {
			return mapError(entity, err)
		}
		return nil
	})
}

// selectAll wraps sqlx.SelectContext with retry.
func (s *Store) selectAll(ctx context.Context, dst any, entity string, query string, args ...any) error {
	return s.run(ctx, func() error {
		if err := sqlx.SelectContext(ctx, s.ext, dst, query, args...); err != nil {
			return mapError(entity, err)
		}
		return nil
	})
}

// exec wraps ExecContext with retry and returns the affected row count.
func (s *Store) exec(ctx context.Context, entity string, query string, args ...any) (int64, error) {
	var affected int64
	err := s.run(ctx, func() error {
		res, err := s.ext.ExecContext(ctx, query, args...)
		if err != nil {
			return mapError(entity, err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		return nil
	})
	return affected, err
}
