package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Tx is an explicit unit of work passed as a parameter through call chains.
// A nil *Tx means "open your own transaction"; a non-nil one means "join the
// transaction the caller already holds". Commit and rollback belong to the
// outermost owner only.
type Tx struct {
	tx           *sql.Tx
	rollbackOnly bool
}

func (t *Tx) SetRollbackOnly() {
	t.rollbackOnly = true
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// TxRunner opens or joins transactions. *DB is the production
// implementation.
type TxRunner interface {
	InTx(ctx context.Context, existing *Tx, fn func(tx *Tx) error) error
}

// InTx runs fn within a transaction. When existing is non-nil, fn joins it
// and the outcome is left to the outermost caller; an error from fn marks the
// joined transaction rollback-only so the owner cannot accidentally commit
// half-applied work.
func (db *DB) InTx(ctx context.Context, existing *Tx, fn func(tx *Tx) error) error {
	if existing != nil {
		if err := fn(existing); err != nil {
			existing.SetRollbackOnly()
			return err
		}
		return nil
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{tx: sqlTx}
	fnErr := fn(tx)

	if fnErr != nil || tx.rollbackOnly {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("Transaction rollback failed", "error", rbErr)
		}
		return fnErr
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
