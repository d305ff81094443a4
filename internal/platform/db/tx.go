package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const DBTxKey contextKey = "db_tx"

var ErrNoConnection = errors.New("no database connection in context")

// TxFromContext returns the transaction started by InTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ContextWithTx stores tx so repositories issue their statements through it.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// Beginner is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transactor is implemented by TxRunner. Services depend on this so tests can
// run them without a database.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxRunner runs multi-row state changes atomically.
type TxRunner struct {
	fallback Beginner
}

// NewTxRunner uses fallback when the context carries no clinic connection,
// as happens in CLI commands.
func NewTxRunner(fallback Beginner) *TxRunner {
	return &TxRunner{fallback: fallback}
}

// InTx calls fn with a context carrying a transaction. A transaction already
// present in ctx is joined rather than nested.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var b Beginner = r.fallback
	if conn := ConnFromContext(ctx); conn != nil {
		b = conn
	}
	if b == nil {
		return ErrNoConnection
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
