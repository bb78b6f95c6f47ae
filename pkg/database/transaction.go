package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Queryer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	IsOpen() bool
}

// Transaction wraps sqlx.Tx and remembers whether it has been closed.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) Tx {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	err := t.Tx.Rollback()
	t.isClosed = true
	if err != nil && err != sql.ErrTxDone {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	err := t.Tx.Commit()
	t.isClosed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}
	return nil
}

// FromContext returns the transaction opened by an enclosing WithTx.
func FromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey).(Tx)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil, false
	}
	return tx, true
}

// WithTx runs fn inside a transaction. When ctx already carries an open
// transaction fn joins it and the outermost caller decides commit/rollback.
// Any error from fn, or a cancelled ctx, rolls everything back.
func WithTx(ctx context.Context, db DB, logger ectologger.Logger, opts *sql.TxOptions, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := FromContext(ctx); ok {
		return fn(ctx, tx)
	}

	sqlxTx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return fmt.Errorf("error while beginning transaction: %w", err)
	}

	tx := NewTx(sqlxTx, logger)
	txCtx := context.WithValue(ctx, txKey, tx)
	defer tx.Rollback(txCtx)

	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return tx.Commit(txCtx)
}
