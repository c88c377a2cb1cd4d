package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

var savepointName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Tx interface {
	Executor
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
}

// Transaction wraps sqlx.Tx. A Transaction obtained from a ctx that already carried one
// is a borrowed handle: its Commit and Rollback are left to the owner.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	owner    *Transaction
	isClosed bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

// TxFromContext returns the open transaction stored on ctx, if any.
func TxFromContext(ctx context.Context) *Transaction {
	tx, ok := ctx.Value(txKey).(*Transaction)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil
	}
	return tx
}

func GetTx(ctx context.Context, logger ectologger.Logger, db *sqlx.DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if existing := TxFromContext(ctx); existing != nil {
		return ctx, &Transaction{Tx: existing.Tx, logger: logger, owner: existing.root()}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

func (t *Transaction) root() *Transaction {
	if t.owner != nil {
		return t.owner
	}
	return t
}

func (t *Transaction) IsOpen() bool {
	return !t.root().isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.owner != nil || t.isClosed {
		return nil
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}

	t.isClosed = true
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.owner != nil || t.isClosed {
		return nil
	}

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		t.isClosed = true
		return fmt.Errorf("error while committing transaction: %w", err)
	}

	t.isClosed = true
	return nil
}

func (t *Transaction) Savepoint(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "SAVEPOINT", name)
}

func (t *Transaction) RollbackTo(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "ROLLBACK TO SAVEPOINT", name)
}

func (t *Transaction) Release(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "RELEASE SAVEPOINT", name)
}

func (t *Transaction) savepointExec(ctx context.Context, stmt, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.Tx.ExecContext(ctx, stmt+" "+name); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while executing %s %s", stmt, name)
		return fmt.Errorf("%s %s: %w", stmt, name, err)
	}
	return nil
}
