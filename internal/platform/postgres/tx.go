package postgres

import (
	"context"
	"database/sql"
	"time"

	dErrors "dataplane/pkg/domain-errors"
	txcontext "dataplane/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// Transactor runs a unit of work in one *sql.Tx. Stores pick the transaction
// up from the context, so everything fn touches commits or rolls back together.
type Transactor struct {
	db      *sql.DB
	timeout time.Duration
}

func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db, timeout: defaultTxTimeout}
}

// RunInTx ignores the key; row locks and the in-place counter increment give
// Postgres the same per-dataset guarantees the in-memory shards do.
func (t *Transactor) RunInTx(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to commit transaction")
	}
	return nil
}
