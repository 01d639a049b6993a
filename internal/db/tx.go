package db

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msaedi/instructly-sub008/internal/logger"
)

// TxFunc runs inside a transaction. Returning an error rolls it back.
type TxFunc func(tx *sqlx.Tx) error

type TxRunner struct {
	db          *sqlx.DB
	maxAttempts int
	baseBackoff time.Duration
	sleep       func(time.Duration)
}

func NewTxRunner(db *sqlx.DB, maxAttempts int) *TxRunner {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &TxRunner{
		db:          db,
		maxAttempts: maxAttempts,
		baseBackoff: 20 * time.Millisecond,
		sleep:       time.Sleep,
	}
}

func (r *TxRunner) DB() *sqlx.DB {
	return r.db
}

// InTx runs fn in a fresh transaction, retrying the whole unit on
// serialization failures and deadlocks.
func (r *TxRunner) InTx(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.once(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == r.maxAttempts {
			break
		}
		logger.Warn("retrying transaction", "attempt", attempt, "error", err)
		r.sleep(r.backoff(attempt))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", r.maxAttempts, err)
}

func (r *TxRunner) once(ctx context.Context, fn TxFunc) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *TxRunner) backoff(attempt int) time.Duration {
	d := r.baseBackoff << (attempt - 1)
	return d/2 + rand.N(d/2+1)
}
