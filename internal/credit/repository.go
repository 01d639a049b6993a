package credit

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var (
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	ErrZeroAmount          = errors.New("credit amount must not be zero")
)

type repository struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *sqlx.Tx) Repository {
	return &repository{db: r.db, tx: tx}
}

func (r *repository) ext() sqlx.ExtContext {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// inTx runs fn in the bound transaction, or in a new one committed on
// success.
func (r *repository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}

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

const accountColumns = `id, user_id, balance_cents, currency, created_at, updated_at`

func (r *repository) GetOrCreateAccount(ctx context.Context, userID int64) (*Account, error) {
	a := &Account{}
	err := sqlx.GetContext(ctx, r.ext(), a, `SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1`, userID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = r.ext().QueryRowxContext(ctx,
		`INSERT INTO credit_accounts (user_id)
		 VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = credit_accounts.updated_at
		 RETURNING `+accountColumns,
		userID,
	).StructScan(a)
	if err != nil {
		return nil, err
	}
	return a, nil
}

const transactionColumns = `id, account_id, amount_cents, type, balance_after, reservation_id, idempotency_key, created_at`

func (r *repository) AddTransaction(ctx context.Context, e Entry) (*Transaction, bool, error) {
	if e.AmountCents == 0 {
		return nil, false, ErrZeroAmount
	}

	var (
		out     Transaction
		applied bool
	)
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		if e.IdempotencyKey != "" {
			err := tx.GetContext(ctx, &out,
				`SELECT `+transactionColumns+` FROM credit_transactions WHERE idempotency_key = $1`,
				e.IdempotencyKey,
			)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		var a Account
		err := tx.QueryRowxContext(ctx,
			`SELECT `+accountColumns+`
			 FROM credit_accounts
			 WHERE user_id = $1
			 FOR UPDATE`,
			e.UserID,
		).StructScan(&a)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.QueryRowxContext(ctx,
				`INSERT INTO credit_accounts (user_id)
				 VALUES ($1)
				 RETURNING `+accountColumns,
				e.UserID,
			).StructScan(&a)
		}
		if err != nil {
			return err
		}

		newBalance := a.BalanceCents + e.AmountCents
		if newBalance < 0 {
			return ErrInsufficientBalance
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE credit_accounts
			 SET balance_cents = $1, updated_at = NOW()
			 WHERE id = $2`,
			newBalance, a.ID,
		)
		if err != nil {
			return err
		}

		var key *string
		if e.IdempotencyKey != "" {
			key = &e.IdempotencyKey
		}
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO credit_transactions (account_id, amount_cents, type, balance_after, reservation_id, idempotency_key)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+transactionColumns,
			a.ID, e.AmountCents, e.Type, newBalance, e.ReservationID, key,
		).StructScan(&out)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, applied, nil
}

func (r *repository) GetTransactions(ctx context.Context, userID int64, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var accountID int64
	err := sqlx.GetContext(ctx, r.ext(), &accountID, `SELECT id FROM credit_accounts WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []Transaction{}, nil
		}
		return nil, err
	}

	var txs []Transaction
	err = sqlx.SelectContext(ctx, r.ext(), &txs, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}

	return txs, nil
}
