package credit

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	WithTx(tx *sqlx.Tx) Repository
	GetOrCreateAccount(ctx context.Context, userID int64) (*Account, error)
	// AddTransaction applies e to the user's balance. An entry whose
	// idempotency key was already applied returns the original transaction
	// and applied=false.
	AddTransaction(ctx context.Context, e Entry) (tx *Transaction, applied bool, err error)
	GetTransactions(ctx context.Context, userID int64, limit, offset int) ([]Transaction, error)
}
