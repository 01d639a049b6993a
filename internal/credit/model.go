package credit

import "time"

// Account is a user's platform credit balance.
type Account struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	BalanceCents int64     `db:"balance_cents" json:"balance_cents"`
	Currency     string    `db:"currency" json:"currency"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type Transaction struct {
	ID             int64     `db:"id" json:"id"`
	AccountID      int64     `db:"account_id" json:"account_id"`
	AmountCents    int64     `db:"amount_cents" json:"amount_cents"`
	Type           string    `db:"type" json:"type"`
	BalanceAfter   int64     `db:"balance_after" json:"balance_after"`
	ReservationID  *int64    `db:"reservation_id" json:"reservation_id,omitempty"`
	IdempotencyKey *string   `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

const (
	TypeCancellationCredit = "cancellation_credit"
	TypeLateCancelCredit   = "late_cancellation_credit"
	TypeAdjustment         = "adjustment"
)

// Entry describes one ledger movement.
type Entry struct {
	UserID         int64
	AmountCents    int64
	Type           string
	ReservationID  *int64
	IdempotencyKey string
}

type BalanceResponse struct {
	Account      *Account      `json:"account"`
	Transactions []Transaction `json:"transactions"`
}
