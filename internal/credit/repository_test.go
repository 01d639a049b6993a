package credit

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCreditMock(t *testing.T) (Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRepository(sqlxDB)

	closer := func() { sqlxDB.Close() }
	return repo, mock, closer
}

var (
	accountCols = []string{"id", "user_id", "balance_cents", "currency", "created_at", "updated_at"}
	txCols      = []string{"id", "account_id", "amount_cents", "type", "balance_after", "reservation_id", "idempotency_key", "created_at"}
)

func TestGetOrCreateAccount_WhenNotExists(t *testing.T) {
	repo, mock, close := setupCreditMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, balance_cents, currency, created_at, updated_at FROM credit_accounts WHERE user_id = $1")).
		WithArgs(int64(10)).
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO credit_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO UPDATE SET updated_at = credit_accounts.updated_at RETURNING id, user_id, balance_cents, currency, created_at, updated_at")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(5, 10, 0, "USD", time.Now(), time.Now()))

	a, err := repo.GetOrCreateAccount(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), a.ID)
}

func TestAddTransaction_IssuesCredit(t *testing.T) {
	repo, mock, close := setupCreditMock(t)
	defer close()

	resID := int64(77)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, account_id, amount_cents, type, balance_after, reservation_id, idempotency_key, created_at FROM credit_transactions WHERE idempotency_key = $1")).
		WithArgs("key-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, balance_cents, currency, created_at, updated_at FROM credit_accounts WHERE user_id = $1 FOR UPDATE")).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(7, 20, 2000, "USD", time.Now(), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE credit_accounts SET balance_cents = $1, updated_at = NOW() WHERE id = $2")).
		WithArgs(int64(12000), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO credit_transactions (account_id, amount_cents, type, balance_after, reservation_id, idempotency_key) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, account_id, amount_cents, type, balance_after, reservation_id, idempotency_key, created_at")).
		WithArgs(int64(7), int64(10000), TypeCancellationCredit, int64(12000), resID, "key-1").
		WillReturnRows(sqlmock.NewRows(txCols).AddRow(1, 7, 10000, TypeCancellationCredit, 12000, resID, "key-1", time.Now()))
	mock.ExpectCommit()

	tx, applied, err := repo.AddTransaction(context.Background(), Entry{
		UserID: 20, AmountCents: 10000, Type: TypeCancellationCredit, ReservationID: &resID, IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(12000), tx.BalanceAfter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTransaction_DuplicateKeyIsNoop(t *testing.T) {
	repo, mock, close := setupCreditMock(t)
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_transactions WHERE idempotency_key = $1")).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows(txCols).AddRow(1, 7, 10000, TypeCancellationCredit, 12000, nil, "key-1", time.Now()))
	mock.ExpectCommit()

	tx, applied, err := repo.AddTransaction(context.Background(), Entry{
		UserID: 20, AmountCents: 10000, Type: TypeCancellationCredit, IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(1), tx.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTransaction_InsufficientBalance(t *testing.T) {
	repo, mock, close := setupCreditMock(t)
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_accounts WHERE user_id = $1 FOR UPDATE")).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(7, 20, 100, "USD", time.Now(), time.Now()))
	mock.ExpectRollback()

	_, _, err := repo.AddTransaction(context.Background(), Entry{UserID: 20, AmountCents: -500, Type: TypeAdjustment})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTransaction_ZeroAmount(t *testing.T) {
	repo, _, close := setupCreditMock(t)
	defer close()

	_, _, err := repo.AddTransaction(context.Background(), Entry{UserID: 20})
	assert.ErrorIs(t, err, ErrZeroAmount)
}

func TestGetTransactions_NoAccount(t *testing.T) {
	repo, mock, close := setupCreditMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM credit_accounts WHERE user_id = $1")).
		WithArgs(int64(3)).
		WillReturnError(sql.ErrNoRows)

	txs, err := repo.GetTransactions(context.Background(), 3, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
