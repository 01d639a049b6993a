package settlement

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSettlementMock(t *testing.T) (Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewRepository(sqlxDB), mock, func() { sqlxDB.Close() }
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, close := setupSettlementMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM settlement_records WHERE reservation_id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id"}))

	_, err := repo.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOperation_IgnoresExistingKey(t *testing.T) {
	repo, mock, close := setupSettlementMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO settlement_operations (idempotency_key, reservation_id, kind, amount_cents, status) VALUES ($1, $2, $3, $4, 'pending') ON CONFLICT (idempotency_key) DO NOTHING`)).
		WithArgs("key-1", int64(5), EffectRefund, int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.InsertOperation(context.Background(), &Operation{IdempotencyKey: "key-1", ReservationID: 5, Kind: EffectRefund, AmountCents: 5000})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOperation_Missing(t *testing.T) {
	repo, mock, close := setupSettlementMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE settlement_operations SET status = $1")).
		WithArgs(OperationSucceeded, "re_1", 1, "", "key-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateOperation(context.Background(), &Operation{IdempotencyKey: "key-2", Status: OperationSucceeded, ProviderRef: "re_1", Attempts: 1})
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestResolveLock_OnlyOnce(t *testing.T) {
	repo, mock, close := setupSettlementMock(t)
	defer close()

	at := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	cols := []string{"reservation_id", "replacement_id", "locked_amount_cents", "original_start_utc", "resolution", "lock_resolved_at", "created_at"}
	query := regexp.QuoteMeta("UPDATE lock_records SET resolution = $1, lock_resolved_at = $2 WHERE replacement_id = $3 AND resolution IS NULL")

	mock.ExpectQuery(query).
		WithArgs(LockForfeited, at, int64(21)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(20), int64(21), int64(10000), at.Add(-time.Hour), "forfeited", at, at))
	mock.ExpectQuery(query).
		WithArgs(LockForfeited, at, int64(21)).
		WillReturnRows(sqlmock.NewRows(cols))

	lock, resolved, err := repo.ResolveLock(context.Background(), 21, LockForfeited, at)
	require.NoError(t, err)
	assert.True(t, resolved)
	require.NotNil(t, lock.Resolution)
	assert.Equal(t, LockForfeited, *lock.Resolution)
	assert.Equal(t, int64(20), lock.ReservationID)

	_, resolved, err = repo.ResolveLock(context.Background(), 21, LockForfeited, at)
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOpenLockByReplacement_None(t *testing.T) {
	repo, mock, close := setupSettlementMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM lock_records WHERE replacement_id = $1 AND resolution IS NULL FOR UPDATE")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id"}))

	lock, err := repo.FindOpenLockByReplacement(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestMarkManualReview(t *testing.T) {
	repo, mock, close := setupSettlementMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE settlement_records SET payment_status = 'manual_review', settlement_outcome = $1, updated_at = NOW() WHERE reservation_id = $2")).
		WithArgs("manual_review_refund", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkManualReview(context.Background(), 4, "manual_review_refund"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
