package settlement

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrRecordNotFound    = errors.New("settlement record not found")
	ErrOperationNotFound = errors.New("settlement operation not found")
	ErrReportNotFound    = errors.New("no-show report not found")
)

type repository struct {
	db sqlx.ExtContext
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *sqlx.Tx) Repository {
	return &repository{db: tx}
}

const recordColumns = `reservation_id, payment_status, amount_cents, captured_amount_cents,
	reserved_credit_cents, refunded_amount_cents, payout_amount_cents, settlement_outcome,
	customer_ref, payment_intent_ref, transfer_ref,
	authorization_attempts, authorization_last_error, capture_attempts, capture_last_error,
	transfer_attempts, transfer_last_error, reversal_attempts, reversal_last_error,
	refund_attempts, refund_last_error, created_at, updated_at`

func (r *repository) Create(ctx context.Context, rec *Record) error {
	return r.db.QueryRowxContext(ctx,
		`INSERT INTO settlement_records (reservation_id, payment_status, amount_cents, customer_ref,
			payment_intent_ref, captured_amount_cents, transfer_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+recordColumns,
		rec.ReservationID, rec.PaymentStatus, rec.AmountCents, rec.CustomerRef,
		rec.PaymentIntentRef, rec.CapturedAmountCents, rec.TransferRef,
	).StructScan(rec)
}

func (r *repository) Get(ctx context.Context, reservationID int64) (*Record, error) {
	return r.get(ctx, `SELECT `+recordColumns+` FROM settlement_records WHERE reservation_id = $1`, reservationID)
}

func (r *repository) GetForUpdate(ctx context.Context, reservationID int64) (*Record, error) {
	return r.get(ctx, `SELECT `+recordColumns+` FROM settlement_records WHERE reservation_id = $1 FOR UPDATE`, reservationID)
}

func (r *repository) get(ctx context.Context, query string, reservationID int64) (*Record, error) {
	rec := &Record{}
	err := sqlx.GetContext(ctx, r.db, rec, query, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *repository) Save(ctx context.Context, rec *Record) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlement_records SET
			payment_status = $1, captured_amount_cents = $2, reserved_credit_cents = $3,
			refunded_amount_cents = $4, payout_amount_cents = $5, settlement_outcome = $6,
			customer_ref = $7, payment_intent_ref = $8, transfer_ref = $9,
			authorization_attempts = $10, authorization_last_error = $11,
			capture_attempts = $12, capture_last_error = $13,
			transfer_attempts = $14, transfer_last_error = $15,
			reversal_attempts = $16, reversal_last_error = $17,
			refund_attempts = $18, refund_last_error = $19,
			updated_at = NOW()
		 WHERE reservation_id = $20`,
		rec.PaymentStatus, rec.CapturedAmountCents, rec.ReservedCreditCents,
		rec.RefundedAmountCents, rec.PayoutAmountCents, rec.Outcome,
		rec.CustomerRef, rec.PaymentIntentRef, rec.TransferRef,
		rec.AuthorizationAttempts, rec.AuthorizationLastError,
		rec.CaptureAttempts, rec.CaptureLastError,
		rec.TransferAttempts, rec.TransferLastError,
		rec.ReversalAttempts, rec.ReversalLastError,
		rec.RefundAttempts, rec.RefundLastError,
		rec.ReservationID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrRecordNotFound)
}

func (r *repository) MarkManualReview(ctx context.Context, reservationID int64, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlement_records
		 SET payment_status = 'manual_review', settlement_outcome = $1, updated_at = NOW()
		 WHERE reservation_id = $2`,
		reason, reservationID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrRecordNotFound)
}

const operationColumns = `idempotency_key, reservation_id, kind, amount_cents, status, provider_ref,
	attempts, last_error, created_at, updated_at`

func (r *repository) GetOperation(ctx context.Context, key string) (*Operation, error) {
	op := &Operation{}
	err := sqlx.GetContext(ctx, r.db, op,
		`SELECT `+operationColumns+` FROM settlement_operations WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperationNotFound
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (r *repository) InsertOperation(ctx context.Context, op *Operation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlement_operations (idempotency_key, reservation_id, kind, amount_cents, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		op.IdempotencyKey, op.ReservationID, op.Kind, op.AmountCents,
	)
	return err
}

func (r *repository) UpdateOperation(ctx context.Context, op *Operation) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlement_operations
		 SET status = $1, provider_ref = $2, attempts = $3, last_error = $4, updated_at = NOW()
		 WHERE idempotency_key = $5`,
		op.Status, op.ProviderRef, op.Attempts, op.LastError, op.IdempotencyKey,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrOperationNotFound)
}

func (r *repository) ListPendingOperations(ctx context.Context, olderThan time.Time, limit int) ([]Operation, error) {
	var ops []Operation
	err := sqlx.SelectContext(ctx, r.db, &ops,
		`SELECT `+operationColumns+` FROM settlement_operations
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at
		 LIMIT $2`,
		olderThan, limit,
	)
	return ops, err
}

const lockColumns = `reservation_id, replacement_id, locked_amount_cents, original_start_utc,
	resolution, lock_resolved_at, created_at`

func (r *repository) CreateLock(ctx context.Context, lock *Lock) error {
	return r.db.QueryRowxContext(ctx,
		`INSERT INTO lock_records (reservation_id, replacement_id, locked_amount_cents, original_start_utc)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+lockColumns,
		lock.ReservationID, lock.ReplacementID, lock.LockedAmountCents, lock.OriginalStartUTC,
	).StructScan(lock)
}

// FindOpenLockByReplacement returns nil without error when no open lock
// points at replacementID.
func (r *repository) FindOpenLockByReplacement(ctx context.Context, replacementID int64) (*Lock, error) {
	lock := &Lock{}
	err := sqlx.GetContext(ctx, r.db, lock,
		`SELECT `+lockColumns+` FROM lock_records
		 WHERE replacement_id = $1 AND resolution IS NULL
		 FOR UPDATE`,
		replacementID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func (r *repository) MoveLock(ctx context.Context, reservationID, replacementID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE lock_records SET replacement_id = $1
		 WHERE reservation_id = $2 AND resolution IS NULL`,
		replacementID, reservationID,
	)
	return err
}

func (r *repository) ResolveLock(ctx context.Context, replacementID int64, resolution LockResolution, at time.Time) (*Lock, bool, error) {
	lock := &Lock{}
	err := r.db.QueryRowxContext(ctx,
		`UPDATE lock_records SET resolution = $1, lock_resolved_at = $2
		 WHERE replacement_id = $3 AND resolution IS NULL
		 RETURNING `+lockColumns,
		resolution, at, replacementID,
	).StructScan(lock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lock, true, nil
}

const reportColumns = `id, reservation_id, reported_by, party, state, dispute_deadline, dispute_reason,
	disputed_by, resolution, resolved_at, created_at`

func (r *repository) CreateReport(ctx context.Context, rep *NoShowReport) error {
	return r.db.QueryRowxContext(ctx,
		`INSERT INTO no_show_reports (reservation_id, reported_by, party, state, dispute_deadline)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+reportColumns,
		rep.ReservationID, rep.ReportedBy, rep.Party, rep.State, rep.DisputeDeadline,
	).StructScan(rep)
}

func (r *repository) GetReport(ctx context.Context, reservationID int64) (*NoShowReport, error) {
	return r.getReport(ctx, `SELECT `+reportColumns+` FROM no_show_reports WHERE reservation_id = $1`, reservationID)
}

func (r *repository) GetReportForUpdate(ctx context.Context, reservationID int64) (*NoShowReport, error) {
	return r.getReport(ctx, `SELECT `+reportColumns+` FROM no_show_reports WHERE reservation_id = $1 FOR UPDATE`, reservationID)
}

func (r *repository) getReport(ctx context.Context, query string, reservationID int64) (*NoShowReport, error) {
	rep := &NoShowReport{}
	err := sqlx.GetContext(ctx, r.db, rep, query, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func (r *repository) SaveReport(ctx context.Context, rep *NoShowReport) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE no_show_reports
		 SET state = $1, dispute_reason = $2, disputed_by = $3, resolution = $4, resolved_at = $5
		 WHERE id = $6`,
		rep.State, rep.DisputeReason, rep.DisputedBy, rep.Resolution, rep.ResolvedAt, rep.ID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrReportNotFound)
}

func (r *repository) ListExpiredReports(ctx context.Context, now time.Time, limit int) ([]NoShowReport, error) {
	var reports []NoShowReport
	err := sqlx.SelectContext(ctx, r.db, &reports,
		`SELECT `+reportColumns+` FROM no_show_reports
		 WHERE state = 'reported' AND dispute_deadline <= $1
		 ORDER BY dispute_deadline
		 LIMIT $2`,
		now, limit,
	)
	return reports, err
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
