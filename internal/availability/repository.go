package availability

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrWindowNotFound = errors.New("availability window not found")

type repository struct {
	db sqlx.ExtContext
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *sqlx.Tx) Repository {
	return &repository{db: tx}
}

func (r *repository) GetDay(ctx context.Context, ownerID int64, date time.Time) (Bits, bool, error) {
	return r.getDay(ctx, `SELECT bits FROM availability_days WHERE owner_id = $1 AND day = $2`, ownerID, date)
}

func (r *repository) GetDayForUpdate(ctx context.Context, ownerID int64, date time.Time) (Bits, bool, error) {
	return r.getDay(ctx, `SELECT bits FROM availability_days WHERE owner_id = $1 AND day = $2 FOR UPDATE`, ownerID, date)
}

func (r *repository) getDay(ctx context.Context, query string, ownerID int64, date time.Time) (Bits, bool, error) {
	var bits Bits
	err := sqlx.GetContext(ctx, r.db, &bits, query, ownerID, dayKey(date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bits, true, nil
}

func (r *repository) SaveDay(ctx context.Context, ownerID int64, date time.Time, bits Bits) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO availability_days (owner_id, day, bits)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id, day) DO UPDATE SET bits = EXCLUDED.bits, updated_at = NOW()`,
		ownerID, dayKey(date), bits,
	)
	return err
}

// SetRange opens [startSlot, endSlot), creating the day record when absent.
func (r *repository) SetRange(ctx context.Context, ownerID int64, date time.Time, startSlot, endSlot int) error {
	if err := ValidateRange(startSlot, endSlot); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO availability_days (owner_id, day, bits)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id, day) DO NOTHING`,
		ownerID, dayKey(date), NewBits(),
	)
	if err != nil {
		return err
	}

	bits, _, err := r.GetDayForUpdate(ctx, ownerID, date)
	if err != nil {
		return err
	}
	if err := bits.SetRange(startSlot, endSlot); err != nil {
		return err
	}
	return r.updateBits(ctx, ownerID, date, bits)
}

// ClearRange closes [startSlot, endSlot). It reports false when the day has
// no record.
func (r *repository) ClearRange(ctx context.Context, ownerID int64, date time.Time, startSlot, endSlot int) (bool, error) {
	if err := ValidateRange(startSlot, endSlot); err != nil {
		return false, err
	}

	bits, found, err := r.GetDayForUpdate(ctx, ownerID, date)
	if err != nil || !found {
		return false, err
	}
	if err := bits.ClearRange(startSlot, endSlot); err != nil {
		return false, err
	}
	if err := r.updateBits(ctx, ownerID, date, bits); err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) updateBits(ctx context.Context, ownerID int64, date time.Time, bits Bits) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE availability_days SET bits = $1, updated_at = NOW() WHERE owner_id = $2 AND day = $3`,
		bits, ownerID, dayKey(date),
	)
	return err
}

const windowColumns = `id, owner_id, day, start_minute, end_minute, created_at, updated_at`

func (r *repository) ListWindows(ctx context.Context, ownerID int64, date time.Time) ([]Window, error) {
	var windows []Window
	err := sqlx.SelectContext(ctx, r.db, &windows,
		`SELECT `+windowColumns+` FROM availability_windows
		 WHERE owner_id = $1 AND day = $2
		 ORDER BY start_minute`,
		ownerID, dayKey(date),
	)
	return windows, err
}

func (r *repository) ListWindowsForUpdate(ctx context.Context, ownerID int64, date time.Time) ([]Window, error) {
	var windows []Window
	err := sqlx.SelectContext(ctx, r.db, &windows,
		`SELECT `+windowColumns+` FROM availability_windows
		 WHERE owner_id = $1 AND day = $2
		 ORDER BY start_minute
		 FOR UPDATE`,
		ownerID, dayKey(date),
	)
	return windows, err
}

func (r *repository) CreateWindow(ctx context.Context, w *Window) error {
	return r.db.QueryRowxContext(ctx,
		`INSERT INTO availability_windows (owner_id, day, start_minute, end_minute)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+windowColumns,
		w.OwnerID, dayKey(w.Date), w.StartMinute, w.EndMinute,
	).StructScan(w)
}

func (r *repository) UpdateWindow(ctx context.Context, w *Window) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE availability_windows
		 SET start_minute = $1, end_minute = $2, updated_at = NOW()
		 WHERE id = $3`,
		w.StartMinute, w.EndMinute, w.ID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *repository) DeleteWindow(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWindowNotFound
	}
	return nil
}
