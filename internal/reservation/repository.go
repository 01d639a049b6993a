package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msaedi/instructly-sub008/internal/db"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrOfferingNotFound    = errors.New("offering not found")
	ErrOverlap             = errors.New("reservation overlaps an active reservation")
)

// Strategy selects how TryInsertNonOverlapping detects overlaps.
type Strategy string

const (
	// StrategyExclusion relies on the EXCLUDE constraints of the
	// reservations table.
	StrategyExclusion Strategy = "exclusion"
	// StrategyRowLock serializes each party with a transaction advisory
	// lock and checks the locked rows in Go.
	StrategyRowLock Strategy = "row_lock"
)

type repository struct {
	db       sqlx.ExtContext
	strategy Strategy
}

func NewRepository(db *sqlx.DB, strategy Strategy) Repository {
	if strategy == "" {
		strategy = StrategyExclusion
	}
	return &repository{db: db, strategy: strategy}
}

func (r *repository) WithTx(tx *sqlx.Tx) Repository {
	return &repository{db: tx, strategy: r.strategy}
}

func (r *repository) reader(tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return r.db
}

const reservationColumns = `id, requester_id, owner_id, offering_id, delivery_mode, day, start_minute, end_minute,
	start_utc, end_utc, owner_timezone, requester_timezone, price_cents, duration_minutes, status,
	rescheduled_from_id, rescheduled_to_id, cancelled_by, cancelled_at, completed_at, created_at, updated_at`

const activeStatuses = `('pending', 'confirmed', 'completed', 'no_show')`

func (r *repository) FindByID(ctx context.Context, id int64) (*Reservation, error) {
	return r.find(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id int64) (*Reservation, error) {
	return r.find(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) find(ctx context.Context, query string, id int64) (*Reservation, error) {
	var res Reservation
	err := sqlx.GetContext(ctx, r.db, &res, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Save writes the lifecycle columns of r. Times and parties never change
// after insert.
func (r *repository) Save(ctx context.Context, res *Reservation) error {
	err := r.db.QueryRowxContext(ctx,
		`UPDATE reservations
		 SET status = $1, rescheduled_to_id = $2, cancelled_by = $3, cancelled_at = $4,
		     completed_at = $5, updated_at = NOW()
		 WHERE id = $6
		 RETURNING updated_at`,
		res.Status, res.RescheduledToID, res.CancelledBy, res.CancelledAt, res.CompletedAt, res.ID,
	).Scan(&res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReservationNotFound
	}
	return err
}

func (r *repository) ListOverlapping(ctx context.Context, ownerID, requesterID int64, start, end time.Time) ([]Reservation, error) {
	return r.listOverlapping(ctx, "", ownerID, requesterID, start, end)
}

func (r *repository) listOverlapping(ctx context.Context, suffix string, ownerID, requesterID int64, start, end time.Time) ([]Reservation, error) {
	var out []Reservation
	err := sqlx.SelectContext(ctx, r.db, &out,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE (owner_id = $1 OR requester_id = $2)
		   AND status IN `+activeStatuses+`
		   AND start_utc < $4 AND end_utc > $3
		 ORDER BY start_utc`+suffix,
		ownerID, requesterID, start, end,
	)
	return out, err
}

func (r *repository) TryInsertNonOverlapping(ctx context.Context, res *Reservation) error {
	if r.strategy == StrategyRowLock {
		if err := r.lockParties(ctx, res.OwnerID, res.RequesterID); err != nil {
			return err
		}
		existing, err := r.listOverlapping(ctx, " FOR UPDATE", res.OwnerID, res.RequesterID, res.StartUTC, res.EndUTC)
		if err != nil {
			return err
		}
		for i := range existing {
			if existing[i].ConflictsWith(res) {
				return fmt.Errorf("%w: reservation %d", ErrOverlap, existing[i].ID)
			}
		}
	}

	err := r.insert(ctx, res)
	if db.IsExclusionViolation(err) {
		return fmt.Errorf("%w: %v", ErrOverlap, err)
	}
	return err
}

// lockParties takes one advisory lock per party in a fixed order.
func (r *repository) lockParties(ctx context.Context, ids ...int64) error {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var prev int64 = -1
	for _, id := range ids {
		if id == prev {
			continue
		}
		prev = id
		key := fmt.Sprintf("reservations:party:%d", id)
		if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) insert(ctx context.Context, res *Reservation) error {
	return r.db.QueryRowxContext(ctx,
		`INSERT INTO reservations (requester_id, owner_id, offering_id, delivery_mode, day, start_minute,
			end_minute, start_utc, end_utc, owner_timezone, requester_timezone, price_cents,
			duration_minutes, status, rescheduled_from_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id, created_at, updated_at`,
		res.RequesterID, res.OwnerID, res.OfferingID, res.DeliveryMode, res.Date, res.StartMinute,
		res.EndMinute, res.StartUTC, res.EndUTC, res.OwnerTimezone, res.RequesterTimezone, res.PriceCents,
		res.DurationMinutes, res.Status, res.RescheduledFromID,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
}

func (r *repository) ListForOwnerDay(ctx context.Context, ownerID int64, date time.Time) ([]Reservation, error) {
	var out []Reservation
	err := sqlx.SelectContext(ctx, r.db, &out,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE owner_id = $1 AND day = $2
		 ORDER BY start_minute`,
		ownerID, date,
	)
	return out, err
}

func (r *repository) RescheduledFrom(ctx context.Context, tx *sqlx.Tx, id int64) (*int64, error) {
	var prev *int64
	err := sqlx.GetContext(ctx, r.reader(tx), &prev, `SELECT rescheduled_from_id FROM reservations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	return prev, err
}

// HasActiveBooking checks the local clock interval [startMinute, endMinute)
// on date against active reservations starting that day, and against ones
// that started the previous evening and run past midnight.
func (r *repository) HasActiveBooking(ctx context.Context, tx *sqlx.Tx, ownerID int64, date time.Time, startMinute, endMinute int) (bool, error) {
	return db.Exists(ctx, r.reader(tx),
		`SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE owner_id = $1
			  AND status IN `+activeStatuses+`
			  AND (
			    (day = $2 AND start_minute < $4
			      AND (CASE WHEN end_minute <= start_minute THEN 1440 ELSE end_minute END) > $3)
			    OR (day = $5 AND end_minute < start_minute AND end_minute > $3)
			  )
		)`,
		ownerID, date, startMinute, endMinute, date.AddDate(0, 0, -1),
	)
}

func (r *repository) GetOffering(ctx context.Context, id int64) (*Offering, error) {
	var o Offering
	err := sqlx.GetContext(ctx, r.db, &o,
		`SELECT id, owner_id, name, hourly_rate_cents, supports_in_person, supports_travel, supports_online,
			min_advance_hours, timezone, active, created_at
		 FROM offerings WHERE id = $1`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
