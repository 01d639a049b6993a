package reservation

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	WithTx(tx *sqlx.Tx) Repository

	FindByID(ctx context.Context, id int64) (*Reservation, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*Reservation, error)
	Save(ctx context.Context, r *Reservation) error
	ListOverlapping(ctx context.Context, ownerID, requesterID int64, start, end time.Time) ([]Reservation, error)
	// TryInsertNonOverlapping inserts r unless an active reservation of the
	// same owner or requester overlaps it, in which case it returns
	// ErrOverlap. It must run inside a transaction.
	TryInsertNonOverlapping(ctx context.Context, r *Reservation) error
	ListForOwnerDay(ctx context.Context, ownerID int64, date time.Time) ([]Reservation, error)

	// RescheduledFrom and HasActiveBooking read through tx when it is
	// non-nil.
	RescheduledFrom(ctx context.Context, tx *sqlx.Tx, id int64) (*int64, error)
	HasActiveBooking(ctx context.Context, tx *sqlx.Tx, ownerID int64, date time.Time, startMinute, endMinute int) (bool, error)

	GetOffering(ctx context.Context, id int64) (*Offering, error)
}
