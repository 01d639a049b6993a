package availability

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	// WithTx returns a Repository bound to tx. Range mutations are only
	// atomic when run through one.
	WithTx(tx *sqlx.Tx) Repository

	GetDay(ctx context.Context, ownerID int64, date time.Time) (Bits, bool, error)
	GetDayForUpdate(ctx context.Context, ownerID int64, date time.Time) (Bits, bool, error)
	SaveDay(ctx context.Context, ownerID int64, date time.Time, bits Bits) error
	SetRange(ctx context.Context, ownerID int64, date time.Time, startSlot, endSlot int) error
	ClearRange(ctx context.Context, ownerID int64, date time.Time, startSlot, endSlot int) (bool, error)

	ListWindows(ctx context.Context, ownerID int64, date time.Time) ([]Window, error)
	ListWindowsForUpdate(ctx context.Context, ownerID int64, date time.Time) ([]Window, error)
	CreateWindow(ctx context.Context, w *Window) error
	UpdateWindow(ctx context.Context, w *Window) error
	DeleteWindow(ctx context.Context, id int64) error
}
