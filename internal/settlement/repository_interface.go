package settlement

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	WithTx(tx *sqlx.Tx) Repository

	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, reservationID int64) (*Record, error)
	GetForUpdate(ctx context.Context, reservationID int64) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	MarkManualReview(ctx context.Context, reservationID int64, reason string) error

	GetOperation(ctx context.Context, key string) (*Operation, error)
	// InsertOperation records intent. A key that already exists is left
	// untouched.
	InsertOperation(ctx context.Context, op *Operation) error
	UpdateOperation(ctx context.Context, op *Operation) error
	ListPendingOperations(ctx context.Context, olderThan time.Time, limit int) ([]Operation, error)

	CreateLock(ctx context.Context, lock *Lock) error
	FindOpenLockByReplacement(ctx context.Context, replacementID int64) (*Lock, error)
	MoveLock(ctx context.Context, reservationID, replacementID int64) error
	// ResolveLock sets the resolution of the open lock whose replacement is
	// replacementID. It returns false when there is no open lock.
	ResolveLock(ctx context.Context, replacementID int64, resolution LockResolution, at time.Time) (*Lock, bool, error)

	CreateReport(ctx context.Context, r *NoShowReport) error
	GetReport(ctx context.Context, reservationID int64) (*NoShowReport, error)
	GetReportForUpdate(ctx context.Context, reservationID int64) (*NoShowReport, error)
	SaveReport(ctx context.Context, r *NoShowReport) error
	ListExpiredReports(ctx context.Context, now time.Time, limit int) ([]NoShowReport, error)
}
