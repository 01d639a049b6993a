package reservation

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/msaedi/instructly-sub008/internal/availability"
	"github.com/msaedi/instructly-sub008/internal/db"
	"github.com/msaedi/instructly-sub008/internal/notify"
	"github.com/msaedi/instructly-sub008/internal/settlement"
)

type fakeTx struct{ calls int }

func (f *fakeTx) InTx(ctx context.Context, fn db.TxFunc) error {
	f.calls++
	return fn(nil)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) WithTx(tx *sqlx.Tx) Repository { return m }

func (m *MockRepository) FindByID(ctx context.Context, id int64) (*Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Reservation), args.Error(1)
}

func (m *MockRepository) FindByIDForUpdate(ctx context.Context, id int64) (*Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Reservation), args.Error(1)
}

func (m *MockRepository) Save(ctx context.Context, r *Reservation) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockRepository) ListOverlapping(ctx context.Context, ownerID, requesterID int64, start, end time.Time) ([]Reservation, error) {
	args := m.Called(ctx, ownerID, requesterID, start, end)
	out, _ := args.Get(0).([]Reservation)
	return out, args.Error(1)
}

func (m *MockRepository) TryInsertNonOverlapping(ctx context.Context, r *Reservation) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockRepository) ListForOwnerDay(ctx context.Context, ownerID int64, date time.Time) ([]Reservation, error) {
	args := m.Called(ctx, ownerID, date)
	out, _ := args.Get(0).([]Reservation)
	return out, args.Error(1)
}

func (m *MockRepository) RescheduledFrom(ctx context.Context, tx *sqlx.Tx, id int64) (*int64, error) {
	args := m.Called(ctx, tx, id)
	prev, _ := args.Get(0).(*int64)
	return prev, args.Error(1)
}

func (m *MockRepository) HasActiveBooking(ctx context.Context, tx *sqlx.Tx, ownerID int64, date time.Time, startMinute, endMinute int) (bool, error) {
	args := m.Called(ctx, tx, ownerID, date, startMinute, endMinute)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetOffering(ctx context.Context, id int64) (*Offering, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Offering), args.Error(1)
}

type fakeGuard struct {
	reserveErr error
	reserved   []availability.Span
	released   []availability.Span
}

func (g *fakeGuard) ReserveAndClear(ctx context.Context, tx *sqlx.Tx, ownerID int64, spans []availability.Span) error {
	if g.reserveErr != nil {
		return g.reserveErr
	}
	g.reserved = append(g.reserved, spans...)
	return nil
}

func (g *fakeGuard) Release(ctx context.Context, tx *sqlx.Tx, ownerID int64, spans []availability.Span) error {
	g.released = append(g.released, spans...)
	return nil
}

type MockSettlement struct {
	mock.Mock
}

func (m *MockSettlement) record(args mock.Arguments) (*settlement.Record, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.Record), args.Error(1)
}

func (m *MockSettlement) Open(ctx context.Context, tx *sqlx.Tx, b settlement.Booking, customerRef string) (*settlement.Record, error) {
	return m.record(m.Called(ctx, tx, b, customerRef))
}

func (m *MockSettlement) Get(ctx context.Context, reservationID int64) (*settlement.Record, error) {
	return m.record(m.Called(ctx, reservationID))
}

func (m *MockSettlement) Authorize(ctx context.Context, b settlement.Booking) (*settlement.Record, error) {
	return m.record(m.Called(ctx, b))
}

func (m *MockSettlement) AuthorizeNow(ctx context.Context, b settlement.Booking) (*settlement.Record, error) {
	return m.record(m.Called(ctx, b))
}

func (m *MockSettlement) Capture(ctx context.Context, b settlement.Booking, actorRef string) (*settlement.Record, error) {
	return m.record(m.Called(ctx, b, actorRef))
}

func (m *MockSettlement) Cancel(ctx context.Context, b settlement.Booking, cause settlement.Cause, actorRef string) (*settlement.Result, error) {
	args := m.Called(ctx, b, cause, actorRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.Result), args.Error(1)
}

func (m *MockSettlement) Reschedule(ctx context.Context, tx *sqlx.Tx, old, replacement settlement.Booking, cause settlement.Cause) (*settlement.Record, error) {
	return m.record(m.Called(ctx, tx, old, replacement, cause))
}

func (m *MockSettlement) ReportNoShow(ctx context.Context, tx *sqlx.Tx, reservationID, reporterID int64, party settlement.Party) (*settlement.NoShowReport, error) {
	args := m.Called(ctx, tx, reservationID, reporterID, party)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.NoShowReport), args.Error(1)
}

func (m *MockSettlement) ScheduleExpiry(ctx context.Context, rep *settlement.NoShowReport) {
	m.Called(ctx, rep)
}

func (m *MockSettlement) GetReport(ctx context.Context, reservationID int64) (*settlement.NoShowReport, error) {
	args := m.Called(ctx, reservationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.NoShowReport), args.Error(1)
}

func (m *MockSettlement) Dispute(ctx context.Context, reservationID, disputedBy int64, reason string) (*settlement.NoShowReport, error) {
	args := m.Called(ctx, reservationID, disputedBy, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.NoShowReport), args.Error(1)
}

func (m *MockSettlement) resolution(args mock.Arguments) (*settlement.Result, *settlement.NoShowReport, error) {
	res, _ := args.Get(0).(*settlement.Result)
	rep, _ := args.Get(1).(*settlement.NoShowReport)
	return res, rep, args.Error(2)
}

func (m *MockSettlement) ResolveNoShow(ctx context.Context, b settlement.Booking, upheld bool, actorRef string) (*settlement.Result, *settlement.NoShowReport, error) {
	return m.resolution(m.Called(ctx, b, upheld, actorRef))
}

func (m *MockSettlement) ExpireNoShow(ctx context.Context, b settlement.Booking) (*settlement.Result, *settlement.NoShowReport, error) {
	return m.resolution(m.Called(ctx, b))
}

type sent struct {
	kind        notify.Kind
	recipientID int64
}

type fakeNotifier struct {
	sent []sent
}

func (f *fakeNotifier) Notify(ctx context.Context, kind notify.Kind, recipientID int64, data map[string]any) {
	f.sent = append(f.sent, sent{kind: kind, recipientID: recipientID})
}

type fakeScheduler struct {
	at map[int64]time.Time
}

func (f *fakeScheduler) ScheduleCompletion(ctx context.Context, reservationID int64, at time.Time) error {
	if f.at == nil {
		f.at = map[int64]time.Time{}
	}
	f.at[reservationID] = at
	return nil
}
