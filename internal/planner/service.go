package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/jmoiron/sqlx"

	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/availability"
	"github.com/msaedi/instructly-sub008/internal/db"
	"github.com/msaedi/instructly-sub008/internal/logger"
)

const lockTTL = 10 * time.Second

// BookingChecker answers whether an owner has an active reservation that
// intersects a local clock interval. It must read through tx.
type BookingChecker interface {
	HasActiveBooking(ctx context.Context, tx *sqlx.Tx, ownerID int64, date time.Time, startMinute, endMinute int) (bool, error)
}

// Locker is the subset of *redislock.Client used here.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn db.TxFunc) error
}

type Service interface {
	PublishWindow(ctx context.Context, ownerID int64, req availability.PublishWindowRequest) (*availability.Window, error)
	RemoveWindow(ctx context.Context, ownerID int64, date time.Time, windowID int64) error
	MergeDay(ctx context.Context, ownerID int64, date time.Time) ([]availability.Window, error)
	SplitWindow(ctx context.Context, ownerID int64, date time.Time, windowID int64, atMinute int) ([]availability.Window, error)
	FindGaps(ctx context.Context, ownerID int64, date time.Time, minDuration int) ([]Gap, error)
	SuggestSlots(ctx context.Context, ownerID int64, date time.Time, duration int) ([]Suggestion, error)
}

type service struct {
	tx        Transactor
	repo      availability.Repository
	bookings  BookingChecker
	locker    Locker
	tolerance int
}

// NewService builds the planner. locker may be nil, in which case writes
// rely on the database transaction alone.
func NewService(tx Transactor, repo availability.Repository, bookings BookingChecker, locker Locker, toleranceMinutes int) Service {
	return &service{
		tx:        tx,
		repo:      repo,
		bookings:  bookings,
		locker:    locker,
		tolerance: toleranceMinutes,
	}
}

// withDay runs fn in one transaction for (ownerID, date), holding the
// advisory Redis lock when one can be had.
func (s *service) withDay(ctx context.Context, ownerID int64, date time.Time, fn func(repo availability.Repository, tx *sqlx.Tx) error) error {
	if s.locker != nil {
		key := fmt.Sprintf("planner:%d:%s", ownerID, date.Format(availability.DateLayout))
		lock, err := s.locker.Obtain(ctx, key, lockTTL, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			logger.Warn("could not obtain planner lock; proceeding without it", "key", key)
		case err != nil:
			logger.Warn("error obtaining planner lock; proceeding without it", "key", key, "error", err)
		default:
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
					logger.Warn("failed to release planner lock", "key", key, "error", err)
				}
			}()
		}
	}

	return s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		return fn(s.repo.WithTx(tx), tx)
	})
}

// intervals loads the day's windows under row locks and marks the ones with
// an active booking.
func (s *service) intervals(ctx context.Context, repo availability.Repository, tx *sqlx.Tx, ownerID int64, date time.Time) ([]availability.Window, []Interval, error) {
	windows, err := repo.ListWindowsForUpdate(ctx, ownerID, date)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Interval, 0, len(windows))
	for _, w := range windows {
		booked, err := s.bookings.HasActiveBooking(ctx, tx, ownerID, date, w.StartMinute, w.EndMinute)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, Interval{ID: w.ID, Start: w.StartMinute, End: w.EndMinute, Booked: booked})
	}
	return windows, out, nil
}

func (s *service) PublishWindow(ctx context.Context, ownerID int64, req availability.PublishWindowRequest) (*availability.Window, error) {
	date, start, end, err := parseWindow(req)
	if err != nil {
		return nil, err
	}

	w := &availability.Window{OwnerID: ownerID, Date: date, StartMinute: start, EndMinute: end}
	err = s.withDay(ctx, ownerID, date, func(repo availability.Repository, tx *sqlx.Tx) error {
		existing, err := repo.ListWindowsForUpdate(ctx, ownerID, date)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if start < e.EndMinute && e.StartMinute < end {
				return apperr.InvalidRequest("window overlaps an existing window", nil).
					WithDetails(map[string]any{"window_id": e.ID})
			}
		}
		if err := repo.CreateWindow(ctx, w); err != nil {
			return err
		}
		return repo.SetRange(ctx, ownerID, date, start/availability.SlotMinutes, end/availability.SlotMinutes)
	})
	if err != nil {
		return nil, wrap(err, "failed to publish window")
	}

	logger.Info("availability window published", "owner_id", ownerID, "date", req.Date, "window_id", w.ID)
	return w, nil
}

func (s *service) RemoveWindow(ctx context.Context, ownerID int64, date time.Time, windowID int64) error {
	err := s.withDay(ctx, ownerID, date, func(repo availability.Repository, tx *sqlx.Tx) error {
		windows, ivs, err := s.intervals(ctx, repo, tx, ownerID, date)
		if err != nil {
			return err
		}
		idx := indexOf(windows, windowID)
		if idx < 0 {
			return apperr.NotFound("window")
		}
		if ivs[idx].Booked {
			return apperr.InvalidRequest("window has an active booking", ErrWindowBooked)
		}
		if err := repo.DeleteWindow(ctx, windowID); err != nil {
			return err
		}
		w := windows[idx]
		_, err = repo.ClearRange(ctx, ownerID, date, w.StartMinute/availability.SlotMinutes, w.EndMinute/availability.SlotMinutes)
		return err
	})
	return wrap(err, "failed to remove window")
}

func (s *service) MergeDay(ctx context.Context, ownerID int64, date time.Time) ([]availability.Window, error) {
	var result []availability.Window
	err := s.withDay(ctx, ownerID, date, func(repo availability.Repository, tx *sqlx.Tx) error {
		windows, ivs, err := s.intervals(ctx, repo, tx, ownerID, date)
		if err != nil {
			return err
		}

		for _, m := range Merge(ivs, s.tolerance) {
			w := windows[indexOf(windows, m.ID)]
			if len(m.Absorbed) > 0 {
				for _, id := range m.Absorbed {
					if err := repo.DeleteWindow(ctx, id); err != nil {
						return err
					}
				}
				w.EndMinute = m.End
				if err := repo.UpdateWindow(ctx, &w); err != nil {
					return err
				}
				for _, g := range m.Gaps {
					if err := repo.SetRange(ctx, ownerID, date, g.Start/availability.SlotMinutes, g.End/availability.SlotMinutes); err != nil {
						return err
					}
				}
			}
			result = append(result, w)
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "failed to merge windows")
	}
	return result, nil
}

func (s *service) SplitWindow(ctx context.Context, ownerID int64, date time.Time, windowID int64, atMinute int) ([]availability.Window, error) {
	if atMinute%availability.SlotMinutes != 0 {
		return nil, apperr.Validation("split point must be on a 30-minute boundary")
	}

	var result []availability.Window
	err := s.withDay(ctx, ownerID, date, func(repo availability.Repository, tx *sqlx.Tx) error {
		windows, ivs, err := s.intervals(ctx, repo, tx, ownerID, date)
		if err != nil {
			return err
		}
		idx := indexOf(windows, windowID)
		if idx < 0 {
			return apperr.NotFound("window")
		}

		left, right, err := Split(ivs[idx], atMinute)
		if err != nil {
			return apperr.InvalidRequest(err.Error(), err)
		}

		first := windows[idx]
		first.EndMinute = left.End
		if err := repo.UpdateWindow(ctx, &first); err != nil {
			return err
		}
		second := &availability.Window{OwnerID: ownerID, Date: date, StartMinute: right.Start, EndMinute: right.End}
		if err := repo.CreateWindow(ctx, second); err != nil {
			return err
		}
		result = []availability.Window{first, *second}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "failed to split window")
	}
	return result, nil
}

func (s *service) FindGaps(ctx context.Context, ownerID int64, date time.Time, minDuration int) ([]Gap, error) {
	windows, err := s.repo.ListWindows(ctx, ownerID, date)
	if err != nil {
		return nil, apperr.Internal("failed to load windows", err)
	}
	ivs := make([]Interval, 0, len(windows))
	for _, w := range windows {
		ivs = append(ivs, Interval{ID: w.ID, Start: w.StartMinute, End: w.EndMinute})
	}
	return FindGaps(ivs, minDuration), nil
}

func (s *service) SuggestSlots(ctx context.Context, ownerID int64, date time.Time, duration int) ([]Suggestion, error) {
	if duration <= 0 {
		return nil, apperr.Validation("duration must be positive")
	}

	var out []Suggestion
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		_, ivs, err := s.intervals(ctx, s.repo.WithTx(tx), tx, ownerID, date)
		if err != nil {
			return err
		}
		out = SuggestSlots(ivs, duration)
		return nil
	})
	if err != nil {
		return nil, wrap(err, "failed to suggest slots")
	}
	return out, nil
}

func parseWindow(req availability.PublishWindowRequest) (time.Time, int, int, error) {
	date, err := availability.ParseDate(req.Date)
	if err != nil {
		return time.Time{}, 0, 0, apperr.Validation("date must be YYYY-MM-DD")
	}
	start, err := availability.ParseClock(req.StartTime)
	if err != nil {
		return time.Time{}, 0, 0, apperr.Validation("start_time must be HH:MM")
	}
	end, err := availability.ParseClock(req.EndTime)
	if err != nil {
		return time.Time{}, 0, 0, apperr.Validation("end_time must be HH:MM")
	}
	// 00:00 as an end time means the end of the day.
	if end == 0 {
		end = availability.DayMinutes
	}
	if start%availability.SlotMinutes != 0 || end%availability.SlotMinutes != 0 {
		return time.Time{}, 0, 0, apperr.Validation("window must start and end on 30-minute boundaries")
	}
	if end <= start {
		return time.Time{}, 0, 0, apperr.Validation("end_time must be after start_time")
	}
	return date, start, end, nil
}

func indexOf(windows []availability.Window, id int64) int {
	for i, w := range windows {
		if w.ID == id {
			return i
		}
	}
	return -1
}

func wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(message, err)
}
