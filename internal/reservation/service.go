package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/audit"
	"github.com/msaedi/instructly-sub008/internal/auth"
	"github.com/msaedi/instructly-sub008/internal/availability"
	"github.com/msaedi/instructly-sub008/internal/cache"
	"github.com/msaedi/instructly-sub008/internal/clock"
	"github.com/msaedi/instructly-sub008/internal/db"
	"github.com/msaedi/instructly-sub008/internal/logger"
	"github.com/msaedi/instructly-sub008/internal/metrics"
	"github.com/msaedi/instructly-sub008/internal/notify"
	"github.com/msaedi/instructly-sub008/internal/settlement"
)

// CompletionGrace is how long after a lesson ends it is completed
// automatically when nobody reported it.
const CompletionGrace = 24 * time.Hour

type Transactor interface {
	InTx(ctx context.Context, fn db.TxFunc) error
}

// SlotGuard clears and reopens availability bits inside a transaction.
type SlotGuard interface {
	ReserveAndClear(ctx context.Context, tx *sqlx.Tx, ownerID int64, spans []availability.Span) error
	Release(ctx context.Context, tx *sqlx.Tx, ownerID int64, spans []availability.Span) error
}

// Settlement is the subset of *settlement.Engine the lifecycle drives.
type Settlement interface {
	Open(ctx context.Context, tx *sqlx.Tx, b settlement.Booking, customerRef string) (*settlement.Record, error)
	Get(ctx context.Context, reservationID int64) (*settlement.Record, error)
	Authorize(ctx context.Context, b settlement.Booking) (*settlement.Record, error)
	AuthorizeNow(ctx context.Context, b settlement.Booking) (*settlement.Record, error)
	Capture(ctx context.Context, b settlement.Booking, actorRef string) (*settlement.Record, error)
	Cancel(ctx context.Context, b settlement.Booking, cause settlement.Cause, actorRef string) (*settlement.Result, error)
	Reschedule(ctx context.Context, tx *sqlx.Tx, old, replacement settlement.Booking, cause settlement.Cause) (*settlement.Record, error)
	ReportNoShow(ctx context.Context, tx *sqlx.Tx, reservationID, reporterID int64, party settlement.Party) (*settlement.NoShowReport, error)
	ScheduleExpiry(ctx context.Context, rep *settlement.NoShowReport)
	GetReport(ctx context.Context, reservationID int64) (*settlement.NoShowReport, error)
	Dispute(ctx context.Context, reservationID, disputedBy int64, reason string) (*settlement.NoShowReport, error)
	ResolveNoShow(ctx context.Context, b settlement.Booking, upheld bool, actorRef string) (*settlement.Result, *settlement.NoShowReport, error)
	ExpireNoShow(ctx context.Context, b settlement.Booking) (*settlement.Result, *settlement.NoShowReport, error)
}

// CompletionScheduler queues the automatic completion of a lesson.
type CompletionScheduler interface {
	ScheduleCompletion(ctx context.Context, reservationID int64, at time.Time) error
}

type Service interface {
	Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*ReservationResponse, error)
	Get(ctx context.Context, actor auth.Actor, id int64) (*ReservationResponse, error)
	ListForOwnerDay(ctx context.Context, actor auth.Actor, ownerID int64, date time.Time) ([]Reservation, error)
	Confirm(ctx context.Context, actor auth.Actor, id int64) (*ReservationResponse, error)
	Complete(ctx context.Context, actor auth.Actor, id int64, req CompleteRequest) (*ReservationResponse, error)
	Cancel(ctx context.Context, actor auth.Actor, id int64, req CancelRequest) (*CancelResponse, error)
	Reschedule(ctx context.Context, actor auth.Actor, id int64, req RescheduleRequest) (*RescheduleResponse, error)
	ReportNoShow(ctx context.Context, actor auth.Actor, id int64, req NoShowRequest) (*NoShowResponse, error)
	DisputeNoShow(ctx context.Context, actor auth.Actor, id int64, req DisputeRequest) (*NoShowResponse, error)
	ResolveNoShow(ctx context.Context, actor auth.Actor, id int64, req ResolveRequest) (*NoShowResponse, error)

	// Background entry points.
	AuthorizeScheduled(ctx context.Context, id int64) error
	CompleteScheduled(ctx context.Context, id int64) error
	ExpireNoShow(ctx context.Context, id int64) error
}

type service struct {
	tx         Transactor
	repo       Repository
	guard      SlotGuard
	settlement Settlement
	offerings  *cache.TTL[int64, *Offering]
	scheduler  CompletionScheduler
	notifier   notify.Sink
	audit      audit.Writer
	clock      clock.Clock
	tracer     trace.Tracer
}

type Option func(*service)

func WithScheduler(s CompletionScheduler) Option {
	return func(svc *service) { svc.scheduler = s }
}

func WithNotifier(n notify.Sink) Option {
	return func(svc *service) { svc.notifier = n }
}

func WithAudit(w audit.Writer) Option {
	return func(svc *service) { svc.audit = w }
}

func WithClock(c clock.Clock) Option {
	return func(svc *service) { svc.clock = c }
}

// NewService builds the lifecycle service. Offerings are cached for
// cacheTTL against the service clock.
func NewService(tx Transactor, repo Repository, guard SlotGuard, engine Settlement, cacheSize int, cacheTTL time.Duration, opts ...Option) (Service, error) {
	s := &service{
		tx:         tx,
		repo:       repo,
		guard:      guard,
		settlement: engine,
		clock:      clock.Real{},
		tracer:     otel.Tracer("reservation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	offerings, err := cache.NewTTL[int64, *Offering](cacheSize, cacheTTL, s.clock)
	if err != nil {
		return nil, fmt.Errorf("offering cache: %w", err)
	}
	s.offerings = offerings
	return s, nil
}

// slot is a parsed local lesson time.
type slot struct {
	date     time.Time
	start    int
	end      int
	duration int
	spans    []availability.Span
	startUTC time.Time
	endUTC   time.Time
}

// parseSlot checks the requested local times without touching storage.
// The UTC instants are filled in by locate once the zone is known.
func parseSlot(date, start, end string) (*slot, error) {
	d, err := availability.ParseDate(date)
	if err != nil {
		return nil, apperr.Validation("date must be YYYY-MM-DD")
	}
	startMin, err := availability.ParseClock(start)
	if err != nil {
		return nil, apperr.Validation("start_time must be HH:MM")
	}
	endMin, err := availability.ParseClock(end)
	if err != nil {
		return nil, apperr.Validation("end_time must be HH:MM")
	}
	spans, err := availability.SpansFor(d, startMin, endMin)
	if err != nil {
		return nil, err
	}

	duration := endMin - startMin
	if duration < 0 {
		duration += availability.DayMinutes
	}
	return &slot{
		date:     d,
		start:    startMin,
		end:      endMin,
		duration: duration,
		spans:    spans,
	}, nil
}

func (sl *slot) locate(timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return apperr.Internal("offering has an unknown timezone", err)
	}
	sl.startUTC = time.Date(sl.date.Year(), sl.date.Month(), sl.date.Day(), 0, sl.start, 0, 0, loc).UTC()
	sl.endUTC = sl.startUTC.Add(time.Duration(sl.duration) * time.Minute)
	return nil
}

func (s *service) offering(ctx context.Context, id int64) (*Offering, error) {
	o, err := s.offerings.GetOrLoad(ctx, id, s.repo.GetOffering)
	if errors.Is(err, ErrOfferingNotFound) {
		return nil, apperr.NotFound("offering")
	}
	if err != nil {
		return nil, err
	}
	if !o.Active {
		return nil, apperr.NotFound("offering")
	}
	return o, nil
}

func (s *service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*ReservationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Create", trace.WithAttributes(
		attribute.Int64("offering_id", req.OfferingID),
		attribute.Int64("requester_id", actor.UserID),
	))
	defer span.End()

	if req.RequesterTimezone == "" {
		req.RequesterTimezone = "UTC"
	}
	if _, err := time.LoadLocation(req.RequesterTimezone); err != nil {
		return nil, apperr.Validation("timezone is not a known IANA zone")
	}

	sl, err := parseSlot(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	o, err := s.offering(ctx, req.OfferingID)
	if err != nil {
		return nil, err
	}
	if o.OwnerID == actor.UserID {
		return nil, apperr.InvalidRequest("instructors cannot book their own offering", nil)
	}
	if err := sl.locate(o.Timezone); err != nil {
		return nil, err
	}
	if !o.Supports(req.DeliveryMode) {
		return nil, apperr.PolicyViolation("offering does not support this delivery mode", nil).
			WithDetails(map[string]any{"delivery_mode": req.DeliveryMode})
	}
	if sl.startUTC.Sub(s.clock.Now()) < o.MinAdvance() {
		return nil, apperr.PolicyViolation("lesson starts too soon to book", nil).
			WithDetails(map[string]any{"min_advance_hours": o.MinAdvanceHours})
	}

	res := &Reservation{
		RequesterID:       actor.UserID,
		OwnerID:           o.OwnerID,
		OfferingID:        o.ID,
		DeliveryMode:      req.DeliveryMode,
		Date:              sl.date,
		StartMinute:       sl.start,
		EndMinute:         sl.end,
		StartUTC:          sl.startUTC,
		EndUTC:            sl.endUTC,
		OwnerTimezone:     o.Timezone,
		RequesterTimezone: req.RequesterTimezone,
		PriceCents:        o.PriceFor(sl.duration),
		DurationMinutes:   sl.duration,
		Status:            StatusPending,
	}

	var rec *settlement.Record
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.place(ctx, tx, res, sl.spans); err != nil {
			return err
		}
		var err error
		rec, err = s.settlement.Open(ctx, tx, res.Booking(), req.PaymentMethodRef)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrap(err, "failed to create reservation")
	}

	metrics.RecordReservation(string(StatusPending))
	logger.Info("reservation created",
		"reservation_id", res.ID,
		"owner_id", res.OwnerID,
		"requester_id", res.RequesterID,
		"start_utc", res.StartUTC,
	)
	audit.Record(ctx, s.audit, "reservation", idString(res.ID), "create", actor.Ref(), nil, res)
	s.notify(ctx, notify.ReservationCreated, res.OwnerID, res)
	return &ReservationResponse{Reservation: res, Settlement: rec}, nil
}

// place clears the owner's slots and inserts res in tx. Either both happen
// or the transaction rolls back.
func (s *service) place(ctx context.Context, tx *sqlx.Tx, res *Reservation, spans []availability.Span) error {
	if err := s.guard.ReserveAndClear(ctx, tx, res.OwnerID, spans); err != nil {
		if apperr.IsKind(err, apperr.KindCapacityConflict) {
			metrics.RecordBookingConflict("bitset")
		}
		return err
	}
	err := s.repo.WithTx(tx).TryInsertNonOverlapping(ctx, res)
	if errors.Is(err, ErrOverlap) {
		metrics.RecordBookingConflict("overlap")
		return apperr.CapacityConflict("requested time overlaps another reservation", err)
	}
	return err
}

func (s *service) load(ctx context.Context, actor auth.Actor, id int64) (*Reservation, error) {
	res, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrReservationNotFound) {
		return nil, apperr.NotFound("reservation")
	}
	if err != nil {
		return nil, err
	}
	if actor.Role != auth.RoleAdmin && !res.involves(actor.UserID) {
		return nil, apperr.Forbidden("not a party to this reservation")
	}
	return res, nil
}

// transition locks the reservation row, checks its status and applies fn
// inside one transaction.
func (s *service) transition(ctx context.Context, id int64, allowed []Status, fn func(tx *sqlx.Tx, res *Reservation) error) (*Reservation, error) {
	var res *Reservation
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.repo.WithTx(tx)
		var err error
		res, err = repo.FindByIDForUpdate(ctx, id)
		if errors.Is(err, ErrReservationNotFound) {
			return apperr.NotFound("reservation")
		}
		if err != nil {
			return err
		}
		if !statusIn(res.Status, allowed) {
			return apperr.InvalidRequest(fmt.Sprintf("reservation is %s", res.Status), nil).
				WithDetails(map[string]any{"status": res.Status})
		}
		if err := fn(tx, res); err != nil {
			return err
		}
		return repo.Save(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, id int64) (*ReservationResponse, error) {
	res, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	rec, err := s.settlement.Get(ctx, id)
	if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}
	return &ReservationResponse{Reservation: res, Settlement: rec}, nil
}

func (s *service) ListForOwnerDay(ctx context.Context, actor auth.Actor, ownerID int64, date time.Time) ([]Reservation, error) {
	if actor.Role != auth.RoleAdmin && actor.UserID != ownerID {
		return nil, apperr.Forbidden("can only list your own reservations")
	}
	out, err := s.repo.ListForOwnerDay(ctx, ownerID, date)
	if err != nil {
		return nil, wrap(err, "failed to list reservations")
	}
	if out == nil {
		out = []Reservation{}
	}
	return out, nil
}

func (s *service) Confirm(ctx context.Context, actor auth.Actor, id int64) (*ReservationResponse, error) {
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != auth.RoleAdmin && actor.UserID != current.OwnerID {
		return nil, apperr.Forbidden("only the instructor can confirm")
	}

	res, err := s.transition(ctx, id, []Status{StatusPending}, func(tx *sqlx.Tx, res *Reservation) error {
		res.Status = StatusConfirmed
		return nil
	})
	if err != nil {
		return nil, wrap(err, "failed to confirm reservation")
	}

	metrics.RecordReservation(string(StatusConfirmed))
	logger.Info("reservation confirmed", "reservation_id", id, "actor", actor.Ref())
	audit.Record(ctx, s.audit, "reservation", idString(id), "confirm", actor.Ref(), current, res)
	s.notify(ctx, notify.ReservationConfirmed, res.RequesterID, res)
	s.scheduleCompletion(ctx, res)

	rec, err := s.settlement.Authorize(ctx, res.Booking())
	if err != nil {
		logger.Error("authorization after confirm failed", "reservation_id", id, "error", err)
		return &ReservationResponse{Reservation: res}, nil
	}
	return &ReservationResponse{Reservation: res, Settlement: rec}, nil
}

func (s *service) scheduleCompletion(ctx context.Context, res *Reservation) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleCompletion(ctx, res.ID, res.EndUTC.Add(CompletionGrace)); err != nil {
		logger.Warn("failed to schedule completion", "reservation_id", res.ID, "error", err)
	}
}

func (s *service) Complete(ctx context.Context, actor auth.Actor, id int64, req CompleteRequest) (*ReservationResponse, error) {
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != auth.RoleAdmin && actor.UserID != current.OwnerID {
		return nil, apperr.Forbidden("only the instructor can complete")
	}
	if req.Override && actor.Role != auth.RoleAdmin {
		return nil, apperr.Forbidden("only an admin can complete before the lesson ends")
	}
	return s.complete(ctx, actor, id, req.Override)
}

func (s *service) complete(ctx context.Context, actor auth.Actor, id int64, override bool) (*ReservationResponse, error) {
	var before Reservation
	res, err := s.transition(ctx, id, []Status{StatusConfirmed}, func(tx *sqlx.Tx, res *Reservation) error {
		now := s.clock.Now()
		if now.Before(res.EndUTC) && !override {
			return apperr.PolicyViolation("lesson has not ended yet", nil).
				WithDetails(map[string]any{"end_utc": res.EndUTC})
		}
		before = *res
		res.Status = StatusCompleted
		res.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, wrap(err, "failed to complete reservation")
	}

	metrics.RecordReservation(string(StatusCompleted))
	logger.Info("reservation completed", "reservation_id", id, "actor", actor.Ref(), "override", override)
	audit.Record(ctx, s.audit, "reservation", idString(id), "complete", actor.Ref(), &before, res)
	s.notify(ctx, notify.ReservationCompleted, res.RequesterID, res)

	rec, err := s.settlement.Capture(ctx, res.Booking(), actor.Ref())
	if err != nil {
		logger.Error("capture after completion failed", "reservation_id", id, "error", err)
		rec, _ = s.settlement.Get(ctx, id)
	}
	return &ReservationResponse{Reservation: res, Settlement: rec}, nil
}

// causeFor maps the canceller to the settlement cause. Admins may name a
// duplicate booking; everyone else is known by their side of the booking.
func causeFor(actor auth.Actor, res *Reservation, requested settlement.Cause) (settlement.Cause, error) {
	if actor.Role == auth.RoleAdmin {
		switch requested {
		case "":
			return settlement.CauseAdminOverride, nil
		case settlement.CauseAdminOverride, settlement.CauseDuplicateBooking:
			return requested, nil
		}
		return "", apperr.Validation("cause must be admin_override or duplicate_booking")
	}
	if requested != "" {
		return "", apperr.Forbidden("only an admin can set a cancellation cause")
	}
	if actor.UserID == res.OwnerID {
		return settlement.CauseInstructorCancel, nil
	}
	return settlement.CauseStudentCancel, nil
}

func (s *service) Cancel(ctx context.Context, actor auth.Actor, id int64, req CancelRequest) (*CancelResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Cancel", trace.WithAttributes(attribute.Int64("reservation_id", id)))
	defer span.End()

	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	cause, err := causeFor(actor, current, req.Cause)
	if err != nil {
		return nil, err
	}

	res := current
	// A cancelled reservation only re-runs settlement, which replays the
	// stored result or finishes an interrupted one.
	if current.Status != StatusCancelled {
		res, err = s.transition(ctx, id, []Status{StatusPending, StatusConfirmed}, func(tx *sqlx.Tx, res *Reservation) error {
			now := s.clock.Now()
			ref := actor.Ref()
			res.Status = StatusCancelled
			res.CancelledBy = &ref
			res.CancelledAt = &now
			spans, err := availability.SpansFor(res.Date, res.StartMinute, res.EndMinute)
			if err != nil {
				return err
			}
			return s.guard.Release(ctx, tx, res.OwnerID, spans)
		})
		if err != nil {
			span.RecordError(err)
			return nil, wrap(err, "failed to cancel reservation")
		}
		metrics.RecordReservation(string(StatusCancelled))
		logger.Info("reservation cancelled", "reservation_id", id, "actor", actor.Ref(), "cause", cause, "reason", req.Reason)
		audit.Record(ctx, s.audit, "reservation", idString(id), "cancel", actor.Ref(), current, res)
		s.notify(ctx, notify.ReservationCancelled, counterparty(actor, res), res)
	}

	result, err := s.settlement.Cancel(ctx, res.Booking(), cause, actor.Ref())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &CancelResponse{Reservation: res, Settlement: result}, nil
}

func (s *service) Reschedule(ctx context.Context, actor auth.Actor, id int64, req RescheduleRequest) (*RescheduleResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Reschedule", trace.WithAttributes(attribute.Int64("reservation_id", id)))
	defer span.End()

	sl, err := parseSlot(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	cause, err := causeFor(actor, current, "")
	if err != nil {
		return nil, err
	}
	if err := sl.locate(current.OwnerTimezone); err != nil {
		return nil, err
	}
	o, err := s.offering(ctx, current.OfferingID)
	if err != nil {
		return nil, err
	}
	if sl.startUTC.Sub(s.clock.Now()) < o.MinAdvance() {
		return nil, apperr.PolicyViolation("new time starts too soon to book", nil).
			WithDetails(map[string]any{"min_advance_hours": o.MinAdvanceHours})
	}

	var (
		old         *Reservation
		replacement *Reservation
		rec         *settlement.Record
	)
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.repo.WithTx(tx)
		var err error
		old, err = repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if old.Status != StatusPending && old.Status != StatusConfirmed {
			return apperr.InvalidRequest(fmt.Sprintf("reservation is %s", old.Status), nil).
				WithDetails(map[string]any{"status": old.Status})
		}

		// The old slot is given back first so the new time may overlap it.
		status := old.Status
		now := s.clock.Now()
		ref := actor.Ref()
		old.Status = StatusCancelled
		old.CancelledBy = &ref
		old.CancelledAt = &now
		if err := repo.Save(ctx, old); err != nil {
			return err
		}
		oldSpans, err := availability.SpansFor(old.Date, old.StartMinute, old.EndMinute)
		if err != nil {
			return err
		}
		if err := s.guard.Release(ctx, tx, old.OwnerID, oldSpans); err != nil {
			return err
		}

		replacement = &Reservation{
			RequesterID:       old.RequesterID,
			OwnerID:           old.OwnerID,
			OfferingID:        old.OfferingID,
			DeliveryMode:      old.DeliveryMode,
			Date:              sl.date,
			StartMinute:       sl.start,
			EndMinute:         sl.end,
			StartUTC:          sl.startUTC,
			EndUTC:            sl.endUTC,
			OwnerTimezone:     old.OwnerTimezone,
			RequesterTimezone: old.RequesterTimezone,
			PriceCents:        o.PriceFor(sl.duration),
			DurationMinutes:   sl.duration,
			Status:            status,
			RescheduledFromID: &old.ID,
		}
		if err := s.place(ctx, tx, replacement, sl.spans); err != nil {
			return err
		}
		old.RescheduledToID = &replacement.ID
		if err := repo.Save(ctx, old); err != nil {
			return err
		}
		rec, err = s.settlement.Reschedule(ctx, tx, old.Booking(), replacement.Booking(), cause)
		return err
	})
	if errors.Is(err, ErrReservationNotFound) {
		return nil, apperr.NotFound("reservation")
	}
	if err != nil {
		span.RecordError(err)
		return nil, wrap(err, "failed to reschedule reservation")
	}

	metrics.RecordReservation("rescheduled")
	logger.Info("reservation rescheduled",
		"reservation_id", old.ID,
		"replacement_id", replacement.ID,
		"actor", actor.Ref(),
		"cause", cause,
	)
	audit.Record(ctx, s.audit, "reservation", idString(old.ID), "reschedule", actor.Ref(), current, old)
	audit.Record(ctx, s.audit, "reservation", idString(replacement.ID), "create", actor.Ref(), nil, replacement)
	s.notify(ctx, notify.ReservationRescheduled, counterparty(actor, replacement), replacement)

	if replacement.Status == StatusConfirmed {
		s.scheduleCompletion(ctx, replacement)
		if next, err := s.settlement.Authorize(ctx, replacement.Booking()); err != nil {
			logger.Error("authorization after reschedule failed", "reservation_id", replacement.ID, "error", err)
		} else {
			rec = next
		}
	}
	return &RescheduleResponse{Previous: old, Reservation: replacement, Settlement: rec}, nil
}

func (s *service) ReportNoShow(ctx context.Context, actor auth.Actor, id int64, req NoShowRequest) (*NoShowResponse, error) {
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != auth.RoleAdmin {
		// Only the other side can report an absence.
		if req.Party == settlement.PartyStudent && actor.UserID != current.OwnerID ||
			req.Party == settlement.PartyInstructor && actor.UserID != current.RequesterID {
			return nil, apperr.Forbidden("cannot report this party")
		}
	}

	var rep *settlement.NoShowReport
	res, err := s.transition(ctx, id, []Status{StatusConfirmed}, func(tx *sqlx.Tx, res *Reservation) error {
		if s.clock.Now().Before(res.StartUTC) {
			return apperr.PolicyViolation("lesson has not started yet", nil)
		}
		res.Status = StatusNoShow
		var err error
		rep, err = s.settlement.ReportNoShow(ctx, tx, res.ID, actor.UserID, req.Party)
		return err
	})
	if err != nil {
		return nil, wrap(err, "failed to report no-show")
	}

	s.settlement.ScheduleExpiry(ctx, rep)
	metrics.RecordReservation(string(StatusNoShow))
	logger.Info("no-show reported", "reservation_id", id, "party", req.Party, "actor", actor.Ref())
	audit.Record(ctx, s.audit, "reservation", idString(id), "report_no_show", actor.Ref(), current, res)
	s.notify(ctx, notify.NoShowReported, accused(res, req.Party), map[string]any{
		"reservation_id":   id,
		"party":            req.Party,
		"dispute_deadline": rep.DisputeDeadline,
	})
	return &NoShowResponse{Reservation: res, Report: rep}, nil
}

func (s *service) DisputeNoShow(ctx context.Context, actor auth.Actor, id int64, req DisputeRequest) (*NoShowResponse, error) {
	res, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	rep, err := s.settlement.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != auth.RoleAdmin && actor.UserID != accused(res, rep.Party) {
		return nil, apperr.Forbidden("only the reported party can dispute")
	}

	rep, err = s.settlement.Dispute(ctx, id, actor.UserID, req.Reason)
	if err != nil {
		return nil, err
	}
	logger.Info("no-show disputed", "reservation_id", id, "actor", actor.Ref())
	audit.Record(ctx, s.audit, "no_show_report", idString(id), "dispute", actor.Ref(), nil, rep)
	s.notify(ctx, notify.NoShowDisputed, rep.ReportedBy, map[string]any{"reservation_id": id, "reason": req.Reason})
	return &NoShowResponse{Reservation: res, Report: rep}, nil
}

func (s *service) ResolveNoShow(ctx context.Context, actor auth.Actor, id int64, req ResolveRequest) (*NoShowResponse, error) {
	if actor.Role != auth.RoleAdmin {
		return nil, apperr.Forbidden("only an admin can resolve a no-show")
	}
	if req.Upheld == nil {
		return nil, apperr.Validation("upheld is required")
	}
	res, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusNoShow {
		return nil, apperr.InvalidRequest(fmt.Sprintf("reservation is %s", res.Status), nil)
	}
	return s.resolve(ctx, actor, res, func(b settlement.Booking) (*settlement.Result, *settlement.NoShowReport, error) {
		return s.settlement.ResolveNoShow(ctx, b, *req.Upheld, actor.Ref())
	})
}

func (s *service) resolve(ctx context.Context, actor auth.Actor, res *Reservation, run func(settlement.Booking) (*settlement.Result, *settlement.NoShowReport, error)) (*NoShowResponse, error) {
	result, rep, err := run(res.Booking())
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return &NoShowResponse{Reservation: res, Report: rep, Settlement: result}, nil
	}

	// An overturned report means the lesson happened.
	if rep.Resolution == "overturned" {
		updated, err := s.transition(ctx, res.ID, []Status{StatusNoShow}, func(tx *sqlx.Tx, r *Reservation) error {
			now := s.clock.Now()
			r.Status = StatusCompleted
			r.CompletedAt = &now
			return nil
		})
		if err != nil {
			logger.Error("failed to mark overturned no-show completed", "reservation_id", res.ID, "error", err)
		} else {
			metrics.RecordReservation(string(StatusCompleted))
			res = updated
		}
	}

	logger.Info("no-show resolved", "reservation_id", res.ID, "resolution", rep.Resolution, "actor", actor.Ref())
	audit.Record(ctx, s.audit, "no_show_report", idString(res.ID), "resolve", actor.Ref(), nil, rep)
	data := map[string]any{"reservation_id": res.ID, "resolution": rep.Resolution}
	s.notify(ctx, notify.NoShowResolved, res.RequesterID, data)
	s.notify(ctx, notify.NoShowResolved, res.OwnerID, data)
	return &NoShowResponse{Reservation: res, Report: rep, Settlement: result}, nil
}

func (s *service) AuthorizeScheduled(ctx context.Context, id int64) error {
	res, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrReservationNotFound) {
		logger.Warn("scheduled authorization for missing reservation", "reservation_id", id)
		return nil
	}
	if err != nil {
		return err
	}
	if res.Status != StatusConfirmed {
		logger.Info("skipping scheduled authorization", "reservation_id", id, "status", res.Status)
		return nil
	}
	_, err = s.settlement.AuthorizeNow(ctx, res.Booking())
	return err
}

// CompleteScheduled completes a lesson nobody marked or reported once the
// grace period has passed.
func (s *service) CompleteScheduled(ctx context.Context, id int64) error {
	res, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrReservationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if res.Status != StatusConfirmed {
		return nil
	}
	_, err = s.complete(ctx, auth.System, id, false)
	if apperr.IsKind(err, apperr.KindInvalidRequest) {
		return nil
	}
	return err
}

func (s *service) ExpireNoShow(ctx context.Context, id int64) error {
	res, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrReservationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if res.Status != StatusNoShow {
		return nil
	}
	_, err = s.resolve(ctx, auth.System, res, func(b settlement.Booking) (*settlement.Result, *settlement.NoShowReport, error) {
		return s.settlement.ExpireNoShow(ctx, b)
	})
	return err
}

func (s *service) notify(ctx context.Context, kind notify.Kind, recipientID int64, payload any) {
	if s.notifier == nil || recipientID == 0 {
		return
	}
	data, ok := payload.(map[string]any)
	if !ok {
		data = map[string]any{"reservation": payload}
	}
	s.notifier.Notify(ctx, kind, recipientID, data)
}

// counterparty is the side of the booking that did not act.
func counterparty(actor auth.Actor, res *Reservation) int64 {
	if actor.UserID == res.OwnerID {
		return res.RequesterID
	}
	return res.OwnerID
}

func accused(res *Reservation, party settlement.Party) int64 {
	if party == settlement.PartyInstructor {
		return res.OwnerID
	}
	return res.RequesterID
}

func statusIn(s Status, allowed []Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// wrap keeps typed errors and turns anything else into an internal error.
func wrap(err error, message string) error {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(message, err)
}
