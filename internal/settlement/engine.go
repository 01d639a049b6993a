package settlement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/audit"
	"github.com/msaedi/instructly-sub008/internal/clock"
	"github.com/msaedi/instructly-sub008/internal/credit"
	"github.com/msaedi/instructly-sub008/internal/db"
	"github.com/msaedi/instructly-sub008/internal/logger"
	"github.com/msaedi/instructly-sub008/internal/metrics"
	"github.com/msaedi/instructly-sub008/internal/notify"
	"github.com/msaedi/instructly-sub008/internal/payment"
)

type Transactor interface {
	InTx(ctx context.Context, fn db.TxFunc) error
}

// Scheduler defers work to a background queue.
type Scheduler interface {
	ScheduleAuthorization(ctx context.Context, reservationID int64, at time.Time) error
	ScheduleNoShowExpiry(ctx context.Context, reservationID int64, at time.Time) error
}

// Engine owns every change to settlement records.
type Engine struct {
	tx        Transactor
	repo      Repository
	credits   credit.Repository
	gateway   payment.Gateway
	links     Links
	policy    Policy
	scheduler Scheduler
	notifier  notify.Sink
	audit     audit.Writer
	clock     clock.Clock
	tracer    trace.Tracer
	sleep     func(time.Duration)
}

type Option func(*Engine)

func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

func WithNotifier(n notify.Sink) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithAudit(w audit.Writer) Option {
	return func(e *Engine) { e.audit = w }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func NewEngine(tx Transactor, repo Repository, credits credit.Repository, gateway payment.Gateway, links Links, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		tx:      tx,
		repo:    repo,
		credits: credits,
		gateway: gateway,
		links:   links,
		policy:  policy,
		clock:   clock.Real{},
		tracer:  otel.Tracer("settlement"),
		sleep:   sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) Get(ctx context.Context, reservationID int64) (*Record, error) {
	rec, err := e.repo.Get(ctx, reservationID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, apperr.NotFound("settlement")
	}
	return rec, err
}

// Open creates the settlement record of a new reservation inside the
// reservation's transaction.
func (e *Engine) Open(ctx context.Context, tx *sqlx.Tx, b Booking, customerRef string) (*Record, error) {
	if b.PriceCents < 0 {
		metrics.RecordInvariantViolation("open")
		return nil, apperr.Invariant("reservation price is negative", ErrNegativeAmount)
	}
	rec := &Record{
		ReservationID: b.ID,
		PaymentStatus: StatusScheduled,
		AmountCents:   b.PriceCents,
		CustomerRef:   customerRef,
	}
	if err := e.repo.WithTx(tx).Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Authorize places a hold on the student's card, or schedules that for
// AuthorizationLead before the lesson when the lesson is further away.
func (e *Engine) Authorize(ctx context.Context, b Booking) (*Record, error) {
	rec, err := e.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if rec.PaymentStatus != StatusScheduled && rec.PaymentStatus != StatusPaymentMethodRequired {
		return rec, nil
	}

	at := b.StartUTC.Add(-e.policy.AuthorizationLead)
	if e.scheduler != nil && e.clock.Now().Before(at) {
		if err := e.scheduler.ScheduleAuthorization(ctx, b.ID, at); err != nil {
			logger.Warn("failed to schedule authorization; authorizing now", "reservation_id", b.ID, "error", err)
		} else {
			logger.Info("authorization scheduled", "reservation_id", b.ID, "at", at)
			return rec, nil
		}
	}
	return e.authorizeNow(ctx, b, rec)
}

// AuthorizeNow is the scheduled authorization. It does nothing once the
// record has left the scheduled state.
func (e *Engine) AuthorizeNow(ctx context.Context, b Booking) (*Record, error) {
	rec, err := e.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if rec.PaymentStatus != StatusScheduled && rec.PaymentStatus != StatusPaymentMethodRequired {
		return rec, nil
	}
	return e.authorizeNow(ctx, b, rec)
}

func (e *Engine) authorizeNow(ctx context.Context, b Booking, rec *Record) (*Record, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.Authorize", trace.WithAttributes(attribute.Int64("reservation_id", b.ID)))
	defer span.End()

	before := *rec
	if rec.CustomerRef == "" {
		rec.PaymentStatus = StatusPaymentMethodRequired
		rec.AuthorizationLastError = "no payment method on file"
		if err := e.save(ctx, rec); err != nil {
			return nil, err
		}
		e.notify(ctx, notify.PaymentMethodRequired, b.RequesterID, map[string]any{"reservation_id": b.ID})
		return rec, nil
	}

	res, err := e.perform(ctx, rec, Effect{Kind: EffectAuthorize, AmountCents: rec.AmountCents})
	if err != nil {
		span.RecordError(err)
		if res.OK() {
			e.escalate(ctx, b, rec, EffectAuthorize, err)
		}
		return nil, apperr.ExternalOperation("failed to record authorization", err)
	}

	if res.OK() {
		rec.PaymentStatus = StatusAuthorized
	} else {
		rec.PaymentStatus = StatusPaymentMethodRequired
		span.SetStatus(codes.Error, errString(res.Err))
		logger.Warn("authorization failed", "reservation_id", b.ID, "status", res.Status.String(), "error", res.Err)
	}
	if err := e.save(ctx, rec); err != nil {
		if res.OK() {
			e.escalate(ctx, b, rec, EffectAuthorize, err)
		}
		return nil, err
	}

	if rec.PaymentStatus == StatusPaymentMethodRequired {
		e.notify(ctx, notify.PaymentMethodRequired, b.RequesterID, map[string]any{"reservation_id": b.ID})
	}
	audit.Record(ctx, e.audit, "settlement", idString(b.ID), "authorize", "system", before, rec)
	return rec, nil
}

// Capture settles a completed lesson: the authorized amount is captured and
// paid out, and any lock this lesson was holding open is released.
func (e *Engine) Capture(ctx context.Context, b Booking, actorRef string) (*Record, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.Capture", trace.WithAttributes(attribute.Int64("reservation_id", b.ID)))
	defer span.End()

	rec, err := e.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if rec.Terminal() {
		return rec, nil
	}
	if rec.PaymentStatus == StatusScheduled || rec.PaymentStatus == StatusPaymentMethodRequired {
		if rec, err = e.authorizeNow(ctx, b, rec); err != nil {
			return nil, err
		}
	}

	before := *rec
	switch rec.Funds() {
	case FundsAuthorized:
		if err := e.apply(ctx, b, rec, Decision{Effects: []Effect{{Kind: EffectCapture}}}); err != nil {
			span.RecordError(err)
			return rec, err
		}
	case FundsPending:
		e.escalate(ctx, b, rec, EffectCapture, ErrNothingToSettle)
		return rec, apperr.ExternalOperation("lesson completed without an authorized payment", ErrNothingToSettle)
	}

	rec.PaymentStatus = StatusSettled
	rec.PayoutAmountCents = rec.CapturedAmountCents
	rec.Outcome = "completed"
	if err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.repo.WithTx(tx).Save(ctx, rec); err != nil {
			return err
		}
		return e.resolveLock(ctx, tx, b.ID, LockReleaseCompleted)
	}); err != nil {
		e.escalate(ctx, b, rec, EffectCapture, err)
		return rec, apperr.ExternalOperation("settlement bookkeeping failed", err)
	}

	audit.Record(ctx, e.audit, "settlement", idString(b.ID), "capture", actorRef, before, rec)
	return rec, nil
}

// Cancel settles a cancellation or upheld no-show. Calling it again for a
// settled record returns the stored result without touching the provider.
func (e *Engine) Cancel(ctx context.Context, b Booking, cause Cause, actorRef string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.Cancel", trace.WithAttributes(
		attribute.Int64("reservation_id", b.ID),
		attribute.String("cause", string(cause)),
	))
	defer span.End()

	if !cause.Valid() {
		return nil, apperr.InvalidRequest("unknown settlement cause", nil).WithDetails(map[string]any{"cause": cause})
	}

	rec, err := e.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	switch rec.PaymentStatus {
	case StatusSettled:
		return &Result{Decision: storedDecision(rec), Record: rec, Replayed: true}, nil
	case StatusManualReview:
		return nil, apperr.InvalidRequest("settlement is under manual review", nil)
	case StatusLocked:
		return nil, apperr.InvalidRequest("funds are held by a rescheduled lesson", nil)
	}

	now := e.clock.Now()
	lock, err := e.repo.FindOpenLockByReplacement(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	in := Input{
		Cause:         cause,
		UntilStart:    b.StartUTC.Sub(now),
		Funds:         rec.Funds(),
		AmountCents:   rec.AmountCents,
		CapturedCents: rec.CapturedAmountCents,
	}
	if lock != nil && cause == CauseStudentCancel && withinWindow(now, lock.OriginalStartUTC, e.policy.GamingWindow) {
		in.Gaming = true
		in.AmountCents = lock.LockedAmountCents
		span.SetAttributes(attribute.Int64("lock_reservation_id", lock.ReservationID))
	}

	d, err := Decide(e.policy, in)
	if err != nil {
		metrics.RecordInvariantViolation("cancel")
		logger.Error("settlement decision produced an impossible amount",
			"reservation_id", b.ID,
			"cause", cause,
			"amount_cents", in.AmountCents,
			"captured_cents", in.CapturedCents,
			"error", err,
		)
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.Invariant("settlement amounts are inconsistent", err)
	}
	span.SetAttributes(attribute.String("tier", string(d.Tier)), attribute.String("outcome", d.Outcome))

	resolution := LockReleaseProportionalRefund
	if cause == CauseStudentNoShow {
		resolution = LockForfeited
	}
	return e.settle(ctx, b, rec, d, string(cause), actorRef, resolution)
}

// withinWindow reports whether now is no further than window from at, on
// either side.
func withinWindow(now, at time.Time, window time.Duration) bool {
	d := now.Sub(at)
	if d < 0 {
		d = -d
	}
	return d <= window
}

func (e *Engine) settle(ctx context.Context, b Booking, rec *Record, d Decision, action, actorRef string, resolution LockResolution) (*Result, error) {
	before := *rec
	if err := e.apply(ctx, b, rec, d); err != nil {
		audit.Record(ctx, e.audit, "settlement", idString(b.ID), action, actorRef, before, rec)
		return nil, err
	}

	rec.RefundedAmountCents += d.RefundCents
	rec.ReservedCreditCents += d.CreditCents
	rec.PayoutAmountCents = d.PayoutCents
	rec.Outcome = d.Outcome
	rec.PaymentStatus = d.FinalStatus

	if err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.repo.WithTx(tx).Save(ctx, rec); err != nil {
			return err
		}
		return e.resolveLock(ctx, tx, b.ID, resolution)
	}); err != nil {
		e.escalate(ctx, b, rec, "settle", err)
		return nil, apperr.ExternalOperation("settlement bookkeeping failed", err)
	}

	metrics.RecordCancellation(string(d.Tier), d.Outcome)
	logger.Info("settlement completed",
		"reservation_id", b.ID,
		"tier", d.Tier,
		"outcome", d.Outcome,
		"refund_cents", d.RefundCents,
		"credit_cents", d.CreditCents,
		"payout_cents", d.PayoutCents,
	)
	audit.Record(ctx, e.audit, "settlement", idString(b.ID), action, actorRef, before, rec)
	return &Result{Decision: d, Record: rec}, nil
}

// resolveLock closes the open lock held by replacementID, if any, and
// settles the original reservation's record. It runs inside tx so the lock
// is resolved exactly once.
func (e *Engine) resolveLock(ctx context.Context, tx *sqlx.Tx, replacementID int64, resolution LockResolution) error {
	repo := e.repo.WithTx(tx)
	lock, resolved, err := repo.ResolveLock(ctx, replacementID, resolution, e.clock.Now())
	if err != nil || !resolved {
		return err
	}

	orig, err := repo.GetForUpdate(ctx, lock.ReservationID)
	if err != nil {
		return err
	}
	orig.PaymentStatus = StatusSettled
	orig.Outcome = "lock_" + string(resolution)
	if err := repo.Save(ctx, orig); err != nil {
		return err
	}

	logger.Info("reschedule lock resolved",
		"reservation_id", lock.ReservationID,
		"replacement_id", replacementID,
		"resolution", resolution,
	)
	return nil
}

// Reschedule moves the money from old to replacement inside the
// reservation transaction. The replacement inherits the payment state and
// is charged its own price while nothing has been authorized yet. A
// student reschedule made too close to the lesson locks the original funds
// until the replacement resolves; an existing lock follows the chain.
func (e *Engine) Reschedule(ctx context.Context, tx *sqlx.Tx, old, replacement Booking, cause Cause) (*Record, error) {
	repo := e.repo.WithTx(tx)

	rec, err := repo.GetForUpdate(ctx, old.ID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, apperr.NotFound("settlement")
	}
	if err != nil {
		return nil, err
	}
	if rec.Terminal() || rec.PaymentStatus == StatusLocked {
		return nil, apperr.InvalidRequest("settlement is already final", nil).
			WithDetails(map[string]any{"payment_status": rec.PaymentStatus})
	}

	hops, err := ChainDepth(ctx, tx, e.links, old.ID, e.policy.MaxRescheduleHops)
	switch {
	case errors.Is(err, ErrChainCycle):
		metrics.RecordInvariantViolation("reschedule")
		return nil, apperr.Invariant("reschedule chain is corrupt", err)
	case errors.Is(err, ErrChainTooLong):
		return nil, apperr.PolicyViolation("reschedule limit reached", err)
	case err != nil:
		return nil, err
	}
	if hops+1 > e.policy.MaxRescheduleHops {
		return nil, apperr.PolicyViolation("reschedule limit reached", ErrChainTooLong)
	}

	amount := rec.AmountCents
	if replacement.PriceCents != rec.AmountCents {
		if rec.Funds() != FundsPending {
			return nil, apperr.PolicyViolation("the new time changes the price of a lesson that is already paid for", nil).
				WithDetails(map[string]any{
					"amount_cents":    rec.AmountCents,
					"new_price_cents": replacement.PriceCents,
					"payment_status":  rec.PaymentStatus,
				})
		}
		amount = replacement.PriceCents
	}

	next := &Record{
		ReservationID:       replacement.ID,
		PaymentStatus:       rec.PaymentStatus,
		AmountCents:         amount,
		CustomerRef:         rec.CustomerRef,
		PaymentIntentRef:    rec.PaymentIntentRef,
		CapturedAmountCents: rec.CapturedAmountCents,
		TransferRef:         rec.TransferRef,
	}
	if err := repo.Create(ctx, next); err != nil {
		return nil, err
	}

	lock, err := repo.FindOpenLockByReplacement(ctx, old.ID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	switch {
	case lock != nil:
		if err := repo.MoveLock(ctx, lock.ReservationID, replacement.ID); err != nil {
			return nil, err
		}
		rec.PaymentStatus = StatusSettled
		rec.Outcome = "rescheduled"
	case cause == CauseStudentCancel && old.StartUTC.Sub(now) < e.policy.GamingRescheduleBefore:
		if err := repo.CreateLock(ctx, &Lock{
			ReservationID:     old.ID,
			ReplacementID:     replacement.ID,
			LockedAmountCents: rec.AmountCents,
			OriginalStartUTC:  old.StartUTC,
		}); err != nil {
			return nil, err
		}
		rec.PaymentStatus = StatusLocked
		rec.Outcome = "rescheduled_locked"
	default:
		rec.PaymentStatus = StatusSettled
		rec.Outcome = "rescheduled"
	}

	if err := repo.Save(ctx, rec); err != nil {
		return nil, err
	}
	return next, nil
}

// ReportNoShow opens a dispute window for a no-show claim inside the
// reservation transaction.
func (e *Engine) ReportNoShow(ctx context.Context, tx *sqlx.Tx, reservationID, reporterID int64, party Party) (*NoShowReport, error) {
	rep := &NoShowReport{
		ReservationID:   reservationID,
		ReportedBy:      reporterID,
		Party:           party,
		State:           ReportReported,
		DisputeDeadline: e.clock.Now().Add(e.policy.DisputeWindow),
	}
	if err := e.repo.WithTx(tx).CreateReport(ctx, rep); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.InvalidRequest("no-show already reported", err)
		}
		return nil, err
	}
	return rep, nil
}

// ScheduleExpiry queues the undisputed resolution of rep.
func (e *Engine) ScheduleExpiry(ctx context.Context, rep *NoShowReport) {
	if e.scheduler == nil {
		return
	}
	if err := e.scheduler.ScheduleNoShowExpiry(ctx, rep.ReservationID, rep.DisputeDeadline); err != nil {
		logger.Warn("failed to schedule no-show expiry", "reservation_id", rep.ReservationID, "error", err)
	}
}

func (e *Engine) GetReport(ctx context.Context, reservationID int64) (*NoShowReport, error) {
	rep, err := e.repo.GetReport(ctx, reservationID)
	if errors.Is(err, ErrReportNotFound) {
		return nil, apperr.NotFound("no-show report")
	}
	return rep, err
}

// Dispute contests an open report before its deadline.
func (e *Engine) Dispute(ctx context.Context, reservationID, disputedBy int64, reason string) (*NoShowReport, error) {
	var rep *NoShowReport
	err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		repo := e.repo.WithTx(tx)
		var err error
		rep, err = repo.GetReportForUpdate(ctx, reservationID)
		if errors.Is(err, ErrReportNotFound) {
			return apperr.NotFound("no-show report")
		}
		if err != nil {
			return err
		}
		if rep.State != ReportReported {
			return apperr.InvalidRequest("no-show report is not open for dispute", nil).
				WithDetails(map[string]any{"state": rep.State})
		}
		if !e.clock.Now().Before(rep.DisputeDeadline) {
			return apperr.InvalidRequest("dispute window has closed", nil)
		}
		rep.State = ReportDisputed
		rep.DisputedBy = &disputedBy
		rep.DisputeReason = reason
		return repo.SaveReport(ctx, rep)
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// ResolveNoShow closes a report. An upheld report settles against the absent
// party; an overturned one settles the lesson as held.
func (e *Engine) ResolveNoShow(ctx context.Context, b Booking, upheld bool, actorRef string) (*Result, *NoShowReport, error) {
	return e.resolveReport(ctx, b, upheld, actorRef, false)
}

// ExpireNoShow resolves an undisputed report once its deadline has passed.
// It does nothing for reports that were disputed or already resolved.
func (e *Engine) ExpireNoShow(ctx context.Context, b Booking) (*Result, *NoShowReport, error) {
	return e.resolveReport(ctx, b, true, "system", true)
}

func (e *Engine) resolveReport(ctx context.Context, b Booking, upheld bool, actorRef string, expiry bool) (*Result, *NoShowReport, error) {
	var (
		rep     *NoShowReport
		already bool
	)
	err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		repo := e.repo.WithTx(tx)
		var err error
		rep, err = repo.GetReportForUpdate(ctx, b.ID)
		if errors.Is(err, ErrReportNotFound) {
			return apperr.NotFound("no-show report")
		}
		if err != nil {
			return err
		}
		if rep.State == ReportResolved {
			already = true
			return nil
		}
		now := e.clock.Now()
		if expiry && (rep.State != ReportReported || now.Before(rep.DisputeDeadline)) {
			already = true
			return nil
		}

		rep.State = ReportResolved
		rep.Resolution = "overturned"
		if upheld {
			rep.Resolution = "upheld"
			if expiry {
				rep.Resolution = "upheld_undisputed"
			}
		}
		rep.ResolvedAt = &now
		return repo.SaveReport(ctx, rep)
	})
	if err != nil {
		return nil, nil, err
	}
	if already {
		rec, err := e.Get(ctx, b.ID)
		if err != nil {
			return nil, nil, err
		}
		return &Result{Decision: storedDecision(rec), Record: rec, Replayed: true}, rep, nil
	}

	if !upheld {
		rec, err := e.Capture(ctx, b, actorRef)
		if err != nil {
			return nil, rep, err
		}
		return &Result{Decision: storedDecision(rec), Record: rec}, rep, nil
	}

	cause := CauseStudentNoShow
	if rep.Party == PartyInstructor {
		cause = CauseInstructorNoShow
	}
	res, err := e.Cancel(ctx, b, cause, actorRef)
	return res, rep, err
}

// RecoverPending re-drives provider calls whose result was never recorded,
// using the original idempotency key. Records left unfinished are parked
// for manual review with the recovered state attached.
func (e *Engine) RecoverPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	ops, err := e.repo.ListPendingOperations(ctx, e.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, op := range ops {
		rec, err := e.repo.Get(ctx, op.ReservationID)
		if err != nil {
			logger.Error("failed to load settlement for recovery", "reservation_id", op.ReservationID, "error", err)
			continue
		}

		res, err := e.perform(ctx, rec, Effect{Kind: op.Kind, AmountCents: op.AmountCents})
		if err != nil {
			continue
		}
		recovered++
		logger.Info("recovered settlement operation",
			"reservation_id", op.ReservationID,
			"kind", op.Kind,
			"status", res.Status.String(),
		)

		if op.Kind == EffectAuthorize && res.OK() {
			rec.PaymentStatus = StatusAuthorized
			if err := e.save(ctx, rec); err != nil {
				logger.Error("failed to save recovered authorization", "reservation_id", rec.ReservationID, "error", err)
			}
			continue
		}
		if !rec.Terminal() {
			e.escalate(ctx, Booking{ID: rec.ReservationID}, rec, op.Kind, errors.New("recovered after interrupted settlement"))
		}
	}
	return recovered, nil
}

func (e *Engine) save(ctx context.Context, rec *Record) error {
	return e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		return e.repo.WithTx(tx).Save(ctx, rec)
	})
}

func (e *Engine) notify(ctx context.Context, kind notify.Kind, recipientID int64, data map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, kind, recipientID, data)
}

func storedDecision(rec *Record) Decision {
	return Decision{
		Outcome:     rec.Outcome,
		RefundCents: rec.RefundedAmountCents,
		CreditCents: rec.ReservedCreditCents,
		PayoutCents: rec.PayoutAmountCents,
		FinalStatus: rec.PaymentStatus,
	}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
