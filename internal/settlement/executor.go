package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/credit"
	"github.com/msaedi/instructly-sub008/internal/logger"
	"github.com/msaedi/instructly-sub008/internal/metrics"
	"github.com/msaedi/instructly-sub008/internal/notify"
	"github.com/msaedi/instructly-sub008/internal/payment"
)

var ErrBookkeeping = errors.New("provider call succeeded but its result could not be recorded")

func (e *Engine) key(reservationID int64, eff Effect) string {
	return payment.IdempotencyKey(reservationID, string(eff.Kind), eff.AmountCents)
}

// perform runs one provider effect through the operation ledger: intent in
// one transaction, the call outside any transaction, the result in another.
// A previously succeeded operation is not repeated. The returned error is
// set only when the ledger itself could not be read or written.
func (e *Engine) perform(ctx context.Context, rec *Record, eff Effect) (payment.Result, error) {
	key := e.key(rec.ReservationID, eff)

	op, err := e.repo.GetOperation(ctx, key)
	switch {
	case err == nil && op.Status == OperationSucceeded:
		logger.Debug("settlement effect already applied", "reservation_id", rec.ReservationID, "kind", eff.Kind, "key", key)
		return payment.Result{Status: payment.Succeeded, Ref: op.ProviderRef, AmountCents: op.AmountCents}, nil
	case err == nil:
		// Pending or failed: the provider deduplicates on the same key.
	case errors.Is(err, ErrOperationNotFound):
		op = &Operation{IdempotencyKey: key, ReservationID: rec.ReservationID, Kind: eff.Kind, AmountCents: eff.AmountCents}
		if err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
			return e.repo.WithTx(tx).InsertOperation(ctx, op)
		}); err != nil {
			return payment.Result{}, err
		}
	default:
		return payment.Result{}, err
	}

	res, attempts := e.call(ctx, rec, eff, key)

	op.Attempts += attempts
	if res.OK() {
		op.Status = OperationSucceeded
		op.ProviderRef = res.Ref
		op.LastError = ""
		applyResult(rec, eff, res)
	} else {
		op.Status = OperationFailed
		op.LastError = errString(res.Err)
	}
	countAttempt(rec, eff.Kind, attempts, res)

	// The call has been made; its result must be written even if the caller
	// has gone away.
	bg := context.WithoutCancel(ctx)
	if err := e.tx.InTx(bg, func(tx *sqlx.Tx) error {
		repo := e.repo.WithTx(tx)
		if err := repo.UpdateOperation(bg, op); err != nil {
			return err
		}
		return repo.Save(bg, rec)
	}); err != nil {
		logger.Error("failed to record settlement effect",
			"reservation_id", rec.ReservationID,
			"kind", eff.Kind,
			"key", key,
			"provider_status", res.Status.String(),
			"error", err,
		)
		return res, fmt.Errorf("%w: %v", ErrBookkeeping, err)
	}
	return res, nil
}

// call dispatches eff, retrying retryable failures with exponential backoff.
// Each attempt has its own timeout and ignores cancellation of ctx.
func (e *Engine) call(ctx context.Context, rec *Record, eff Effect, key string) (payment.Result, int) {
	ctx = context.WithoutCancel(ctx)
	maxAttempts := e.policy.GatewayMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.policy.GatewayTimeout)
		res := e.dispatch(callCtx, rec, eff, key)
		cancel()

		metrics.RecordSettlementEffect(string(eff.Kind), res.Status.String())
		if res.Status != payment.Retryable || attempt >= maxAttempts {
			return res, attempt
		}

		wait := e.policy.GatewayBackoff << (attempt - 1)
		logger.Warn("retrying settlement effect",
			"reservation_id", rec.ReservationID,
			"kind", eff.Kind,
			"attempt", attempt,
			"backoff", wait,
			"error", res.Err,
		)
		e.sleep(wait)
	}
}

func (e *Engine) dispatch(ctx context.Context, rec *Record, eff Effect, key string) payment.Result {
	switch eff.Kind {
	case EffectAuthorize:
		return e.gateway.Authorize(ctx, rec.CustomerRef, eff.AmountCents, key)
	case EffectCapture:
		return e.gateway.Capture(ctx, rec.PaymentIntentRef, key)
	case EffectCancelAuthorization:
		return e.gateway.CancelAuthorization(ctx, rec.PaymentIntentRef, key)
	case EffectRefund:
		return e.gateway.Refund(ctx, rec.PaymentIntentRef, eff.AmountCents, key)
	case EffectReverseTransfer:
		return e.gateway.ReverseTransfer(ctx, rec.TransferRef, eff.AmountCents, key)
	default:
		return payment.FatalFailure(fmt.Errorf("no provider call for effect %q", eff.Kind))
	}
}

func applyResult(rec *Record, eff Effect, res payment.Result) {
	switch eff.Kind {
	case EffectAuthorize:
		rec.PaymentIntentRef = res.Ref
	case EffectCapture:
		rec.CapturedAmountCents = res.AmountCents
		if rec.CapturedAmountCents == 0 {
			rec.CapturedAmountCents = rec.AmountCents
		}
		if res.TransferRef != "" {
			rec.TransferRef = res.TransferRef
		}
	}
}

func countAttempt(rec *Record, kind EffectKind, attempts int, res payment.Result) {
	lastErr := ""
	if !res.OK() {
		lastErr = errString(res.Err)
	}

	switch kind {
	case EffectAuthorize, EffectCancelAuthorization:
		rec.AuthorizationAttempts += attempts
		rec.AuthorizationLastError = lastErr
	case EffectCapture:
		rec.CaptureAttempts += attempts
		rec.CaptureLastError = lastErr
		// Destination charges create the instructor transfer at capture.
		rec.TransferAttempts += attempts
		rec.TransferLastError = lastErr
		if res.OK() && rec.TransferRef == "" {
			rec.TransferLastError = "charge created no transfer"
		}
	case EffectRefund:
		rec.RefundAttempts += attempts
		rec.RefundLastError = lastErr
	case EffectReverseTransfer:
		rec.ReversalAttempts += attempts
		rec.ReversalLastError = lastErr
	}
}

// issueCredit applies a platform credit to the student's ledger. The
// operation row and the ledger entry commit together.
func (e *Engine) issueCredit(ctx context.Context, b Booking, eff Effect, creditType string) error {
	key := e.key(b.ID, eff)
	reservationID := b.ID

	return e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		repo := e.repo.WithTx(tx)
		op, err := repo.GetOperation(ctx, key)
		if err == nil && op.Status == OperationSucceeded {
			return nil
		}
		if err != nil && !errors.Is(err, ErrOperationNotFound) {
			return err
		}

		op = &Operation{IdempotencyKey: key, ReservationID: b.ID, Kind: EffectCredit, AmountCents: eff.AmountCents}
		if err := repo.InsertOperation(ctx, op); err != nil {
			return err
		}

		entry, _, err := e.credits.WithTx(tx).AddTransaction(ctx, credit.Entry{
			UserID:         b.RequesterID,
			AmountCents:    eff.AmountCents,
			Type:           creditType,
			ReservationID:  &reservationID,
			IdempotencyKey: key,
		})
		if err != nil {
			return err
		}

		op.Status = OperationSucceeded
		op.ProviderRef = strconv.FormatInt(entry.ID, 10)
		op.Attempts = 1
		return repo.UpdateOperation(ctx, op)
	})
}

// apply executes a decision's effects in order and stops at the first one
// that does not succeed.
func (e *Engine) apply(ctx context.Context, b Booking, rec *Record, d Decision) error {
	for _, eff := range d.Effects {
		if eff.Kind == EffectReverseTransfer && rec.TransferRef == "" {
			logger.Debug("no transfer to reverse", "reservation_id", rec.ReservationID)
			continue
		}

		if eff.Kind == EffectCredit {
			creditType := credit.TypeCancellationCredit
			if d.Tier == TierPartial {
				creditType = credit.TypeLateCancelCredit
			}
			if err := e.issueCredit(ctx, b, eff, creditType); err != nil {
				e.escalate(ctx, b, rec, eff.Kind, err)
				return apperr.ExternalOperation("failed to issue platform credit", err)
			}
			metrics.RecordSettlementEffect(string(eff.Kind), payment.Succeeded.String())
			continue
		}

		res, err := e.perform(ctx, rec, eff)
		if err != nil {
			e.escalate(ctx, b, rec, eff.Kind, err)
			return apperr.ExternalOperation("settlement bookkeeping failed", err)
		}
		if !res.OK() {
			e.escalate(ctx, b, rec, eff.Kind, res.Err)
			return apperr.ExternalOperation(fmt.Sprintf("payment provider %s failed", eff.Kind), res.Err).
				WithDetails(map[string]any{"reservation_id": rec.ReservationID, "provider_status": res.Status.String()})
		}
	}
	return nil
}

// escalate parks the record in manual review. It never fails; a record it
// cannot write stays visible through the pending operation ledger.
func (e *Engine) escalate(ctx context.Context, b Booking, rec *Record, kind EffectKind, cause error) {
	rec.PaymentStatus = StatusManualReview
	rec.Outcome = "manual_review_" + string(kind)

	bg := context.WithoutCancel(ctx)
	if err := e.tx.InTx(bg, func(tx *sqlx.Tx) error {
		return e.repo.WithTx(tx).MarkManualReview(bg, rec.ReservationID, rec.Outcome)
	}); err != nil {
		logger.Error("failed to park settlement for manual review",
			"reservation_id", rec.ReservationID,
			"kind", kind,
			"error", err,
		)
	}

	metrics.RecordManualReview(string(kind))
	logger.Error("settlement needs manual review",
		"reservation_id", rec.ReservationID,
		"kind", kind,
		"error", cause,
	)
	if b.RequesterID != 0 {
		e.notify(bg, notify.SettlementManualReview, b.RequesterID, map[string]any{
			"reservation_id": rec.ReservationID,
			"effect":         kind,
		})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleep(d time.Duration) {
	time.Sleep(d)
}
