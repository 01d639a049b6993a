package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/logger"
)

// Lifecycle is the reservation work a task can trigger.
type Lifecycle interface {
	AuthorizeScheduled(ctx context.Context, id int64) error
	CompleteScheduled(ctx context.Context, id int64) error
	ExpireNoShow(ctx context.Context, id int64) error
}

type Recoverer interface {
	RecoverPending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type Handlers struct {
	lifecycle     Lifecycle
	recoverer     Recoverer
	recoveryAge   time.Duration
	recoveryBatch int
}

func NewHandlers(lifecycle Lifecycle, recoverer Recoverer, recoveryAge time.Duration) *Handlers {
	return &Handlers{
		lifecycle:     lifecycle,
		recoverer:     recoverer,
		recoveryAge:   recoveryAge,
		recoveryBatch: 100,
	}
}

func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAuthorize, h.reservationTask(h.lifecycle.AuthorizeScheduled))
	mux.HandleFunc(TypeCapture, h.reservationTask(h.lifecycle.CompleteScheduled))
	mux.HandleFunc(TypeNoShowExpire, h.reservationTask(h.lifecycle.ExpireNoShow))
	mux.HandleFunc(TypeRecover, h.handleRecover)
	return mux
}

func (h *Handlers) reservationTask(run func(ctx context.Context, id int64) error) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p Payload
		if err := json.Unmarshal(task.Payload(), &p); err != nil || p.ReservationID <= 0 {
			logger.Error("invalid task payload", "type", task.Type(), "error", err)
			return fmt.Errorf("invalid payload for %s: %w", task.Type(), asynq.SkipRetry)
		}

		err := run(ctx, p.ReservationID)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			logger.Warn("task failed; not retrying", "type", task.Type(), "reservation_id", p.ReservationID, "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("task failed", "type", task.Type(), "reservation_id", p.ReservationID, "error", err)
		return err
	}
}

func (h *Handlers) handleRecover(ctx context.Context, task *asynq.Task) error {
	n, err := h.recoverer.RecoverPending(ctx, h.recoveryAge, h.recoveryBatch)
	if err != nil {
		logger.Error("settlement recovery failed", "error", err)
		return err
	}
	if n > 0 {
		logger.Info("settlement recovery re-drove operations", "count", n)
	}
	return nil
}

// retryable reports whether the queue should try err again. Provider
// failures arrive here already retried by the settlement engine.
func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidRequest, apperr.KindNotFound, apperr.KindForbidden,
		apperr.KindPolicyViolation, apperr.KindExternalOperation, apperr.KindInvariant:
		return false
	}
	return true
}
