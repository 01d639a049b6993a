package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/msaedi/instructly-sub008/internal/apperr"
)

var ErrSlotsUnavailable = errors.New("requested slots are not open")

// Span is the slot range a booking occupies on one calendar day.
type Span struct {
	Date      time.Time
	StartSlot int
	EndSlot   int
}

// SpansFor converts a local [start, end) clock interval on date into slot
// spans. An end before the start crosses midnight and continues on the next
// day. Partial slots are widened to whole slots.
func SpansFor(date time.Time, startMinute, endMinute int) ([]Span, error) {
	if startMinute < 0 || startMinute >= DayMinutes || endMinute < 0 || endMinute >= DayMinutes {
		return nil, apperr.Validation(fmt.Sprintf("clock time out of range: %d-%d", startMinute, endMinute))
	}
	if endMinute == startMinute {
		return nil, apperr.Validation("start and end time are equal")
	}

	day := dayKey(date)
	if endMinute > startMinute {
		return []Span{{Date: day, StartSlot: SlotFloor(startMinute), EndSlot: SlotCeil(endMinute)}}, nil
	}

	spans := []Span{{Date: day, StartSlot: SlotFloor(startMinute), EndSlot: SlotsPerDay}}
	if endMinute > 0 {
		spans = append(spans, Span{Date: day.AddDate(0, 0, 1), StartSlot: 0, EndSlot: SlotCeil(endMinute)})
	}
	return spans, nil
}

// Guard is the bitset side of conflict detection. The reservation store's
// overlap constraint remains the authority; the bitset answers availability
// queries quickly and is cleared in the same transaction as the insert.
type Guard struct {
	repo   Repository
	tracer trace.Tracer
}

func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo, tracer: otel.Tracer("availability")}
}

// CheckAvailable reports whether the day has durationMinutes of contiguous
// open slots, optionally starting at or after afterMinute and ending at or
// before beforeMinute.
func (g *Guard) CheckAvailable(ctx context.Context, ownerID int64, date time.Time, afterMinute, beforeMinute *int, durationMinutes int) (bool, error) {
	ctx, span := g.tracer.Start(ctx, "availability.CheckAvailable", trace.WithAttributes(
		attribute.Int64("owner_id", ownerID),
		attribute.String("date", date.Format(DateLayout)),
		attribute.Int("duration_minutes", durationMinutes),
	))
	defer span.End()

	if durationMinutes <= 0 {
		return false, apperr.Validation("duration must be positive")
	}

	bits, found, err := g.repo.GetDay(ctx, ownerID, date)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if !found {
		return false, nil
	}

	from, to := 0, SlotsPerDay
	if afterMinute != nil {
		from = SlotCeil(*afterMinute)
	}
	if beforeMinute != nil {
		to = SlotFloor(*beforeMinute)
	}
	if from >= to {
		return false, nil
	}

	_, ok := bits.FindRun(from, to, DurationSlots(durationMinutes))
	span.SetAttributes(attribute.Bool("available", ok))
	return ok, nil
}

// ReserveAndClear closes the slots of spans inside tx. Any span whose day is
// unpublished or already partly closed fails the whole call with a capacity
// conflict, and the caller's transaction must roll back.
func (g *Guard) ReserveAndClear(ctx context.Context, tx *sqlx.Tx, ownerID int64, spans []Span) error {
	ctx, span := g.tracer.Start(ctx, "availability.ReserveAndClear", trace.WithAttributes(
		attribute.Int64("owner_id", ownerID),
	))
	defer span.End()

	repo := g.repo.WithTx(tx)
	for _, s := range spans {
		bits, found, err := repo.GetDayForUpdate(ctx, ownerID, s.Date)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !found || !bits.AllOpen(s.StartSlot, s.EndSlot) {
			return apperr.CapacityConflict("requested time is not available", ErrSlotsUnavailable).
				WithDetails(map[string]any{
					"date":       s.Date.Format(DateLayout),
					"start_time": FormatClock(s.StartSlot * SlotMinutes),
					"end_time":   FormatClock(s.EndSlot * SlotMinutes),
				})
		}
		if err := bits.ClearRange(s.StartSlot, s.EndSlot); err != nil {
			return err
		}
		if err := repo.SaveDay(ctx, ownerID, s.Date, bits); err != nil {
			return err
		}
	}
	return nil
}

// Release reopens the slots of spans inside tx.
func (g *Guard) Release(ctx context.Context, tx *sqlx.Tx, ownerID int64, spans []Span) error {
	repo := g.repo.WithTx(tx)
	for _, s := range spans {
		if err := repo.SetRange(ctx, ownerID, s.Date, s.StartSlot, s.EndSlot); err != nil {
			return err
		}
	}
	return nil
}
