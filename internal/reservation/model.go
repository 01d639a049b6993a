package reservation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/msaedi/instructly-sub008/internal/settlement"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Active statuses hold the owner's and requester's time.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted || s == StatusNoShow
}

type DeliveryMode string

const (
	ModeInPerson DeliveryMode = "in_person"
	ModeTravel   DeliveryMode = "travel"
	ModeOnline   DeliveryMode = "online"
)

type Reservation struct {
	ID                int64        `db:"id" json:"id"`
	RequesterID       int64        `db:"requester_id" json:"requester_id"`
	OwnerID           int64        `db:"owner_id" json:"owner_id"`
	OfferingID        int64        `db:"offering_id" json:"offering_id"`
	DeliveryMode      DeliveryMode `db:"delivery_mode" json:"delivery_mode"`
	Date              time.Time    `db:"day" json:"date"`
	StartMinute       int          `db:"start_minute" json:"start_minute"`
	EndMinute         int          `db:"end_minute" json:"end_minute"`
	StartUTC          time.Time    `db:"start_utc" json:"start_utc"`
	EndUTC            time.Time    `db:"end_utc" json:"end_utc"`
	OwnerTimezone     string       `db:"owner_timezone" json:"owner_timezone"`
	RequesterTimezone string       `db:"requester_timezone" json:"requester_timezone"`
	PriceCents        int64        `db:"price_cents" json:"price_cents"`
	DurationMinutes   int          `db:"duration_minutes" json:"duration_minutes"`
	Status            Status       `db:"status" json:"status"`
	RescheduledFromID *int64       `db:"rescheduled_from_id" json:"rescheduled_from_id,omitempty"`
	RescheduledToID   *int64       `db:"rescheduled_to_id" json:"rescheduled_to_id,omitempty"`
	CancelledBy       *string      `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt       *time.Time   `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt       *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

func (r *Reservation) Booking() settlement.Booking {
	return settlement.Booking{
		ID:                r.ID,
		RequesterID:       r.RequesterID,
		OwnerID:           r.OwnerID,
		StartUTC:          r.StartUTC,
		EndUTC:            r.EndUTC,
		PriceCents:        r.PriceCents,
		RescheduledFromID: r.RescheduledFromID,
	}
}

// Overlaps reports whether the two reservations share any instant.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartUTC.Before(end) && start.Before(r.EndUTC)
}

// ConflictsWith reports whether other shares r's owner or requester and
// overlaps it in time. Both are active reservations.
func (r *Reservation) ConflictsWith(other *Reservation) bool {
	if r.OwnerID != other.OwnerID && r.RequesterID != other.RequesterID {
		return false
	}
	return r.Overlaps(other.StartUTC, other.EndUTC)
}

func (r *Reservation) involves(userID int64) bool {
	return r.RequesterID == userID || r.OwnerID == userID
}

// Offering is an instructor's bookable service.
type Offering struct {
	ID               int64     `db:"id" json:"id"`
	OwnerID          int64     `db:"owner_id" json:"owner_id"`
	Name             string    `db:"name" json:"name"`
	HourlyRateCents  int64     `db:"hourly_rate_cents" json:"hourly_rate_cents"`
	SupportsInPerson bool      `db:"supports_in_person" json:"supports_in_person"`
	SupportsTravel   bool      `db:"supports_travel" json:"supports_travel"`
	SupportsOnline   bool      `db:"supports_online" json:"supports_online"`
	MinAdvanceHours  int       `db:"min_advance_hours" json:"min_advance_hours"`
	Timezone         string    `db:"timezone" json:"timezone"`
	Active           bool      `db:"active" json:"active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

func (o *Offering) Supports(mode DeliveryMode) bool {
	switch mode {
	case ModeInPerson:
		return o.SupportsInPerson
	case ModeTravel:
		return o.SupportsTravel
	case ModeOnline:
		return o.SupportsOnline
	}
	return false
}

// PriceFor prorates the hourly rate to the lesson length, rounding half up
// to the cent.
func (o *Offering) PriceFor(durationMinutes int) int64 {
	return decimal.NewFromInt(o.HourlyRateCents).
		Mul(decimal.NewFromInt(int64(durationMinutes))).
		Div(decimal.NewFromInt(60)).
		Round(0).
		IntPart()
}

func (o *Offering) MinAdvance() time.Duration {
	return time.Duration(o.MinAdvanceHours) * time.Hour
}

type CreateRequest struct {
	OfferingID        int64        `json:"offering_id" validate:"required,gt=0"`
	Date              string       `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime         string       `json:"start_time" validate:"required,datetime=15:04"`
	EndTime           string       `json:"end_time" validate:"required,datetime=15:04"`
	DeliveryMode      DeliveryMode `json:"delivery_mode" validate:"required,oneof=in_person travel online"`
	RequesterTimezone string       `json:"timezone" validate:"omitempty,timezone"`
	PaymentMethodRef  string       `json:"payment_method_ref" validate:"omitempty,max=255"`
}

type CancelRequest struct {
	// Cause lets an admin record a duplicate booking; other callers'
	// causes follow from their role.
	Cause  settlement.Cause `json:"cause" validate:"omitempty,oneof=admin_override duplicate_booking"`
	Reason string           `json:"reason" validate:"omitempty,max=500"`
}

type RescheduleRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
}

type CompleteRequest struct {
	Override bool `json:"override"`
}

type NoShowRequest struct {
	Party settlement.Party `json:"party" validate:"required,oneof=student instructor"`
}

type DisputeRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=1000"`
}

type ResolveRequest struct {
	Upheld *bool `json:"upheld" validate:"required"`
}

type ReservationResponse struct {
	Reservation *Reservation       `json:"reservation"`
	Settlement  *settlement.Record `json:"settlement,omitempty"`
}

type CancelResponse struct {
	Reservation *Reservation       `json:"reservation"`
	Settlement  *settlement.Result `json:"settlement"`
}

type RescheduleResponse struct {
	Previous    *Reservation       `json:"previous"`
	Reservation *Reservation       `json:"reservation"`
	Settlement  *settlement.Record `json:"settlement,omitempty"`
}

type NoShowResponse struct {
	Reservation *Reservation             `json:"reservation"`
	Report      *settlement.NoShowReport `json:"report"`
	Settlement  *settlement.Result       `json:"settlement,omitempty"`
}
