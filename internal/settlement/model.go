package settlement

import (
	"time"
)

type PaymentStatus string

const (
	StatusScheduled             PaymentStatus = "scheduled"
	StatusAuthorized            PaymentStatus = "authorized"
	StatusPaymentMethodRequired PaymentStatus = "payment_method_required"
	StatusManualReview          PaymentStatus = "manual_review"
	StatusLocked                PaymentStatus = "locked"
	StatusSettled               PaymentStatus = "settled"
)

// Record is the money side of one reservation.
type Record struct {
	ReservationID       int64         `db:"reservation_id" json:"reservation_id"`
	PaymentStatus       PaymentStatus `db:"payment_status" json:"payment_status"`
	AmountCents         int64         `db:"amount_cents" json:"amount_cents"`
	CapturedAmountCents int64         `db:"captured_amount_cents" json:"captured_amount_cents"`
	ReservedCreditCents int64         `db:"reserved_credit_cents" json:"reserved_credit_cents"`
	RefundedAmountCents int64         `db:"refunded_amount_cents" json:"refunded_amount_cents"`
	PayoutAmountCents   int64         `db:"payout_amount_cents" json:"payout_amount_cents"`
	Outcome             string        `db:"settlement_outcome" json:"settlement_outcome,omitempty"`
	CustomerRef         string        `db:"customer_ref" json:"-"`
	PaymentIntentRef    string        `db:"payment_intent_ref" json:"payment_intent_ref,omitempty"`
	TransferRef         string        `db:"transfer_ref" json:"transfer_ref,omitempty"`

	AuthorizationAttempts  int    `db:"authorization_attempts" json:"authorization_attempts"`
	AuthorizationLastError string `db:"authorization_last_error" json:"authorization_last_error,omitempty"`
	CaptureAttempts        int    `db:"capture_attempts" json:"capture_attempts"`
	CaptureLastError       string `db:"capture_last_error" json:"capture_last_error,omitempty"`
	TransferAttempts       int    `db:"transfer_attempts" json:"transfer_attempts"`
	TransferLastError      string `db:"transfer_last_error" json:"transfer_last_error,omitempty"`
	ReversalAttempts       int    `db:"reversal_attempts" json:"reversal_attempts"`
	ReversalLastError      string `db:"reversal_last_error" json:"reversal_last_error,omitempty"`
	RefundAttempts         int    `db:"refund_attempts" json:"refund_attempts"`
	RefundLastError        string `db:"refund_last_error" json:"refund_last_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Funds reports where the money stands for decision purposes.
func (r *Record) Funds() FundsState {
	switch {
	case r.CapturedAmountCents > 0:
		return FundsCaptured
	case r.PaymentIntentRef != "" && r.PaymentStatus == StatusAuthorized:
		return FundsAuthorized
	default:
		return FundsPending
	}
}

// Terminal reports whether the engine has finished with the record.
func (r *Record) Terminal() bool {
	return r.PaymentStatus == StatusSettled || r.PaymentStatus == StatusManualReview
}

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationSucceeded OperationStatus = "succeeded"
	OperationFailed    OperationStatus = "failed"
)

// Operation is one provider or ledger side effect, keyed by its idempotency
// key. The row is written before the call is made and updated with its
// result afterwards.
type Operation struct {
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	ReservationID  int64           `db:"reservation_id" json:"reservation_id"`
	Kind           EffectKind      `db:"kind" json:"kind"`
	AmountCents    int64           `db:"amount_cents" json:"amount_cents"`
	Status         OperationStatus `db:"status" json:"status"`
	ProviderRef    string          `db:"provider_ref" json:"provider_ref,omitempty"`
	Attempts       int             `db:"attempts" json:"attempts"`
	LastError      string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

type LockResolution string

const (
	LockReleaseCompleted          LockResolution = "release_new_lesson_completed"
	LockReleaseProportionalRefund LockResolution = "release_proportional_refund"
	LockForfeited                 LockResolution = "forfeited"
)

// Lock holds an original reservation's funds while its replacement plays
// out. ReplacementID always points at the latest reservation in the chain.
type Lock struct {
	ReservationID     int64           `db:"reservation_id" json:"reservation_id"`
	ReplacementID     int64           `db:"replacement_id" json:"replacement_id"`
	LockedAmountCents int64           `db:"locked_amount_cents" json:"locked_amount_cents"`
	OriginalStartUTC  time.Time       `db:"original_start_utc" json:"original_start_utc"`
	Resolution        *LockResolution `db:"resolution" json:"resolution,omitempty"`
	ResolvedAt        *time.Time      `db:"lock_resolved_at" json:"lock_resolved_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

type Party string

const (
	PartyStudent    Party = "student"
	PartyInstructor Party = "instructor"
)

type ReportState string

const (
	ReportReported ReportState = "reported"
	ReportDisputed ReportState = "disputed"
	ReportResolved ReportState = "resolved"
)

// NoShowReport tracks a no-show claim through its dispute window.
type NoShowReport struct {
	ID              int64       `db:"id" json:"id"`
	ReservationID   int64       `db:"reservation_id" json:"reservation_id"`
	ReportedBy      int64       `db:"reported_by" json:"reported_by"`
	Party           Party       `db:"party" json:"party"`
	State           ReportState `db:"state" json:"state"`
	DisputeDeadline time.Time   `db:"dispute_deadline" json:"dispute_deadline"`
	DisputeReason   string      `db:"dispute_reason" json:"dispute_reason,omitempty"`
	DisputedBy      *int64      `db:"disputed_by" json:"disputed_by,omitempty"`
	Resolution      string      `db:"resolution" json:"resolution,omitempty"`
	ResolvedAt      *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// Booking is the reservation data settlement needs. It is supplied by the
// reservation package.
type Booking struct {
	ID                int64
	RequesterID       int64
	OwnerID           int64
	StartUTC          time.Time
	EndUTC            time.Time
	PriceCents        int64
	RescheduledFromID *int64
}

// Result is what a cancellation or no-show resolution produced.
type Result struct {
	Decision Decision `json:"decision"`
	Record   *Record  `json:"settlement"`
	// Replayed is set when the record was already settled and nothing ran.
	Replayed bool `json:"replayed"`
}
