package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/msaedi/instructly-sub008/internal/config"
)

var (
	ErrNegativeAmount  = errors.New("computed amount is negative")
	ErrNothingToSettle = errors.New("no payment to settle")
)

// Policy holds the tunable settlement rules.
type Policy struct {
	FullRefundBefore time.Duration
	LateCancelBefore time.Duration
	CreditRatio      decimal.Decimal

	// A student reschedule made closer than GamingRescheduleBefore to the
	// original start locks the original funds. Cancelling the replacement
	// within GamingWindow of that start applies late-cancel economics.
	GamingRescheduleBefore time.Duration
	GamingWindow           time.Duration
	MaxRescheduleHops      int

	DisputeWindow     time.Duration
	AuthorizationLead time.Duration

	GatewayTimeout     time.Duration
	GatewayMaxAttempts int
	GatewayBackoff     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FullRefundBefore:       24 * time.Hour,
		LateCancelBefore:       12 * time.Hour,
		CreditRatio:            decimal.NewFromFloat(0.5),
		GamingRescheduleBefore: 12 * time.Hour,
		GamingWindow:           24 * time.Hour,
		MaxRescheduleHops:      10,
		DisputeWindow:          48 * time.Hour,
		AuthorizationLead:      24 * time.Hour,
		GatewayTimeout:         10 * time.Second,
		GatewayMaxAttempts:     3,
		GatewayBackoff:         500 * time.Millisecond,
	}
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		FullRefundBefore:       time.Duration(cfg.FullRefundHours) * time.Hour,
		LateCancelBefore:       time.Duration(cfg.LateCancelHours) * time.Hour,
		CreditRatio:            cfg.CreditRatio(),
		GamingRescheduleBefore: time.Duration(cfg.GamingRescheduleHours) * time.Hour,
		GamingWindow:           cfg.GamingWindow,
		MaxRescheduleHops:      cfg.MaxRescheduleHops,
		DisputeWindow:          cfg.DisputeWindow,
		AuthorizationLead:      cfg.AuthorizationLead,
		GatewayTimeout:         cfg.GatewayTimeout,
		GatewayMaxAttempts:     cfg.GatewayMaxAttempts,
		GatewayBackoff:         cfg.GatewayBackoff,
	}
}

// Cause is who or what triggered a settlement.
type Cause string

const (
	CauseStudentCancel    Cause = "student_cancel"
	CauseInstructorCancel Cause = "instructor_cancel"
	CauseAdminOverride    Cause = "admin_override"
	CauseInstructorNoShow Cause = "instructor_no_show"
	CauseDuplicateBooking Cause = "duplicate_booking"
	CauseStudentNoShow    Cause = "student_no_show"
)

func (c Cause) Valid() bool {
	switch c {
	case CauseStudentCancel, CauseInstructorCancel, CauseAdminOverride,
		CauseInstructorNoShow, CauseDuplicateBooking, CauseStudentNoShow:
		return true
	}
	return false
}

// overridesTime reports causes that always refund the card in full.
func (c Cause) overridesTime() bool {
	switch c {
	case CauseInstructorNoShow, CauseDuplicateBooking, CauseInstructorCancel, CauseAdminOverride:
		return true
	}
	return false
}

type Tier string

const (
	TierCauseOverride Tier = "cause_override"
	TierFullRefund    Tier = "full_refund"
	TierCredit        Tier = "credit"
	TierPartial       Tier = "partial"
	TierForfeit       Tier = "forfeit"
)

// TierFor places a student cancellation by how long before the start it
// happens. Boundaries belong to the more generous tier.
func TierFor(p Policy, untilStart time.Duration) Tier {
	switch {
	case untilStart >= p.FullRefundBefore:
		return TierFullRefund
	case untilStart >= p.LateCancelBefore:
		return TierCredit
	default:
		return TierPartial
	}
}

type FundsState string

const (
	// FundsPending covers scheduled and failed authorizations: nothing is
	// held at the provider.
	FundsPending    FundsState = "pending"
	FundsAuthorized FundsState = "authorized"
	FundsCaptured   FundsState = "captured"
)

type RefundMethod string

const (
	RefundNone   RefundMethod = "none"
	RefundCard   RefundMethod = "card"
	RefundCredit RefundMethod = "credit"
)

type EffectKind string

const (
	EffectAuthorize           EffectKind = "authorize"
	EffectCapture             EffectKind = "capture"
	EffectCancelAuthorization EffectKind = "cancel_authorization"
	EffectRefund              EffectKind = "refund"
	EffectReverseTransfer     EffectKind = "reverse_transfer"
	EffectCredit              EffectKind = "credit"
)

// Effect is one planned side effect. AmountCents is zero for effects whose
// amount is implied (capture, cancel authorization).
type Effect struct {
	Kind        EffectKind `json:"kind"`
	AmountCents int64      `json:"amount_cents"`
}

type Input struct {
	Cause      Cause
	UntilStart time.Duration
	Funds      FundsState
	// AmountCents is the lesson price, or the locked amount of the original
	// reservation when Gaming is set.
	AmountCents   int64
	CapturedCents int64
	// Gaming marks the replacement of a locked reschedule being cancelled
	// close to the original lesson time.
	Gaming bool
}

type Decision struct {
	Tier         Tier          `json:"tier"`
	Outcome      string        `json:"outcome"`
	RefundMethod RefundMethod  `json:"refund_method"`
	RefundCents  int64         `json:"refund_cents"`
	CreditCents  int64         `json:"credit_cents"`
	PayoutCents  int64         `json:"payout_cents"`
	FinalStatus  PaymentStatus `json:"final_status"`
	Effects      []Effect      `json:"effects"`
}

// Decide maps a cancellation or no-show to its money movements. It has no
// side effects; the engine executes the returned effects in order.
func Decide(p Policy, in Input) (Decision, error) {
	if in.AmountCents < 0 || in.CapturedCents < 0 {
		return Decision{}, fmt.Errorf("%w: amount=%d captured=%d", ErrNegativeAmount, in.AmountCents, in.CapturedCents)
	}
	if in.Funds == FundsCaptured && in.CapturedCents < in.AmountCents {
		return Decision{}, fmt.Errorf("%w: captured %d is less than settled amount %d", ErrNegativeAmount, in.CapturedCents, in.AmountCents)
	}

	var tier Tier
	switch {
	case in.Cause == CauseStudentNoShow:
		tier = TierForfeit
	case in.Cause.overridesTime():
		tier = TierCauseOverride
	case in.Gaming:
		tier = TierPartial
	default:
		tier = TierFor(p, in.UntilStart)
	}

	d := Decision{Tier: tier, FinalStatus: StatusSettled, RefundMethod: RefundNone}
	amount := in.AmountCents

	switch tier {
	case TierCauseOverride, TierFullRefund:
		d.Outcome = string(tier)
		if tier == TierCauseOverride {
			d.Outcome = string(in.Cause) + "_refund"
		}
		switch in.Funds {
		case FundsAuthorized:
			d.Outcome += "_authorization_cancelled"
			d.Effects = []Effect{{Kind: EffectCancelAuthorization}}
		case FundsCaptured:
			d.RefundMethod = RefundCard
			d.RefundCents = amount
			d.Effects = []Effect{
				{Kind: EffectRefund, AmountCents: amount},
				{Kind: EffectReverseTransfer, AmountCents: amount},
			}
		default:
			d.Outcome += "_released"
		}

	case TierCredit:
		switch in.Funds {
		case FundsAuthorized:
			// Nothing was charged, so there is nothing to turn into credit.
			d.Outcome = "credit_authorization_cancelled"
			d.Effects = []Effect{{Kind: EffectCancelAuthorization}}
		case FundsCaptured:
			d.Outcome = "full_credit"
			d.RefundMethod = RefundCredit
			d.CreditCents = amount
			d.Effects = []Effect{
				{Kind: EffectReverseTransfer, AmountCents: amount},
				{Kind: EffectCredit, AmountCents: amount},
			}
		default:
			d.Outcome = "credit_released"
		}

	case TierPartial:
		share := in.share(p.CreditRatio)
		payout := amount - share
		if share < 0 || payout < 0 {
			return Decision{}, fmt.Errorf("%w: share=%d payout=%d", ErrNegativeAmount, share, payout)
		}
		d.Outcome = "partial"
		if in.Gaming {
			d.Outcome = "gaming_partial"
		}
		switch in.Funds {
		case FundsAuthorized:
			d.Outcome += "_credit"
			d.RefundMethod = RefundCredit
			d.CreditCents = share
			d.PayoutCents = payout
			d.Effects = []Effect{
				{Kind: EffectCapture},
				{Kind: EffectReverseTransfer, AmountCents: share},
				{Kind: EffectCredit, AmountCents: share},
			}
		case FundsCaptured:
			d.Outcome += "_refund"
			d.RefundMethod = RefundCard
			d.RefundCents = share
			d.PayoutCents = payout
			d.Effects = []Effect{
				{Kind: EffectRefund, AmountCents: share},
				{Kind: EffectReverseTransfer, AmountCents: share},
			}
		default:
			d.Outcome += "_unpaid"
		}

	case TierForfeit:
		d.Outcome = "forfeited"
		switch in.Funds {
		case FundsAuthorized:
			d.PayoutCents = amount
			d.Effects = []Effect{{Kind: EffectCapture}}
		case FundsCaptured:
			d.PayoutCents = amount
		default:
			d.Outcome = "forfeited_unpaid"
		}
	}

	return d, nil
}

func (in Input) share(ratio decimal.Decimal) int64 {
	return decimal.NewFromInt(in.AmountCents).Mul(ratio).Round(0).IntPart()
}
