package settlement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFor_Boundaries(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name  string
		until time.Duration
		want  Tier
	}{
		{"exactly 24h", 24 * time.Hour, TierFullRefund},
		{"two days", 48 * time.Hour, TierFullRefund},
		{"23h59m59s", 24*time.Hour - time.Second, TierCredit},
		{"exactly 12h", 12 * time.Hour, TierCredit},
		{"11h59m59s", 12*time.Hour - time.Second, TierPartial},
		{"after start", -time.Hour, TierPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TierFor(p, tt.until))
		})
	}
}

func TestDecide_AuthorizedCreditTierCancelsAuthorization(t *testing.T) {
	d, err := Decide(DefaultPolicy(), Input{
		Cause:       CauseStudentCancel,
		UntilStart:  20 * time.Hour,
		Funds:       FundsAuthorized,
		AmountCents: 10000,
	})
	require.NoError(t, err)

	assert.Equal(t, TierCredit, d.Tier)
	assert.Equal(t, []Effect{{Kind: EffectCancelAuthorization}}, d.Effects)
	assert.Equal(t, int64(0), d.PayoutCents)
	assert.Equal(t, int64(0), d.RefundCents)
	assert.Equal(t, StatusSettled, d.FinalStatus)
}

func TestDecide_CapturedLateCancelSplitsRefundAndPayout(t *testing.T) {
	d, err := Decide(DefaultPolicy(), Input{
		Cause:         CauseStudentCancel,
		UntilStart:    6 * time.Hour,
		Funds:         FundsCaptured,
		AmountCents:   10000,
		CapturedCents: 10000,
	})
	require.NoError(t, err)

	assert.Equal(t, TierPartial, d.Tier)
	assert.Equal(t, RefundCard, d.RefundMethod)
	assert.Equal(t, int64(5000), d.RefundCents)
	assert.Equal(t, int64(5000), d.PayoutCents)
	assert.Equal(t, []Effect{
		{Kind: EffectRefund, AmountCents: 5000},
		{Kind: EffectReverseTransfer, AmountCents: 5000},
	}, d.Effects)
}

func TestDecide_FullRefundByFundsState(t *testing.T) {
	p := DefaultPolicy()

	pending, err := Decide(p, Input{Cause: CauseStudentCancel, UntilStart: 30 * time.Hour, Funds: FundsPending, AmountCents: 10000})
	require.NoError(t, err)
	assert.Empty(t, pending.Effects)
	assert.Equal(t, "full_refund_released", pending.Outcome)

	captured, err := Decide(p, Input{Cause: CauseStudentCancel, UntilStart: 30 * time.Hour, Funds: FundsCaptured, AmountCents: 10000, CapturedCents: 10000})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), captured.RefundCents)
	assert.Equal(t, []Effect{
		{Kind: EffectRefund, AmountCents: 10000},
		{Kind: EffectReverseTransfer, AmountCents: 10000},
	}, captured.Effects)
}

func TestDecide_CauseOverridesTime(t *testing.T) {
	for _, cause := range []Cause{CauseInstructorNoShow, CauseDuplicateBooking, CauseInstructorCancel, CauseAdminOverride} {
		t.Run(string(cause), func(t *testing.T) {
			d, err := Decide(DefaultPolicy(), Input{
				Cause:         cause,
				UntilStart:    time.Hour,
				Funds:         FundsCaptured,
				AmountCents:   8000,
				CapturedCents: 8000,
			})
			require.NoError(t, err)
			assert.Equal(t, TierCauseOverride, d.Tier)
			assert.Equal(t, int64(8000), d.RefundCents)
			assert.Equal(t, int64(0), d.PayoutCents)
			assert.Equal(t, string(cause)+"_refund", d.Outcome)
		})
	}
}

func TestDecide_CreditTierCapturedIssuesCredit(t *testing.T) {
	d, err := Decide(DefaultPolicy(), Input{
		Cause:         CauseStudentCancel,
		UntilStart:    15 * time.Hour,
		Funds:         FundsCaptured,
		AmountCents:   10000,
		CapturedCents: 12000,
	})
	require.NoError(t, err)

	assert.Equal(t, RefundCredit, d.RefundMethod)
	assert.Equal(t, int64(10000), d.CreditCents)
	assert.Equal(t, int64(0), d.RefundCents)
	assert.Contains(t, d.Effects, Effect{Kind: EffectCredit, AmountCents: 10000})
}

func TestDecide_AuthorizedLateCancelCapturesThenSplits(t *testing.T) {
	d, err := Decide(DefaultPolicy(), Input{
		Cause:       CauseStudentCancel,
		UntilStart:  2 * time.Hour,
		Funds:       FundsAuthorized,
		AmountCents: 10000,
	})
	require.NoError(t, err)

	require.Len(t, d.Effects, 3)
	assert.Equal(t, EffectCapture, d.Effects[0].Kind)
	assert.Equal(t, Effect{Kind: EffectReverseTransfer, AmountCents: 5000}, d.Effects[1])
	assert.Equal(t, Effect{Kind: EffectCredit, AmountCents: 5000}, d.Effects[2])
	assert.Equal(t, int64(5000), d.CreditCents)
	assert.Equal(t, int64(5000), d.PayoutCents)
}

func TestDecide_GamingAppliesPartialTier(t *testing.T) {
	d, err := Decide(DefaultPolicy(), Input{
		Cause:         CauseStudentCancel,
		UntilStart:    72 * time.Hour,
		Funds:         FundsCaptured,
		AmountCents:   6000,
		CapturedCents: 6000,
		Gaming:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, TierPartial, d.Tier)
	assert.Equal(t, "gaming_partial_refund", d.Outcome)
	assert.Equal(t, int64(3000), d.RefundCents)
	assert.Equal(t, int64(3000), d.PayoutCents)
}

func TestDecide_StudentNoShowForfeits(t *testing.T) {
	d, err := Decide(DefaultPolicy(), Input{
		Cause:       CauseStudentNoShow,
		UntilStart:  -2 * time.Hour,
		Funds:       FundsAuthorized,
		AmountCents: 7000,
	})
	require.NoError(t, err)

	assert.Equal(t, TierForfeit, d.Tier)
	assert.Equal(t, []Effect{{Kind: EffectCapture}}, d.Effects)
	assert.Equal(t, int64(7000), d.PayoutCents)
}

func TestDecide_OddCentsRoundStudentShare(t *testing.T) {
	d, err := Decide(DefaultPolicy(), Input{
		Cause:         CauseStudentCancel,
		UntilStart:    time.Hour,
		Funds:         FundsCaptured,
		AmountCents:   3333,
		CapturedCents: 3333,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1667), d.RefundCents)
	assert.Equal(t, int64(1666), d.PayoutCents)
	assert.Equal(t, int64(3333), d.RefundCents+d.PayoutCents)
}

func TestDecide_NegativeAmountsAreInvariantViolations(t *testing.T) {
	_, err := Decide(DefaultPolicy(), Input{Cause: CauseStudentCancel, AmountCents: -1})
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = Decide(DefaultPolicy(), Input{Cause: CauseStudentCancel, Funds: FundsCaptured, AmountCents: 5000, CapturedCents: 4000})
	assert.ErrorIs(t, err, ErrNegativeAmount)

	p := DefaultPolicy()
	p.CreditRatio = decimal.NewFromFloat(1.5)
	_, err = Decide(p, Input{Cause: CauseStudentCancel, UntilStart: time.Hour, Funds: FundsCaptured, AmountCents: 1000, CapturedCents: 1000})
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestDecide_IsDeterministic(t *testing.T) {
	in := Input{Cause: CauseStudentCancel, UntilStart: 5 * time.Hour, Funds: FundsCaptured, AmountCents: 9000, CapturedCents: 9000}
	a, err := Decide(DefaultPolicy(), in)
	require.NoError(t, err)
	b, err := Decide(DefaultPolicy(), in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
