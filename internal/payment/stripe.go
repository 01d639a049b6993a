package payment

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway authorizes with manual-capture PaymentIntents so the funds
// are held until the lesson is captured.
type StripeGateway struct {
	sc       *client.API
	currency string
}

func NewStripeGateway(secretKey, currency string) *StripeGateway {
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeGateway{sc: client.New(secretKey, nil), currency: currency}
}

func (g *StripeGateway) Authorize(ctx context.Context, customerRef string, amountCents int64, idempotencyKey string) Result {
	if customerRef == "" {
		return FatalFailure(errors.New("no customer to charge"))
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(g.currency),
		Customer:      stripe.String(customerRef),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return Classify(err)
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		return FatalFailure(errors.New("payment intent not authorized: " + string(pi.Status)))
	}
	res := Success(pi.ID)
	res.AmountCents = pi.Amount
	return res
}

func (g *StripeGateway) Capture(ctx context.Context, intentRef string, idempotencyKey string) Result {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	params.AddExpand("latest_charge")

	pi, err := g.sc.PaymentIntents.Capture(intentRef, params)
	if err != nil {
		return Classify(err)
	}

	res := Success(pi.ID)
	res.AmountCents = pi.AmountReceived
	if pi.LatestCharge != nil && pi.LatestCharge.Transfer != nil {
		res.TransferRef = pi.LatestCharge.Transfer.ID
	}
	return res
}

func (g *StripeGateway) Refund(ctx context.Context, intentRef string, amountCents int64, idempotencyKey string) Result {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentRef),
		Amount:        stripe.Int64(amountCents),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return Classify(err)
	}
	res := Success(r.ID)
	res.AmountCents = r.Amount
	return res
}

func (g *StripeGateway) ReverseTransfer(ctx context.Context, transferRef string, amountCents int64, idempotencyKey string) Result {
	params := &stripe.TransferReversalParams{
		ID: stripe.String(transferRef),
	}
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	rev, err := g.sc.TransferReversals.New(params)
	if err != nil {
		return Classify(err)
	}
	res := Success(rev.ID)
	res.AmountCents = rev.Amount
	return res
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, intentRef string, idempotencyKey string) Result {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := g.sc.PaymentIntents.Cancel(intentRef, params)
	if err != nil {
		return Classify(err)
	}
	return Success(pi.ID)
}

// Offline is used when no provider is configured. Every call fails
// permanently, so settlements needing money movement go to review.
type Offline struct{}

var errNotConfigured = errors.New("payment provider not configured")

func (Offline) Authorize(context.Context, string, int64, string) Result {
	return FatalFailure(errNotConfigured)
}

func (Offline) Capture(context.Context, string, string) Result {
	return FatalFailure(errNotConfigured)
}

func (Offline) Refund(context.Context, string, int64, string) Result {
	return FatalFailure(errNotConfigured)
}

func (Offline) ReverseTransfer(context.Context, string, int64, string) Result {
	return FatalFailure(errNotConfigured)
}

func (Offline) CancelAuthorization(context.Context, string, string) Result {
	return FatalFailure(errNotConfigured)
}
