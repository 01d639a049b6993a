package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Status tags the outcome of a provider call.
type Status int

const (
	Succeeded Status = iota
	// Retryable failures may succeed if the same call is repeated with the
	// same idempotency key.
	Retryable
	// Fatal failures will not succeed on retry.
	Fatal
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Result struct {
	Status Status
	// Ref is the provider id of what the call produced: the payment intent
	// for Authorize, the refund for Refund, the reversal for ReverseTransfer.
	Ref         string
	AmountCents int64
	// TransferRef is set by Capture when the charge paid out to the
	// instructor's connected account.
	TransferRef string
	Err         error
}

func (r Result) OK() bool {
	return r.Status == Succeeded
}

func Success(ref string) Result {
	return Result{Status: Succeeded, Ref: ref}
}

func RetryableFailure(err error) Result {
	return Result{Status: Retryable, Err: err}
}

func FatalFailure(err error) Result {
	return Result{Status: Fatal, Err: err}
}

// Gateway is the payment provider as seen by settlement. Every call carries
// an idempotency key; repeating a call with the same key must not repeat its
// effect.
type Gateway interface {
	Authorize(ctx context.Context, customerRef string, amountCents int64, idempotencyKey string) Result
	Capture(ctx context.Context, intentRef string, idempotencyKey string) Result
	Refund(ctx context.Context, intentRef string, amountCents int64, idempotencyKey string) Result
	// ReverseTransfer pulls amountCents back from the instructor's transfer;
	// zero reverses the whole transfer.
	ReverseTransfer(ctx context.Context, transferRef string, amountCents int64, idempotencyKey string) Result
	CancelAuthorization(ctx context.Context, intentRef string, idempotencyKey string) Result
}

var keyNamespace = uuid.MustParse("5d1f4a8e-2c6b-4f0e-9a57-0f3c2b9d7e41")

// IdempotencyKey derives the key for one side effect. The same reservation,
// operation and amount always yield the same key.
func IdempotencyKey(reservationID int64, operation string, amountCents int64) string {
	name := fmt.Sprintf("%d:%s:%d", reservationID, operation, amountCents)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}
