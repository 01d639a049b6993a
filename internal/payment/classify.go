package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v76"
)

// Classify turns a provider error into a tagged result. Timeouts, network
// failures, rate limiting and provider-side errors are retryable; card
// declines and malformed requests are not.
func Classify(err error) Result {
	if err == nil {
		return Result{Status: Succeeded}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return RetryableFailure(err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= 500,
			stripeErr.Code == stripe.ErrorCodeLockTimeout,
			stripeErr.Type == stripe.ErrorTypeAPI:
			return RetryableFailure(err)
		default:
			return FatalFailure(err)
		}
	}

	// Anything else did not come back from the provider: a transport
	// failure whose outcome is unknown, safe to repeat under the same key.
	return RetryableFailure(err)
}
