package payments

import (
	"errors"

	"laundry/internal/backend"
)

var (
	ErrGatewayUnavailable      = errors.New("payment gateway unavailable")
	ErrVerificationRejected    = errors.New("payment verification rejected")
	ErrMalformedGatewayPayload = errors.New("malformed gateway payload")
	ErrNetwork                 = errors.New("network error")
)

// Reason turns an error from this package (or the backend client) into the
// short reason string carried to the failure page.
func Reason(err error) string {
	var netErr *backend.NetworkError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGatewayUnavailable), errors.Is(err, backend.ErrServiceUnavailable):
		return "payment service is temporarily unavailable, please try again"
	case errors.Is(err, ErrVerificationRejected):
		return "payment could not be verified"
	case errors.Is(err, ErrMalformedGatewayPayload), errors.Is(err, backend.ErrMalformedResponse):
		return "payment response was not understood"
	case errors.Is(err, ErrNetwork), errors.As(err, &netErr):
		return "could not reach the payment service"
	default:
		return "payment failed"
	}
}
