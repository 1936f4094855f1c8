package payments

import (
	"context"
	"fmt"

	"laundry/internal/backend"
)

const DefaultEsewaFormURL = "https://rc-epay.esewa.com.np/api/epay/main/v2/form"

// EsewaAdapter gets a signed field set from the backend. It never signs
// anything itself.
type EsewaAdapter struct {
	backend    Initiator
	FormURL    string
	SuccessURL string
	FailureURL string
}

func NewEsewaAdapter(b Initiator, formURL, success, failure string) *EsewaAdapter {
	if formURL == "" {
		formURL = DefaultEsewaFormURL
	}
	return &EsewaAdapter{
		backend:    b,
		FormURL:    formURL,
		SuccessURL: success,
		FailureURL: failure,
	}
}

func (e *EsewaAdapter) Initiate(ctx context.Context, req PaymentRequest) (*Initiation, error) {
	resp, err := e.backend.InitiatePayment(ctx, toInitiateRequest(req))
	if err != nil {
		return nil, err
	}

	if len(resp.PaymentData) == 0 {
		return nil, fmt.Errorf("%w: esewa initiate without payment_data", backend.ErrMalformedResponse)
	}
	if got := resp.PaymentData["transaction_uuid"]; got != resp.TransactionUUID {
		return nil, fmt.Errorf("%w: signed transaction_uuid %q does not match %q",
			backend.ErrMalformedResponse, got, resp.TransactionUUID)
	}

	fields := make(map[string]string, len(resp.PaymentData))
	for k, v := range resp.PaymentData {
		fields[k] = v
	}

	// success_url and failure_url are not part of the signed field set, so they
	// can point back at this service. No query string: eSewa appends its own
	// "?data=" blindly.
	if e.SuccessURL != "" {
		fields["success_url"] = e.SuccessURL
	}
	if e.FailureURL != "" {
		fields["failure_url"] = e.FailureURL
	}

	action := resp.EsewaURL
	if action == "" {
		action = e.FormURL
	}

	return &Initiation{
		TransactionID: resp.TransactionUUID,
		Redirect:      &Redirect{URL: action, Fields: fields},
	}, nil
}
