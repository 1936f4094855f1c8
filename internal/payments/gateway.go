package payments

import (
	"context"

	"laundry/internal/backend"
)

// Gateway initiates a payment for one method.
type Gateway interface {
	Initiate(ctx context.Context, req PaymentRequest) (*Initiation, error)
}

// Initiator is the slice of the backend client gateways need.
type Initiator interface {
	InitiatePayment(ctx context.Context, in backend.InitiateRequest) (*backend.InitiateResponse, error)
}

func toInitiateRequest(req PaymentRequest) backend.InitiateRequest {
	return backend.InitiateRequest{
		PaymentType:    req.Method.PaymentType(),
		Amount:         req.Amount,
		BranchID:       req.BranchID,
		OrderID:        req.OrderID,
		OrderData:      req.OrderData,
		IdempotencyKey: req.IdempotencyKey,
		PaymentSource:  req.Source,
	}
}

// OfflineAdapter serves bank transfer and cash. Nothing redirects; bank
// transfers get account details to show the customer.
type OfflineAdapter struct {
	backend Initiator
}

func NewOfflineAdapter(b Initiator) *OfflineAdapter {
	return &OfflineAdapter{backend: b}
}

func (a *OfflineAdapter) Initiate(ctx context.Context, req PaymentRequest) (*Initiation, error) {
	resp, err := a.backend.InitiatePayment(ctx, toInitiateRequest(req))
	if err != nil {
		return nil, err
	}
	return &Initiation{
		TransactionID: resp.TransactionUUID,
		BankDetails:   resp.BankDetails,
	}, nil
}
