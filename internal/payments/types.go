package payments

import (
	"laundry/internal/backend"

	"github.com/shopspring/decimal"
)

// PaymentRequest is one initiation call for one logical attempt. The same
// IdempotencyKey must be sent on every retry of that attempt.
type PaymentRequest struct {
	Method         backend.Method
	Amount         decimal.Decimal
	BranchID       *int64
	OrderID        *int64
	OrderData      *backend.OrderPayload
	IdempotencyKey string
	Source         backend.Source
}

// Redirect is the signed form the browser must POST to the gateway.
type Redirect struct {
	URL    string
	Fields map[string]string
}

// Initiation is what the backend handed back for an attempt. Redirect is set
// only for methods that leave the site.
type Initiation struct {
	TransactionID string
	Redirect      *Redirect
	BankDetails   *backend.BankDetails
}
