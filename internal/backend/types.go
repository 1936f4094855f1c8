package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method is how the customer pays.
type Method string

const (
	MethodWallet Method = "wallet"
	MethodBank   Method = "bank"
	MethodCash   Method = "cash"
)

// ParseMethod accepts both our names and the backend's payment_type values.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wallet", "esewa":
		return MethodWallet, nil
	case "bank", "bank_transfer":
		return MethodBank, nil
	case "cash", "cod", "cash_on_delivery":
		return MethodCash, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// PaymentType is the backend's wire name for the method.
func (m Method) PaymentType() string {
	if m == MethodWallet {
		return "esewa"
	}
	return string(m)
}

// Redirects reports whether the method leaves the site for an external gateway.
func (m Method) Redirects() bool { return m == MethodWallet }

type Source string

const (
	SourceOrderPlacement Source = "order_placement"
	SourceBillPayment    Source = "standalone_bill_payment"
)

// PaymentStatus is owned by the backend; the client only reads it.
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusComplete PaymentStatus = "complete"
	StatusFailed   PaymentStatus = "failed"
	StatusCanceled PaymentStatus = "canceled"
)

func ParseStatus(s string) (PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "initiated", "":
		return StatusPending, nil
	case "complete", "completed", "success", "paid":
		return StatusComplete, nil
	case "failed", "failure", "not_found":
		return StatusFailed, nil
	case "canceled", "cancelled", "user canceled":
		return StatusCanceled, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

func (s PaymentStatus) Terminal() bool { return s != StatusPending }

// CanAdvanceTo enforces forward-only transitions:
// pending -> {complete|failed|canceled}; terminal states only repeat themselves.
func (s PaymentStatus) CanAdvanceTo(next PaymentStatus) bool {
	if s == StatusPending {
		return true
	}
	return s == next
}

type OrderRef struct {
	OrderID       int64           `json:"order_id"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
}

// PaymentAttempt is one payment as the backend reports it.
type PaymentAttempt struct {
	TransactionID   string          `json:"transaction_uuid"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Method          Method          `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	BranchID        *int64          `json:"branch_id,omitempty"`
	Source          Source          `json:"source"`
	Status          PaymentStatus   `json:"status"`
	TransactionCode string          `json:"transaction_code,omitempty"`
	OrderRefs       []OrderRef      `json:"order_refs"`
	CreatedAt       *time.Time      `json:"created_at,omitempty"`
}

// Applied is the sum of the amounts applied to orders.
func (p PaymentAttempt) Applied() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range p.OrderRefs {
		sum = sum.Add(r.AmountApplied)
	}
	return sum
}

// Excess is amount minus applied. It can come out negative on bad data;
// callers decide what to do with that.
func (p PaymentAttempt) Excess() decimal.Decimal {
	return p.Amount.Sub(p.Applied())
}

// paymentDTO is the wire shape; toAttempt validates it.
type paymentDTO struct {
	TransactionUUID string          `json:"transaction_uuid"`
	IdempotencyKey  string          `json:"idempotency_key"`
	PaymentType     string          `json:"payment_type"`
	Amount          decimal.Decimal `json:"amount"`
	BranchID        *int64          `json:"branch_id"`
	PaymentSource   string          `json:"payment_source"`
	Status          string          `json:"status"`
	TransactionCode string          `json:"transaction_code"`
	Orders          []OrderRef      `json:"orders"`
	CreatedAt       *time.Time      `json:"created_at"`
}

func (d *paymentDTO) toAttempt() (*PaymentAttempt, error) {
	if strings.TrimSpace(d.TransactionUUID) == "" {
		return nil, fmt.Errorf("%w: payment without transaction_uuid", ErrMalformedResponse)
	}
	method, err := ParseMethod(d.PaymentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	status, err := ParseStatus(d.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	source := Source(d.PaymentSource)
	if source == "" {
		source = SourceOrderPlacement
	}

	p := &PaymentAttempt{
		TransactionID:   d.TransactionUUID,
		IdempotencyKey:  d.IdempotencyKey,
		Method:          method,
		Amount:          d.Amount,
		BranchID:        d.BranchID,
		Source:          source,
		Status:          status,
		TransactionCode: d.TransactionCode,
		CreatedAt:       d.CreatedAt,
	}
	// Allocations are only meaningful once the payment is complete.
	if status == StatusComplete {
		p.OrderRefs = d.Orders
	}
	return p, nil
}

// InitiateRequest is the body of POST /payments/initiate/.
type InitiateRequest struct {
	PaymentType    string          `json:"payment_type"`
	Amount         decimal.Decimal `json:"amount"`
	BranchID       *int64          `json:"branch_id,omitempty"`
	OrderID        *int64          `json:"order_id,omitempty"`
	OrderData      *OrderPayload   `json:"order_data,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	PaymentSource  Source          `json:"payment_source"`
}

type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Branch        string `json:"branch,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

type InitiateResponse struct {
	TransactionUUID string
	PaymentData     map[string]string
	EsewaURL        string
	BankDetails     *BankDetails
}

type initiateDTO struct {
	Success         bool           `json:"success"`
	TransactionUUID string         `json:"transaction_uuid"`
	PaymentData     map[string]any `json:"payment_data"`
	EsewaURL        string         `json:"esewa_url"`
	BankDetails     *BankDetails   `json:"bank_details"`
	Error           string         `json:"error"`
}

type VerifyRequest struct {
	TransactionUUID string          `json:"transaction_uuid"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionCode string          `json:"transaction_code"`
}

type verifyDTO struct {
	Success bool        `json:"success"`
	Payment *paymentDTO `json:"payment"`
	Error   string      `json:"error"`
}

// HistoryQuery maps onto GET /payments/history/ query params.
type HistoryQuery struct {
	Page        int
	PageSize    int
	Search      string
	PaymentType string
	Status      string
}

type Pagination struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCount  int  `json:"total_count"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

type HistoryPage struct {
	Payments   []PaymentAttempt `json:"payments"`
	Pagination Pagination       `json:"pagination"`
}

type historyDTO struct {
	Success    bool         `json:"success"`
	Payments   []paymentDTO `json:"payments"`
	Pagination *Pagination  `json:"pagination"`
	Error      string       `json:"error"`
}

// Stats are the backend-computed aggregates. PendingAmount is authoritative;
// it is never recomputed from order lines.
type Stats struct {
	ActiveOrders         int             `json:"active_orders"`
	CompletedOrders      int             `json:"completed_orders"`
	PendingPaymentsCount int             `json:"pending_payments_count"`
	PendingAmount        decimal.Decimal `json:"pending_amount"`
}

type PendingOrder struct {
	OrderID       int64           `json:"order_id"`
	BranchID      int64           `json:"branch_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
}

type BranchPending struct {
	BranchID      int64           `json:"branch_id"`
	BranchName    string          `json:"branch_name"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
}

type OrderStats struct {
	Stats                Stats           `json:"stats"`
	PendingOrders        []PendingOrder  `json:"pending_orders"`
	BranchPendingAmounts []BranchPending `json:"branch_pending_amounts"`
}

type orderStatsDTO struct {
	Success              bool            `json:"success"`
	Stats                *Stats          `json:"stats"`
	PendingOrders        []PendingOrder  `json:"pending_orders"`
	BranchPendingAmounts []BranchPending `json:"branch_pending_amounts"`
	Error                string          `json:"error"`
}

// OrderLine is one cart item as the backend expects it.
type OrderLine struct {
	ServiceID int64           `json:"service_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderPayload is the order body for POST /orders/create/, and the opaque
// order_data attachment in payment-first checkout.
type OrderPayload struct {
	BranchID        int64           `json:"branch"`
	Services        []OrderLine     `json:"services"`
	PickupDate      string          `json:"pickup_date,omitempty"`
	PickupTime      string          `json:"pickup_time,omitempty"`
	PickupAddress   string          `json:"pickup_address,omitempty"`
	DeliveryDate    string          `json:"delivery_date,omitempty"`
	DeliveryTime    string          `json:"delivery_time,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	IsUrgent        bool            `json:"is_urgent"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	PickupCost      decimal.Decimal `json:"pickup_cost"`
	DeliveryCost    decimal.Decimal `json:"delivery_cost"`
	UrgentCost      decimal.Decimal `json:"urgent_cost"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Description     string          `json:"description,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	PaymentStatus   string          `json:"payment_status,omitempty"`
}

type Order struct {
	OrderID       int64           `json:"order_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	Status        string          `json:"status"`
	BranchID      int64           `json:"branch"`
}

type orderDTO struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	Status        string          `json:"status"`
	Branch        int64           `json:"branch"`
}

type orderEnvelope struct {
	Success bool      `json:"success"`
	Order   *orderDTO `json:"order"`
	Data    *orderDTO `json:"data"`
	Error   string    `json:"error"`
}

// OrderUpdate is a partial update; nil fields are left alone.
type OrderUpdate struct {
	Status        *string `json:"status,omitempty"`
	PaymentStatus *string `json:"payment_status,omitempty"`
	PaymentMethod *string `json:"payment_method,omitempty"`
}
