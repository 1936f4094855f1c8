// Package checkout drives an order draft through payment: it creates backend
// orders, starts payments, and finalizes the draft when the gateway returns.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"laundry/internal/backend"
	"laundry/internal/drafts"
	"laundry/internal/idempotency"
	"laundry/internal/payments"
	"laundry/internal/validate"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ordering decides whether the backend order exists before the payment.
// A checkout page uses exactly one.
type Ordering int

const (
	// OrderFirst creates a pending order, then pays against it.
	OrderFirst Ordering = iota
	// PaymentFirst sends the whole order with the payment; the backend only
	// creates it once the gateway confirms.
	PaymentFirst
)

func (o Ordering) String() string {
	if o == PaymentFirst {
		return "payment_first"
	}
	return "order_first"
}

var ErrUnsupportedMethod = errors.New("payment method not available for this checkout")

// Orders is the slice of the backend the orchestrator writes orders through.
type Orders interface {
	CreateOrder(ctx context.Context, in backend.OrderPayload) (*backend.Order, error)
	UpdateOrder(ctx context.Context, orderID int64, in backend.OrderUpdate) (*backend.Order, error)
}

type Initiator interface {
	Initiate(ctx context.Context, req payments.PaymentRequest) (*payments.Initiation, error)
}

type Verifier interface {
	Verify(ctx context.Context, transactionID string, amount decimal.Decimal, transactionCode string) (*backend.PaymentAttempt, error)
}

// Result is what a submit produced. Redirect is set for methods that leave
// the site; the slot has already been saved by then.
type Result struct {
	Method        backend.Method       `json:"method"`
	Ordering      string               `json:"ordering"`
	Amount        decimal.Decimal      `json:"amount"`
	OrderID       *int64               `json:"order_id,omitempty"`
	TransactionID string               `json:"transaction_id,omitempty"`
	BankDetails   *backend.BankDetails `json:"bank_details,omitempty"`
	Warning       string               `json:"warning,omitempty"`
	Redirect      *payments.Redirect   `json:"-"`
}

type Orchestrator struct {
	ordering      Ordering
	store         drafts.Store
	orders        Orders
	gateways      Initiator
	verifier      Verifier
	guard         *Guard
	logger        *zap.SugaredLogger
	minTurnaround time.Duration
}

func New(ordering Ordering, store drafts.Store, orders Orders, gateways Initiator, verifier Verifier, guard *Guard, logger *zap.SugaredLogger) *Orchestrator {
	if guard == nil {
		guard = NewGuard()
	}
	return &Orchestrator{
		ordering:      ordering,
		store:         store,
		orders:        orders,
		gateways:      gateways,
		verifier:      verifier,
		guard:         guard,
		logger:        logger,
		minTurnaround: drafts.DefaultMinTurnaround,
	}
}

// WithMinTurnaround sets the shortest pickup to delivery gap accepted.
func (o *Orchestrator) WithMinTurnaround(d time.Duration) *Orchestrator {
	o.minTurnaround = d
	return o
}

func (o *Orchestrator) Ordering() Ordering { return o.ordering }

// PutDraft validates and stores a draft, replacing any previous one.
func (o *Orchestrator) PutDraft(ctx context.Context, sessionID string, d *drafts.OrderDraft) (*drafts.Slot, error) {
	if err := d.Validate(o.minTurnaround); err != nil {
		return nil, err
	}

	slot, err := drafts.GetOrEmpty(ctx, o.store, sessionID)
	if err != nil {
		return nil, err
	}
	slot.Put(d)
	slot.AttemptKey = idempotency.Generate()
	if err := o.store.Save(ctx, sessionID, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// Draft returns the slot for rendering the pay page. It hands out the attempt
// key the pay button carries; the key stays the same until the attempt ends.
func (o *Orchestrator) Draft(ctx context.Context, sessionID string) (*drafts.Slot, error) {
	slot, err := o.store.Get(ctx, sessionID)
	if errors.Is(err, drafts.ErrNotFound) {
		return nil, drafts.ErrNoDraft
	}
	if err != nil {
		return nil, err
	}
	if slot.Draft == nil {
		return nil, drafts.ErrNoDraft
	}
	if slot.AttemptKey != "" {
		return slot, nil
	}
	return o.store.Update(ctx, sessionID, ensureAttemptKey)
}

// DiscardDraft drops the draft and everything tied to it.
func (o *Orchestrator) DiscardDraft(ctx context.Context, sessionID string) error {
	_, err := drafts.Take(ctx, o.store, sessionID, "")
	if errors.Is(err, drafts.ErrNoDraft) {
		return nil
	}
	return err
}

func ensureAttemptKey(slot *drafts.Slot) error {
	if slot.Draft == nil {
		return drafts.ErrNoDraft
	}
	if slot.AttemptKey == "" {
		slot.AttemptKey = idempotency.Generate()
	}
	return nil
}

// Submit checks out the session's draft with method. Validation failures are
// returned before anything is sent to the backend.
func (o *Orchestrator) Submit(ctx context.Context, sessionID string, method backend.Method) (*Result, error) {
	slot, err := o.Draft(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := slot.Draft.Validate(o.minTurnaround); err != nil {
		return nil, err
	}

	switch {
	case o.ordering == PaymentFirst && method == backend.MethodWallet:
		return o.submitPaymentFirst(ctx, sessionID, slot)
	case o.ordering == PaymentFirst:
		return nil, fmt.Errorf("%w: %s with %s", ErrUnsupportedMethod, method, o.ordering)
	case method == backend.MethodWallet:
		return o.submitWallet(ctx, sessionID, slot)
	case method == backend.MethodBank, method == backend.MethodCash:
		return o.submitOffline(ctx, sessionID, slot, method)
	default:
		return nil, validate.Field("payment_method", "must be one of: wallet bank cash")
	}
}

// submitOffline creates the order and clears the draft straight away. There is
// no round trip to wait for, so there is nothing to retry.
func (o *Orchestrator) submitOffline(ctx context.Context, sessionID string, slot *drafts.Slot, method backend.Method) (*Result, error) {
	draft := slot.Draft
	order, err := o.orders.CreateOrder(ctx, draft.ToPayload(method, "pending"))
	if err != nil {
		return nil, err
	}
	orderID := order.OrderID

	if _, err := drafts.Take(ctx, o.store, sessionID, ""); err != nil && !errors.Is(err, drafts.ErrNoDraft) {
		o.logger.Errorw("clear draft after order create", "session", sessionID, "order_id", orderID, "error", err)
	}

	res := &Result{
		Method:   method,
		Ordering: o.ordering.String(),
		Amount:   draft.Pricing.Total,
		OrderID:  &orderID,
	}
	if method == backend.MethodCash {
		return res, nil
	}

	init, err := o.gateways.Initiate(ctx, payments.PaymentRequest{
		Method:         method,
		Amount:         draft.Pricing.Total,
		OrderID:        &orderID,
		IdempotencyKey: slot.AttemptKey,
		Source:         backend.SourceOrderPlacement,
	})
	if err != nil {
		// The order exists; the customer can still pay it from the bills page.
		o.logger.Warnw("bank payment initiate failed", "order_id", orderID, "error", err)
		res.Warning = "order placed, but bank details are unavailable right now: " + payments.Reason(err)
		return res, nil
	}
	res.TransactionID = init.TransactionID
	res.BankDetails = init.BankDetails
	return res, nil
}

// submitWallet creates the order once per draft. A retry after a failed
// return pays against the same order.
func (o *Orchestrator) submitWallet(ctx context.Context, sessionID string, slot *drafts.Slot) (*Result, error) {
	draft := slot.Draft

	if slot.OrderID == nil {
		order, err := o.orders.CreateOrder(ctx, draft.ToPayload(backend.MethodWallet, "pending"))
		if err != nil {
			return nil, err
		}
		orderID := order.OrderID
		slot, err = o.store.Update(ctx, sessionID, func(s *drafts.Slot) error {
			s.OrderID = &orderID
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return o.redirect(ctx, sessionID, payments.PaymentRequest{
		Method:         backend.MethodWallet,
		Amount:         draft.Pricing.Total,
		OrderID:        slot.OrderID,
		IdempotencyKey: slot.AttemptKey,
		Source:         backend.SourceOrderPlacement,
	}, slot.OrderID)
}

func (o *Orchestrator) submitPaymentFirst(ctx context.Context, sessionID string, slot *drafts.Slot) (*Result, error) {
	draft := slot.Draft
	payload := draft.ToPayload(backend.MethodWallet, "paid")
	branchID := draft.Branch

	return o.redirect(ctx, sessionID, payments.PaymentRequest{
		Method:         backend.MethodWallet,
		Amount:         draft.Pricing.Total,
		BranchID:       &branchID,
		OrderData:      &payload,
		IdempotencyKey: slot.AttemptKey,
		Source:         backend.SourceOrderPlacement,
	}, nil)
}

// redirect initiates and persists the redirected phase before handing the
// form back. Nothing after the browser leaves is guaranteed to run.
func (o *Orchestrator) redirect(ctx context.Context, sessionID string, req payments.PaymentRequest, orderID *int64) (*Result, error) {
	init, err := o.gateways.Initiate(ctx, req)
	if err != nil {
		return nil, err
	}
	if init.Redirect == nil {
		return nil, fmt.Errorf("%w: wallet initiation without redirect", backend.ErrMalformedResponse)
	}

	if _, err := o.store.Update(ctx, sessionID, func(s *drafts.Slot) error {
		s.Redirected(req.Method, req.Source, init.TransactionID)
		return nil
	}); err != nil {
		return nil, err
	}

	o.logger.Infow("redirecting to gateway", "session", sessionID, "transaction_uuid", init.TransactionID, "ordering", o.ordering.String())
	return &Result{
		Method:        req.Method,
		Ordering:      o.ordering.String(),
		Amount:        req.Amount,
		OrderID:       orderID,
		TransactionID: init.TransactionID,
		Redirect:      init.Redirect,
	}, nil
}
