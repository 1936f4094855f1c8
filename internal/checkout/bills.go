package checkout

import (
	"context"
	"errors"

	"laundry/internal/backend"
	"laundry/internal/drafts"
	"laundry/internal/idempotency"
	"laundry/internal/payments"
	"laundry/internal/reconcile"
	"laundry/internal/validate"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatsSource serves pending amounts. Implementations are expected to answer
// from a cache so that a rejected amount costs no backend request.
type StatsSource interface {
	OrderStats(ctx context.Context) (*backend.OrderStats, error)
}

// Bills settles outstanding orders without a draft: a standalone payment that
// the backend allocates across pending orders.
type Bills struct {
	store    drafts.Store
	stats    StatsSource
	gateways Initiator
	logger   *zap.SugaredLogger
}

func NewBills(store drafts.Store, stats StatsSource, gateways Initiator, logger *zap.SugaredLogger) *Bills {
	return &Bills{store: store, stats: stats, gateways: gateways, logger: logger}
}

type BillSummary struct {
	Pending    reconcile.Pending `json:"pending"`
	AttemptKey string            `json:"attempt_key"`
}

type BillPayment struct {
	Amount    decimal.Decimal `json:"amount" validate:"money"`
	BranchID  *int64          `json:"branch_id" validate:"required"`
	Method    backend.Method  `json:"payment_method" validate:"required,oneof=wallet bank cash"`
	Confirmed bool            `json:"confirmed"`
}

// Summary returns what the pay form needs, issuing the attempt key its button
// carries if there is none yet.
func (b *Bills) Summary(ctx context.Context, sessionID string, branchID *int64) (*BillSummary, error) {
	stats, err := b.stats.OrderStats(ctx)
	if err != nil {
		return nil, err
	}
	key, err := b.attemptKey(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &BillSummary{Pending: reconcile.PendingFor(stats, branchID), AttemptKey: key}, nil
}

// Pay checks the amount against pending totals and starts the payment. An
// amount over the branch total comes back as ErrConfirmationRequired until
// in.Confirmed is set.
func (b *Bills) Pay(ctx context.Context, sessionID string, in BillPayment) (*Result, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	stats, err := b.stats.OrderStats(ctx)
	if err != nil {
		return nil, err
	}
	if err := reconcile.CheckAmount(in.Amount, reconcile.PendingFor(stats, in.BranchID), in.Confirmed); err != nil {
		return nil, err
	}

	key, err := b.attemptKey(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	init, err := b.gateways.Initiate(ctx, payments.PaymentRequest{
		Method:         in.Method,
		Amount:         in.Amount,
		BranchID:       in.BranchID,
		IdempotencyKey: key,
		Source:         backend.SourceBillPayment,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Method:        in.Method,
		Amount:        in.Amount,
		TransactionID: init.TransactionID,
		BankDetails:   init.BankDetails,
		Redirect:      init.Redirect,
	}

	_, err = b.store.Update(ctx, sessionID, func(s *drafts.Slot) error {
		if in.Method.Redirects() {
			s.Redirected(in.Method, backend.SourceBillPayment, init.TransactionID)
			return nil
		}
		// Offline payments end here; the next one is a new attempt.
		s.BillKey = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Infow("bill payment initiated", "session", sessionID, "transaction_uuid", init.TransactionID, "method", in.Method, "amount", in.Amount.StringFixed(2))
	return res, nil
}

func (b *Bills) attemptKey(ctx context.Context, sessionID string) (string, error) {
	slot, err := b.store.Update(ctx, sessionID, func(s *drafts.Slot) error {
		if s.BillKey == "" {
			s.BillKey = idempotency.Generate()
		}
		return nil
	})
	if errors.Is(err, drafts.ErrNotFound) {
		slot = &drafts.Slot{BillKey: idempotency.Generate()}
		err = b.store.Save(ctx, sessionID, slot)
	}
	if err != nil {
		return "", err
	}
	return slot.BillKey, nil
}
