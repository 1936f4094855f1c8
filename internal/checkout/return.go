package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"laundry/internal/backend"
	"laundry/internal/drafts"
	"laundry/internal/payments"
)

// Outcome is where a gateway return ends up: the receipt on success, the
// failure page otherwise. Reason is what the failure page shows.
type Outcome struct {
	Success       bool                    `json:"success"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	Status        string                  `json:"status,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
	Receipt       *backend.PaymentAttempt `json:"receipt,omitempty"`
	OrderID       *int64                  `json:"order_id,omitempty"`
}

// HandleReturn finishes a redirect. A gateway status other than COMPLETE goes
// to the failure page without verifying and without touching the draft. A
// COMPLETE status is verified once; only a verified payment consumes the
// draft. defaultStatus applies to legacy returns that carry no status.
//
// The returned error is only for store failures; payment failures are
// reported in the Outcome.
func (o *Orchestrator) HandleReturn(ctx context.Context, sessionID string, q url.Values, defaultStatus string) (*Outcome, error) {
	p, err := payments.ParseReturn(q, defaultStatus)
	if err != nil && bareReturn(q) && !strings.EqualFold(defaultStatus, payments.GatewayComplete) {
		p, err = o.pendingDecline(ctx, sessionID, defaultStatus, err)
	}
	if err != nil {
		o.logger.Warnw("undecodable gateway return", "session", sessionID, "error", err)
		out := &Outcome{Reason: payments.Reason(err)}
		return out, o.markFailed(ctx, sessionID, "", "", out.Reason, false)
	}

	out := &Outcome{TransactionID: p.TransactionID, Status: p.Status}

	if !p.Complete() {
		out.Reason = fmt.Sprintf("payment was not completed: gateway reported %s", p.Status)
		o.logger.Infow("gateway return not complete", "session", sessionID, "transaction_uuid", p.TransactionID, "status", p.Status)
		return out, o.markFailed(ctx, sessionID, p.TransactionID, p.Status, out.Reason, p.Terminal())
	}

	if err := o.markReturned(ctx, sessionID, p.TransactionID); err != nil {
		return nil, err
	}

	receipt, err := o.guard.Do(ctx, p.TransactionID, func(ctx context.Context) (*backend.PaymentAttempt, error) {
		return o.verifier.Verify(ctx, p.TransactionID, p.TotalAmount, p.TransactionCode)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		out.Reason = payments.Reason(err)
		o.logger.Warnw("payment verification failed", "session", sessionID, "transaction_uuid", p.TransactionID, "error", err)
		return out, o.markFailed(ctx, sessionID, p.TransactionID, p.Status, out.Reason, false)
	}

	out.Success = true
	out.Receipt = receipt
	out.Reason = ""
	return out, o.finalize(ctx, sessionID, out)
}

func (o *Orchestrator) markReturned(ctx context.Context, sessionID, transactionID string) error {
	_, err := o.store.Update(ctx, sessionID, func(s *drafts.Slot) error {
		if s.Phase == drafts.PhaseRedirected && s.TransactionID == transactionID {
			s.Phase = drafts.PhaseReturned
		}
		return nil
	})
	if errors.Is(err, drafts.ErrNotFound) {
		return nil
	}
	return err
}

// bareReturn reports a return that carries no payment parameters at all, as
// when the gateway sends the browser to the failure URL without a payload.
func bareReturn(q url.Values) bool {
	for _, k := range []string{"data", "transaction_uuid", "oid"} {
		if strings.TrimSpace(q.Get(k)) != "" {
			return false
		}
	}
	return true
}

// pendingDecline attributes a bare decline to the transaction the session is
// waiting on. Without one the parse error stands.
func (o *Orchestrator) pendingDecline(ctx context.Context, sessionID, status string, parseErr error) (payments.ReturnPayload, error) {
	slot, err := o.store.Get(ctx, sessionID)
	if err != nil || slot.Phase != drafts.PhaseRedirected || slot.TransactionID == "" {
		return payments.ReturnPayload{}, parseErr
	}
	return payments.ReturnPayload{TransactionID: slot.TransactionID, Status: strings.ToUpper(status)}, nil
}

// markFailed keeps the draft. A terminal decline ends the attempt, so the next
// try gets a fresh key; anything else may still resolve and keeps it. A return
// for a transaction other than the live one leaves the slot alone.
func (o *Orchestrator) markFailed(ctx context.Context, sessionID, transactionID, status, reason string, terminal bool) error {
	_, err := o.store.Update(ctx, sessionID, func(s *drafts.Slot) error {
		if transactionID != "" && s.TransactionID != "" && s.TransactionID != transactionID {
			return errStaleReturn
		}
		s.Failed(status, reason)
		if terminal {
			if s.Source == backend.SourceBillPayment {
				s.BillKey = ""
			} else {
				s.AttemptKey = ""
			}
		}
		return nil
	})
	if errors.Is(err, drafts.ErrNotFound) || errors.Is(err, errStaleReturn) {
		return nil
	}
	return err
}

var errStaleReturn = errors.New("return for a superseded transaction")

// finalize consumes the draft for the verified transaction. A repeated return
// for a transaction already finalized finds no draft and is still a success.
func (o *Orchestrator) finalize(ctx context.Context, sessionID string, out *Outcome) error {
	slot, err := o.store.Get(ctx, sessionID)
	if errors.Is(err, drafts.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if slot.TransactionID != out.TransactionID {
		o.logger.Warnw("verified return for another transaction, draft kept",
			"session", sessionID, "transaction_uuid", out.TransactionID, "slot_transaction_uuid", slot.TransactionID)
		return nil
	}

	if slot.Source == backend.SourceBillPayment {
		_, err := o.store.Update(ctx, sessionID, func(s *drafts.Slot) error {
			s.BillKey = ""
			s.SucceededTx = out.TransactionID
			s.Phase = drafts.PhaseFinalized
			if s.Draft != nil {
				s.Phase = drafts.PhaseDrafted
			}
			return nil
		})
		return err
	}

	out.OrderID = slot.OrderID
	if _, err := drafts.Take(ctx, o.store, sessionID, out.TransactionID); err != nil && !errors.Is(err, drafts.ErrNoDraft) {
		return err
	}
	o.syncOrder(ctx, out)
	return nil
}

// syncOrder marks an order-first order paid when the receipt does not already
// show the payment applied to it.
func (o *Orchestrator) syncOrder(ctx context.Context, out *Outcome) {
	if out.OrderID == nil || out.Receipt == nil {
		return
	}
	for _, ref := range out.Receipt.OrderRefs {
		if ref.OrderID == *out.OrderID {
			return
		}
	}

	paid, method := "paid", backend.MethodWallet.PaymentType()
	if _, err := o.orders.UpdateOrder(ctx, *out.OrderID, backend.OrderUpdate{PaymentStatus: &paid, PaymentMethod: &method}); err != nil {
		o.logger.Warnw("mark order paid", "order_id", *out.OrderID, "transaction_uuid", out.TransactionID, "error", err)
	}
}
