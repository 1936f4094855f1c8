// Package reconcile turns backend payment and pending-amount data into what a
// payer sees: how each payment was allocated and how much is still owed.
package reconcile

import (
	"errors"
	"fmt"

	"laundry/internal/backend"
	"laundry/internal/validate"

	"github.com/shopspring/decimal"
)

// MinAmount is the smallest payable amount.
var MinAmount = decimal.RequireFromString("0.01")

// ErrConfirmationRequired means the amount exceeds the selected branch's
// pending total. The payer has to confirm before it is sent.
var ErrConfirmationRequired = errors.New("amount exceeds branch pending amount")

type Kind string

const (
	KindAllocated  Kind = "allocated"
	KindAdvance    Kind = "advance"
	KindUnapplied  Kind = "unapplied"
	KindInProgress Kind = "in_progress"
)

// Line is one payment as rendered in history. Applied and Excess are kept
// apart once the payment has order refs.
type Line struct {
	Payment   backend.PaymentAttempt `json:"payment"`
	Kind      Kind                   `json:"kind"`
	Applied   decimal.Decimal        `json:"amount_applied"`
	Excess    decimal.Decimal        `json:"excess_amount"`
	DataError string                 `json:"data_error,omitempty"`
}

// BuildLines allocates every payment. A negative excess is reported on the
// line as a data error; it is not clamped to zero.
func BuildLines(payments []backend.PaymentAttempt) []Line {
	lines := make([]Line, 0, len(payments))
	for _, p := range payments {
		lines = append(lines, buildLine(p))
	}
	return lines
}

func buildLine(p backend.PaymentAttempt) Line {
	l := Line{Payment: p, Applied: decimal.Zero, Excess: decimal.Zero}

	switch {
	case p.Status != backend.StatusComplete:
		l.Kind = KindInProgress
		return l
	case len(p.OrderRefs) == 0 && p.Source == backend.SourceBillPayment:
		l.Kind = KindAdvance
		l.Excess = p.Amount
		return l
	case len(p.OrderRefs) == 0:
		l.Kind = KindUnapplied
		l.Excess = p.Amount
		return l
	}

	l.Kind = KindAllocated
	l.Applied = p.Applied()
	l.Excess = p.Amount.Sub(l.Applied)
	if l.Excess.IsNegative() {
		l.DataError = fmt.Sprintf("applied %s exceeds payment amount %s",
			l.Applied.StringFixed(2), p.Amount.StringFixed(2))
	}
	return l
}

// Totals sums a page of lines.
type Totals struct {
	Paid    decimal.Decimal `json:"paid"`
	Applied decimal.Decimal `json:"applied"`
	Credit  decimal.Decimal `json:"credit"`
	Errors  int             `json:"data_errors"`
}

func Summarize(lines []Line) Totals {
	t := Totals{Paid: decimal.Zero, Applied: decimal.Zero, Credit: decimal.Zero}
	for _, l := range lines {
		if l.DataError != "" {
			t.Errors++
			continue
		}
		if l.Kind == KindInProgress {
			continue
		}
		t.Paid = t.Paid.Add(l.Payment.Amount)
		t.Applied = t.Applied.Add(l.Applied)
		t.Credit = t.Credit.Add(l.Excess)
	}
	return t
}

// Pending is what a payer owes: the backend aggregate, and the selected
// branch's share when a branch is selected.
type Pending struct {
	Global     decimal.Decimal         `json:"global"`
	BranchID   *int64                  `json:"branch_id,omitempty"`
	BranchName string                  `json:"branch_name,omitempty"`
	Branch     *decimal.Decimal        `json:"branch,omitempty"`
	Branches   []backend.BranchPending `json:"branches"`
}

// PendingFor reads pending amounts straight from the backend stats. It never
// re-adds order lines. A selected branch with no entry owes nothing.
func PendingFor(stats *backend.OrderStats, branchID *int64) Pending {
	p := Pending{
		Global:   stats.Stats.PendingAmount,
		Branches: stats.BranchPendingAmounts,
	}
	if p.Branches == nil {
		p.Branches = []backend.BranchPending{}
	}
	if branchID == nil {
		return p
	}

	id := *branchID
	p.BranchID = &id
	amount := decimal.Zero
	for _, b := range stats.BranchPendingAmounts {
		if b.BranchID == id {
			amount = b.PendingAmount
			p.BranchName = b.BranchName
			break
		}
	}
	p.Branch = &amount
	return p
}

// CheckAmount validates a bill payment before anything is sent. Going over the
// global pending total is refused outright; going over the selected branch's
// pending total returns ErrConfirmationRequired unless confirmed is set.
func CheckAmount(amount decimal.Decimal, pending Pending, confirmed bool) error {
	switch {
	case amount.LessThan(MinAmount):
		return validate.Field("amount", "must be at least "+MinAmount.String())
	case !amount.Equal(amount.Round(2)):
		return validate.Field("amount", "must have at most two decimals")
	case amount.GreaterThan(pending.Global):
		return validate.Field("amount", "cannot exceed the total pending amount of "+pending.Global.StringFixed(2))
	case pending.Branch != nil && amount.GreaterThan(*pending.Branch) && !confirmed:
		return fmt.Errorf("%w: %s > %s", ErrConfirmationRequired, amount.StringFixed(2), pending.Branch.StringFixed(2))
	}
	return nil
}
