package drafts

import (
	"time"

	"laundry/internal/backend"
)

// Phase is where a checkout stands relative to the gateway redirect.
type Phase string

const (
	PhaseDrafted    Phase = "drafted"
	PhaseRedirected Phase = "redirected"
	PhaseReturned   Phase = "returned"
	PhaseFailed     Phase = "failed"
	PhaseFinalized  Phase = "finalized"
)

// Slot is everything that has to survive the trip to the gateway and back.
// Across the redirect only the phase and correlation ids are relied on; the
// draft itself is read again from here when the browser comes back.
type Slot struct {
	Draft         *OrderDraft    `json:"draft,omitempty"`
	Phase         Phase          `json:"phase"`
	Method        backend.Method `json:"method,omitempty"`
	Source        backend.Source `json:"source,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	OrderID       *int64         `json:"order_id,omitempty"`
	AttemptKey    string         `json:"attempt_key,omitempty"`
	BillKey       string         `json:"bill_key,omitempty"`
	LastStatus    string         `json:"last_status,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	SucceededTx   string         `json:"succeeded_tx,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Put replaces whatever draft was live. Only one draft exists per session; a
// new one discards the previous draft together with its correlation ids. The
// "payment succeeded" flag and the bill payment key are not draft state and
// are kept.
func (s *Slot) Put(d *OrderDraft) {
	*s = Slot{
		Draft:       d,
		Phase:       PhaseDrafted,
		BillKey:     s.BillKey,
		SucceededTx: s.SucceededTx,
	}
}

// Redirected records that the browser is about to leave for the gateway.
func (s *Slot) Redirected(method backend.Method, source backend.Source, transactionID string) {
	s.Phase = PhaseRedirected
	s.Method = method
	s.Source = source
	s.TransactionID = transactionID
	s.LastStatus = ""
	s.Reason = ""
}

// Failed records a failed return. The draft is left in place.
func (s *Slot) Failed(status, reason string) {
	s.Phase = PhaseFailed
	s.LastStatus = status
	s.Reason = reason
}
