package drafts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("checkout slot not found")
	ErrNoDraft  = errors.New("no order draft")
)

// Store keeps one Slot per session.
type Store interface {
	// Get returns ErrNotFound when the session has no slot.
	Get(ctx context.Context, sessionID string) (*Slot, error)
	// Save overwrites the slot.
	Save(ctx context.Context, sessionID string, slot *Slot) error
	// Update runs fn on the current slot and writes the result atomically with
	// respect to other Update calls for the same session. If fn returns an
	// error nothing is written. Returns ErrNotFound when there is no slot.
	Update(ctx context.Context, sessionID string, fn func(*Slot) error) (*Slot, error)
	Clear(ctx context.Context, sessionID string) error
	// Expire deletes slots not touched since before.
	Expire(ctx context.Context, before time.Time) (int64, error)
}

// Take detaches the draft and retires its attempt key. It succeeds at most
// once per draft: a second call gets ErrNoDraft. A non-empty transactionID
// raises the "payment succeeded" flag for the next page view.
func Take(ctx context.Context, s Store, sessionID, transactionID string) (*OrderDraft, error) {
	var taken *OrderDraft
	_, err := s.Update(ctx, sessionID, func(slot *Slot) error {
		if slot.Draft == nil {
			return ErrNoDraft
		}
		taken = slot.Draft
		slot.Draft = nil
		slot.Phase = PhaseFinalized
		slot.OrderID = nil
		slot.AttemptKey = ""
		slot.Reason = ""
		if transactionID != "" {
			slot.TransactionID = transactionID
			slot.SucceededTx = transactionID
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoDraft
	}
	if err != nil {
		return nil, err
	}
	return taken, nil
}

// PopSucceeded reads and clears the "payment succeeded" flag. It returns ""
// when the flag is not set.
func PopSucceeded(ctx context.Context, s Store, sessionID string) (string, error) {
	var tx string
	_, err := s.Update(ctx, sessionID, func(slot *Slot) error {
		if slot.SucceededTx == "" {
			return errNothingToPop
		}
		tx = slot.SucceededTx
		slot.SucceededTx = ""
		return nil
	})
	if errors.Is(err, errNothingToPop) || errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return tx, err
}

var errNothingToPop = errors.New("nothing to pop")

// GetOrEmpty is Get, with a fresh empty slot in place of ErrNotFound.
func GetOrEmpty(ctx context.Context, s Store, sessionID string) (*Slot, error) {
	slot, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return &Slot{}, nil
	}
	return slot, err
}
