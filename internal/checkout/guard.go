package checkout

import (
	"context"
	"errors"
	"sync"

	"laundry/internal/backend"
	"laundry/internal/payments"

	"golang.org/x/sync/singleflight"
)

const maxRemembered = 1024

type verifyResult struct {
	payment *backend.PaymentAttempt
	err     error
}

// Guard makes sure a gateway return is verified once. Concurrent returns for
// the same transaction share one backend call, and a return that comes back
// after verification finished gets the remembered result instead of a new
// call. Only settled outcomes are remembered: a verified payment or a
// rejection. Outages, network failures and cancellations are retried by the
// next return.
type Guard struct {
	group singleflight.Group

	mu    sync.Mutex
	done  map[string]verifyResult
	order []string
}

func NewGuard() *Guard {
	return &Guard{done: make(map[string]verifyResult)}
}

func (g *Guard) Do(ctx context.Context, transactionID string, verify func(context.Context) (*backend.PaymentAttempt, error)) (*backend.PaymentAttempt, error) {
	if r, ok := g.remembered(transactionID); ok {
		return r.payment, r.err
	}

	v, err, _ := g.group.Do(transactionID, func() (any, error) {
		if r, ok := g.remembered(transactionID); ok {
			return r.payment, r.err
		}
		p, err := verify(ctx)
		if ctx.Err() == nil && settled(err) {
			g.remember(transactionID, verifyResult{payment: p, err: err})
		}
		return p, err
	})
	p, _ := v.(*backend.PaymentAttempt)
	return p, err
}

func settled(err error) bool {
	return err == nil || errors.Is(err, payments.ErrVerificationRejected)
}

func (g *Guard) remembered(transactionID string) (verifyResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.done[transactionID]
	return r, ok
}

func (g *Guard) remember(transactionID string, r verifyResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.done[transactionID]; !ok {
		g.order = append(g.order, transactionID)
	}
	g.done[transactionID] = r

	for len(g.order) > maxRemembered {
		delete(g.done, g.order[0])
		g.order = g.order[1:]
	}
}
