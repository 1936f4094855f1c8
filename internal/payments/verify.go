package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"laundry/internal/backend"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultVerifyRetries = 3
	DefaultVerifyDelay   = 2 * time.Second
)

// VerifyBackend is the slice of the backend client the verifier needs.
type VerifyBackend interface {
	VerifyEsewa(ctx context.Context, in backend.VerifyRequest) (*backend.PaymentAttempt, error)
	ProcessPayment(ctx context.Context, transactionUUID string) (*backend.PaymentAttempt, error)
}

// Verifier confirms a gateway transaction with the backend.
type Verifier struct {
	backend    VerifyBackend
	logger     *zap.SugaredLogger
	maxRetries int
	delay      time.Duration
}

func NewVerifier(b VerifyBackend, logger *zap.SugaredLogger) *Verifier {
	return &Verifier{
		backend:    b,
		logger:     logger,
		maxRetries: DefaultVerifyRetries,
		delay:      DefaultVerifyDelay,
	}
}

// WithRetryPolicy overrides the 503 retry bound and delay. The bound is capped
// at DefaultVerifyRetries.
func (v *Verifier) WithRetryPolicy(maxRetries int, delay time.Duration) *Verifier {
	v.maxRetries = min(max(maxRetries, 0), DefaultVerifyRetries)
	v.delay = delay
	return v
}

// Verify calls the backend once, and again up to maxRetries times with a fixed
// delay while it answers 503. Every other failure is returned immediately.
// Cancelling ctx stops a pending retry.
func (v *Verifier) Verify(ctx context.Context, transactionID string, amount decimal.Decimal, transactionCode string) (*backend.PaymentAttempt, error) {
	req := backend.VerifyRequest{
		TransactionUUID: transactionID,
		Amount:          amount,
		TransactionCode: transactionCode,
	}

	for attempt := 0; ; attempt++ {
		p, err := v.backend.VerifyEsewa(ctx, req)
		if err == nil {
			return v.accept(ctx, transactionID, amount, p)
		}

		if !errors.Is(err, backend.ErrServiceUnavailable) {
			return nil, classify(err)
		}
		if attempt >= v.maxRetries {
			return nil, fmt.Errorf("%w: %d attempts: %w", ErrGatewayUnavailable, attempt+1, err)
		}

		v.logger.Warnw("verify unavailable, retrying", "transaction_uuid", transactionID, "attempt", attempt+1, "delay", v.delay)
		if err := sleepCtx(ctx, v.delay); err != nil {
			return nil, err
		}
	}
}

func (v *Verifier) accept(ctx context.Context, transactionID string, amount decimal.Decimal, p *backend.PaymentAttempt) (*backend.PaymentAttempt, error) {
	if p == nil {
		// Verified without a receipt; the process call is idempotent.
		var err error
		p, err = v.backend.ProcessPayment(ctx, transactionID)
		if err != nil {
			return nil, classify(err)
		}
	}

	if p.TransactionID != transactionID {
		return nil, fmt.Errorf("%w: receipt for %q, expected %q", ErrVerificationRejected, p.TransactionID, transactionID)
	}
	if p.Status != backend.StatusComplete {
		return nil, fmt.Errorf("%w: status %s", ErrVerificationRejected, p.Status)
	}
	if !amount.IsZero() && !p.Amount.Equal(amount) {
		return nil, fmt.Errorf("%w: amount mismatch: paid %s, recorded %s", ErrVerificationRejected, amount, p.Amount)
	}
	return p, nil
}

func classify(err error) error {
	var (
		apiErr *backend.APIError
		netErr *backend.NetworkError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	case errors.Is(err, backend.ErrMalformedResponse):
		return fmt.Errorf("%w: %w", ErrMalformedGatewayPayload, err)
	case errors.As(err, &apiErr) && apiErr.IsClientError():
		return fmt.Errorf("%w: %w", ErrVerificationRejected, err)
	default:
		return fmt.Errorf("verify payment: %w", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
