package payments

import (
	"context"
	"fmt"

	"laundry/internal/backend"
)

type PaymentManager struct {
	gateways map[backend.Method]Gateway
}

func NewPaymentManager() *PaymentManager {
	return &PaymentManager{gateways: make(map[backend.Method]Gateway)}
}

// NewDefaultManager wires eSewa for wallet and the offline adapter for bank and cash.
func NewDefaultManager(b Initiator, esewa *EsewaAdapter) *PaymentManager {
	m := NewPaymentManager()
	offline := NewOfflineAdapter(b)
	m.RegisterGateway(backend.MethodWallet, esewa)
	m.RegisterGateway(backend.MethodBank, offline)
	m.RegisterGateway(backend.MethodCash, offline)
	return m
}

func (m *PaymentManager) RegisterGateway(method backend.Method, gateway Gateway) {
	m.gateways[method] = gateway
}

func (m *PaymentManager) Initiate(ctx context.Context, req PaymentRequest) (*Initiation, error) {
	gateway, ok := m.gateways[req.Method]
	if !ok {
		return nil, fmt.Errorf("gateway not registered: %s", req.Method)
	}
	return gateway.Initiate(ctx, req)
}
