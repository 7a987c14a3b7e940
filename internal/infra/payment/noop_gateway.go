package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/ports/adapter"
)

// NoopGateway is an in-memory stand-in for dev mode and tests. Orders are
// accepted and payments report captured at the stored order amount.
type NoopGateway struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]*adapter.GatewayOrder
	payments map[string]*adapter.GatewayPayment
}

var _ adapter.PaymentGateway = (*NoopGateway)(nil)

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{
		orders:   make(map[string]*adapter.GatewayOrder),
		payments: make(map[string]*adapter.GatewayPayment),
	}
}

func (g *NoopGateway) Name() string  { return "noop" }
func (g *NoopGateway) KeyID() string { return "noop_key" }

func (g *NoopGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*adapter.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	o := &adapter.GatewayOrder{
		ID:       fmt.Sprintf("order_noop%06d", g.seq),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}
	g.orders[o.ID] = o
	return o, nil
}

// AddPayment seeds a payment object; tests use it to script gateway truth.
func (g *NoopGateway) AddPayment(p *adapter.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = p
}

func (g *NoopGateway) FetchPayment(ctx context.Context, paymentID string) (*adapter.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (g *NoopGateway) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*adapter.GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.payments[paymentID]; !ok {
		return nil, domain.ErrNotFound
	}
	g.seq++
	return &adapter.GatewayRefund{
		ID:        fmt.Sprintf("rfnd_noop%06d", g.seq),
		PaymentID: paymentID,
		Amount:    amount,
		Status:    "processed",
		CreatedAt: time.Now(),
	}, nil
}
