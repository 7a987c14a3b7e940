package adapter

import (
	"context"
	"time"
)

// GatewayOrder is the provider-side purchase intent created before payment.
type GatewayOrder struct {
	ID       string
	Amount   int64 // paise
	Currency string
	Receipt  string
	Status   string
}

// GatewayPayment is the authoritative payment object fetched from the
// provider. Client-supplied amount/status are never trusted; this is.
type GatewayPayment struct {
	ID        string
	OrderID   string
	Amount    int64
	Currency  string
	Status    string // created|authorized|captured|refunded|failed
	Method    string
	ErrorCode string
	ErrorDesc string
	CreatedAt time.Time
}

// GatewayRefund is the provider-side result of a refund request.
type GatewayRefund struct {
	ID        string
	PaymentID string
	Amount    int64
	Status    string
	CreatedAt time.Time
}

// PaymentGateway is the hex port for the payment provider. Implementations
// are explicitly constructed and injected; there is no package-level client.
type PaymentGateway interface {
	Name() string
	KeyID() string

	// CreateOrder registers a purchase intent with the provider.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*GatewayOrder, error)
	// FetchPayment loads the authoritative payment object by provider id.
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
	// Refund issues a refund for a captured/authorized payment.
	Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*GatewayRefund, error)
}
