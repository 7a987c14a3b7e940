package repository

import (
	"context"
	"time"

	"careercraft-billing/internal/domain/model"
)

// PaymentRepository is the port for payment records. The gateway order id is
// unique at the store layer; that constraint plus the idempotency check is the
// at-most-once mechanism for financial side effects.
type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.PaymentRecord) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentRecord, error)
	FindByOrderID(ctx context.Context, tx Tx, orderID string) (*model.PaymentRecord, error)
	FindByGatewayPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.PaymentRecord, error)

	// UpdateStatusIf is the application-level compare-and-swap: the write
	// applies only while the current status is one of `fromStatuses`. Returns
	// false when the record was already moved by a concurrent path.
	UpdateStatusIf(ctx context.Context, tx Tx, p *model.PaymentRecord, fromStatuses []model.PaymentStatus) (bool, error)

	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.PaymentRecord, error)
	ListStaleOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
	SumCapturedByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
}
