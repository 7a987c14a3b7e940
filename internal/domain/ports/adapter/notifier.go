package adapter

import "context"

// Notifier is the port for outbound user notices. Delivery is best-effort;
// failures must never block or roll back a financial state change.
type Notifier interface {
	SendRenewalReminder(ctx context.Context, userID string, daysLeft int) error
	SendPaymentReceipt(ctx context.Context, userID, orderID string, amount int64, currency string) error
	SendPaymentFailed(ctx context.Context, userID, orderID, reason string) error
}
