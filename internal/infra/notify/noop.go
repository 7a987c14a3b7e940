package notify

import (
	"context"

	"github.com/rs/zerolog"

	"careercraft-billing/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*LogNotifier)(nil)

// LogNotifier is the sandbox/dev stand-in: every notice becomes a log line.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	nLog := logger.With().Str("component", "LogNotifier").Logger()
	return &LogNotifier{log: &nLog}
}

func (n *LogNotifier) SendRenewalReminder(_ context.Context, userID string, daysLeft int) error {
	n.log.Info().Str("user_id", userID).Int("days_left", daysLeft).Msg("renewal reminder")
	return nil
}

func (n *LogNotifier) SendPaymentReceipt(_ context.Context, userID, orderID string, amount int64, currency string) error {
	n.log.Info().Str("user_id", userID).Str("order_id", orderID).Int64("amount", amount).Str("currency", currency).Msg("payment receipt")
	return nil
}

func (n *LogNotifier) SendPaymentFailed(_ context.Context, userID, orderID, reason string) error {
	n.log.Info().Str("user_id", userID).Str("order_id", orderID).Str("reason", reason).Msg("payment failed notice")
	return nil
}
