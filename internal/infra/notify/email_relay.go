package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"careercraft-billing/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*EmailRelay)(nil)

// EmailRelay posts notification requests to the main application's mail
// relay, which owns templates and user contact details. This service only
// knows user ids and event data.
type EmailRelay struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zerolog.Logger
}

func NewEmailRelay(baseURL, apiKey string, timeout time.Duration, logger *zerolog.Logger) *EmailRelay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	relayLog := logger.With().Str("component", "EmailRelay").Logger()
	return &EmailRelay{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     &relayLog,
	}
}

type relayMessage struct {
	UserID   string                 `json:"userId"`
	Template string                 `json:"template"`
	Data     map[string]interface{} `json:"data"`
}

func (e *EmailRelay) SendRenewalReminder(ctx context.Context, userID string, daysLeft int) error {
	return e.post(ctx, relayMessage{
		UserID:   userID,
		Template: "renewal_reminder",
		Data:     map[string]interface{}{"daysLeft": daysLeft},
	})
}

func (e *EmailRelay) SendPaymentReceipt(ctx context.Context, userID, orderID string, amount int64, currency string) error {
	return e.post(ctx, relayMessage{
		UserID:   userID,
		Template: "payment_receipt",
		Data:     map[string]interface{}{"orderId": orderID, "amount": amount, "currency": currency},
	})
}

func (e *EmailRelay) SendPaymentFailed(ctx context.Context, userID, orderID, reason string) error {
	return e.post(ctx, relayMessage{
		UserID:   userID,
		Template: "payment_failed",
		Data:     map[string]interface{}{"orderId": orderID, "reason": reason},
	})
}

func (e *EmailRelay) post(ctx context.Context, msg relayMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/internal/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify relay: unexpected status %d", resp.StatusCode)
	}
	return nil
}
