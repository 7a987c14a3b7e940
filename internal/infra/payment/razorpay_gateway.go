package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/ports/adapter"
)

// RazorpayGateway implements adapter.PaymentGateway using direct HTTP calls
// against the Razorpay v1 API with basic auth.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

var _ adapter.PaymentGateway = (*RazorpayGateway)(nil)

// NewRazorpayGateway creates a gateway client. Credentials are validated at
// construction so a misconfigured deployment fails at startup, not on the
// first purchase.
func NewRazorpayGateway(keyID, keySecret string, timeout time.Duration) (*RazorpayGateway, error) {
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay key id and secret are required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RazorpayGateway{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   "https://api.razorpay.com/v1",
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (g *RazorpayGateway) Name() string  { return "razorpay" }
func (g *RazorpayGateway) KeyID() string { return g.keyID }

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayPaymentResponse struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
}

type razorpayRefundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*adapter.GatewayOrder, error) {
	body := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}

	var out razorpayOrderResponse
	if err := g.do(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return nil, err
	}
	return &adapter.GatewayOrder{
		ID:       out.ID,
		Amount:   out.Amount,
		Currency: out.Currency,
		Receipt:  out.Receipt,
		Status:   out.Status,
	}, nil
}

func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (*adapter.GatewayPayment, error) {
	if paymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var out razorpayPaymentResponse
	if err := g.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &out); err != nil {
		return nil, err
	}
	return &adapter.GatewayPayment{
		ID:        out.ID,
		OrderID:   out.OrderID,
		Amount:    out.Amount,
		Currency:  out.Currency,
		Status:    out.Status,
		Method:    out.Method,
		ErrorCode: out.ErrorCode,
		ErrorDesc: out.ErrorDescription,
		CreatedAt: time.Unix(out.CreatedAt, 0),
	}, nil
}

func (g *RazorpayGateway) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*adapter.GatewayRefund, error) {
	if paymentID == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	body := map[string]interface{}{"amount": amount}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var out razorpayRefundResponse
	if err := g.do(ctx, http.MethodPost, "/payments/"+paymentID+"/refund", body, &out); err != nil {
		return nil, err
	}
	return &adapter.GatewayRefund{
		ID:        out.ID,
		PaymentID: out.PaymentID,
		Amount:    out.Amount,
		Status:    out.Status,
		CreatedAt: time.Unix(out.CreatedAt, 0),
	}, nil
}

// do runs one API call. Gateway rejections are wrapped with the gateway's own
// message; transport failures map to ErrGatewayUnavailable so callers can tell
// an inconclusive attempt from a rejection.
func (g *RazorpayGateway) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var apiErr razorpayErrorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("razorpay error: code %s, message: %s", apiErr.Error.Code, apiErr.Error.Description)
		}
		return fmt.Errorf("razorpay error: status %d, body: %s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(raw))
	}
	return nil
}

// SetBaseURL overrides the API endpoint; used by tests against httptest.
func (g *RazorpayGateway) SetBaseURL(u string) { g.baseURL = u }
