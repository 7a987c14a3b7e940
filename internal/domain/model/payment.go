package model

import (
	"time"

	"careercraft-billing/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"    // gateway order exists, no attempt yet
	PaymentStatusPending    PaymentStatus = "pending"    // attempt in flight at gateway
	PaymentStatusAuthorized PaymentStatus = "authorized" // funds held, not yet captured
	PaymentStatusCaptured   PaymentStatus = "captured"   // terminal success
	PaymentStatusFailed     PaymentStatus = "failed"     // terminal failure
	PaymentStatusRefunded   PaymentStatus = "refunded"   // terminal, reachable from authorized/captured
)

// Machine-readable failure codes persisted on the record for audit.
const (
	ErrCodeSignatureVerificationFailed = "SIGNATURE_VERIFICATION_FAILED"
	ErrCodeAmountMismatch              = "AMOUNT_MISMATCH"
	ErrCodeOrderIDMismatch             = "ORDER_ID_MISMATCH"
	ErrCodeGatewayFailure              = "GATEWAY_FAILURE"
)

// PaymentError carries the structured failure detail for a failed record.
type PaymentError struct {
	Code        string
	Description string
	Source      string // e.g. "verification", "webhook", "gateway"
	Step        string
	Reason      string
}

// PaymentRefund carries the refund detail for a refunded record.
type PaymentRefund struct {
	Amount     int64
	Reason     string
	GatewayRef string
	RefundedAt time.Time
}

// PaymentRecord is the durable record of one purchase attempt. It is never
// deleted; failed attempts require a fresh record with a new gateway order id.
type PaymentRecord struct {
	ID               string // internal UUID
	GatewayOrderID   string // unique, immutable once set
	GatewayPaymentID string // set at most once, on authorized/captured
	GatewaySignature string

	UserID         string
	SubscriptionID string
	InvoiceID      string

	Plan     PlanTier
	Cycle    BillingCycle
	Amount   int64 // paise
	Currency string

	DiscountAmount        int64
	DiscountCode          string
	ReferralCreditApplied int64

	Receipt string
	Method  string // card/upi/netbanking as reported by the gateway

	Status PaymentStatus

	Error  *PaymentError
	Refund *PaymentRefund

	Attempts          int
	WebhookReceived   bool
	WebhookReceivedAt *time.Time
	CapturedAt        *time.Time

	RequestIP        string
	RequestUserAgent string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether no further status transition is allowed.
func (p *PaymentRecord) Terminal() bool {
	switch p.Status {
	case PaymentStatusCaptured, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Processed reports whether the payment reached a success state. Repeated
// delivery of the triggering event for a processed record must be a no-op.
func (p *PaymentRecord) Processed() bool {
	return p.Status == PaymentStatusAuthorized || p.Status == PaymentStatusCaptured
}

// MarkPending moves created -> pending.
func (p *PaymentRecord) MarkPending(now time.Time) error {
	if p.Status != PaymentStatusCreated {
		return domain.ErrInvalidTransition
	}
	p.Status = PaymentStatusPending
	p.UpdatedAt = now
	return nil
}

// MarkAuthorized records the gateway payment id and moves to authorized.
// The payment id is immutable once set.
func (p *PaymentRecord) MarkAuthorized(paymentID string, now time.Time) error {
	if p.Status != PaymentStatusCreated && p.Status != PaymentStatusPending {
		return domain.ErrInvalidTransition
	}
	if p.GatewayPaymentID != "" && p.GatewayPaymentID != paymentID {
		return domain.ErrInvalidArgument
	}
	p.GatewayPaymentID = paymentID
	p.Status = PaymentStatusAuthorized
	p.UpdatedAt = now
	return nil
}

// MarkCaptured moves created/pending/authorized -> captured, stamping the
// payment id, signature and capture time.
func (p *PaymentRecord) MarkCaptured(paymentID, signature, method string, now time.Time) error {
	switch p.Status {
	case PaymentStatusCreated, PaymentStatusPending, PaymentStatusAuthorized:
	default:
		return domain.ErrInvalidTransition
	}
	if p.GatewayPaymentID != "" && p.GatewayPaymentID != paymentID {
		return domain.ErrInvalidArgument
	}
	p.GatewayPaymentID = paymentID
	p.GatewaySignature = signature
	p.Method = method
	p.Status = PaymentStatusCaptured
	p.CapturedAt = &now
	p.UpdatedAt = now
	return nil
}

// MarkFailed moves any non-terminal state to failed with structured detail.
func (p *PaymentRecord) MarkFailed(e PaymentError, now time.Time) error {
	if p.Status == PaymentStatusCaptured || p.Status == PaymentStatusRefunded {
		return domain.ErrInvalidTransition
	}
	p.Status = PaymentStatusFailed
	p.Error = &e
	p.UpdatedAt = now
	return nil
}

// MarkRefunded moves authorized/captured -> refunded.
func (p *PaymentRecord) MarkRefunded(amount int64, reason, gatewayRef string, now time.Time) error {
	if p.Status != PaymentStatusAuthorized && p.Status != PaymentStatusCaptured {
		return domain.ErrInvalidTransition
	}
	p.Status = PaymentStatusRefunded
	p.Refund = &PaymentRefund{Amount: amount, Reason: reason, GatewayRef: gatewayRef, RefundedAt: now}
	p.UpdatedAt = now
	return nil
}

// MarkWebhookReceived stamps first webhook delivery; later deliveries keep the
// original timestamp.
func (p *PaymentRecord) MarkWebhookReceived(now time.Time) {
	if p.WebhookReceived {
		return
	}
	p.WebhookReceived = true
	p.WebhookReceivedAt = &now
	p.UpdatedAt = now
}
