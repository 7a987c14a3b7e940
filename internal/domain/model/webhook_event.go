package model

import "time"

// EventKind is the closed set of gateway webhook event types this system
// understands. Anything else maps to EventUnknown and is acknowledged but
// ignored, so new gateway events surface as a visible gap rather than a crash.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPaymentCaptured
	EventPaymentFailed
	EventPaymentAuthorized
	EventOrderPaid
	EventSubscriptionCharged
	EventSubscriptionCancelled
	EventSubscriptionCompleted
)

// ParseEventKind maps the gateway's wire event name to an EventKind.
func ParseEventKind(s string) EventKind {
	switch s {
	case "payment.captured":
		return EventPaymentCaptured
	case "payment.failed":
		return EventPaymentFailed
	case "payment.authorized":
		return EventPaymentAuthorized
	case "order.paid":
		return EventOrderPaid
	case "subscription.charged":
		return EventSubscriptionCharged
	case "subscription.cancelled":
		return EventSubscriptionCancelled
	case "subscription.completed":
		return EventSubscriptionCompleted
	default:
		return EventUnknown
	}
}

func (k EventKind) String() string {
	switch k {
	case EventPaymentCaptured:
		return "payment.captured"
	case EventPaymentFailed:
		return "payment.failed"
	case EventPaymentAuthorized:
		return "payment.authorized"
	case EventOrderPaid:
		return "order.paid"
	case EventSubscriptionCharged:
		return "subscription.charged"
	case EventSubscriptionCancelled:
		return "subscription.cancelled"
	case EventSubscriptionCompleted:
		return "subscription.completed"
	default:
		return "unknown"
	}
}

// WebhookEvent is the parsed, verified gateway callback handed to the
// background processor.
type WebhookEvent struct {
	ID           string // gateway event id, used for replay detection
	Kind         EventKind
	RawKind      string // wire name, kept for logging unknown events
	OrderID      string
	PaymentID    string
	GatewaySubID string // gateway subscription entity id, subscription.* events only
	UserID       string // owner carried in the subscription entity notes
	Amount       int64
	Currency     string
	Method       string
	ErrorCode    string
	ErrorDesc    string
	ReceivedAt   time.Time
	SourceIP     string
}
