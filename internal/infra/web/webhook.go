package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"careercraft-billing/internal/domain/model"
	"careercraft-billing/internal/infra/logging"
	"careercraft-billing/internal/infra/metrics"
	sigverify "careercraft-billing/internal/infra/payment"
	"careercraft-billing/internal/infra/worker"
)

// webhookBodyLimit caps the accepted payload; gateway events are small.
const webhookBodyLimit = 1 << 20

// webhookEnvelope mirrors the gateway's delivery format. Only the fields this
// system reads are declared; everything else passes through undecoded.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID        string `json:"id"`
				OrderID   string `json:"order_id"`
				Amount    int64  `json:"amount"`
				Currency  string `json:"currency"`
				Status    string `json:"status"`
				Method    string `json:"method"`
				ErrorCode string `json:"error_code"`
				ErrorDesc string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
			} `json:"entity"`
		} `json:"order"`
		Subscription struct {
			Entity struct {
				ID     string          `json:"id"`
				Status string          `json:"status"`
				Notes  json.RawMessage `json:"notes"`
			} `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// webhookHandler is the gateway callback endpoint. The contract with the
// gateway's retry loop:
//   - bad signature: 400, the delivery is not ours to ack
//   - verified but malformed or unknown: 200 with a log, retrying cannot help
//   - verified and parsed: enqueue, then 200; process off the request path
//   - queue full: 503, the gateway redelivers later
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("x-razorpay-signature")
	if !sigverify.VerifyWebhookSignature(body, signature, s.webhookSecret) {
		metrics.IncWebhookEvent("unknown", "rejected")
		metrics.IncSecurityAlert("webhook_signature")
		logging.SecurityAlert(s.log, "webhook_signature_mismatch").
			Str("remote", r.RemoteAddr).
			Msg("webhook signature verification failed")
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// verified sender, broken payload: ack so the gateway stops retrying
		s.log.Error().Err(err).Msg("malformed webhook payload from verified sender")
		metrics.IncWebhookEvent("unknown", "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := envelopeToEvent(&env, r)

	// enqueue first, ack second: the gateway only redelivers on a non-2xx,
	// so a 200 may not be written until the event is owned by the pool.
	// Processing itself still happens off the request path and is idempotent
	// against the redelivery the 200 prevents.
	traceID := w.Header().Get("X-Request-Id")
	if err := s.pool.Submit(func(ctx context.Context) error {
		return s.webhookUC.Process(logging.WithTraceID(ctx, traceID), ev)
	}); err == worker.ErrQueueFull {
		s.log.Warn().Str("event", ev.RawKind).Str("order_id", ev.OrderID).Msg("webhook queue full, asking the gateway to redeliver")
		http.Error(w, "Service busy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func envelopeToEvent(env *webhookEnvelope, r *http.Request) *model.WebhookEvent {
	p := env.Payload.Payment.Entity
	ev := &model.WebhookEvent{
		ID:         r.Header.Get("x-razorpay-event-id"),
		Kind:       model.ParseEventKind(env.Event),
		RawKind:    env.Event,
		OrderID:    p.OrderID,
		PaymentID:  p.ID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Method:     p.Method,
		ErrorCode:  p.ErrorCode,
		ErrorDesc:  p.ErrorDesc,
		ReceivedAt: time.Now(),
		SourceIP:   r.RemoteAddr,
	}
	// order.paid carries the order entity instead of a payment entity
	if ev.OrderID == "" && env.Payload.Order.Entity.ID != "" {
		ev.OrderID = env.Payload.Order.Entity.ID
		if ev.Amount == 0 {
			ev.Amount = env.Payload.Order.Entity.Amount
		}
	}
	// subscription.* events carry a subscription entity, usually with no
	// payment entity at all; the owner travels in the entity notes
	if sub := env.Payload.Subscription.Entity; sub.ID != "" {
		ev.GatewaySubID = sub.ID
		ev.UserID = subscriptionNoteUser(sub.Notes)
	}
	return ev
}

// subscriptionNoteUser pulls the user id this system wrote into the order and
// subscription notes. The gateway serializes empty notes as an array, so the
// field cannot be decoded as a map up front.
func subscriptionNoteUser(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var notes map[string]string
	if err := json.Unmarshal(raw, &notes); err != nil {
		return ""
	}
	return notes["user_id"]
}
