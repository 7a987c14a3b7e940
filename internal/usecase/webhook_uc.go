package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/model"
	"careercraft-billing/internal/domain/ports/repository"
	"careercraft-billing/internal/infra/logging"
	"careercraft-billing/internal/infra/metrics"
	"careercraft-billing/internal/infra/redis"
)

var _ WebhookUseCase = (*webhookUC)(nil)

// WebhookUseCase processes gateway events after the HTTP layer has verified
// the webhook signature and acknowledged the delivery. Every handler is
// idempotent: the gateway redelivers at least once.
type WebhookUseCase interface {
	Process(ctx context.Context, ev *model.WebhookEvent) error
}

type webhookUC struct {
	payments repository.PaymentRepository
	subRepo  repository.SubscriptionRepository
	subs     SubscriptionUseCase
	tm       repository.TransactionManager
	replay   *redis.ReplayCache
	log      *zerolog.Logger
}

func NewWebhookUseCase(
	payments repository.PaymentRepository,
	subRepo repository.SubscriptionRepository,
	subs SubscriptionUseCase,
	tm repository.TransactionManager,
	replay *redis.ReplayCache,
	logger *zerolog.Logger,
) *webhookUC {
	ucLog := logger.With().Str("component", "WebhookUC").Logger()
	return &webhookUC{
		payments: payments,
		subRepo:  subRepo,
		subs:     subs,
		tm:       tm,
		replay:   replay,
		log:      &ucLog,
	}
}

func (u *webhookUC) Process(ctx context.Context, ev *model.WebhookEvent) error {
	if ev == nil {
		return domain.ErrInvalidArgument
	}
	start := time.Now()
	log := logging.With(ctx, u.log)

	// fast replay check; best-effort only, the database check below is the
	// authoritative one
	if u.replay != nil && ev.ID != "" {
		first, err := u.replay.FirstDelivery(ctx, ev.ID)
		if err != nil {
			log.Warn().Err(err).Str("event_id", ev.ID).Msg("replay cache unavailable, falling through to store check")
		} else if !first {
			metrics.IncWebhookEvent(ev.Kind.String(), "duplicate")
			log.Debug().Str("event_id", ev.ID).Msg("replayed webhook delivery, skipped")
			return nil
		}
	}

	var err error
	outcome := "processed"
	switch ev.Kind {
	case model.EventPaymentCaptured, model.EventOrderPaid, model.EventSubscriptionCharged:
		outcome, err = u.handleCaptured(ctx, ev)
	case model.EventPaymentAuthorized:
		outcome, err = u.handleAuthorized(ctx, ev)
	case model.EventPaymentFailed:
		outcome, err = u.handleFailed(ctx, ev)
	case model.EventSubscriptionCancelled:
		outcome, err = u.handleCancelled(ctx, ev)
	case model.EventSubscriptionCompleted:
		outcome, err = u.handleCompleted(ctx, ev)
	default:
		// unrecognized kinds are acknowledged and dropped; the gateway adds
		// event types without notice
		log.Info().Str("event", ev.RawKind).Msg("unhandled webhook event kind")
		outcome = "ignored"
	}

	if err != nil {
		outcome = "error"
		log.Error().Err(err).Str("event", ev.RawKind).Str("order_id", ev.OrderID).Msg("webhook processing failed")
	}
	metrics.IncWebhookEvent(ev.Kind.String(), outcome)
	metrics.ObserveWebhookDuration(ev.Kind.String(), time.Since(start).Seconds())
	return err
}

// handleCaptured converges the record to captured and activates the
// subscription, mirroring the synchronous verification path. The signature
// step is already done (webhook body HMAC); amount and order cross-checks are
// re-applied against the event payload.
func (u *webhookUC) handleCaptured(ctx context.Context, ev *model.WebhookEvent) (string, error) {
	rec, err := u.payments.FindByOrderID(ctx, nil, ev.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// a verified-sender event for an order this system never created;
			// ack and alert, never 500 (the gateway would retry forever)
			logging.SecurityAlert(u.log, "webhook_unknown_order").
				Str("order_id", ev.OrderID).
				Str("payment_id", ev.PaymentID).
				Msg("webhook for unknown order")
			return "rejected", nil
		}
		return "error", err
	}

	now := time.Now()
	rec.MarkWebhookReceived(now)

	if rec.Processed() {
		// already captured by the synchronous path or a prior delivery
		if err := u.payments.Save(ctx, nil, rec); err != nil {
			return "error", err
		}
		return "duplicate", nil
	}

	if ev.Amount != 0 && ev.Amount != rec.Amount {
		u.failFromWebhook(ctx, rec, model.PaymentError{
			Code:        model.ErrCodeAmountMismatch,
			Description: fmt.Sprintf("expected %d, webhook reported %d", rec.Amount, ev.Amount),
			Source:      "webhook",
			Step:        "amount",
		}, now)
		metrics.IncSecurityAlert("amount")
		logging.SecurityAlert(u.log, "webhook_amount_mismatch").
			Str("order_id", ev.OrderID).
			Int64("expected", rec.Amount).
			Int64("actual", ev.Amount).
			Msg("webhook amount does not match payment record")
		return "rejected", nil
	}

	var swapped bool
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := rec.MarkCaptured(ev.PaymentID, "", ev.Method, now); err != nil {
			return err
		}
		swapped, err = u.payments.UpdateStatusIf(ctx, tx, rec, []model.PaymentStatus{
			model.PaymentStatusCreated, model.PaymentStatusPending, model.PaymentStatusAuthorized,
		})
		if err != nil || !swapped {
			return err
		}
		_, err = u.subs.Activate(ctx, tx, rec)
		return err
	})
	if err != nil {
		return "error", err
	}
	if !swapped {
		// a concurrent path moved the record between the read and the CAS
		return "duplicate", nil
	}

	metrics.IncPayment(string(model.PaymentStatusCaptured))
	metrics.AddPaymentRevenue(rec.Currency, rec.Amount)
	u.log.Info().
		Str("order_id", ev.OrderID).
		Str("payment_id", ev.PaymentID).
		Int64("amount", rec.Amount).
		Msg("payment captured via webhook")
	return "processed", nil
}

func (u *webhookUC) handleAuthorized(ctx context.Context, ev *model.WebhookEvent) (string, error) {
	rec, err := u.payments.FindByOrderID(ctx, nil, ev.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "rejected", nil
		}
		return "error", err
	}
	now := time.Now()
	rec.MarkWebhookReceived(now)
	if rec.Processed() || rec.Terminal() {
		if err := u.payments.Save(ctx, nil, rec); err != nil {
			return "error", err
		}
		return "duplicate", nil
	}
	if err := rec.MarkAuthorized(ev.PaymentID, now); err != nil {
		return "duplicate", nil
	}
	swapped, err := u.payments.UpdateStatusIf(ctx, nil, rec, []model.PaymentStatus{
		model.PaymentStatusCreated, model.PaymentStatusPending,
	})
	if err != nil {
		return "error", err
	}
	if !swapped {
		return "duplicate", nil
	}
	metrics.IncPayment(string(model.PaymentStatusAuthorized))
	return "processed", nil
}

func (u *webhookUC) handleFailed(ctx context.Context, ev *model.WebhookEvent) (string, error) {
	rec, err := u.payments.FindByOrderID(ctx, nil, ev.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "rejected", nil
		}
		return "error", err
	}
	now := time.Now()
	rec.MarkWebhookReceived(now)
	if rec.Terminal() {
		if err := u.payments.Save(ctx, nil, rec); err != nil {
			return "error", err
		}
		return "duplicate", nil
	}
	u.failFromWebhook(ctx, rec, model.PaymentError{
		Code:        model.ErrCodeGatewayFailure,
		Description: ev.ErrorDesc,
		Source:      "webhook",
		Step:        "gateway_status",
		Reason:      ev.ErrorCode,
	}, now)
	u.log.Info().
		Str("order_id", ev.OrderID).
		Str("reason", ev.ErrorCode).
		Msg("payment failed via webhook")
	return "processed", nil
}

// resolveSubscriber finds the user a subscription lifecycle event targets.
// Older deliveries reference an order; real subscription.* payloads carry only
// the subscription entity, whose notes hold the user id this system stamps on
// every gateway order. An empty user id means the event is unresolvable.
func (u *webhookUC) resolveSubscriber(ctx context.Context, ev *model.WebhookEvent) (string, string, error) {
	if ev.OrderID != "" {
		rec, err := u.payments.FindByOrderID(ctx, nil, ev.OrderID)
		if err == nil {
			return rec.UserID, "", nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return "", "error", err
		}
	}
	if ev.UserID != "" {
		return ev.UserID, "", nil
	}
	logging.SecurityAlert(u.log, "webhook_unresolvable_subscription").
		Str("event", ev.RawKind).
		Str("subscription_id", ev.GatewaySubID).
		Msg("subscription event names no known order or user")
	return "", "rejected", nil
}

func (u *webhookUC) handleCancelled(ctx context.Context, ev *model.WebhookEvent) (string, error) {
	userID, outcome, err := u.resolveSubscriber(ctx, ev)
	if userID == "" {
		return outcome, err
	}
	_, err = u.subs.Cancel(ctx, userID, "gateway")
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "rejected", nil
		}
		if errors.Is(err, domain.ErrNoActiveSubscription) {
			return "duplicate", nil
		}
		return "error", err
	}
	return "processed", nil
}

// handleCompleted marks the end of a gateway-side mandate: the current term
// runs out, then the expiry sweep downgrades. Only auto-renew is switched off.
func (u *webhookUC) handleCompleted(ctx context.Context, ev *model.WebhookEvent) (string, error) {
	userID, outcome, err := u.resolveSubscriber(ctx, ev)
	if userID == "" {
		return outcome, err
	}
	sub, err := u.subRepo.FindByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "rejected", nil
		}
		return "error", err
	}
	if !sub.AutoRenew {
		return "duplicate", nil
	}
	sub.AutoRenew = false
	sub.NextBillingAt = nil
	sub.UpdatedAt = time.Now()
	if err := u.subRepo.Save(ctx, nil, sub); err != nil {
		return "error", err
	}
	return "processed", nil
}

func (u *webhookUC) failFromWebhook(ctx context.Context, rec *model.PaymentRecord, e model.PaymentError, now time.Time) {
	if err := rec.MarkFailed(e, now); err != nil {
		return
	}
	swapped, err := u.payments.UpdateStatusIf(ctx, nil, rec, []model.PaymentStatus{
		model.PaymentStatusCreated, model.PaymentStatusPending, model.PaymentStatusAuthorized,
	})
	if err != nil {
		u.log.Error().Err(err).Str("order_id", rec.GatewayOrderID).Msg("persist failed status")
		return
	}
	if swapped {
		metrics.IncPayment(string(model.PaymentStatusFailed))
	}
}
