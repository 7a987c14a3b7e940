package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/model"
	"careercraft-billing/internal/domain/ports/adapter"
	"careercraft-billing/internal/domain/ports/repository"
	"careercraft-billing/internal/infra/logging"
	"careercraft-billing/internal/infra/metrics"
	sigverify "careercraft-billing/internal/infra/payment"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// RequestMeta is the audit metadata captured from the originating request.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// PlanDetails is the pricing breakdown returned with a created order.
type PlanDetails struct {
	Plan               model.PlanTier     `json:"plan"`
	Cycle              model.BillingCycle `json:"billingCycle"`
	Name               string             `json:"name"`
	BaseAmount         int64              `json:"baseAmount"`
	DiscountPercentage int                `json:"discountPercentage"`
	DiscountAmount     int64              `json:"discountAmount"`
}

// OrderResult is returned by CreateOrder; the Payment Record already exists
// before the caller sees this.
type OrderResult struct {
	GatewayOrderID  string
	PaymentRecordID string
	Receipt         string
	Amount          int64
	Currency        string
	KeyID           string
	PlanDetails     PlanDetails
}

// VerifyResult is the outcome of the synchronous verification gate.
type VerifyResult struct {
	Success     bool
	IsDuplicate bool
	Payment     *model.PaymentRecord
}

// IdempotencyResult reports whether an order id already reached a success
// state. Processed is true iff status is captured or authorized.
type IdempotencyResult struct {
	Exists    bool
	Processed bool
	Status    model.PaymentStatus
}

type PaymentUseCase interface {
	CreateOrder(ctx context.Context, userID string, plan model.PlanTier, cycle model.BillingCycle, discountCode string, meta RequestMeta) (*OrderResult, error)
	VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*VerifyResult, error)
	CheckIdempotency(ctx context.Context, orderID string) (IdempotencyResult, error)
	RefundPayment(ctx context.Context, orderID string, amount int64, reason string) (*model.PaymentRecord, error)
	BillingHistory(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error)
	// ReconcileStale finalizes records whose webhook and synchronous verify
	// were both lost, by re-reading gateway truth.
	ReconcileStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// Discount codes are a small static table; the larger of the code discount
// and the cycle discount wins, never both.
var discountCodes = map[string]int{
	"WELCOME10": 10,
	"STUDENT15": 15,
	"LAUNCH25":  25,
}

type paymentUC struct {
	payments  repository.PaymentRepository
	subs      SubscriptionUseCase
	gateway   adapter.PaymentGateway
	tm        repository.TransactionManager
	notifier  adapter.Notifier
	keySecret string
	currency  string
	log       *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	subs SubscriptionUseCase,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	keySecret string,
	currency string,
	logger *zerolog.Logger,
) *paymentUC {
	ucLog := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{
		payments:  payments,
		subs:      subs,
		gateway:   gateway,
		tm:        tm,
		notifier:  notifier,
		keySecret: keySecret,
		currency:  currency,
		log:       &ucLog,
	}
}

// newReceipt builds a human-auditable receipt embedding plan, cycle, a
// timestamp and a random suffix.
func newReceipt(plan model.PlanTier, cycle model.BillingCycle, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0))
	suffix := strings.ToLower(id.String())
	return fmt.Sprintf("rcpt_%s_%s_%d_%s", plan, cycle, now.Unix(), suffix[len(suffix)-8:])
}

func (u *paymentUC) CreateOrder(ctx context.Context, userID string, plan model.PlanTier, cycle model.BillingCycle, discountCode string, meta RequestMeta) (*OrderResult, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if plan == model.PlanFree {
		return nil, fmt.Errorf("%w: free plan cannot be purchased", domain.ErrInvalidArgument)
	}
	def, ok := model.LookupPlan(plan)
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, plan)
	}
	if !cycle.Valid() {
		return nil, fmt.Errorf("%w: unknown billing cycle %q", domain.ErrInvalidArgument, cycle)
	}

	codePercent := 0
	code := strings.ToUpper(strings.TrimSpace(discountCode))
	if code != "" {
		p, ok := discountCodes[code]
		if !ok {
			return nil, fmt.Errorf("%w: unknown discount code", domain.ErrInvalidArgument)
		}
		codePercent = p
	}

	base := def.Price(model.CycleMonthly)
	if cycle == model.CycleAnnual {
		base = 12 * def.MonthlyPrice
	}
	amount, applied := def.PriceWithDiscount(cycle, codePercent)

	now := time.Now()
	sub, err := u.subs.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	receipt := newReceipt(plan, cycle, now)
	order, err := u.gateway.CreateOrder(ctx, amount, u.currency, receipt, map[string]string{
		"user_id": userID,
		"plan":    string(plan),
		"cycle":   string(cycle),
	})
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("gateway order creation rejected: %w", err)
	}

	// The record must exist before any payment can be attempted against it.
	rec := &model.PaymentRecord{
		ID:               uuid.NewString(),
		GatewayOrderID:   order.ID,
		UserID:           userID,
		SubscriptionID:   sub.ID,
		Plan:             plan,
		Cycle:            cycle,
		Amount:           amount,
		Currency:         u.currency,
		DiscountAmount:   base - amount,
		DiscountCode:     code,
		Receipt:          receipt,
		Status:           model.PaymentStatusCreated,
		Attempts:         1,
		RequestIP:        meta.IP,
		RequestUserAgent: meta.UserAgent,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := u.payments.Save(ctx, nil, rec); err != nil {
		return nil, err
	}

	metrics.IncPayment(string(model.PaymentStatusCreated))
	u.log.Info().
		Str("order_id", order.ID).
		Str("user_id", userID).
		Str("plan", string(plan)).
		Int64("amount", amount).
		Msg("order created")

	return &OrderResult{
		GatewayOrderID:  order.ID,
		PaymentRecordID: rec.ID,
		Receipt:         receipt,
		Amount:          amount,
		Currency:        u.currency,
		KeyID:           u.gateway.KeyID(),
		PlanDetails: PlanDetails{
			Plan:               plan,
			Cycle:              cycle,
			Name:               def.Name,
			BaseAmount:         base,
			DiscountPercentage: applied,
			DiscountAmount:     base - amount,
		},
	}, nil
}

func (u *paymentUC) CheckIdempotency(ctx context.Context, orderID string) (IdempotencyResult, error) {
	rec, err := u.payments.FindByOrderID(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return IdempotencyResult{}, nil
		}
		return IdempotencyResult{}, err
	}
	return IdempotencyResult{
		Exists:    true,
		Processed: rec.Processed(),
		Status:    rec.Status,
	}, nil
}

// VerifyPayment is the sequential verification gate for client-submitted
// confirmations. Each step short-circuits on failure; security-relevant
// rejections mark the record failed with a machine-readable code and log at
// alert severity with expected and actual values.
func (u *paymentUC) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*VerifyResult, error) {
	start := time.Now()
	log := logging.With(ctx, u.log)

	// 1. all inputs present
	if orderID == "" || paymentID == "" || signature == "" {
		metrics.IncVerify("fail", "missing_params")
		return nil, fmt.Errorf("%w: orderId, paymentId and signature are required", domain.ErrInvalidArgument)
	}

	// 2. record lookup; an unknown order id references a payment this system
	// never created, a potential forgery
	rec, err := u.payments.FindByOrderID(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncVerify("fail", "not_found")
			logging.SecurityAlert(u.log, "unknown_order").
				Str("order_id", orderID).
				Msg("verification for an order this system never created")
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	// 3. idempotency short-circuit: already processed means no re-verify and
	// no gateway round trip
	if rec.Processed() {
		metrics.IncVerify("duplicate", "")
		metrics.ObserveVerifyDuration("duplicate", time.Since(start).Seconds())
		log.Info().Str("order_id", orderID).Str("status", string(rec.Status)).Msg("duplicate verification, short-circuited")
		return &VerifyResult{Success: true, IsDuplicate: true, Payment: rec}, nil
	}

	now := time.Now()

	// 4. signature
	if !sigverify.VerifyPaymentSignature(orderID, paymentID, signature, u.keySecret) {
		u.failRecord(ctx, rec, model.PaymentError{
			Code:        model.ErrCodeSignatureVerificationFailed,
			Description: "payment signature did not match",
			Source:      "verification",
			Step:        "signature",
		}, now)
		metrics.IncVerify("fail", "bad_signature")
		metrics.IncSecurityAlert("signature")
		logging.SecurityAlert(u.log, "signature_mismatch").
			Str("order_id", orderID).
			Str("payment_id", paymentID).
			Msg("payment signature verification failed")
		return nil, domain.ErrSignatureMismatch
	}

	// 5. authoritative gateway fetch; never trust client-supplied amount or
	// status
	gw, err := u.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		// inconclusive, not a rejection: do not mark failed
		metrics.IncVerify("fail", "gateway_error")
		return nil, fmt.Errorf("fetch payment from gateway: %w", err)
	}

	// 6. exact integer amount equality
	if gw.Amount != rec.Amount {
		u.failRecord(ctx, rec, model.PaymentError{
			Code:        model.ErrCodeAmountMismatch,
			Description: fmt.Sprintf("expected %d, gateway reported %d", rec.Amount, gw.Amount),
			Source:      "verification",
			Step:        "amount",
		}, now)
		metrics.IncVerify("fail", "amount_mismatch")
		metrics.IncSecurityAlert("amount")
		logging.SecurityAlert(u.log, "amount_mismatch").
			Str("order_id", orderID).
			Int64("expected", rec.Amount).
			Int64("actual", gw.Amount).
			Msg("gateway amount does not match payment record")
		return nil, domain.ErrAmountMismatch
	}

	// 7. the gateway's payment must reference the claimed order
	if gw.OrderID != orderID {
		u.failRecord(ctx, rec, model.PaymentError{
			Code:        model.ErrCodeOrderIDMismatch,
			Description: fmt.Sprintf("expected %s, gateway reported %s", orderID, gw.OrderID),
			Source:      "verification",
			Step:        "order_id",
		}, now)
		metrics.IncVerify("fail", "order_mismatch")
		metrics.IncSecurityAlert("order_id")
		logging.SecurityAlert(u.log, "order_id_mismatch").
			Str("order_id", orderID).
			Str("gateway_order_id", gw.OrderID).
			Str("payment_id", paymentID).
			Msg("gateway payment references a different order")
		return nil, domain.ErrOrderIDMismatch
	}

	// 8. gateway status gate; other states are transient, not fraud, so the
	// record is not marked failed
	if gw.Status != "captured" && gw.Status != "authorized" {
		metrics.IncVerify("fail", "gateway_status")
		return nil, fmt.Errorf("payment is not captured at gateway (status=%s)", gw.Status)
	}

	// 9. capture + activate, atomic in effect. The conditional update is the
	// concurrency control: if the webhook path already captured the record,
	// this becomes a duplicate.
	var activated *model.PaymentRecord
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := rec.MarkCaptured(paymentID, signature, gw.Method, now); err != nil {
			return err
		}
		swapped, err := u.payments.UpdateStatusIf(ctx, tx, rec, []model.PaymentStatus{
			model.PaymentStatusCreated, model.PaymentStatusPending, model.PaymentStatusAuthorized,
		})
		if err != nil {
			return err
		}
		if !swapped {
			// lost the race to the webhook path; converged already
			activated = nil
			return nil
		}
		activated = rec
		_, err = u.subs.Activate(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if activated == nil {
		fresh, err := u.payments.FindByOrderID(ctx, nil, orderID)
		if err != nil {
			return nil, err
		}
		metrics.IncVerify("duplicate", "")
		return &VerifyResult{Success: true, IsDuplicate: true, Payment: fresh}, nil
	}

	metrics.IncPayment(string(model.PaymentStatusCaptured))
	metrics.AddPaymentRevenue(rec.Currency, rec.Amount)
	metrics.IncVerify("ok", "")
	metrics.ObserveVerifyDuration("ok", time.Since(start).Seconds())
	log.Info().
		Str("order_id", orderID).
		Str("payment_id", paymentID).
		Int64("amount", rec.Amount).
		Msg("payment captured")

	// best-effort; never fails the capture
	if err := u.notifier.SendPaymentReceipt(ctx, rec.UserID, rec.GatewayOrderID, rec.Amount, rec.Currency); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("receipt notification failed")
	}

	return &VerifyResult{Success: true, Payment: rec}, nil
}

// failRecord marks the record failed and persists, ignoring a lost CAS race:
// a record another path already moved to a terminal state keeps that state.
func (u *paymentUC) failRecord(ctx context.Context, rec *model.PaymentRecord, e model.PaymentError, now time.Time) {
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
	if !swapped {
		return
	}
	metrics.IncPayment(string(model.PaymentStatusFailed))
	if err := u.notifier.SendPaymentFailed(ctx, rec.UserID, rec.GatewayOrderID, e.Code); err != nil {
		u.log.Warn().Err(err).Str("order_id", rec.GatewayOrderID).Msg("failure notification failed")
	}
}

func (u *paymentUC) RefundPayment(ctx context.Context, orderID string, amount int64, reason string) (*model.PaymentRecord, error) {
	rec, err := u.payments.FindByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if !rec.Processed() {
		return nil, fmt.Errorf("%w: refund requires a captured or authorized payment", domain.ErrInvalidTransition)
	}
	if amount <= 0 || amount > rec.Amount {
		return nil, domain.ErrInvalidArgument
	}

	gwRefund, err := u.gateway.Refund(ctx, rec.GatewayPaymentID, amount, map[string]string{"reason": reason})
	if err != nil {
		return nil, fmt.Errorf("gateway refund: %w", err)
	}

	now := time.Now()
	if err := rec.MarkRefunded(amount, reason, gwRefund.ID, now); err != nil {
		return nil, err
	}
	swapped, err := u.payments.UpdateStatusIf(ctx, nil, rec, []model.PaymentStatus{
		model.PaymentStatusAuthorized, model.PaymentStatusCaptured,
	})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, domain.ErrInvalidTransition
	}

	metrics.IncPayment(string(model.PaymentStatusRefunded))
	u.log.Info().
		Str("order_id", orderID).
		Str("refund_id", gwRefund.ID).
		Int64("amount", amount).
		Msg("payment refunded")
	return rec, nil
}

func (u *paymentUC) BillingHistory(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.payments.ListByUser(ctx, nil, userID, limit)
}

// ReconcileStale sweeps records stuck in created/pending and converges them
// against gateway truth. Covers the case where both the client callback and
// the webhook were lost.
func (u *paymentUC) ReconcileStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := u.payments.ListStaleOlderThan(ctx, nil, olderThan, limit)
	if err != nil {
		return 0, err
	}
	converged := 0
	for _, rec := range stale {
		if rec.GatewayPaymentID == "" {
			// nothing ever attempted; leave for the order to expire
			continue
		}
		gw, err := u.gateway.FetchPayment(ctx, rec.GatewayPaymentID)
		if err != nil {
			u.log.Warn().Err(err).Str("order_id", rec.GatewayOrderID).Msg("reconcile: gateway fetch failed")
			continue
		}
		now := time.Now()
		switch gw.Status {
		case "captured", "authorized":
			if gw.Amount != rec.Amount || gw.OrderID != rec.GatewayOrderID {
				u.log.Warn().Str("order_id", rec.GatewayOrderID).Msg("reconcile: cross-check mismatch, skipping")
				continue
			}
			err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
				if err := rec.MarkCaptured(gw.ID, "", gw.Method, now); err != nil {
					return err
				}
				swapped, err := u.payments.UpdateStatusIf(ctx, tx, rec, []model.PaymentStatus{
					model.PaymentStatusCreated, model.PaymentStatusPending, model.PaymentStatusAuthorized,
				})
				if err != nil || !swapped {
					return err
				}
				_, err = u.subs.Activate(ctx, tx, rec)
				return err
			})
			if err != nil {
				u.log.Error().Err(err).Str("order_id", rec.GatewayOrderID).Msg("reconcile: capture failed")
				continue
			}
			converged++
		case "failed":
			u.failRecord(ctx, rec, model.PaymentError{
				Code:        model.ErrCodeGatewayFailure,
				Description: gw.ErrorDesc,
				Source:      "reconciler",
				Step:        "gateway_status",
				Reason:      gw.ErrorCode,
			}, now)
			converged++
		}
	}
	return converged, nil
}
