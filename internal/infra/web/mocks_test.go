//go:build !integration

package web

import (
	"context"
	"sync"
	"time"

	"careercraft-billing/internal/domain/model"
	"careercraft-billing/internal/domain/ports/repository"
	"careercraft-billing/internal/usecase"
)

type mockPaymentUC struct {
	createOrderFn   func(ctx context.Context, userID string, plan model.PlanTier, cycle model.BillingCycle, code string, meta usecase.RequestMeta) (*usecase.OrderResult, error)
	verifyFn        func(ctx context.Context, orderID, paymentID, signature string) (*usecase.VerifyResult, error)
	idempotencyFn   func(ctx context.Context, orderID string) (usecase.IdempotencyResult, error)
	refundFn        func(ctx context.Context, orderID string, amount int64, reason string) (*model.PaymentRecord, error)
	historyFn       func(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error)
	lastCreateUser  string
	lastRefundOrder string
}

func (m *mockPaymentUC) CreateOrder(ctx context.Context, userID string, plan model.PlanTier, cycle model.BillingCycle, code string, meta usecase.RequestMeta) (*usecase.OrderResult, error) {
	m.lastCreateUser = userID
	return m.createOrderFn(ctx, userID, plan, cycle, code, meta)
}

func (m *mockPaymentUC) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*usecase.VerifyResult, error) {
	return m.verifyFn(ctx, orderID, paymentID, signature)
}

func (m *mockPaymentUC) CheckIdempotency(ctx context.Context, orderID string) (usecase.IdempotencyResult, error) {
	return m.idempotencyFn(ctx, orderID)
}

func (m *mockPaymentUC) RefundPayment(ctx context.Context, orderID string, amount int64, reason string) (*model.PaymentRecord, error) {
	m.lastRefundOrder = orderID
	return m.refundFn(ctx, orderID, amount, reason)
}

func (m *mockPaymentUC) BillingHistory(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error) {
	return m.historyFn(ctx, userID, limit)
}

func (m *mockPaymentUC) ReconcileStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	return 0, nil
}

type mockSubUC struct {
	usageFn   func(ctx context.Context, userID string) (*usecase.UsageReport, error)
	cancelFn  func(ctx context.Context, userID, reason string) (*model.Subscription, error)
	previewFn func(ctx context.Context, userID string, plan model.PlanTier, cycle model.BillingCycle) (*usecase.UpgradeQuote, error)
	trialFn   func(ctx context.Context, userID string, plan model.PlanTier) (*model.Subscription, error)
	deductFn  func(ctx context.Context, userID string, amount int, feature string) (*usecase.DeductResult, error)
	codeFn    func(ctx context.Context, userID string) (string, error)
	applyFn   func(ctx context.Context, userID, code string) error
}

func (m *mockSubUC) GetOrCreate(ctx context.Context, userID string) (*model.Subscription, error) {
	return model.NewFreeSubscription("sub_mock", userID, time.Now()), nil
}

func (m *mockSubUC) Activate(ctx context.Context, tx repository.Tx, payment *model.PaymentRecord) (*model.Subscription, error) {
	return nil, nil
}

func (m *mockSubUC) Cancel(ctx context.Context, userID, reason string) (*model.Subscription, error) {
	return m.cancelFn(ctx, userID, reason)
}

func (m *mockSubUC) UpgradePreview(ctx context.Context, userID string, plan model.PlanTier, cycle model.BillingCycle) (*usecase.UpgradeQuote, error) {
	return m.previewFn(ctx, userID, plan, cycle)
}

func (m *mockSubUC) StartTrial(ctx context.Context, userID string, plan model.PlanTier) (*model.Subscription, error) {
	return m.trialFn(ctx, userID, plan)
}

func (m *mockSubUC) CancelTrial(ctx context.Context, userID string) (*model.Subscription, error) {
	return m.cancelFn(ctx, userID, "")
}

func (m *mockSubUC) DeductCredits(ctx context.Context, userID string, amount int, feature string) (*usecase.DeductResult, error) {
	return m.deductFn(ctx, userID, amount, feature)
}

func (m *mockSubUC) Usage(ctx context.Context, userID string) (*usecase.UsageReport, error) {
	return m.usageFn(ctx, userID)
}

func (m *mockSubUC) EnsureReferralCode(ctx context.Context, userID string) (string, error) {
	return m.codeFn(ctx, userID)
}

func (m *mockSubUC) ApplyReferral(ctx context.Context, userID, code string) error {
	return m.applyFn(ctx, userID, code)
}

func (m *mockSubUC) ExpireDue(ctx context.Context, asOf time.Time) (int, error) { return 0, nil }

func (m *mockSubUC) ResetMonthlyCredits(ctx context.Context, monthStart time.Time) (int, error) {
	return 0, nil
}

func (m *mockSubUC) SendRenewalReminders(ctx context.Context, asOf time.Time) (int, error) {
	return 0, nil
}

// mockWebhookUC records processed events so tests can wait for the pool.
type mockWebhookUC struct {
	mu     sync.Mutex
	events []*model.WebhookEvent
	done   chan struct{}
}

func newMockWebhookUC() *mockWebhookUC {
	return &mockWebhookUC{done: make(chan struct{}, 16)}
}

func (m *mockWebhookUC) Process(ctx context.Context, ev *model.WebhookEvent) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func (m *mockWebhookUC) processed() []*model.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.WebhookEvent, len(m.events))
	copy(out, m.events)
	return out
}
