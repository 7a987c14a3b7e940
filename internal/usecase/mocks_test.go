package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/model"
	"careercraft-billing/internal/domain/ports/adapter"
	"careercraft-billing/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
)

// --- payment repository ---

type mockPaymentRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.PaymentRecord
	saveErr error

	// findHook runs after a FindByOrderID lookup returns, letting a test
	// interleave a competing writer between a read and the following CAS.
	findHook func()
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{byID: map[string]*model.PaymentRecord{}}
}

func clonePayment(p *model.PaymentRecord) *model.PaymentRecord {
	cp := *p
	if p.Error != nil {
		e := *p.Error
		cp.Error = &e
	}
	if p.Refund != nil {
		r := *p.Refund
		cp.Refund = &r
	}
	return &cp
}

func (m *mockPaymentRepo) Save(_ context.Context, _ repository.Tx, p *model.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.byID[p.ID] = clonePayment(p)
	return nil
}

func (m *mockPaymentRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		return clonePayment(p), nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentRepo) FindByOrderID(_ context.Context, _ repository.Tx, orderID string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	var found *model.PaymentRecord
	for _, p := range m.byID {
		if p.GatewayOrderID == orderID {
			found = clonePayment(p)
			break
		}
	}
	hook := m.findHook
	m.mu.Unlock()
	if found == nil {
		return nil, domain.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return found, nil
}

func (m *mockPaymentRepo) FindByGatewayPaymentID(_ context.Context, _ repository.Tx, paymentID string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.GatewayPaymentID == paymentID {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentRepo) UpdateStatusIf(_ context.Context, _ repository.Tx, p *model.PaymentRecord, from []model.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[p.ID]
	if !ok {
		return false, domain.ErrNotFound
	}
	for _, s := range from {
		if cur.Status == s {
			m.byID[p.ID] = clonePayment(p)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPaymentRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, _ int) ([]*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range m.byID {
		if p.UserID == userID {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (m *mockPaymentRepo) ListStaleOlderThan(_ context.Context, _ repository.Tx, olderThan time.Time, _ int) ([]*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range m.byID {
		if (p.Status == model.PaymentStatusCreated || p.Status == model.PaymentStatusPending) && p.CreatedAt.Before(olderThan) {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (m *mockPaymentRepo) SumCapturedByPeriod(_ context.Context, _ repository.Tx, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, p := range m.byID {
		if p.Status == model.PaymentStatusCaptured {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (m *mockPaymentRepo) get(id string) *model.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// --- subscription repository ---

type mockSubRepo struct {
	mu     sync.Mutex
	byUser map[string]*model.Subscription
	saves  int
}

func newMockSubRepo() *mockSubRepo {
	return &mockSubRepo{byUser: map[string]*model.Subscription{}}
}

func cloneSub(s *model.Subscription) *model.Subscription {
	cp := *s
	cp.UpgradeHistory = append([]model.UpgradeEvent(nil), s.UpgradeHistory...)
	return &cp
}

func (m *mockSubRepo) Save(_ context.Context, _ repository.Tx, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byUser[sub.UserID]; ok && cur.ID != sub.ID {
		return domain.ErrAlreadyExists
	}
	if sub.ReferralCode != "" {
		for _, other := range m.byUser {
			if other.ID != sub.ID && other.ReferralCode == sub.ReferralCode {
				return domain.ErrAlreadyExists
			}
		}
	}
	m.byUser[sub.UserID] = cloneSub(sub)
	m.saves++
	return nil
}

func (m *mockSubRepo) FindByUserID(_ context.Context, _ repository.Tx, userID string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byUser[userID]; ok {
		return cloneSub(s), nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockSubRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byUser {
		if s.ID == id {
			return cloneSub(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockSubRepo) FindByReferralCode(_ context.Context, _ repository.Tx, code string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byUser {
		if s.ReferralCode == code {
			return cloneSub(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockSubRepo) ListExpiredActive(_ context.Context, _ repository.Tx, asOf time.Time, _ int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.byUser {
		due := s.Status == model.SubscriptionStatusActive || s.Status == model.SubscriptionStatusTrial ||
			s.Status == model.SubscriptionStatusCancelled
		if due && s.ExpiryDate != nil && s.ExpiryDate.Before(asOf) {
			out = append(out, cloneSub(s))
		}
	}
	return out, nil
}

func (m *mockSubRepo) ListExpiringWithin(_ context.Context, _ repository.Tx, asOf time.Time, within time.Duration, _ int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	edge := asOf.Add(within)
	for _, s := range m.byUser {
		if s.Status != model.SubscriptionStatusActive || s.ExpiryDate == nil {
			continue
		}
		if !s.ExpiryDate.Before(asOf) && s.ExpiryDate.Before(edge) {
			out = append(out, cloneSub(s))
		}
	}
	return out, nil
}

func (m *mockSubRepo) ListCreditResetDue(_ context.Context, _ repository.Tx, monthStart time.Time, _ int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.byUser {
		ok := s.Status == model.SubscriptionStatusActive || s.Status == model.SubscriptionStatusTrial
		if ok && s.Credits.LastResetAt.Before(monthStart) {
			out = append(out, cloneSub(s))
		}
	}
	return out, nil
}

func (m *mockSubRepo) CountByStatus(_ context.Context, _ repository.Tx) (map[model.SubscriptionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, s := range m.byUser {
		out[s.Status]++
	}
	return out, nil
}

func (m *mockSubRepo) get(userID string) *model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUser[userID]
}

func (m *mockSubRepo) put(sub *model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser[sub.UserID] = cloneSub(sub)
}

// --- gateway ---

type mockGateway struct {
	mu       sync.Mutex
	orders   int
	payments map[string]*adapter.GatewayPayment
	orderErr error
	fetchErr error
}

func newMockGateway() *mockGateway {
	return &mockGateway{payments: map[string]*adapter.GatewayPayment{}}
}

func (g *mockGateway) Name() string  { return "mock" }
func (g *mockGateway) KeyID() string { return "rzp_test_mock" }

func (g *mockGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string, _ map[string]string) (*adapter.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	g.orders++
	return &adapter.GatewayOrder{
		ID:       fmt.Sprintf("order_mock%06d", g.orders),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *mockGateway) FetchPayment(_ context.Context, paymentID string) (*adapter.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	if p, ok := g.payments[paymentID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (g *mockGateway) Refund(_ context.Context, paymentID string, amount int64, _ map[string]string) (*adapter.GatewayRefund, error) {
	return &adapter.GatewayRefund{ID: "rfnd_mock000001", PaymentID: paymentID, Amount: amount, Status: "processed"}, nil
}

func (g *mockGateway) addPayment(p adapter.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = &p
}

// --- notifier ---

type mockNotifier struct {
	mu        sync.Mutex
	reminders map[string]int
	receipts  int
	failures  int
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{reminders: map[string]int{}}
}

func (n *mockNotifier) SendRenewalReminder(_ context.Context, userID string, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders[userID]++
	return nil
}

func (n *mockNotifier) SendPaymentReceipt(_ context.Context, _, _ string, _ int64, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts++
	return nil
}

func (n *mockNotifier) SendPaymentFailed(_ context.Context, _, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures++
	return nil
}

// --- tx manager ---

// mockTxManager runs the function directly with a nil handle; the mock repos
// ignore the tx argument.
type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// --- cache ---

type mockCache struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMockCache() *mockCache { return &mockCache{keys: map[string]string{}} }

func (c *mockCache) Ping(context.Context) error { return nil }

func (c *mockCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = fmt.Sprint(value)
	return nil
}

func (c *mockCache) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return false, nil
	}
	c.keys[key] = fmt.Sprint(value)
	return true, nil
}

func (c *mockCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.keys[key]; ok {
		return v, nil
	}
	return "", domain.ErrNotFound
}

func (c *mockCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = "1"
	return 1, nil
}

func (c *mockCache) Expire(context.Context, string, time.Duration) error { return nil }
func (c *mockCache) Del(context.Context, ...string) error                { return nil }
func (c *mockCache) Close() error                                        { return nil }
