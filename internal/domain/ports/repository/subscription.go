package repository

import (
	"context"
	"time"

	"careercraft-billing/internal/domain/model"
)

// SubscriptionRepository is the port for the one-per-user subscription
// document.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindByUserID(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByReferralCode(ctx context.Context, tx Tx, code string) (*model.Subscription, error)

	// ListExpiredActive returns subscriptions whose paid term has lapsed, for
	// the expiry sweep: active, trial and cancelled rows with a past expiry.
	// A cancelled subscription keeps its paid access until the term ends and
	// is downgraded here, not at cancellation time.
	ListExpiredActive(ctx context.Context, tx Tx, asOf time.Time, limit int) ([]*model.Subscription, error)
	// ListExpiringWithin returns active subscriptions expiring within the
	// window, for renewal reminders.
	ListExpiringWithin(ctx context.Context, tx Tx, asOf time.Time, within time.Duration, limit int) ([]*model.Subscription, error)
	// ListCreditResetDue returns active/trial subscriptions whose ledger was
	// last reset before the given month boundary.
	ListCreditResetDue(ctx context.Context, tx Tx, monthStart time.Time, limit int) ([]*model.Subscription, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
