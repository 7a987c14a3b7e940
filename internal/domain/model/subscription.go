package model

import (
	"time"

	"careercraft-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
)

// UpgradeEvent is one entry of the append-only plan change log.
type UpgradeEvent struct {
	FromPlan PlanTier
	ToPlan   PlanTier
	Date     time.Time
	Reason   string
}

// CreditLedger tracks the monthly AI credit allotment. Enterprise sets Total
// to CreditsUnlimited and skips all ledger math.
type CreditLedger struct {
	Total       int
	Used        int
	Remaining   int
	LastResetAt time.Time
}

// UsageCounters are the per-month product usage numbers, reset in lockstep by
// the monthly reset job.
type UsageCounters struct {
	ResumesCreated    int
	AIAnalyses        int
	InterviewSessions int
	Portfolios        int
}

// Subscription is the single long-lived entitlement document per user.
type Subscription struct {
	ID     string
	UserID string // unique

	Plan   PlanTier
	Status SubscriptionStatus
	Cycle  BillingCycle

	StartDate     *time.Time
	ExpiryDate    *time.Time
	NextBillingAt *time.Time
	AutoRenew     bool

	IsTrial    bool
	TrialStart *time.Time
	TrialEnd   *time.Time
	TrialUsed  bool // one trial per user, ever

	Credits CreditLedger
	Usage   UsageCounters

	ReferralCode   string
	ReferredBy     string
	ReferralCredit int64
	ReferralCount  int

	LastPaymentID     string
	LastPaymentAt     *time.Time
	LastPaymentAmount int64

	CancelledAt  *time.Time
	CancelReason string

	UpgradeHistory []UpgradeEvent

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFreeSubscription is the lazily-created default entitlement.
func NewFreeSubscription(id, userID string, now time.Time) *Subscription {
	free, _ := LookupPlan(PlanFree)
	return &Subscription{
		ID:     id,
		UserID: userID,
		Plan:   PlanFree,
		Status: SubscriptionStatusActive,
		Cycle:  CycleMonthly,
		Credits: CreditLedger{
			Total:       free.MonthlyCredits,
			Used:        0,
			Remaining:   free.MonthlyCredits,
			LastResetAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Unlimited reports whether the credit ledger is the enterprise sentinel.
func (s *Subscription) Unlimited() bool { return s.Credits.Total == CreditsUnlimited }

// DeductCredits applies a deduction, soft-failing with ErrInsufficientCredits
// when the ledger cannot cover it. The ledger is left untouched on failure and
// never goes negative.
func (s *Subscription) DeductCredits(amount int) error {
	if amount < 0 {
		return domain.ErrInvalidArgument
	}
	if s.Unlimited() {
		return nil
	}
	if s.Credits.Remaining < amount {
		return domain.ErrInsufficientCredits
	}
	s.Credits.Used += amount
	s.Credits.Remaining = s.Credits.Total - s.Credits.Used
	return nil
}

// ResetCredits sets the ledger to the plan's monthly allotment and zeroes the
// monthly usage counters.
func (s *Subscription) ResetCredits(plan Plan, now time.Time) {
	s.Credits = CreditLedger{
		Total:       plan.MonthlyCredits,
		Used:        0,
		Remaining:   plan.MonthlyCredits,
		LastResetAt: now,
	}
	if plan.Unlimited() {
		s.Credits.Remaining = CreditsUnlimited
	}
	s.Usage = UsageCounters{}
	s.UpdatedAt = now
}

// AppendUpgrade records a plan change in the append-only history.
func (s *Subscription) AppendUpgrade(from, to PlanTier, reason string, now time.Time) {
	s.UpgradeHistory = append(s.UpgradeHistory, UpgradeEvent{
		FromPlan: from,
		ToPlan:   to,
		Date:     now,
		Reason:   reason,
	})
}

// DaysRemaining returns whole days until expiry, floored at zero.
func (s *Subscription) DaysRemaining(now time.Time) int {
	if s.ExpiryDate == nil || now.After(*s.ExpiryDate) {
		return 0
	}
	return int(s.ExpiryDate.Sub(now).Hours() / 24)
}
