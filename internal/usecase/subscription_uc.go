package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/model"
	"careercraft-billing/internal/domain/ports/adapter"
	"careercraft-billing/internal/domain/ports/repository"
	"careercraft-billing/internal/infra/metrics"
	"careercraft-billing/internal/infra/redis"
)

var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// referralBonusPaise is credited to the referrer on the referee's first
// captured payment.
const referralBonusPaise int64 = 10000

// reminderWindows are the days-before-expiry marks at which a renewal
// reminder is sent, largest first.
var reminderWindows = []int{7, 3, 1}

// UpgradeQuote is the prorated price for switching an active paid
// subscription to a new plan or cycle mid-term.
type UpgradeQuote struct {
	CurrentPlan  model.PlanTier
	TargetPlan   model.PlanTier
	TargetCycle  model.BillingCycle
	FullPrice    int64
	UnusedCredit int64
	AmountDue    int64 // max(0, FullPrice - UnusedCredit)
	DaysUsed     int
	DaysTotal    int
}

// DeductResult reports a credit deduction outcome; insufficiency is a soft
// failure, not an error.
type DeductResult struct {
	OK        bool
	Remaining int
	Unlimited bool
}

// UsageReport is the per-user entitlement snapshot returned to clients.
type UsageReport struct {
	Plan       model.PlanTier
	Status     model.SubscriptionStatus
	Credits    model.CreditLedger
	Usage      model.UsageCounters
	ExpiryDate *time.Time
	IsTrial    bool
	Unlimited  bool
}

type SubscriptionUseCase interface {
	GetOrCreate(ctx context.Context, userID string) (*model.Subscription, error)
	// Activate applies a captured payment to the user's subscription. It is
	// idempotent per payment record: re-applying the payment that last
	// activated the subscription is a no-op.
	Activate(ctx context.Context, tx repository.Tx, payment *model.PaymentRecord) (*model.Subscription, error)
	Cancel(ctx context.Context, userID, reason string) (*model.Subscription, error)
	UpgradePreview(ctx context.Context, userID string, plan model.PlanTier, cycle model.BillingCycle) (*UpgradeQuote, error)
	StartTrial(ctx context.Context, userID string, plan model.PlanTier) (*model.Subscription, error)
	CancelTrial(ctx context.Context, userID string) (*model.Subscription, error)
	DeductCredits(ctx context.Context, userID string, amount int, feature string) (*DeductResult, error)
	Usage(ctx context.Context, userID string) (*UsageReport, error)
	EnsureReferralCode(ctx context.Context, userID string) (string, error)
	ApplyReferral(ctx context.Context, userID, code string) error

	// Scheduled entry points.
	ExpireDue(ctx context.Context, asOf time.Time) (int, error)
	ResetMonthlyCredits(ctx context.Context, monthStart time.Time) (int, error)
	SendRenewalReminders(ctx context.Context, asOf time.Time) (int, error)
}

type subscriptionUC struct {
	repo     repository.SubscriptionRepository
	notifier adapter.Notifier
	cache    redis.Client

	prorationMonthDays int
	prorationYearDays  int

	log *zerolog.Logger
}

func NewSubscriptionUseCase(
	repo repository.SubscriptionRepository,
	notifier adapter.Notifier,
	cache redis.Client,
	prorationMonthDays, prorationYearDays int,
	logger *zerolog.Logger,
) *subscriptionUC {
	if prorationMonthDays <= 0 {
		prorationMonthDays = 30
	}
	if prorationYearDays <= 0 {
		prorationYearDays = 365
	}
	ucLog := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		repo:               repo,
		notifier:           notifier,
		cache:              cache,
		prorationMonthDays: prorationMonthDays,
		prorationYearDays:  prorationYearDays,
		log:                &ucLog,
	}
}

// GetOrCreate returns the user's subscription, lazily creating the free-tier
// document on first touch.
func (u *subscriptionUC) GetOrCreate(ctx context.Context, userID string) (*model.Subscription, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	sub, err := u.repo.FindByUserID(ctx, nil, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	sub = model.NewFreeSubscription(uuid.NewString(), userID, time.Now())
	if err := u.repo.Save(ctx, nil, sub); err != nil {
		// two racing first-touches; the unique user_id index arbitrates
		if errors.Is(err, domain.ErrAlreadyExists) {
			return u.repo.FindByUserID(ctx, nil, userID)
		}
		return nil, err
	}
	return sub, nil
}

func (u *subscriptionUC) Activate(ctx context.Context, tx repository.Tx, payment *model.PaymentRecord) (*model.Subscription, error) {
	if payment == nil || payment.UserID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if payment.Status != model.PaymentStatusCaptured {
		return nil, domain.ErrPaymentNotCaptured
	}

	sub, err := u.repo.FindByUserID(ctx, tx, payment.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		sub = model.NewFreeSubscription(uuid.NewString(), payment.UserID, time.Now())
	}

	// idempotency: the payment that last activated this subscription must not
	// extend it a second time
	if sub.LastPaymentID == payment.ID {
		return sub, nil
	}

	now := time.Now()
	firstPaid := sub.LastPaymentID == ""
	prevPlan := sub.Plan

	// renewal of the same plan extends from the current expiry; a plan or
	// cycle change restarts the term from now
	base := now
	if sub.Plan == payment.Plan && sub.Cycle == payment.Cycle &&
		sub.ExpiryDate != nil && sub.ExpiryDate.After(now) && !sub.IsTrial {
		base = *sub.ExpiryDate
	}
	expiry := base.AddDate(0, 1, 0)
	if payment.Cycle == model.CycleAnnual {
		expiry = base.AddDate(1, 0, 0)
	}

	plan, ok := model.LookupPlan(payment.Plan)
	if !ok {
		return nil, fmt.Errorf("%w: payment references unknown plan %q", domain.ErrInvalidArgument, payment.Plan)
	}

	if prevPlan != payment.Plan {
		sub.AppendUpgrade(prevPlan, payment.Plan, "payment", now)
	}
	sub.Plan = payment.Plan
	sub.Cycle = payment.Cycle
	sub.Status = model.SubscriptionStatusActive
	sub.StartDate = &now
	sub.ExpiryDate = &expiry
	sub.NextBillingAt = &expiry
	sub.AutoRenew = true
	sub.IsTrial = false
	sub.CancelledAt = nil
	sub.CancelReason = ""
	sub.LastPaymentID = payment.ID
	sub.LastPaymentAt = &now
	sub.LastPaymentAmount = payment.Amount
	sub.ResetCredits(plan, now)

	if err := u.repo.Save(ctx, tx, sub); err != nil {
		return nil, err
	}

	if firstPaid && sub.ReferredBy != "" {
		if err := u.creditReferrer(ctx, tx, sub.ReferredBy); err != nil {
			// referral credit is best-effort; the activation already happened
			u.log.Warn().Err(err).Str("code", sub.ReferredBy).Msg("referral credit failed")
		}
	}

	u.log.Info().
		Str("user_id", payment.UserID).
		Str("plan", string(payment.Plan)).
		Str("cycle", string(payment.Cycle)).
		Time("expiry", expiry).
		Msg("subscription activated")
	return sub, nil
}

func (u *subscriptionUC) creditReferrer(ctx context.Context, tx repository.Tx, code string) error {
	ref, err := u.repo.FindByReferralCode(ctx, tx, code)
	if err != nil {
		return err
	}
	ref.ReferralCredit += referralBonusPaise
	ref.ReferralCount++
	ref.UpdatedAt = time.Now()
	return u.repo.Save(ctx, tx, ref)
}

// Cancel stops auto-renewal. Paid access continues until the already-paid
// expiry date; the expiry sweep performs the downgrade.
func (u *subscriptionUC) Cancel(ctx context.Context, userID, reason string) (*model.Subscription, error) {
	sub, err := u.repo.FindByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if sub.Plan == model.PlanFree || sub.Status == model.SubscriptionStatusCancelled {
		return nil, domain.ErrNoActiveSubscription
	}
	now := time.Now()
	sub.Status = model.SubscriptionStatusCancelled
	sub.AutoRenew = false
	sub.CancelledAt = &now
	sub.CancelReason = reason
	sub.UpdatedAt = now
	if err := u.repo.Save(ctx, nil, sub); err != nil {
		return nil, err
	}
	u.log.Info().Str("user_id", userID).Str("reason", reason).Msg("subscription cancelled")
	return sub, nil
}

// UpgradePreview quotes the prorated charge for switching plans mid-term. The
// unused value of the current term is credited against the new plan's full
// price; the quote never goes below zero.
func (u *subscriptionUC) UpgradePreview(ctx context.Context, userID string, plan model.PlanTier, cycle model.BillingCycle) (*UpgradeQuote, error) {
	def, ok := model.LookupPlan(plan)
	if !ok || plan == model.PlanFree {
		return nil, fmt.Errorf("%w: invalid target plan %q", domain.ErrInvalidArgument, plan)
	}
	if !cycle.Valid() {
		return nil, fmt.Errorf("%w: invalid billing cycle %q", domain.ErrInvalidArgument, cycle)
	}
	sub, err := u.repo.FindByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	full := def.Price(cycle)
	now := time.Now()

	q := &UpgradeQuote{
		CurrentPlan: sub.Plan,
		TargetPlan:  plan,
		TargetCycle: cycle,
		FullPrice:   full,
		AmountDue:   full,
	}

	// free/expired users and lapsed terms pay full price
	if sub.Plan == model.PlanFree || sub.Status != model.SubscriptionStatusActive ||
		sub.IsTrial || sub.ExpiryDate == nil || !sub.ExpiryDate.After(now) {
		return q, nil
	}

	total := u.prorationMonthDays
	if sub.Cycle == model.CycleAnnual {
		total = u.prorationYearDays
	}
	remaining := sub.DaysRemaining(now)
	if remaining > total {
		remaining = total
	}
	unused := sub.LastPaymentAmount * int64(remaining) / int64(total)
	due := full - unused
	if due < 0 {
		due = 0
	}

	q.UnusedCredit = unused
	q.AmountDue = due
	q.DaysUsed = total - remaining
	q.DaysTotal = total
	return q, nil
}

// StartTrial begins the one-per-user trial of a paid plan. TrialUsed never
// resets, including after cancellation.
func (u *subscriptionUC) StartTrial(ctx context.Context, userID string, plan model.PlanTier) (*model.Subscription, error) {
	def, ok := model.LookupPlan(plan)
	if !ok || plan == model.PlanFree {
		return nil, fmt.Errorf("%w: invalid trial plan %q", domain.ErrInvalidArgument, plan)
	}
	sub, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.TrialUsed {
		return nil, domain.ErrTrialAlreadyUsed
	}
	if sub.Plan != model.PlanFree {
		return nil, fmt.Errorf("%w: trial requires the free plan", domain.ErrInvalidArgument)
	}

	now := time.Now()
	end := now.AddDate(0, 0, model.TrialDays)
	sub.Plan = plan
	sub.Status = model.SubscriptionStatusTrial
	sub.IsTrial = true
	sub.TrialUsed = true
	sub.TrialStart = &now
	sub.TrialEnd = &end
	sub.ExpiryDate = &end
	sub.AutoRenew = false
	sub.ResetCredits(def, now)
	if err := u.repo.Save(ctx, nil, sub); err != nil {
		return nil, err
	}
	u.log.Info().Str("user_id", userID).Str("plan", string(plan)).Time("trial_end", end).Msg("trial started")
	return sub, nil
}

// CancelTrial reverts to the free tier immediately. The trial remains
// consumed.
func (u *subscriptionUC) CancelTrial(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := u.repo.FindByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if !sub.IsTrial {
		return nil, fmt.Errorf("%w: no trial in progress", domain.ErrInvalidArgument)
	}
	now := time.Now()
	free, _ := model.LookupPlan(model.PlanFree)
	sub.Plan = model.PlanFree
	sub.Status = model.SubscriptionStatusActive
	sub.IsTrial = false
	sub.ExpiryDate = nil
	sub.NextBillingAt = nil
	sub.ResetCredits(free, now)
	if err := u.repo.Save(ctx, nil, sub); err != nil {
		return nil, err
	}
	u.log.Info().Str("user_id", userID).Msg("trial cancelled")
	return sub, nil
}

// DeductCredits applies a usage deduction. Insufficient balance is a soft
// failure carried in the result, never an error; the ledger is untouched.
func (u *subscriptionUC) DeductCredits(ctx context.Context, userID string, amount int, feature string) (*DeductResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	sub, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Unlimited() {
		metrics.IncCreditsDeducted("ok", amount)
		return &DeductResult{OK: true, Remaining: model.CreditsUnlimited, Unlimited: true}, nil
	}
	if err := sub.DeductCredits(amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			metrics.IncCreditsDeducted("insufficient", amount)
			return &DeductResult{OK: false, Remaining: sub.Credits.Remaining}, nil
		}
		return nil, err
	}
	switch feature {
	case "resume":
		sub.Usage.ResumesCreated++
	case "interview":
		sub.Usage.InterviewSessions++
	case "portfolio":
		sub.Usage.Portfolios++
	default:
		sub.Usage.AIAnalyses++
	}
	sub.UpdatedAt = time.Now()
	if err := u.repo.Save(ctx, nil, sub); err != nil {
		return nil, err
	}
	metrics.IncCreditsDeducted("ok", amount)
	return &DeductResult{OK: true, Remaining: sub.Credits.Remaining}, nil
}

func (u *subscriptionUC) Usage(ctx context.Context, userID string) (*UsageReport, error) {
	sub, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UsageReport{
		Plan:       sub.Plan,
		Status:     sub.Status,
		Credits:    sub.Credits,
		Usage:      sub.Usage,
		ExpiryDate: sub.ExpiryDate,
		IsTrial:    sub.IsTrial,
		Unlimited:  sub.Unlimited(),
	}, nil
}

// EnsureReferralCode returns the user's referral code, generating one on
// first request. The partial unique index on referral_code arbitrates the
// (vanishingly unlikely) collision.
func (u *subscriptionUC) EnsureReferralCode(ctx context.Context, userID string) (string, error) {
	sub, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.ReferralCode != "" {
		return sub.ReferralCode, nil
	}
	for attempt := 0; attempt < 3; attempt++ {
		id := ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0)).String()
		sub.ReferralCode = "CC" + strings.ToUpper(id[len(id)-8:])
		sub.UpdatedAt = time.Now()
		if err := u.repo.Save(ctx, nil, sub); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			return "", err
		}
		return sub.ReferralCode, nil
	}
	return "", domain.ErrOperationFailed
}

// ApplyReferral records who referred this user; set-once, no self-referral.
func (u *subscriptionUC) ApplyReferral(ctx context.Context, userID, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.ErrInvalidArgument
	}
	sub, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if sub.ReferredBy != "" {
		return domain.ErrAlreadyExists
	}
	if sub.ReferralCode == code {
		return fmt.Errorf("%w: self-referral", domain.ErrInvalidArgument)
	}
	if _, err := u.repo.FindByReferralCode(ctx, nil, code); err != nil {
		return err
	}
	sub.ReferredBy = code
	sub.UpdatedAt = time.Now()
	return u.repo.Save(ctx, nil, sub)
}

// ExpireDue downgrades lapsed subscriptions to the free tier: run-out paid
// terms, trials, and cancelled subscriptions whose already-paid access window
// has closed. Processing is per-document; one bad row never stops the sweep.
func (u *subscriptionUC) ExpireDue(ctx context.Context, asOf time.Time) (int, error) {
	subs, err := u.repo.ListExpiredActive(ctx, nil, asOf, 0)
	if err != nil {
		return 0, err
	}
	free, _ := model.LookupPlan(model.PlanFree)
	expired := 0
	for _, sub := range subs {
		prev := sub.Plan
		sub.AppendUpgrade(prev, model.PlanFree, "expired", asOf)
		sub.Plan = model.PlanFree
		sub.Status = model.SubscriptionStatusExpired
		sub.IsTrial = false
		sub.AutoRenew = false
		sub.ExpiryDate = nil
		sub.NextBillingAt = nil
		sub.ResetCredits(free, asOf)
		if err := u.repo.Save(ctx, nil, sub); err != nil {
			u.log.Error().Err(err).Str("user_id", sub.UserID).Msg("expiry sweep: save failed")
			continue
		}
		expired++
		metrics.IncSubscriptionsExpired(1)
		u.log.Info().Str("user_id", sub.UserID).Str("from", string(prev)).Msg("subscription expired, downgraded to free")
	}
	return expired, nil
}

// ResetMonthlyCredits restores ledgers (and usage counters, in lockstep) for
// subscriptions not yet reset this month.
func (u *subscriptionUC) ResetMonthlyCredits(ctx context.Context, monthStart time.Time) (int, error) {
	subs, err := u.repo.ListCreditResetDue(ctx, nil, monthStart, 0)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, sub := range subs {
		plan, ok := model.LookupPlan(sub.Plan)
		if !ok {
			continue
		}
		sub.ResetCredits(plan, monthStart)
		if err := u.repo.Save(ctx, nil, sub); err != nil {
			u.log.Error().Err(err).Str("user_id", sub.UserID).Msg("credit reset: save failed")
			continue
		}
		reset++
		metrics.IncCreditResets(1)
	}
	return reset, nil
}

// SendRenewalReminders notifies users whose paid term crosses a reminder
// window. A short-lived cache key suppresses repeats within the same window;
// delivery stays at-least-once if the cache is down.
func (u *subscriptionUC) SendRenewalReminders(ctx context.Context, asOf time.Time) (int, error) {
	widest := time.Duration(reminderWindows[0]+1) * 24 * time.Hour
	subs, err := u.repo.ListExpiringWithin(ctx, nil, asOf, widest, 0)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, sub := range subs {
		if !sub.AutoRenew || sub.ExpiryDate == nil {
			continue
		}
		days := sub.DaysRemaining(asOf)
		window := 0
		for _, w := range reminderWindows {
			if days <= w {
				window = w
			}
		}
		if window == 0 {
			continue
		}
		if u.cache != nil {
			key := fmt.Sprintf("reminder:%s:%d", sub.ID, window)
			first, err := u.cache.SetNX(ctx, key, 1, time.Duration(window+1)*24*time.Hour)
			if err == nil && !first {
				continue
			}
		}
		if err := u.notifier.SendRenewalReminder(ctx, sub.UserID, days); err != nil {
			u.log.Warn().Err(err).Str("user_id", sub.UserID).Msg("renewal reminder failed")
			continue
		}
		sent++
		metrics.IncReminderSent(fmt.Sprintf("%dd", window))
	}
	return sent, nil
}
