//go:build !integration

package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/model"
)

type subFixture struct {
	uc       *subscriptionUC
	repo     *mockSubRepo
	notifier *mockNotifier
	cache    *mockCache
}

func newSubFixture() *subFixture {
	nop := zerolog.Nop()
	repo := newMockSubRepo()
	notifier := newMockNotifier()
	cache := newMockCache()
	return &subFixture{
		uc:       NewSubscriptionUseCase(repo, notifier, cache, 30, 365, &nop),
		repo:     repo,
		notifier: notifier,
		cache:    cache,
	}
}

func capturedPayment(id, userID string, plan model.PlanTier, cycle model.BillingCycle, amount int64) *model.PaymentRecord {
	now := time.Now()
	return &model.PaymentRecord{
		ID:               id,
		GatewayOrderID:   "order_" + id,
		GatewayPaymentID: "pay_" + id,
		UserID:           userID,
		Plan:             plan,
		Cycle:            cycle,
		Amount:           amount,
		Currency:         "INR",
		Status:           model.PaymentStatusCaptured,
		CapturedAt:       &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestGetOrCreateLazyFreeTier(t *testing.T) {
	f := newSubFixture()
	sub, err := f.uc.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sub.Plan != model.PlanFree || sub.Status != model.SubscriptionStatusActive {
		t.Errorf("got %s/%s, want free/active", sub.Plan, sub.Status)
	}
	if sub.Credits.Total != 10 || sub.Credits.Remaining != 10 {
		t.Errorf("credits = %+v, want 10/10", sub.Credits)
	}

	again, err := f.uc.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if again.ID != sub.ID {
		t.Errorf("second call created a new document: %s vs %s", again.ID, sub.ID)
	}
}

func TestActivate(t *testing.T) {
	t.Run("requires captured payment", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		p.Status = model.PaymentStatusCreated
		if _, err := f.uc.Activate(context.Background(), nil, p); !errors.Is(err, domain.ErrPaymentNotCaptured) {
			t.Fatalf("err = %v, want ErrPaymentNotCaptured", err)
		}
	})

	t.Run("monthly activation sets one-month term and pro credits", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		sub, err := f.uc.Activate(context.Background(), nil, p)
		if err != nil {
			t.Fatalf("Activate: %v", err)
		}
		if sub.Plan != model.PlanPro || sub.Status != model.SubscriptionStatusActive {
			t.Errorf("got %s/%s", sub.Plan, sub.Status)
		}
		if sub.Credits.Total != 100 {
			t.Errorf("credits total = %d, want 100", sub.Credits.Total)
		}
		wantExpiry := time.Now().AddDate(0, 1, 0)
		if sub.ExpiryDate == nil || sub.ExpiryDate.Sub(wantExpiry) > time.Minute || wantExpiry.Sub(*sub.ExpiryDate) > time.Minute {
			t.Errorf("expiry = %v, want ~%v", sub.ExpiryDate, wantExpiry)
		}
		if !sub.AutoRenew {
			t.Error("auto renew not enabled")
		}
	})

	t.Run("annual activation sets one-year term", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleAnnual, 479040)
		sub, err := f.uc.Activate(context.Background(), nil, p)
		if err != nil {
			t.Fatalf("Activate: %v", err)
		}
		wantExpiry := time.Now().AddDate(1, 0, 0)
		if sub.ExpiryDate == nil || sub.ExpiryDate.Sub(wantExpiry) > time.Minute || wantExpiry.Sub(*sub.ExpiryDate) > time.Minute {
			t.Errorf("expiry = %v, want ~%v", sub.ExpiryDate, wantExpiry)
		}
	})

	t.Run("same payment twice is a no-op", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		first, err := f.uc.Activate(context.Background(), nil, p)
		if err != nil {
			t.Fatalf("first Activate: %v", err)
		}
		second, err := f.uc.Activate(context.Background(), nil, p)
		if err != nil {
			t.Fatalf("second Activate: %v", err)
		}
		if !second.ExpiryDate.Equal(*first.ExpiryDate) {
			t.Errorf("duplicate activation extended the term: %v -> %v", first.ExpiryDate, second.ExpiryDate)
		}
	})

	t.Run("renewal extends from current expiry", func(t *testing.T) {
		f := newSubFixture()
		p1 := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		first, err := f.uc.Activate(context.Background(), nil, p1)
		if err != nil {
			t.Fatalf("first Activate: %v", err)
		}
		firstExpiry := *first.ExpiryDate

		p2 := capturedPayment("p2", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		second, err := f.uc.Activate(context.Background(), nil, p2)
		if err != nil {
			t.Fatalf("renewal Activate: %v", err)
		}
		want := firstExpiry.AddDate(0, 1, 0)
		if !second.ExpiryDate.Equal(want) {
			t.Errorf("renewal expiry = %v, want %v", second.ExpiryDate, want)
		}
	})

	t.Run("plan change restarts term and records history", func(t *testing.T) {
		f := newSubFixture()
		p1 := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		if _, err := f.uc.Activate(context.Background(), nil, p1); err != nil {
			t.Fatalf("Activate pro: %v", err)
		}
		p2 := capturedPayment("p2", "user-1", model.PlanEnterprise, model.CycleMonthly, 149900)
		sub, err := f.uc.Activate(context.Background(), nil, p2)
		if err != nil {
			t.Fatalf("Activate enterprise: %v", err)
		}
		if sub.Plan != model.PlanEnterprise || !sub.Unlimited() {
			t.Errorf("sub = %s unlimited=%v", sub.Plan, sub.Unlimited())
		}
		wantExpiry := time.Now().AddDate(0, 1, 0)
		if sub.ExpiryDate.Sub(wantExpiry) > time.Minute || wantExpiry.Sub(*sub.ExpiryDate) > time.Minute {
			t.Errorf("upgrade expiry = %v, want ~%v (restarted term)", sub.ExpiryDate, wantExpiry)
		}
		if n := len(sub.UpgradeHistory); n == 0 {
			t.Fatal("no upgrade history recorded")
		}
		last := sub.UpgradeHistory[len(sub.UpgradeHistory)-1]
		if last.FromPlan != model.PlanPro || last.ToPlan != model.PlanEnterprise {
			t.Errorf("history entry = %+v", last)
		}
	})
}

func TestCancel(t *testing.T) {
	f := newSubFixture()

	// nothing to cancel on free tier
	if _, err := f.uc.GetOrCreate(context.Background(), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.uc.Cancel(context.Background(), "user-1", "too expensive"); !errors.Is(err, domain.ErrNoActiveSubscription) {
		t.Fatalf("cancel on free tier: err = %v, want ErrNoActiveSubscription", err)
	}

	p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
	if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
		t.Fatal(err)
	}
	sub, err := f.uc.Cancel(context.Background(), "user-1", "too expensive")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sub.Status != model.SubscriptionStatusCancelled || sub.AutoRenew {
		t.Errorf("got status=%s autoRenew=%v", sub.Status, sub.AutoRenew)
	}
	// paid access keeps its expiry; the sweep downgrades later
	if sub.ExpiryDate == nil {
		t.Error("cancel cleared the expiry date")
	}
	if sub.Plan != model.PlanPro {
		t.Errorf("cancel downgraded immediately to %s", sub.Plan)
	}

	if _, err := f.uc.Cancel(context.Background(), "user-1", "again"); !errors.Is(err, domain.ErrNoActiveSubscription) {
		t.Fatalf("double cancel: err = %v", err)
	}
}

func TestUpgradePreview(t *testing.T) {
	enterpriseMonthly := int64(149900)

	t.Run("free user pays full price", func(t *testing.T) {
		f := newSubFixture()
		if _, err := f.uc.GetOrCreate(context.Background(), "user-1"); err != nil {
			t.Fatal(err)
		}
		q, err := f.uc.UpgradePreview(context.Background(), "user-1", model.PlanEnterprise, model.CycleMonthly)
		if err != nil {
			t.Fatalf("UpgradePreview: %v", err)
		}
		if q.AmountDue != enterpriseMonthly || q.UnusedCredit != 0 {
			t.Errorf("quote = %+v, want full price", q)
		}
	})

	t.Run("mid-term upgrade credits unused value", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
			t.Fatal(err)
		}

		// shift the term so 15 of 30 days remain
		sub := f.repo.get("user-1")
		expiry := time.Now().Add(15*24*time.Hour + time.Hour)
		sub.ExpiryDate = &expiry
		f.repo.put(sub)

		q, err := f.uc.UpgradePreview(context.Background(), "user-1", model.PlanEnterprise, model.CycleMonthly)
		if err != nil {
			t.Fatalf("UpgradePreview: %v", err)
		}
		wantUnused := int64(49900) * 15 / 30
		if q.UnusedCredit != wantUnused {
			t.Errorf("unused credit = %d, want %d", q.UnusedCredit, wantUnused)
		}
		if q.AmountDue != enterpriseMonthly-wantUnused {
			t.Errorf("amount due = %d, want %d", q.AmountDue, enterpriseMonthly-wantUnused)
		}
	})

	t.Run("amount due decreases as fewer days are used", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
			t.Fatal(err)
		}
		prev := int64(-1)
		for _, daysLeft := range []int{5, 15, 29} {
			sub := f.repo.get("user-1")
			expiry := time.Now().Add(time.Duration(daysLeft)*24*time.Hour + time.Hour)
			sub.ExpiryDate = &expiry
			f.repo.put(sub)

			q, err := f.uc.UpgradePreview(context.Background(), "user-1", model.PlanEnterprise, model.CycleMonthly)
			if err != nil {
				t.Fatalf("UpgradePreview(%d days): %v", daysLeft, err)
			}
			if prev >= 0 && q.AmountDue > prev {
				t.Errorf("amount due grew from %d to %d as remaining days went up", prev, q.AmountDue)
			}
			if q.AmountDue < 0 {
				t.Errorf("negative quote: %d", q.AmountDue)
			}
			prev = q.AmountDue
		}
	})

	t.Run("quote never negative even with large unused value", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanEnterprise, model.CycleAnnual, 1439040)
		if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
			t.Fatal(err)
		}
		q, err := f.uc.UpgradePreview(context.Background(), "user-1", model.PlanPro, model.CycleMonthly)
		if err != nil {
			t.Fatalf("UpgradePreview: %v", err)
		}
		if q.AmountDue < 0 {
			t.Errorf("negative quote: %d", q.AmountDue)
		}
	})

	t.Run("invalid targets rejected", func(t *testing.T) {
		f := newSubFixture()
		if _, err := f.uc.UpgradePreview(context.Background(), "user-1", model.PlanFree, model.CycleMonthly); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("free target: err = %v", err)
		}
		if _, err := f.uc.UpgradePreview(context.Background(), "user-1", model.PlanPro, model.BillingCycle("weekly")); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("bad cycle: err = %v", err)
		}
	})
}

func TestTrialLifecycle(t *testing.T) {
	f := newSubFixture()

	sub, err := f.uc.StartTrial(context.Background(), "user-1", model.PlanPro)
	if err != nil {
		t.Fatalf("StartTrial: %v", err)
	}
	if sub.Status != model.SubscriptionStatusTrial || !sub.IsTrial || !sub.TrialUsed {
		t.Errorf("got %+v", sub)
	}
	if sub.Credits.Total != 100 {
		t.Errorf("trial credits = %d, want pro allotment", sub.Credits.Total)
	}
	wantEnd := time.Now().AddDate(0, 0, model.TrialDays)
	if sub.TrialEnd.Sub(wantEnd) > time.Minute || wantEnd.Sub(*sub.TrialEnd) > time.Minute {
		t.Errorf("trial end = %v, want ~%v", sub.TrialEnd, wantEnd)
	}

	// a second trial is never allowed
	if _, err := f.uc.StartTrial(context.Background(), "user-1", model.PlanPro); !errors.Is(err, domain.ErrTrialAlreadyUsed) {
		t.Fatalf("second trial: err = %v, want ErrTrialAlreadyUsed", err)
	}

	sub, err = f.uc.CancelTrial(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CancelTrial: %v", err)
	}
	if sub.Plan != model.PlanFree || sub.IsTrial {
		t.Errorf("after cancel: %s isTrial=%v", sub.Plan, sub.IsTrial)
	}
	if sub.Credits.Total != 10 {
		t.Errorf("credits after cancel = %d, want free allotment", sub.Credits.Total)
	}

	// cancellation does not refund the trial
	if _, err := f.uc.StartTrial(context.Background(), "user-1", model.PlanPro); !errors.Is(err, domain.ErrTrialAlreadyUsed) {
		t.Fatalf("trial after cancel: err = %v, want ErrTrialAlreadyUsed", err)
	}
	if _, err := f.uc.CancelTrial(context.Background(), "user-1"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("cancel with no trial: err = %v", err)
	}
}

func TestDeductCredits(t *testing.T) {
	t.Run("ledger invariant holds across deductions", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
		if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 10; i++ {
			res, err := f.uc.DeductCredits(context.Background(), "user-1", 7, "ai_analysis")
			if err != nil {
				t.Fatalf("deduct %d: %v", i, err)
			}
			if !res.OK {
				t.Fatalf("deduct %d soft-failed with %d remaining", i, res.Remaining)
			}
			sub := f.repo.get("user-1")
			if sub.Credits.Remaining != sub.Credits.Total-sub.Credits.Used {
				t.Fatalf("ledger broken: %+v", sub.Credits)
			}
		}
		if got := f.repo.get("user-1").Credits.Remaining; got != 30 {
			t.Errorf("remaining = %d, want 30", got)
		}
	})

	t.Run("insufficient balance soft-fails and leaves ledger untouched", func(t *testing.T) {
		f := newSubFixture()
		if _, err := f.uc.GetOrCreate(context.Background(), "user-1"); err != nil {
			t.Fatal(err)
		}
		res, err := f.uc.DeductCredits(context.Background(), "user-1", 11, "ai_analysis")
		if err != nil {
			t.Fatalf("DeductCredits: %v", err)
		}
		if res.OK {
			t.Fatal("deduction above balance succeeded")
		}
		if got := f.repo.get("user-1").Credits; got.Used != 0 || got.Remaining != 10 {
			t.Errorf("ledger touched on soft failure: %+v", got)
		}
	})

	t.Run("unlimited plan skips the ledger", func(t *testing.T) {
		f := newSubFixture()
		p := capturedPayment("p1", "user-1", model.PlanEnterprise, model.CycleMonthly, 149900)
		if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
			t.Fatal(err)
		}
		res, err := f.uc.DeductCredits(context.Background(), "user-1", 100000, "ai_analysis")
		if err != nil {
			t.Fatalf("DeductCredits: %v", err)
		}
		if !res.OK || !res.Unlimited {
			t.Errorf("got %+v, want unlimited ok", res)
		}
		if got := f.repo.get("user-1").Credits.Total; got != model.CreditsUnlimited {
			t.Errorf("ledger total = %d, want sentinel", got)
		}
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		f := newSubFixture()
		if _, err := f.uc.DeductCredits(context.Background(), "user-1", 0, "x"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestExpireDueSweepsCancelledTerm(t *testing.T) {
	f := newSubFixture()
	now := time.Now()

	p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
	if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
		t.Fatal(err)
	}
	if _, err := f.uc.Cancel(context.Background(), "user-1", "switching tools"); err != nil {
		t.Fatal(err)
	}

	// inside the paid term the sweep must leave access alone
	n, err := f.uc.ExpireDue(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 0 {
		t.Fatalf("swept %d, want 0 while the paid term runs", n)
	}
	if got := f.repo.get("user-1"); got.Plan != model.PlanPro || got.Status != model.SubscriptionStatusCancelled {
		t.Fatalf("access revoked early: %s/%s", got.Plan, got.Status)
	}

	// the term runs out; the cancelled row must not keep pro entitlements
	sub := f.repo.get("user-1")
	past := now.Add(-time.Hour)
	sub.ExpiryDate = &past
	f.repo.put(sub)

	n, err = f.uc.ExpireDue(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireDue after lapse: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	got := f.repo.get("user-1")
	if got.Plan != model.PlanFree || got.Status != model.SubscriptionStatusExpired {
		t.Fatalf("cancelled term not downgraded: %s/%s", got.Plan, got.Status)
	}
	if got.Credits.Total != 10 {
		t.Fatalf("credits = %d, want free allotment", got.Credits.Total)
	}
}

func TestExpireDue(t *testing.T) {
	f := newSubFixture()
	now := time.Now()

	// one lapsed paid term, one lapsed trial, one still-current term
	p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
	if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
		t.Fatal(err)
	}
	lapsed := f.repo.get("user-1")
	past := now.Add(-24 * time.Hour)
	lapsed.ExpiryDate = &past
	f.repo.put(lapsed)

	if _, err := f.uc.StartTrial(context.Background(), "user-2", model.PlanPro); err != nil {
		t.Fatal(err)
	}
	trial := f.repo.get("user-2")
	trial.ExpiryDate = &past
	f.repo.put(trial)

	p3 := capturedPayment("p3", "user-3", model.PlanPro, model.CycleMonthly, 49900)
	if _, err := f.uc.Activate(context.Background(), nil, p3); err != nil {
		t.Fatal(err)
	}

	n, err := f.uc.ExpireDue(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired = %d, want 2", n)
	}

	for _, userID := range []string{"user-1", "user-2"} {
		sub := f.repo.get(userID)
		if sub.Status != model.SubscriptionStatusExpired || sub.Plan != model.PlanFree {
			t.Errorf("%s: got %s/%s, want expired/free", userID, sub.Status, sub.Plan)
		}
		if sub.Credits.Total != 10 {
			t.Errorf("%s: credits = %d, want free allotment", userID, sub.Credits.Total)
		}
		if sub.IsTrial || sub.AutoRenew {
			t.Errorf("%s: trial/renew flags not cleared", userID)
		}
	}
	if got := f.repo.get("user-3").Status; got != model.SubscriptionStatusActive {
		t.Errorf("current subscription was swept: %s", got)
	}

	// trial consumption survives expiry
	if _, err := f.uc.StartTrial(context.Background(), "user-2", model.PlanPro); !errors.Is(err, domain.ErrTrialAlreadyUsed) {
		t.Errorf("trial after expiry: err = %v, want ErrTrialAlreadyUsed", err)
	}
}

func TestResetMonthlyCredits(t *testing.T) {
	f := newSubFixture()
	monthStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	p := capturedPayment("p1", "user-1", model.PlanPro, model.CycleMonthly, 49900)
	if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
		t.Fatal(err)
	}
	sub := f.repo.get("user-1")
	sub.Credits.Used = 60
	sub.Credits.Remaining = 40
	sub.Credits.LastResetAt = monthStart.AddDate(0, -1, 5)
	sub.Usage.AIAnalyses = 60
	f.repo.put(sub)

	// already reset this month; must not be double-reset
	p2 := capturedPayment("p2", "user-2", model.PlanPro, model.CycleMonthly, 49900)
	if _, err := f.uc.Activate(context.Background(), nil, p2); err != nil {
		t.Fatal(err)
	}
	fresh := f.repo.get("user-2")
	fresh.Credits.Used = 5
	fresh.Credits.Remaining = 95
	fresh.Credits.LastResetAt = monthStart.Add(time.Hour)
	f.repo.put(fresh)

	n, err := f.uc.ResetMonthlyCredits(context.Background(), monthStart)
	if err != nil {
		t.Fatalf("ResetMonthlyCredits: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset = %d, want 1", n)
	}

	got := f.repo.get("user-1")
	if got.Credits.Used != 0 || got.Credits.Remaining != 100 {
		t.Errorf("ledger after reset = %+v", got.Credits)
	}
	// usage counters reset in lockstep
	if got.Usage.AIAnalyses != 0 {
		t.Errorf("usage not reset: %+v", got.Usage)
	}
	if kept := f.repo.get("user-2"); kept.Credits.Used != 5 {
		t.Errorf("already-reset ledger touched: %+v", kept.Credits)
	}
}

func TestSendRenewalReminders(t *testing.T) {
	f := newSubFixture()
	now := time.Now()

	mk := func(userID string, daysLeft int, autoRenew bool) {
		p := capturedPayment("p_"+userID, userID, model.PlanPro, model.CycleMonthly, 49900)
		if _, err := f.uc.Activate(context.Background(), nil, p); err != nil {
			t.Fatal(err)
		}
		sub := f.repo.get(userID)
		expiry := now.Add(time.Duration(daysLeft)*24*time.Hour + time.Hour)
		sub.ExpiryDate = &expiry
		sub.AutoRenew = autoRenew
		f.repo.put(sub)
	}

	mk("user-7d", 7, true)
	mk("user-3d", 3, true)
	mk("user-1d", 0, true) // inside the 1-day window
	mk("user-far", 20, true)
	mk("user-off", 3, false) // renewal switched off, no reminder

	sent, err := f.uc.SendRenewalReminders(context.Background(), now)
	if err != nil {
		t.Fatalf("SendRenewalReminders: %v", err)
	}
	if sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}
	for _, userID := range []string{"user-7d", "user-3d", "user-1d"} {
		if f.notifier.reminders[userID] != 1 {
			t.Errorf("%s reminders = %d, want 1", userID, f.notifier.reminders[userID])
		}
	}
	if f.notifier.reminders["user-far"] != 0 || f.notifier.reminders["user-off"] != 0 {
		t.Error("reminder sent outside a window or with auto-renew off")
	}

	// a second run inside the same windows is suppressed
	sent, err = f.uc.SendRenewalReminders(context.Background(), now.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sent != 0 {
		t.Errorf("second run sent = %d, want 0", sent)
	}
}

func TestReferrals(t *testing.T) {
	f := newSubFixture()

	code, err := f.uc.EnsureReferralCode(context.Background(), "referrer")
	if err != nil {
		t.Fatalf("EnsureReferralCode: %v", err)
	}
	if !strings.HasPrefix(code, "CC") || len(code) != 10 {
		t.Errorf("code = %q", code)
	}
	again, err := f.uc.EnsureReferralCode(context.Background(), "referrer")
	if err != nil || again != code {
		t.Errorf("second call: %q, %v; want stable code", again, err)
	}

	// self-referral and unknown codes rejected
	if err := f.uc.ApplyReferral(context.Background(), "referrer", code); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("self-referral: err = %v", err)
	}
	if err := f.uc.ApplyReferral(context.Background(), "friend", "CCNOPENOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown code: err = %v", err)
	}

	if err := f.uc.ApplyReferral(context.Background(), "friend", code); err != nil {
		t.Fatalf("ApplyReferral: %v", err)
	}
	if err := f.uc.ApplyReferral(context.Background(), "friend", code); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("second apply: err = %v", err)
	}

	// the referrer is credited on the friend's first captured payment only
	p1 := capturedPayment("p1", "friend", model.PlanPro, model.CycleMonthly, 49900)
	if _, err := f.uc.Activate(context.Background(), nil, p1); err != nil {
		t.Fatal(err)
	}
	ref := f.repo.get("referrer")
	if ref.ReferralCredit != referralBonusPaise || ref.ReferralCount != 1 {
		t.Errorf("referrer = credit %d count %d", ref.ReferralCredit, ref.ReferralCount)
	}

	p2 := capturedPayment("p2", "friend", model.PlanPro, model.CycleMonthly, 49900)
	if _, err := f.uc.Activate(context.Background(), nil, p2); err != nil {
		t.Fatal(err)
	}
	ref = f.repo.get("referrer")
	if ref.ReferralCount != 1 {
		t.Errorf("renewal credited the referrer again: count = %d", ref.ReferralCount)
	}
}
