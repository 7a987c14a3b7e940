package model

import "math"

type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// CreditsUnlimited marks an enterprise credit ledger. It is a sentinel, not a
// large allotment; ledger math must never touch it.
const CreditsUnlimited = -1

// AnnualDiscountPercent is applied against 12x the monthly price.
const AnnualDiscountPercent = 20

// TrialDays is the fixed length of the one-per-user trial.
const TrialDays = 7

// Plan describes the purchasable shape of a tier: monthly price in paise,
// monthly AI credit allotment, and usage limits.
type Plan struct {
	Tier           PlanTier
	MonthlyPrice   int64 // paise
	MonthlyCredits int   // CreditsUnlimited for enterprise
	ResumeLimit    int   // CreditsUnlimited for enterprise
	Name           string
}

var planTable = map[PlanTier]Plan{
	PlanFree: {
		Tier:           PlanFree,
		MonthlyPrice:   0,
		MonthlyCredits: 10,
		ResumeLimit:    3,
		Name:           "Free",
	},
	PlanPro: {
		Tier:           PlanPro,
		MonthlyPrice:   49900,
		MonthlyCredits: 100,
		ResumeLimit:    50,
		Name:           "Pro",
	},
	PlanEnterprise: {
		Tier:           PlanEnterprise,
		MonthlyPrice:   149900,
		MonthlyCredits: CreditsUnlimited,
		ResumeLimit:    CreditsUnlimited,
		Name:           "Enterprise",
	},
}

// LookupPlan returns the plan definition for a tier.
func LookupPlan(tier PlanTier) (Plan, bool) {
	p, ok := planTable[tier]
	return p, ok
}

func (t PlanTier) Valid() bool {
	_, ok := planTable[t]
	return ok
}

func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleAnnual
}

// Price returns the charge for the plan on the given cycle in paise.
// Annual applies the fixed discount relative to 12x the monthly price.
func (p Plan) Price(cycle BillingCycle) int64 {
	if cycle == CycleAnnual {
		gross := float64(12 * p.MonthlyPrice)
		return int64(math.Round(gross * (100 - AnnualDiscountPercent) / 100))
	}
	return p.MonthlyPrice
}

// PriceWithDiscount applies an optional discount code percentage; the larger
// of the cycle discount and the code discount wins, never both.
func (p Plan) PriceWithDiscount(cycle BillingCycle, codePercent int) (amount int64, appliedPercent int) {
	base := 12 * p.MonthlyPrice
	discount := 0
	if cycle == CycleMonthly {
		base = p.MonthlyPrice
	} else {
		discount = AnnualDiscountPercent
	}
	if codePercent > discount {
		discount = codePercent
	}
	amount = int64(math.Round(float64(base) * float64(100-discount) / 100))
	return amount, discount
}

// Unlimited reports whether the plan has no credit/usage ceiling.
func (p Plan) Unlimited() bool { return p.MonthlyCredits == CreditsUnlimited }
