package metrics

import (
	"careercraft-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsExpiredTotal,
		subscriptionsTotal,
		creditResetsTotal,
		remindersSentTotal,
		creditsDeductedTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of subscriptions transitioned to expired by the sweep.",
		},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)

	creditResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_resets_total",
			Help: "Total number of monthly credit ledger resets applied.",
		},
	)

	remindersSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renewal_reminders_sent_total",
			Help: "Renewal reminder notifications by window (7d/3d/1d).",
		},
		[]string{"window"},
	)

	creditsDeductedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_deducted_total",
			Help: "AI credit deduction volume by result (ok applied, insufficient attempted).",
		},
		[]string{"result"},
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusInactive,
		model.SubscriptionStatusCancelled,
		model.SubscriptionStatusExpired,
		model.SubscriptionStatusTrial,
	}
	for _, st := range statuses {
		subscriptionsTotal.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func IncCreditResets(count int) {
	creditResetsTotal.Add(float64(count))
}

func IncReminderSent(window string) {
	remindersSentTotal.WithLabelValues(norm(window)).Inc()
}

func IncCreditsDeducted(result string, amount int) {
	creditsDeductedTotal.WithLabelValues(norm(result)).Add(float64(amount))
}
