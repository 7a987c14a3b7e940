package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		paymentVerifyRequests,
		paymentVerifyDuration,
		securityAlertsTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment records by terminal status (created/captured/failed/refunded).",
		},
		[]string{"status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total monetary value of captured payments in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)

	// result: ok|duplicate|fail
	// reason (fail only): missing_params|not_found|bad_signature|amount_mismatch|order_mismatch|gateway_status|gateway_error|unknown
	paymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Count of payment verification calls by result and bounded reason.",
		},
		[]string{"result", "reason"},
	)

	paymentVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Duration of the payment verification gate in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	securityAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_security_alerts_total",
			Help: "Security-relevant rejections by kind (signature/amount/order_id/webhook_signature).",
		},
		[]string{"kind"},
	)
)

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncVerify(result, reason string) {
	paymentVerifyRequests.WithLabelValues(norm(result), norm(reason)).Inc()
}

func ObserveVerifyDuration(result string, seconds float64) {
	paymentVerifyDuration.WithLabelValues(norm(result)).Observe(seconds)
}

func IncSecurityAlert(kind string) {
	securityAlertsTotal.WithLabelValues(norm(kind)).Inc()
}
