package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookQueueDepth,
		webhookProcessDuration,
	)
}

var (
	// outcome: processed|duplicate|ignored|rejected|error
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Gateway webhook deliveries by event kind and processing outcome.",
		},
		[]string{"event", "outcome"},
	)

	webhookQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth",
			Help: "Deferred webhook jobs waiting in the worker pool queue.",
		},
	)

	webhookProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_process_duration_seconds",
			Help:    "Duration of deferred webhook handlers in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"event"},
	)
)

func IncWebhookEvent(event, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(event), norm(outcome)).Inc()
}

func SetWebhookQueueDepth(n int) {
	webhookQueueDepth.Set(float64(n))
}

func ObserveWebhookDuration(event string, seconds float64) {
	webhookProcessDuration.WithLabelValues(norm(event)).Observe(seconds)
}
