package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "line_relay_webhook_deliveries_total",
		Help: "Webhook deliveries by outcome (ok, unauthenticated, malformed).",
	}, []string{"result"})

	EventsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "line_relay_events_stored_total",
		Help: "Text message events appended to the store.",
	})
	EventsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "line_relay_events_skipped_total",
		Help: "Envelope members ignored because they are not user text messages.",
	})
	StoreFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "line_relay_store_failures_total",
		Help: "Text message events that could not be stored.",
	})

	AckTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "line_relay_acknowledgements_total",
		Help: "Reply-token acknowledgements by result.",
	}, []string{"result"})
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "line_relay_dispatch_total",
		Help: "Operator push replies by result.",
	}, []string{"result"})
)

// Register adds every relay collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		WebhookTotal,
		EventsStored, EventsSkipped, StoreFailures,
		AckTotal, DispatchTotal,
	)
}
