package broadcast

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_events_delivered_total",
			Help: "Total events delivered to local websocket connections.",
		},
	)
	eventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_events_published_total",
			Help: "Total event envelopes published to the redis mirror channel.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsDelivered, eventsPublished)
}

func addDelivered(count int) {
	eventsDelivered.Add(float64(count))
}

func incPublished() {
	eventsPublished.Inc()
}
