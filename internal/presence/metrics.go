package presence

import "github.com/prometheus/client_golang/prometheus"

var (
	presenceConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_chat_presence_connections",
			Help: "Current number of live connection handles.",
		},
	)
	presenceUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_chat_presence_users",
			Help: "Current number of users with at least one live connection.",
		},
	)
)

func init() {
	prometheus.MustRegister(presenceConnections, presenceUsers)
}

func incConnections() {
	presenceConnections.Inc()
}

func decConnections() {
	presenceConnections.Dec()
}

func incTrackedUsers() {
	presenceUsers.Inc()
}

func decTrackedUsers() {
	presenceUsers.Dec()
}
