package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_chat_ws_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	wsFramesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_ws_frames_received_total",
			Help: "Total inbound frames received over websocket connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsFramesReceived)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func incFramesReceived() {
	wsFramesReceived.Inc()
}
