package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "koinonia_messages_persisted_total",
		Help: "Messages accepted and stored by the send endpoint.",
	})
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "koinonia_events_delivered_total",
		Help: "Frames delivered to websocket clients by the hub.",
	})
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "koinonia_ws_connections",
		Help: "Websocket clients currently attached to the hub.",
	})
	SendsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "koinonia_sends_throttled_total",
		Help: "Send requests rejected by the per-sender rate limiter.",
	})
)
