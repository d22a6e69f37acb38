package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xrlink_connections_active",
			Help: "Currently open connections",
		},
	)

	LivenessEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xrlink_liveness_evictions_total",
			Help: "Connections evicted after missed heartbeats",
		},
	)

	// Routing metrics
	FramesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrlink_frames_routed_total",
			Help: "Inbound frames accepted by the routing engine",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrlink_frames_dropped_total",
			Help: "Inbound frames dropped without delivery",
		},
		[]string{"reason"}, // "malformed", "unknown_type", "no_target"
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xrlink_delivery_failures_total",
			Help: "Per-recipient send failures during fan-out",
		},
	)

	// History metrics
	HistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xrlink_history_size",
			Help: "Chat messages currently buffered for replay",
		},
	)
)
