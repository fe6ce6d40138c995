package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_ws_active_connections",
		Help: "Number of currently registered websocket connections",
	})

	metricUniqueIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_ws_unique_identities",
		Help: "Number of distinct authenticated identities with at least one connection",
	})

	metricCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_ws_commands_total",
		Help: "Commands dispatched, by command kind and outcome",
	}, []string{"kind", "outcome"})

	metricThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_ws_throttled_total",
		Help: "Commands rejected by the rate limiter",
	})

	metricReplayRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_ws_replay_rejected_total",
		Help: "Envelopes rejected as replays",
	})

	metricBroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_ws_broadcast_fanout",
		Help:    "Number of connections reached per broadcast or publish",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	metricReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_ws_reaped_connections_total",
		Help: "Connections closed by the idle reaper",
	})
)
