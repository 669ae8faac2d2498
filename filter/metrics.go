package filter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetedge_requests_total",
			Help: "Requests handled by the edge, by route (\"static\" for non-proxied) and status code",
		},
		[]string{"route", "method", "code"},
	)

	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetedge_request_duration_seconds",
			Help:    "Time taken to serve or proxy the request",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetedge_upstream_errors_total",
			Help: "Failed upstream exchanges by route and failure kind",
		},
		[]string{"route", "kind"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetedge_blocked_requests_total",
			Help: "Requests rejected by an edge guard",
		},
		[]string{"guard", "reason"},
	)

	InflightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetedge_inflight_requests",
			Help: "Requests currently being served",
		},
	)

	SPAFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetedge_spa_fallbacks_total",
			Help: "Requests answered with the SPA entry document",
		},
	)
)
