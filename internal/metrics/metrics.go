package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RelayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imggw_relay_requests_total",
			Help: "Relay requests by outcome",
		},
		[]string{"outcome"}, // relayed|upstream_error|upstream_status|lower-cased rejection reason
	)

	RelayUpstreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imggw_relay_upstream_duration_seconds",
			Help:    "Latency of calls to the image generation service",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imggw_ratelimit_decisions_total",
			Help: "Rate limiter decisions",
		},
		[]string{"decision"}, // allowed|denied|error
	)

	BillingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imggw_billing_events_total",
			Help: "Billing events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	ActivityRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imggw_activity_recorded_total",
			Help: "Activity events written by the recorder worker",
		},
		[]string{"result"}, // stored|poison|failed
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RelayRequestsTotal,
		RelayUpstreamDuration,
		RateLimitDecisionsTotal,
		BillingEventsTotal,
		ActivityRecordedTotal,
	)
}
