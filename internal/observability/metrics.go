package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adview_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adview_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// page views currently mounted
	ActivePageViews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adview_active_pageviews",
			Help: "Page views currently tracked by the engine",
		},
	)

	// slot state transitions labelled by target state
	SlotTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adview_slot_transitions_total",
			Help: "Ad slot runtime state transitions",
		},
		[]string{"state"},
	)

	// confirmed impressions per slot position
	ImpressionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adview_impressions_total",
			Help: "Total confirmed viewable impressions",
		},
		[]string{"position"},
	)

	// clicks per slot position
	ClickCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adview_clicks_total",
			Help: "Total ad clicks",
		},
		[]string{"position"},
	)

	// density controller denials per priority
	DensityDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adview_density_denials_total",
			Help: "Slots denied or demoted by the density controller",
		},
		[]string{"priority"},
	)

	// analytics transport failures per sink
	EmitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adview_emit_failures_total",
			Help: "Analytics events that failed to reach the sink",
		},
		[]string{"sink"},
	)

	// analytics events dropped because the emit queue was full
	EmitDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adview_emit_dropped_total",
			Help: "Analytics events dropped on a full queue",
		},
	)

	// creative requests that failed before the ad network answered
	CreativeRequestFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adview_creative_request_failures_total",
			Help: "Third-party creative requests that failed",
		},
	)

	// recovered panics in the decision pipeline, by stage
	DecisionPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adview_decision_panics_total",
			Help: "Recovered panics while evaluating a slot",
		},
		[]string{"stage"},
	)

	// event batches rejected by the per-page-view limiter
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adview_ratelimit_hits_total",
			Help: "Event batches rejected by the page view rate limiter",
		},
	)

	// dashboard refreshes labelled by outcome
	DashboardRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adview_dashboard_refresh_total",
			Help: "Performance dashboard refresh attempts",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		ActivePageViews,
		SlotTransitions,
		ImpressionCount,
		ClickCount,
		DensityDenials,
		EmitFailures,
		EmitDropped,
		CreativeRequestFailures,
		DecisionPanics,
		RateLimitHits,
		DashboardRefreshes,
	)
}
