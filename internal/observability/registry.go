package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection instead of touching the Prometheus globals.
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Engine metrics
	SetActivePageViews(n int)
	IncrementSlotTransition(state string)
	IncrementImpressions(position string)
	IncrementClicks(position string)
	IncrementDensityDenials(priority string)
	IncrementDecisionPanics(stage string)
	IncrementCreativeRequestFailures()

	// Analytics metrics
	IncrementEmitFailures(sink string)
	IncrementEmitDropped()

	// Ingestion and reporting
	IncrementRateLimitHits()
	IncrementDashboardRefresh(outcome string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) SetActivePageViews(n int) {
	ActivePageViews.Set(float64(n))
}

func (r *PrometheusRegistry) IncrementSlotTransition(state string) {
	SlotTransitions.WithLabelValues(state).Inc()
}

func (r *PrometheusRegistry) IncrementImpressions(position string) {
	ImpressionCount.WithLabelValues(position).Inc()
}

func (r *PrometheusRegistry) IncrementClicks(position string) {
	ClickCount.WithLabelValues(position).Inc()
}

func (r *PrometheusRegistry) IncrementDensityDenials(priority string) {
	DensityDenials.WithLabelValues(priority).Inc()
}

func (r *PrometheusRegistry) IncrementDecisionPanics(stage string) {
	DecisionPanics.WithLabelValues(stage).Inc()
}

func (r *PrometheusRegistry) IncrementCreativeRequestFailures() {
	CreativeRequestFailures.Inc()
}

func (r *PrometheusRegistry) IncrementEmitFailures(sink string) {
	EmitFailures.WithLabelValues(sink).Inc()
}

func (r *PrometheusRegistry) IncrementEmitDropped() {
	EmitDropped.Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits() {
	RateLimitHits.Inc()
}

func (r *PrometheusRegistry) IncrementDashboardRefresh(outcome string) {
	DashboardRefreshes.WithLabelValues(outcome).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) SetActivePageViews(n int)                                             {}
func (r *NoOpRegistry) IncrementSlotTransition(state string)                                 {}
func (r *NoOpRegistry) IncrementImpressions(position string)                                 {}
func (r *NoOpRegistry) IncrementClicks(position string)                                      {}
func (r *NoOpRegistry) IncrementDensityDenials(priority string)                              {}
func (r *NoOpRegistry) IncrementDecisionPanics(stage string)                                 {}
func (r *NoOpRegistry) IncrementCreativeRequestFailures()                                    {}
func (r *NoOpRegistry) IncrementEmitFailures(sink string)                                    {}
func (r *NoOpRegistry) IncrementEmitDropped()                                                {}
func (r *NoOpRegistry) IncrementRateLimitHits()                                              {}
func (r *NoOpRegistry) IncrementDashboardRefresh(outcome string)                             {}
