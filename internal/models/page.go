package models

// PageContext is the read-only description of the current page view, refreshed
// once per navigation. It is produced by the rendering layer plus request
// derived signals and consumed by targeting.
type PageContext struct {
	PageViewID string `json:"page_view_id"`
	Path       string `json:"path"`
	PageType   string `json:"page_type"` // e.g. "recipe", "blog", "forum", "shop"
	Category   string `json:"category"`
	DeviceType string `json:"device_type,omitempty"` // derived from User-Agent
	Country    string `json:"country,omitempty"`     // derived from client IP
	// VisitorID links page views of one browser when caps are visitor scoped.
	VisitorID string `json:"visitor_id,omitempty"`
}

// Analytics event names emitted by the engine.
const (
	EventImpression     = "ad_impression"
	EventClick          = "ad_click"
	EventCapped         = "ad_capped"
	EventRequestFailed  = "ad_request_failed"
	EventPageSummary    = "page_summary"
	EventConfigRejected = "ad_config_rejected"
)
