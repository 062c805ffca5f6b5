package analytics

import (
	"time"

	"github.com/patrickwarner/openadview/internal/session"
	"github.com/patrickwarner/openadview/internal/slot"
)

// PageSummary aggregates slot counters for one page view.
type PageSummary struct {
	PageViewID       string    `json:"page_view_id"`
	ClosedAt         time.Time `json:"closed_at"`
	Slots            int       `json:"slots"`
	Requested        int       `json:"requested"`
	Impressions      int       `json:"impressions"`
	Clicks           int       `json:"clicks"`
	Capped           int       `json:"capped"`
	CTR              float64   `json:"ctr"`
	ViewabilityRate  float64   `json:"viewability_rate"`
	AvgDwellMs       float64   `json:"avg_dwell_ms"`
	PeakDensity      int       `json:"peak_density"`
	TimeOnPageMs     int64     `json:"time_on_page_ms"`
	MaxScrollDepth   float64   `json:"max_scroll_depth_pct"`
	ScrollDistancePx float64   `json:"scroll_distance_px"`
	Interactions     int64     `json:"interactions"`
}

// Summarize folds slot states and session metrics into a PageSummary.
// Viewability is confirmed impressions over requested creatives; average
// dwell covers slots that were on screen at least once.
func Summarize(pageViewID string, slots []slot.AdRuntimeState, snap session.Snapshot, at time.Time) PageSummary {
	s := PageSummary{
		PageViewID:       pageViewID,
		ClosedAt:         at,
		Slots:            len(slots),
		PeakDensity:      snap.PeakVisible,
		TimeOnPageMs:     snap.TimeOnPageMs,
		MaxScrollDepth:   snap.MaxScrollDepthPct,
		ScrollDistancePx: snap.ScrollDistancePx,
		Interactions:     snap.InteractionCount,
	}
	var dwellTotal int64
	var dwellSlots int
	for _, st := range slots {
		if st.ImpressionConfirmed {
			s.Impressions++
		}
		// removed instances keep their capped reason
		if st.State == slot.StateCapped || st.CappedReason != "" {
			s.Capped++
		}
		if st.Requested {
			s.Requested++
		}
		s.Clicks += st.Clicks
		if st.AccumulatedVisibleMs > 0 {
			dwellTotal += st.AccumulatedVisibleMs
			dwellSlots++
		}
	}
	if s.Impressions > 0 {
		s.CTR = float64(s.Clicks) / float64(s.Impressions)
	}
	if s.Requested > 0 {
		s.ViewabilityRate = float64(s.Impressions) / float64(s.Requested)
	}
	if dwellSlots > 0 {
		s.AvgDwellMs = float64(dwellTotal) / float64(dwellSlots)
	}
	return s
}

// Payload renders the summary as an analytics payload.
func (s PageSummary) Payload() map[string]any {
	return map[string]any{
		"page_view_id":         s.PageViewID,
		"slots":                s.Slots,
		"requested":            s.Requested,
		"impressions":          s.Impressions,
		"clicks":               s.Clicks,
		"capped":               s.Capped,
		"ctr":                  s.CTR,
		"viewability_rate":     s.ViewabilityRate,
		"avg_dwell_ms":         s.AvgDwellMs,
		"peak_density":         s.PeakDensity,
		"time_on_page_ms":      s.TimeOnPageMs,
		"max_scroll_depth_pct": s.MaxScrollDepth,
		"scroll_distance_px":   s.ScrollDistancePx,
		"interactions":         s.Interactions,
	}
}
