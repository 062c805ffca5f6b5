package models

import (
	"errors"
	"fmt"
)

// Position identifies where on the page a slot is rendered.
type Position string

const (
	PositionHeroBanner         Position = "hero-banner"
	PositionContentInline      Position = "content-inline"
	PositionSidebarSticky      Position = "sidebar-sticky"
	PositionBetweenSections    Position = "between-sections"
	PositionFooter             Position = "footer"
	PositionMobileInterstitial Position = "mobile-interstitial"
)

// Valid reports whether p is one of the known positions.
func (p Position) Valid() bool {
	switch p {
	case PositionHeroBanner, PositionContentInline, PositionSidebarSticky,
		PositionBetweenSections, PositionFooter, PositionMobileInterstitial:
		return true
	}
	return false
}

// Priority ranks slots for density control. High-priority slots are never
// hidden by density; medium and low slots yield once the page is crowded.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Rank orders priorities with high first. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Default in-article spacing used when a slot leaves them unset.
const (
	DefaultMinParagraphGap   = 3
	DefaultMaxSlotsInContent = 3
)

// Targeting holds the declarative rules a page view must satisfy before a slot
// may load. Empty sets match everything; nil thresholds are not checked.
type Targeting struct {
	PageTypes         []string `json:"page_types,omitempty" yaml:"page_types,omitempty"`
	Categories        []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Devices           []string `json:"devices,omitempty" yaml:"devices,omitempty"`
	Countries         []string `json:"countries,omitempty" yaml:"countries,omitempty"`
	MinTimeOnPageMs   *int64   `json:"min_time_on_page_ms,omitempty" yaml:"min_time_on_page_ms,omitempty"`
	MinScrollDepthPct *int     `json:"min_scroll_depth_pct,omitempty" yaml:"min_scroll_depth_pct,omitempty"`
}

// PlacementRules constrain in-article insertion of content-inline slots.
type PlacementRules struct {
	MinParagraphGap   int `json:"min_paragraph_gap" yaml:"min_paragraph_gap"`
	MaxSlotsInContent int `json:"max_slots_in_content" yaml:"max_slots_in_content"`
}

// EffectiveGap returns MinParagraphGap or the default when unset.
func (p PlacementRules) EffectiveGap() int {
	if p.MinParagraphGap > 0 {
		return p.MinParagraphGap
	}
	return DefaultMinParagraphGap
}

// EffectiveMaxSlots returns MaxSlotsInContent or the default when unset.
func (p PlacementRules) EffectiveMaxSlots() int {
	if p.MaxSlotsInContent > 0 {
		return p.MaxSlotsInContent
	}
	return DefaultMaxSlotsInContent
}

// AdSlotConfig is the immutable declaration of one logical ad placement.
// Publishers register these once; every page view creates a runtime instance
// per rendered placeholder.
type AdSlotConfig struct {
	// SlotID is unique per logical placement (e.g. "recipe-sidebar-300x600").
	SlotID   string   `json:"slot_id" yaml:"slot_id"`
	Position Position `json:"position" yaml:"position"`
	Priority Priority `json:"priority" yaml:"priority"`
	// MaxPerSession caps confirmed impressions of this slot within one session.
	MaxPerSession int `json:"max_per_session" yaml:"max_per_session"`
	// MinViewTimeMs is the dwell required before an impression is confirmed.
	MinViewTimeMs int64 `json:"min_view_time_ms" yaml:"min_view_time_ms"`
	// ViewportThreshold is the overlap ratio at which the slot counts as visible.
	ViewportThreshold float64        `json:"viewport_threshold" yaml:"viewport_threshold"`
	Targeting         Targeting      `json:"targeting" yaml:"targeting"`
	Placement         PlacementRules `json:"placement" yaml:"placement"`
}

// ErrInvalidConfig wraps every slot configuration validation failure.
var ErrInvalidConfig = errors.New("invalid slot config")

// Validate checks the declaration and returns all violations joined together,
// each wrapped with ErrInvalidConfig.
func (c AdSlotConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.SlotID == "" {
		add("slot_id is required")
	}
	if !c.Position.Valid() {
		add("unknown position %q", c.Position)
	}
	if !c.Priority.Valid() {
		add("unknown priority %q", c.Priority)
	}
	if c.MaxPerSession < 1 {
		add("max_per_session must be >= 1, got %d", c.MaxPerSession)
	}
	if c.MinViewTimeMs < 0 {
		add("min_view_time_ms must be >= 0, got %d", c.MinViewTimeMs)
	}
	if c.ViewportThreshold < 0 || c.ViewportThreshold > 1 {
		add("viewport_threshold must be within [0,1], got %g", c.ViewportThreshold)
	}
	if t := c.Targeting.MinTimeOnPageMs; t != nil && *t < 0 {
		add("min_time_on_page_ms must be >= 0, got %d", *t)
	}
	if d := c.Targeting.MinScrollDepthPct; d != nil && (*d < 0 || *d > 100) {
		add("min_scroll_depth_pct must be within [0,100], got %d", *d)
	}
	if c.Placement.MinParagraphGap < 0 {
		add("min_paragraph_gap must be >= 0, got %d", c.Placement.MinParagraphGap)
	}
	if c.Placement.MaxSlotsInContent < 0 {
		add("max_slots_in_content must be >= 0, got %d", c.Placement.MaxSlotsInContent)
	}
	return errors.Join(errs...)
}
