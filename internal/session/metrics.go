// Package session holds the per-page-view Session Metrics Store: counters that
// live from page mount until navigation and are shared by gating, density
// control and measurement.
package session

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Metrics is the session metrics store for one page view. Every counter only
// moves forward; the visible-slot set is the single exception and behaves as
// a true set.
type Metrics struct {
	mu sync.RWMutex

	startedAt         time.Time
	scrollDistancePx  float64
	maxScrollDepthPct float64
	timeOnPage        time.Duration
	interactionCount  int64
	impressions       map[string]int
	visible           map[string]struct{}
	peakVisible       int
}

// Snapshot is an immutable copy of Metrics.
type Snapshot struct {
	ScrollDistancePx   float64        `json:"scroll_distance_px"`
	MaxScrollDepthPct  float64        `json:"max_scroll_depth_pct"`
	TimeOnPageMs       int64          `json:"time_on_page_ms"`
	InteractionCount   int64          `json:"interaction_count"`
	PerSlotImpressions map[string]int `json:"per_slot_impressions"`
	VisibleSlotIDs     []string       `json:"visible_slot_ids"`
	PeakVisible        int            `json:"peak_visible"`
}

// New creates the store for a page view mounted at startedAt.
func New(startedAt time.Time) *Metrics {
	return NewSeeded(startedAt, nil)
}

// NewSeeded creates the store with impression counts carried over from
// earlier page views of the same visitor. Seeds are applied only here, so the
// counters stay monotonic for the lifetime of the page view.
func NewSeeded(startedAt time.Time, seed map[string]int) *Metrics {
	m := &Metrics{
		startedAt:   startedAt,
		impressions: make(map[string]int, len(seed)),
		visible:     make(map[string]struct{}),
	}
	for id, n := range seed {
		if n > 0 {
			m.impressions[id] = n
		}
	}
	return m
}

// RecordScroll adds the absolute value of a scroll delta to the distance travelled.
func (m *Metrics) RecordScroll(deltaPx float64) {
	if math.IsNaN(deltaPx) || math.IsInf(deltaPx, 0) {
		return
	}
	m.mu.Lock()
	m.scrollDistancePx += math.Abs(deltaPx)
	m.mu.Unlock()
}

// RecordScrollDepth raises the maximum scroll depth. Values are clamped to
// [0,100]; shallower readings are ignored.
func (m *Metrics) RecordScrollDepth(pct float64) {
	if math.IsNaN(pct) {
		return
	}
	pct = math.Max(0, math.Min(100, pct))
	m.mu.Lock()
	if pct > m.maxScrollDepthPct {
		m.maxScrollDepthPct = pct
	}
	m.mu.Unlock()
}

// Tick advances time on page to now. A clock reading earlier than an
// already-recorded tick leaves the counter untouched.
func (m *Metrics) Tick(now time.Time) {
	elapsed := now.Sub(m.startedAt)
	m.mu.Lock()
	if elapsed > m.timeOnPage {
		m.timeOnPage = elapsed
	}
	m.mu.Unlock()
}

// RecordInteraction counts one user interaction with the page.
func (m *Metrics) RecordInteraction() {
	m.mu.Lock()
	m.interactionCount++
	m.mu.Unlock()
}

// RecordImpression counts a confirmed impression for slotID and returns the new count.
func (m *Metrics) RecordImpression(slotID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.impressions[slotID]++
	return m.impressions[slotID]
}

// MarkVisible adds slotID to the visible set.
func (m *Metrics) MarkVisible(slotID string) {
	m.mu.Lock()
	m.visible[slotID] = struct{}{}
	if len(m.visible) > m.peakVisible {
		m.peakVisible = len(m.visible)
	}
	m.mu.Unlock()
}

// MarkHidden removes slotID from the visible set.
func (m *Metrics) MarkHidden(slotID string) {
	m.mu.Lock()
	delete(m.visible, slotID)
	m.mu.Unlock()
}

// IsVisible reports whether slotID is in the visible set.
func (m *Metrics) IsVisible(slotID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.visible[slotID]
	return ok
}

// VisibleCount returns the size of the visible set.
func (m *Metrics) VisibleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.visible)
}

// Impressions returns the confirmed impression count for slotID.
func (m *Metrics) Impressions(slotID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.impressions[slotID]
}

// TimeOnPage returns the elapsed time recorded by the last tick.
func (m *Metrics) TimeOnPage() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeOnPage
}

// MaxScrollDepthPct returns the deepest scroll position seen, in percent.
func (m *Metrics) MaxScrollDepthPct() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxScrollDepthPct
}

// StartedAt returns the page mount time.
func (m *Metrics) StartedAt() time.Time {
	return m.startedAt
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	imps := make(map[string]int, len(m.impressions))
	for k, v := range m.impressions {
		imps[k] = v
	}
	vis := make([]string, 0, len(m.visible))
	for id := range m.visible {
		vis = append(vis, id)
	}
	sort.Strings(vis)
	return Snapshot{
		ScrollDistancePx:   m.scrollDistancePx,
		MaxScrollDepthPct:  m.maxScrollDepthPct,
		TimeOnPageMs:       m.timeOnPage.Milliseconds(),
		InteractionCount:   m.interactionCount,
		PerSlotImpressions: imps,
		VisibleSlotIDs:     vis,
		PeakVisible:        m.peakVisible,
	}
}
