package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/patrickwarner/openadview/internal/session"
	"github.com/patrickwarner/openadview/internal/slot"
)

func TestSummarize(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	slots := []slot.AdRuntimeState{
		{SlotID: "a", State: slot.StateViewed, ImpressionConfirmed: true, Requested: true, Loaded: true, Clicks: 1, AccumulatedVisibleMs: 1500},
		{SlotID: "b", State: slot.StateHidden, Requested: true, Loaded: true, AccumulatedVisibleMs: 500},
		{SlotID: "c", State: slot.StateCapped},
		{SlotID: "d", State: slot.StateViewed, ImpressionConfirmed: true, Requested: true, Loaded: true, Clicks: 2, AccumulatedVisibleMs: 1000},
	}
	snap := session.Snapshot{PeakVisible: 3, TimeOnPageMs: 42_000, MaxScrollDepthPct: 80}

	s := Summarize("pv-1", slots, snap, at)
	assert.Equal(t, 4, s.Slots)
	assert.Equal(t, 3, s.Requested)
	assert.Equal(t, 2, s.Impressions)
	assert.Equal(t, 3, s.Clicks)
	assert.Equal(t, 1, s.Capped)
	assert.InDelta(t, 1.5, s.CTR, 1e-9)
	assert.InDelta(t, 2.0/3.0, s.ViewabilityRate, 1e-9)
	assert.InDelta(t, 1000.0, s.AvgDwellMs, 1e-9)
	assert.Equal(t, 3, s.PeakDensity)

	p := s.Payload()
	assert.Equal(t, "pv-1", p["page_view_id"])
	assert.Equal(t, 2, p["impressions"])
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize("pv", nil, session.Snapshot{}, time.Time{})
	assert.Zero(t, s.CTR)
	assert.Zero(t, s.ViewabilityRate)
	assert.Zero(t, s.AvgDwellMs)
}
