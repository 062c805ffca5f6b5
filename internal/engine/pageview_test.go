package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/clock"
	"github.com/patrickwarner/openadview/internal/logic"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/network"
	"github.com/patrickwarner/openadview/internal/observability"
	"github.com/patrickwarner/openadview/internal/slot"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type countingMetrics struct {
	*observability.NoOpRegistry
	mu          sync.Mutex
	panics      map[string]int
	denials     map[string]int
	impressions int
	clicks      int
	failures    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		NoOpRegistry: observability.NewNoOpRegistry(),
		panics:       make(map[string]int),
		denials:      make(map[string]int),
	}
}

func (c *countingMetrics) IncrementDecisionPanics(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panics[stage]++
}

func (c *countingMetrics) IncrementDensityDenials(priority string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denials[priority]++
}

func (c *countingMetrics) IncrementImpressions(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.impressions++
}

func (c *countingMetrics) IncrementClicks(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clicks++
}

func (c *countingMetrics) IncrementCreativeRequestFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

type recordingRequester struct {
	mu   sync.Mutex
	reqs []network.CreativeRequest
	err  error
}

func (r *recordingRequester) RequestCreative(_ context.Context, req network.CreativeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.err
}

func (r *recordingRequester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type harness struct {
	clk     *clock.Manual
	events  *analytics.RecordingSink
	metrics *countingMetrics
	req     *recordingRequester
	pv      *PageView
}

func newHarness(t *testing.T, supported bool) *harness {
	t.Helper()
	h := &harness{
		clk:     clock.NewManual(t0),
		events:  &analytics.RecordingSink{},
		metrics: newCountingMetrics(),
		req:     &recordingRequester{},
	}
	h.pv = NewPageView(PageViewOptions{
		Page:              models.PageContext{PageViewID: "pv-1", Path: "/recipes/soup", PageType: "recipe", Category: "soups"},
		ObserverSupported: supported,
	}, h.deps(t))
	return h
}

func (h *harness) deps(t *testing.T) Dependencies {
	return Dependencies{
		Clock:     h.clk,
		Emitter:   h.events,
		Requester: h.req,
		Metrics:   h.metrics,
		Logger:    zaptest.NewLogger(t),
	}
}

func slotConfig(id string, p models.Priority) models.AdSlotConfig {
	return models.AdSlotConfig{
		SlotID:            id,
		Position:          models.PositionSidebarSticky,
		Priority:          p,
		MaxPerSession:     1,
		MinViewTimeMs:     1000,
		ViewportThreshold: 0.5,
	}
}

func stateOf(t *testing.T, pv *PageView, id string) slot.AdRuntimeState {
	t.Helper()
	for _, s := range pv.Snapshot(false).Slots {
		if s.SlotID == id {
			return s
		}
	}
	t.Fatalf("slot %s not mounted", id)
	return slot.AdRuntimeState{}
}

func TestPartialDwellScenario(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.pv.Register(slotConfig("sidebar", models.PriorityMedium)))
	assert.Equal(t, slot.StateLoaded, stateOf(t, h.pv, "sidebar").State)

	require.NoError(t, h.pv.ReportVisibility("sidebar", 0.6))
	h.clk.Advance(600 * time.Millisecond)
	require.NoError(t, h.pv.ReportVisibility("sidebar", 0.2))

	s := stateOf(t, h.pv, "sidebar")
	assert.Equal(t, slot.StateHidden, s.State)
	assert.Equal(t, int64(600), s.AccumulatedVisibleMs)

	h.clk.Advance(2000 * time.Millisecond)
	assert.Equal(t, int64(600), stateOf(t, h.pv, "sidebar").AccumulatedVisibleMs)

	require.NoError(t, h.pv.ReportVisibility("sidebar", 0.6))
	h.clk.Advance(300 * time.Millisecond)
	assert.Empty(t, h.events.ByName(models.EventImpression))

	h.clk.Advance(200 * time.Millisecond)
	imps := h.events.ByName(models.EventImpression)
	require.Len(t, imps, 1)
	assert.Equal(t, "sidebar", imps[0].SlotID)
	assert.Equal(t, "pv-1", imps[0].PageViewID)
	assert.Equal(t, int64(1000), imps[0].Payload["accumulated_visible_ms"])

	s = stateOf(t, h.pv, "sidebar")
	assert.Equal(t, slot.StateViewed, s.State)
	assert.True(t, s.ImpressionConfirmed)
	require.NotNil(t, s.ViewedAt)
	assert.Equal(t, t0.Add(3000*time.Millisecond), *s.ViewedAt)
	assert.Equal(t, 1, h.pv.Metrics().Impressions("sidebar"))
}

func TestViewedSlotNeverReenters(t *testing.T) {
	h := newHarness(t, true)
	cfg := slotConfig("hero", models.PriorityHigh)
	require.NoError(t, h.pv.Register(cfg))
	require.NoError(t, h.pv.ReportVisibility("hero", 1))
	h.clk.Advance(time.Second)
	require.Len(t, h.events.ByName(models.EventImpression), 1)

	require.NoError(t, h.pv.ReportVisibility("hero", 0))
	assert.False(t, h.pv.Metrics().IsVisible("hero"))
	require.NoError(t, h.pv.ReportVisibility("hero", 1))
	assert.True(t, h.pv.Metrics().IsVisible("hero"))
	h.clk.Advance(5 * time.Second)

	assert.False(t, logic.IsEligible(cfg, h.pv.Metrics(), h.pv.Page()))
	assert.Len(t, h.events.ByName(models.EventImpression), 1)
	assert.Equal(t, 1, h.pv.Metrics().Impressions("hero"))

	// a remounted instance is capped before it loads
	require.NoError(t, h.pv.RemoveSlot("hero"))
	require.NoError(t, h.pv.Register(cfg))
	s := stateOf(t, h.pv, "hero")
	assert.Equal(t, slot.StateCapped, s.State)
	assert.Equal(t, logic.RuleSessionCap, s.CappedReason)
	assert.Len(t, h.events.ByName(models.EventCapped), 1)
}

func TestZeroDwellConfirmsOnCrossing(t *testing.T) {
	h := newHarness(t, true)
	cfg := slotConfig("footer", models.PriorityLow)
	cfg.MinViewTimeMs = 0
	require.NoError(t, h.pv.Register(cfg))
	require.NoError(t, h.pv.ReportVisibility("footer", 0.5))
	assert.Len(t, h.events.ByName(models.EventImpression), 1)
}

func TestFailOpenTreatsSlotsAsVisible(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.pv.Register(slotConfig("hero", models.PriorityHigh)))

	s := stateOf(t, h.pv, "hero")
	assert.Equal(t, slot.StateVisible, s.State)
	assert.Equal(t, 1.0, s.Ratio)

	// browser reports are ignored while failing open
	require.NoError(t, h.pv.ReportVisibility("hero", 0))
	h.clk.Advance(time.Second)
	assert.Len(t, h.events.ByName(models.EventImpression), 1)
}

func TestInvalidConfigRejected(t *testing.T) {
	h := newHarness(t, true)
	cfg := slotConfig("bad", models.PriorityLow)
	cfg.MaxPerSession = 0

	err := h.pv.Register(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))
	assert.Empty(t, h.pv.Slots())
	assert.Len(t, h.events.ByName(models.EventConfigRejected), 1)
	assert.Zero(t, h.req.count())
}

func TestDuplicateSlotRejected(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.pv.Register(slotConfig("a", models.PriorityLow)))
	err := h.pv.Register(slotConfig("a", models.PriorityLow))
	assert.True(t, errors.Is(err, ErrDuplicateSlot))
}

func TestTargetingWaitsForTimeOnPage(t *testing.T) {
	h := newHarness(t, true)
	cfg := slotConfig("inline", models.PriorityMedium)
	minTime := int64(5000)
	cfg.Targeting.MinTimeOnPageMs = &minTime
	require.NoError(t, h.pv.Register(cfg))
	assert.Equal(t, slot.StatePending, stateOf(t, h.pv, "inline").State)

	h.clk.Advance(4 * time.Second)
	require.NoError(t, h.pv.Tick())
	assert.Equal(t, slot.StatePending, stateOf(t, h.pv, "inline").State)

	h.clk.Advance(time.Second)
	require.NoError(t, h.pv.Tick())
	assert.Equal(t, slot.StateLoaded, stateOf(t, h.pv, "inline").State)
	assert.Eventually(t, func() bool { return h.req.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTargetingWaitsForScrollDepth(t *testing.T) {
	h := newHarness(t, true)
	cfg := slotConfig("deep", models.PriorityLow)
	depth := 50
	cfg.Targeting.MinScrollDepthPct = &depth
	require.NoError(t, h.pv.Register(cfg))

	shallow, deep := 30.0, 55.0
	require.NoError(t, h.pv.Scroll(400, &shallow))
	assert.Equal(t, slot.StatePending, stateOf(t, h.pv, "deep").State)
	require.NoError(t, h.pv.Scroll(-200, &deep))
	assert.Equal(t, slot.StateLoaded, stateOf(t, h.pv, "deep").State)
	assert.Equal(t, 600.0, h.pv.Snapshot(false).Session.ScrollDistancePx)
}

func TestPageTypeMismatchStaysPending(t *testing.T) {
	h := newHarness(t, true)
	cfg := slotConfig("shop", models.PriorityLow)
	cfg.Targeting.PageTypes = []string{"shop"}
	require.NoError(t, h.pv.Register(cfg))
	require.NoError(t, h.pv.Evaluate())
	assert.Equal(t, slot.StatePending, stateOf(t, h.pv, "shop").State)

	snap := h.pv.Snapshot(true)
	require.NotNil(t, snap.Trace)
	var found bool
	for _, st := range snap.Trace.Steps {
		if st.SlotID == "shop" && st.Details["rule"] == logic.RulePageType {
			found = true
		}
	}
	assert.True(t, found, "trace should name the failing rule")
}

func TestClickRequiresLoadedCreative(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.pv.Register(slotConfig("side", models.PriorityMedium)))

	err := h.pv.Click("side")
	assert.True(t, errors.Is(err, slot.ErrNotLoaded))

	require.NoError(t, h.pv.CreativeLoaded("side", true, ""))
	require.NoError(t, h.pv.ReportVisibility("side", 0.7))
	h.clk.Advance(250 * time.Millisecond)
	require.NoError(t, h.pv.Click("side"))
	require.NoError(t, h.pv.Click("side"))

	clicks := h.events.ByName(models.EventClick)
	require.Len(t, clicks, 2)
	assert.Equal(t, 0.7, clicks[0].Payload["ratio"])
	assert.Equal(t, int64(250), clicks[0].Payload["accumulated_visible_ms"])
	assert.Equal(t, false, clicks[0].Payload["viewed"])
	assert.Equal(t, 2, clicks[1].Payload["clicks"])
	assert.Equal(t, 2, h.metrics.clicks)
	assert.Empty(t, h.events.ByName(models.EventImpression))

	assert.True(t, errors.Is(h.pv.Click("nope"), ErrUnknownSlot))
}

func TestCreativeLoadFailureReported(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.pv.Register(slotConfig("side", models.PriorityMedium)))
	require.NoError(t, h.pv.CreativeLoaded("side", false, "script error"))

	failed := h.events.ByName(models.EventRequestFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "script error", failed[0].Payload["error"])
	assert.False(t, stateOf(t, h.pv, "side").Loaded)
}

func TestCreativeRequestFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, true)
	h.req.err = errors.New("network down")
	require.NoError(t, h.pv.Register(slotConfig("side", models.PriorityMedium)))

	assert.Eventually(t, func() bool {
		return len(h.events.ByName(models.EventRequestFailed)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, slot.StateLoaded, stateOf(t, h.pv, "side").State)
}

func TestCreativeLoadFailureReportedOncePerInstance(t *testing.T) {
	h := newHarness(t, true)
	pending := slotConfig("pend", models.PriorityMedium)
	pending.Targeting.PageTypes = []string{"shop"}
	require.NoError(t, h.pv.Register(pending))
	require.NoError(t, h.pv.Register(slotConfig("ok", models.PriorityMedium)))
	require.NoError(t, h.pv.Register(slotConfig("flaky", models.PriorityMedium)))

	require.NoError(t, h.pv.CreativeLoaded("pend", false, "x"))
	require.NoError(t, h.pv.CreativeLoaded("pend", false, "y"))
	require.NoError(t, h.pv.CreativeLoaded("ok", true, ""))
	require.NoError(t, h.pv.CreativeLoaded("ok", false, "late"))
	assert.Empty(t, h.events.ByName(models.EventRequestFailed))

	require.NoError(t, h.pv.CreativeLoaded("flaky", false, "timeout"))
	require.NoError(t, h.pv.CreativeLoaded("flaky", false, "timeout again"))
	failed := h.events.ByName(models.EventRequestFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "flaky", failed[0].Payload["slot_id"])
	assert.True(t, stateOf(t, h.pv, "flaky").LoadFailed)
	assert.False(t, stateOf(t, h.pv, "pend").LoadFailed)
}

func TestRequesterAndCallbackFailuresShareOneEvent(t *testing.T) {
	h := newHarness(t, true)
	h.req.err = errors.New("network down")
	require.NoError(t, h.pv.Register(slotConfig("side", models.PriorityMedium)))

	require.Eventually(t, func() bool {
		return len(h.events.ByName(models.EventRequestFailed)) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, h.pv.CreativeLoaded("side", false, "script error"))
	assert.Len(t, h.events.ByName(models.EventRequestFailed), 1)
	assert.Equal(t, 1, h.req.count())
}

func TestDensityDemotionAndReadmission(t *testing.T) {
	h := newHarness(t, true)
	for _, id := range []string{"l1", "l2", "l3", "l4"} {
		require.NoError(t, h.pv.Register(slotConfig(id, models.PriorityLow)))
	}
	for _, id := range []string{"l1", "l2", "l3", "l4"} {
		require.NoError(t, h.pv.ReportVisibility(id, 0.9))
	}

	l4 := stateOf(t, h.pv, "l4")
	assert.True(t, l4.Demoted)
	assert.False(t, l4.Visible)
	assert.Equal(t, 3, h.pv.Metrics().VisibleCount())
	assert.Equal(t, 1, h.metrics.denials["low"])

	// demoted slots accrue no dwell
	h.clk.Advance(500 * time.Millisecond)
	assert.Zero(t, stateOf(t, h.pv, "l4").AccumulatedVisibleMs)

	require.NoError(t, h.pv.ReportVisibility("l2", 0))
	l4 = stateOf(t, h.pv, "l4")
	assert.True(t, l4.Visible)
	assert.False(t, l4.Demoted)
	assert.Equal(t, 3, h.pv.Metrics().VisibleCount())
}

func TestDensityCapsAtLoad(t *testing.T) {
	h := newHarness(t, false)
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		require.NoError(t, h.pv.Register(slotConfig(id, models.PriorityMedium)))
	}
	require.NoError(t, h.pv.Register(slotConfig("m6", models.PriorityMedium)))
	require.NoError(t, h.pv.Register(slotConfig("h1", models.PriorityHigh)))

	assert.Equal(t, slot.StateCapped, stateOf(t, h.pv, "m6").State)
	assert.Equal(t, logic.RuleDensityMedium, stateOf(t, h.pv, "m6").CappedReason)
	assert.True(t, stateOf(t, h.pv, "h1").Visible)
	assert.Equal(t, 6, h.pv.Metrics().VisibleCount())
}

// Random visibility traffic must never break the density limits, and high
// priority slots over their threshold must always be visible.
func TestDensityInvariantsUnderRandomTraffic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := newHarness(t, true)

	var ids []string
	priorities := []models.Priority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow}
	for i := 0; i < 12; i++ {
		cfg := slotConfig(string(rune('a'+i)), priorities[i%3])
		cfg.MaxPerSession = 100
		cfg.MinViewTimeMs = int64(rng.Intn(800))
		require.NoError(t, h.pv.Register(cfg))
		ids = append(ids, cfg.SlotID)
	}

	for step := 0; step < 600; step++ {
		id := ids[rng.Intn(len(ids))]
		require.NoError(t, h.pv.ReportVisibility(id, rng.Float64()))
		if rng.Intn(4) == 0 {
			h.clk.Advance(time.Duration(rng.Intn(400)) * time.Millisecond)
		}

		snap := h.pv.Snapshot(false)
		visible := map[string]bool{}
		for _, v := range snap.Session.VisibleSlotIDs {
			visible[v] = true
		}
		counts := map[models.Priority]int{}
		for _, s := range snap.Slots {
			require.Equal(t, s.Visible, visible[s.SlotID], "visible set out of sync for %s", s.SlotID)
			if s.Visible {
				counts[s.Priority]++
			}
			if s.Priority == models.PriorityHigh {
				require.False(t, s.Demoted, "high priority slot %s demoted", s.SlotID)
				if ratio, _ := h.pv.CurrentRatio(s.SlotID); ratio >= 0.5 {
					require.True(t, s.Visible, "high priority slot %s hidden at ratio %.2f", s.SlotID, ratio)
				}
			}
		}
		require.LessOrEqual(t, counts[models.PriorityMedium], logic.MediumDensityLimit)
		require.LessOrEqual(t, counts[models.PriorityLow], logic.LowDensityLimit)
		for id, n := range snap.Session.PerSlotImpressions {
			require.LessOrEqual(t, n, 1, "instance %s confirmed twice", id)
		}
	}
}

func TestRemoveSlotCleansUp(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.pv.Register(slotConfig("side", models.PriorityMedium)))
	require.NoError(t, h.pv.ReportVisibility("side", 0.8))
	require.Equal(t, 1, h.clk.Pending())
	require.Len(t, h.pv.Snapshot(false).Observers, 1)

	require.NoError(t, h.pv.RemoveSlot("side"))
	assert.Zero(t, h.pv.Metrics().VisibleCount())
	assert.Zero(t, h.clk.Pending())
	assert.Empty(t, h.pv.Snapshot(false).Observers)
	_, observed := h.pv.CurrentRatio("side")
	assert.False(t, observed)

	h.clk.Advance(5 * time.Second)
	assert.Empty(t, h.events.ByName(models.EventImpression))
	assert.True(t, errors.Is(h.pv.ReportVisibility("side", 1), ErrUnknownSlot))

	snap := h.pv.Snapshot(false)
	require.Len(t, snap.Removed, 1)
	assert.Equal(t, slot.StateRemoved, snap.Removed[0].State)
}

func TestRemoveVisibleSlotReadmitsDemoted(t *testing.T) {
	h := newHarness(t, true)
	for _, id := range []string{"l1", "l2", "l3", "l4"} {
		require.NoError(t, h.pv.Register(slotConfig(id, models.PriorityLow)))
	}
	for _, id := range []string{"l1", "l2", "l3", "l4"} {
		require.NoError(t, h.pv.ReportVisibility(id, 1))
	}
	require.True(t, stateOf(t, h.pv, "l4").Demoted)

	require.NoError(t, h.pv.RemoveSlot("l1"))
	l4 := stateOf(t, h.pv, "l4")
	assert.True(t, l4.Visible)
	assert.False(t, l4.Demoted)
}

func TestSlotMountedIntoSaturatedPageIsCapped(t *testing.T) {
	h := newHarness(t, true)
	for _, id := range []string{"l1", "l2", "l3"} {
		require.NoError(t, h.pv.Register(slotConfig(id, models.PriorityLow)))
		require.NoError(t, h.pv.ReportVisibility(id, 1))
	}
	require.Equal(t, 3, h.pv.Metrics().VisibleCount())

	require.NoError(t, h.pv.Register(slotConfig("l4", models.PriorityLow)))
	l4 := stateOf(t, h.pv, "l4")
	assert.Equal(t, slot.StateCapped, l4.State)
	assert.Equal(t, logic.RuleDensityLow, l4.CappedReason)
	assert.False(t, l4.Requested)
}

func TestEvaluationPanicIsIsolated(t *testing.T) {
	orig := evaluateEligibility
	t.Cleanup(func() { evaluateEligibility = orig })
	evaluateEligibility = func(cfg models.AdSlotConfig, m logic.SessionView, p models.PageContext) logic.Eligibility {
		if cfg.SlotID == "bad" {
			panic("boom")
		}
		return orig(cfg, m, p)
	}

	h := newHarness(t, true)
	require.NoError(t, h.pv.Register(slotConfig("bad", models.PriorityLow)))
	require.NoError(t, h.pv.Register(slotConfig("good", models.PriorityLow)))
	require.NoError(t, h.pv.Evaluate())

	assert.Equal(t, slot.StatePending, stateOf(t, h.pv, "bad").State)
	assert.Equal(t, slot.StateLoaded, stateOf(t, h.pv, "good").State)
	assert.Equal(t, 2, h.metrics.panics[stageEligibility])
}

func TestAdmissionPanicIsIsolated(t *testing.T) {
	orig := evaluateAdmission
	t.Cleanup(func() { evaluateAdmission = orig })
	evaluateAdmission = func(cfg models.AdSlotConfig, m logic.SessionView) logic.Eligibility {
		if cfg.SlotID == "bad" {
			panic("boom")
		}
		return orig(cfg, m)
	}

	h := newHarness(t, true)
	require.NoError(t, h.pv.Register(slotConfig("bad", models.PriorityLow)))
	require.NoError(t, h.pv.Register(slotConfig("good", models.PriorityLow)))
	assert.Equal(t, slot.StateEligible, stateOf(t, h.pv, "bad").State)
	assert.Equal(t, slot.StateLoaded, stateOf(t, h.pv, "good").State)
	assert.Equal(t, 1, h.metrics.panics[stageAdmission])
}

func TestCloseEmitsSummary(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.pv.Register(slotConfig("a", models.PriorityHigh)))
	require.NoError(t, h.pv.Register(slotConfig("b", models.PriorityMedium)))
	require.NoError(t, h.pv.CreativeLoaded("a", true, ""))
	require.NoError(t, h.pv.ReportVisibility("a", 1))
	require.NoError(t, h.pv.ReportVisibility("b", 1))
	h.clk.Advance(1500 * time.Millisecond)
	require.NoError(t, h.pv.Click("a"))

	summary, err := h.pv.Close()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Impressions)
	assert.Equal(t, 1, summary.Clicks)
	assert.Equal(t, 2, summary.PeakDensity)
	require.Len(t, h.events.ByName(models.EventPageSummary), 1)

	assert.Zero(t, h.pv.Metrics().VisibleCount())
	assert.Zero(t, h.clk.Pending())
	assert.True(t, errors.Is(h.pv.Tick(), ErrClosed))

	again, err := h.pv.Close()
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Equal(t, summary, again)
	assert.Len(t, h.events.ByName(models.EventPageSummary), 1)
}

func TestSessionCountersMonotonic(t *testing.T) {
	h := newHarness(t, true)
	rng := rand.New(rand.NewSource(7))
	prev := h.pv.Snapshot(false).Session
	for i := 0; i < 300; i++ {
		switch rng.Intn(4) {
		case 0:
			d := rng.Float64() * 100
			require.NoError(t, h.pv.Scroll(rng.Float64()*600-300, &d))
		case 1:
			h.clk.Advance(time.Duration(rng.Intn(500)) * time.Millisecond)
			require.NoError(t, h.pv.Tick())
		case 2:
			require.NoError(t, h.pv.Interaction())
		default:
			require.NoError(t, h.pv.Scroll(rng.Float64()*-50, nil))
		}
		cur := h.pv.Snapshot(false).Session
		require.GreaterOrEqual(t, cur.ScrollDistancePx, prev.ScrollDistancePx)
		require.GreaterOrEqual(t, cur.MaxScrollDepthPct, prev.MaxScrollDepthPct)
		require.GreaterOrEqual(t, cur.TimeOnPageMs, prev.TimeOnPageMs)
		require.GreaterOrEqual(t, cur.InteractionCount, prev.InteractionCount)
		prev = cur
	}
}
