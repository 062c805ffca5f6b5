// Package engine binds the decision and measurement components to one page
// view. A PageView serialises every mutation behind a single mutex, the
// server-side stand-in for the browser's UI thread, and runs side effects
// (creative requests, analytics, visitor cap increments) only after that
// mutex is released.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/clock"
	"github.com/patrickwarner/openadview/internal/logic"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/network"
	"github.com/patrickwarner/openadview/internal/observability"
	"github.com/patrickwarner/openadview/internal/session"
	"github.com/patrickwarner/openadview/internal/slot"
	"github.com/patrickwarner/openadview/internal/visibility"

	"go.uber.org/zap"
)

var (
	// ErrUnknownSlot is returned for events naming a slot the page view never registered.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrDuplicateSlot is returned when a slot ID is registered twice on one page view.
	ErrDuplicateSlot = errors.New("slot already registered")
	// ErrClosed is returned for operations on a page view that has been closed.
	ErrClosed = errors.New("page view closed")
)

// Decision stages; used as trace stage names and panic metric labels.
const (
	stageRegister    = "register"
	stageEligibility = "eligibility"
	stageAdmission   = "admission"
	stageVisibility  = "visibility"
	stageDwell       = "dwell"
	stageRequest     = "creative_request"
)

// Swapped in tests to exercise panic isolation.
var (
	evaluateEligibility = logic.EvaluateEligibility
	evaluateAdmission   = logic.EvaluateAdmission
)

// Emitter forwards named analytics events. *analytics.Emitter and
// *analytics.RecordingSink both satisfy it.
type Emitter interface {
	Emit(name string, payload map[string]any)
}

// VisitorCapStore persists per-visitor impression counts across page views.
// *db.RedisStore satisfies it.
type VisitorCapStore interface {
	VisitorImpressions(visitorID string, slotIDs []string) (map[string]int, error)
	IncrementVisitorImpression(visitorID, slotID string, window time.Duration) (int64, error)
}

// Dependencies are shared by every page view of a Manager.
type Dependencies struct {
	Clock     clock.Clock
	Emitter   Emitter
	Requester network.CreativeRequester
	Metrics   observability.MetricsRegistry
	Logger    *zap.Logger

	// Caps is consulted only when the session scope is visitor.
	Caps      VisitorCapStore
	CapWindow time.Duration

	RequestTimeout time.Duration
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Emitter == nil {
		d.Emitter = discardEmitter{}
	}
	if d.Requester == nil {
		d.Requester = network.NoopRequester{}
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewNoOpRegistry()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 2 * time.Second
	}
	return d
}

type discardEmitter struct{}

func (discardEmitter) Emit(string, map[string]any) {}

// PageView is the engine state of one browser page view.
type PageView struct {
	mu sync.Mutex

	id      string
	page    models.PageContext
	deps    Dependencies
	logger  *zap.Logger
	visitor bool

	metrics  *session.Metrics
	observer *visibility.Observer

	slots   map[string]*slot.Runtime
	order   []string
	retired []slot.AdRuntimeState

	trace        logic.EvaluationTrace
	outbox       []func()
	lastActivity time.Time
	closed       bool
	summary      analytics.PageSummary
}

// PageViewOptions describe a page view at mount time.
type PageViewOptions struct {
	Page models.PageContext
	// ObserverSupported is false when the browser lacks an intersection
	// primitive; every slot is then treated as fully visible.
	ObserverSupported bool
	// VisitorScoped enables cross-page-view caps through Dependencies.Caps.
	VisitorScoped bool
	// Seed carries impression counts from earlier page views.
	Seed map[string]int
}

// NewPageView mounts a page view. Its session starts now.
func NewPageView(opts PageViewOptions, deps Dependencies) *PageView {
	deps = deps.withDefaults()
	now := deps.Clock.Now()
	logger := deps.Logger.With(zap.String("page_view_id", opts.Page.PageViewID))
	prim := visibility.NewRemotePrimitive(opts.ObserverSupported)
	return &PageView{
		id:           opts.Page.PageViewID,
		page:         opts.Page,
		deps:         deps,
		logger:       logger,
		visitor:      opts.VisitorScoped && deps.Caps != nil && opts.Page.VisitorID != "",
		metrics:      session.NewSeeded(now, opts.Seed),
		observer:     visibility.NewObserver(prim, logger),
		slots:        make(map[string]*slot.Runtime),
		lastActivity: now,
	}
}

// ID returns the page view identifier.
func (pv *PageView) ID() string { return pv.id }

// Page returns the page context the view was mounted with.
func (pv *PageView) Page() models.PageContext { return pv.page }

// LastActivity returns the time of the most recent operation.
func (pv *PageView) LastActivity() time.Time {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.lastActivity
}

// Closed reports whether Close has run.
func (pv *PageView) Closed() bool {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.closed
}

// do runs fn under the page view lock, then executes queued effects in order.
func (pv *PageView) do(fn func(now time.Time) error) error {
	pv.mu.Lock()
	if pv.closed {
		pv.mu.Unlock()
		return ErrClosed
	}
	now := pv.deps.Clock.Now()
	pv.lastActivity = now
	err := fn(now)
	effects := pv.outbox
	pv.outbox = nil
	pv.mu.Unlock()

	for _, f := range effects {
		f()
	}
	return err
}

func (pv *PageView) enqueue(f func()) {
	pv.outbox = append(pv.outbox, f)
}

func (pv *PageView) emit(name string, payload map[string]any) {
	payload["page_view_id"] = pv.id
	em := pv.deps.Emitter
	pv.enqueue(func() { em.Emit(name, payload) })
}

func (pv *PageView) slotPayload(rt *slot.Runtime) map[string]any {
	cfg := rt.Config()
	return map[string]any{
		"slot_id":     cfg.SlotID,
		"position":    string(cfg.Position),
		"priority":    string(cfg.Priority),
		"page_type":   pv.page.PageType,
		"category":    pv.page.Category,
		"device_type": pv.page.DeviceType,
		"country":     pv.page.Country,
	}
}

// Register validates cfg and mounts a runtime for it. Invalid configs never
// leave pending: they are rejected here and reported as ad_config_rejected.
func (pv *PageView) Register(cfg models.AdSlotConfig) error {
	return pv.do(func(now time.Time) error {
		if err := cfg.Validate(); err != nil {
			pv.trace.AddStepWithDetails(now, cfg.SlotID, stageRegister, "rejected", map[string]string{"error": err.Error()})
			pv.logger.Warn("rejected slot config", zap.String("slot_id", cfg.SlotID), zap.Error(err))
			pv.emit(models.EventConfigRejected, map[string]any{"slot_id": cfg.SlotID, "error": err.Error()})
			return err
		}
		if _, ok := pv.slots[cfg.SlotID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateSlot, cfg.SlotID)
		}

		rt := slot.New(cfg, slot.Options{
			Clock:        pv.deps.Clock,
			OnDwell:      pv.onDwell,
			OnTransition: pv.onTransition,
		})
		pv.slots[cfg.SlotID] = rt
		pv.order = append(pv.order, cfg.SlotID)
		pv.trace.AddStep(now, cfg.SlotID, stageRegister, "pending")

		if err := pv.observer.Observe(cfg.SlotID, []float64{cfg.ViewportThreshold}, pv.onVisibility, now); err != nil {
			// without observation the slot can never become visible
			pv.logger.Error("observe slot", zap.String("slot_id", cfg.SlotID), zap.Error(err))
		}

		pv.evaluateSlot(rt, now)
		return nil
	})
}

// Slots returns the IDs of mounted slots in declaration order.
func (pv *PageView) Slots() []string {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	out := make([]string, len(pv.order))
	copy(out, pv.order)
	return out
}

// Evaluate re-runs gating for every pending or eligible slot in declaration
// order.
func (pv *PageView) Evaluate() error {
	return pv.do(func(now time.Time) error {
		pv.evaluateAll(now)
		return nil
	})
}

func (pv *PageView) evaluateAll(now time.Time) {
	for _, id := range pv.order {
		rt := pv.slots[id]
		if st := rt.State(); st == slot.StatePending || st == slot.StateEligible {
			pv.evaluateSlot(rt, now)
		}
	}
}

// evaluateSlot moves rt through pending -> eligible -> loaded|capped. A
// panic in any decision step is contained to this slot.
func (pv *PageView) evaluateSlot(rt *slot.Runtime, now time.Time) {
	stage := stageEligibility
	defer func() {
		if r := recover(); r != nil {
			pv.deps.Metrics.IncrementDecisionPanics(stage)
			pv.trace.AddStepWithDetails(now, rt.SlotID(), stage, "panic", map[string]string{"panic": fmt.Sprint(r)})
			pv.logger.Error("slot evaluation panicked",
				zap.String("slot_id", rt.SlotID()),
				zap.String("stage", stage),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	cfg := rt.Config()
	if rt.State() == slot.StatePending {
		res := evaluateEligibility(cfg, pv.metrics, pv.page)
		if !res.Eligible {
			if res.Rule == logic.RuleSessionCap {
				pv.cap(rt, res, stage, now)
				return
			}
			pv.trace.AddStepWithDetails(now, cfg.SlotID, stage, "not_eligible", map[string]string{"rule": res.Rule, "detail": res.Detail})
			return
		}
		if err := rt.MarkEligible(); err != nil {
			pv.logger.Error("mark eligible", zap.Error(err))
			return
		}
	}
	if rt.State() != slot.StateEligible {
		return
	}

	// targeting can change between ticks, so eligible slots are re-gated
	res := evaluateEligibility(cfg, pv.metrics, pv.page)
	if !res.Eligible && res.Rule == logic.RuleSessionCap {
		pv.cap(rt, res, stage, now)
		return
	}

	stage = stageAdmission
	adm := evaluateAdmission(cfg, pv.metrics)
	if !adm.Eligible {
		pv.deps.Metrics.IncrementDensityDenials(string(cfg.Priority))
		pv.cap(rt, adm, stage, now)
		return
	}

	if err := rt.Load(now); err != nil {
		pv.logger.Error("load slot", zap.Error(err))
		return
	}
	pv.requestCreative(rt)

	// a slot already on screen (or failing open) becomes visible immediately
	if rt.OverThreshold() {
		pv.show(rt, now)
	}
}

func (pv *PageView) cap(rt *slot.Runtime, res logic.Eligibility, stage string, now time.Time) {
	if err := rt.Cap(res.Rule); err != nil {
		pv.logger.Error("cap slot", zap.Error(err))
		return
	}
	pv.trace.AddStepWithDetails(now, rt.SlotID(), stage, "capped", map[string]string{"rule": res.Rule, "detail": res.Detail})
	p := pv.slotPayload(rt)
	p["reason"] = res.Rule
	p["impressions"] = pv.metrics.Impressions(rt.SlotID())
	p["visible_count"] = pv.metrics.VisibleCount()
	pv.emit(models.EventCapped, p)
}

// requestCreative queues the fire-and-forget ad network call. Failures are
// logged, counted and reported but never retried.
func (pv *PageView) requestCreative(rt *slot.Runtime) {
	cfg := rt.Config()
	req := network.CreativeRequest{
		PageViewID: pv.id,
		SlotID:     cfg.SlotID,
		Position:   string(cfg.Position),
		DeviceType: pv.page.DeviceType,
		Country:    pv.page.Country,
	}
	deps := pv.deps
	logger := pv.logger
	pv.enqueue(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), deps.RequestTimeout)
			defer cancel()
			err := deps.Requester.RequestCreative(ctx, req)
			if err == nil {
				return
			}
			deps.Metrics.IncrementCreativeRequestFailures()
			logger.Warn("creative request failed", zap.String("slot_id", req.SlotID), zap.Error(err))
			_ = pv.do(func(now time.Time) error {
				// the instance may have been removed and its ID re-registered
				if pv.slots[req.SlotID] == rt {
					pv.loadFailed(rt, err.Error(), now)
				}
				return nil
			})
		}()
	})
}

// loadFailed reports the first creative failure of rt as ad_request_failed.
func (pv *PageView) loadFailed(rt *slot.Runtime, reason string, now time.Time) {
	if !rt.SetLoadFailed() {
		pv.trace.AddStepWithDetails(now, rt.SlotID(), stageRequest, "failure_ignored", map[string]string{"error": reason})
		return
	}
	p := pv.slotPayload(rt)
	p["error"] = reason
	pv.emit(models.EventRequestFailed, p)
	pv.trace.AddStepWithDetails(now, rt.SlotID(), stageRequest, "failed", map[string]string{"error": reason})
}

// ReportVisibility feeds a ratio measured by the browser for slotID.
func (pv *PageView) ReportVisibility(slotID string, ratio float64) error {
	return pv.do(func(now time.Time) error {
		if _, ok := pv.slots[slotID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
		}
		return pv.observer.Report(slotID, ratio, now)
	})
}

// onVisibility is the observer handler. Observe and Report are only called
// with pv.mu held, so this runs under the lock too.
func (pv *PageView) onVisibility(e visibility.Entry) {
	rt, ok := pv.slots[e.ElementID]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			pv.deps.Metrics.IncrementDecisionPanics(stageVisibility)
			pv.logger.Error("visibility handling panicked", zap.String("slot_id", e.ElementID), zap.Any("panic", r))
		}
	}()
	at := e.At
	if at.IsZero() {
		at = pv.deps.Clock.Now()
	}
	rt.SetRatio(e.Ratio)
	pv.reconcile(rt, at)
}

// reconcile aligns the slot's visible flag with its latest ratio.
func (pv *PageView) reconcile(rt *slot.Runtime, now time.Time) {
	switch rt.State() {
	case slot.StateLoaded, slot.StateVisible, slot.StateHidden, slot.StateViewed:
	default:
		return
	}
	if rt.OverThreshold() {
		if !rt.Visible() {
			pv.show(rt, now)
		}
		return
	}
	if rt.Visible() {
		pv.hide(rt, now)
	}
}

// show admits rt into the visible set, or demotes it when density refuses.
func (pv *PageView) show(rt *slot.Runtime, now time.Time) {
	cfg := rt.Config()
	if rt.State() == slot.StateViewed {
		// re-entry never yields another impression; record why
		res := evaluateEligibility(cfg, pv.metrics, pv.page)
		pv.trace.AddStepWithDetails(now, cfg.SlotID, stageEligibility, outcome(res.Eligible), map[string]string{"rule": res.Rule, "reentry": "true"})
	}

	adm := evaluateAdmission(cfg, pv.metrics)
	if !adm.Eligible {
		if !rt.Demoted() {
			pv.deps.Metrics.IncrementDensityDenials(string(cfg.Priority))
			pv.trace.AddStepWithDetails(now, cfg.SlotID, stageAdmission, "demoted", map[string]string{"rule": adm.Rule, "detail": adm.Detail})
		}
		rt.Demote()
		return
	}

	confirmed, err := rt.Show(now)
	if err != nil {
		pv.logger.Error("show slot", zap.Error(err))
		return
	}
	pv.metrics.MarkVisible(cfg.SlotID)
	pv.trace.AddStep(now, cfg.SlotID, stageVisibility, "visible")
	if confirmed {
		pv.confirmImpression(rt, now)
	}
}

func (pv *PageView) hide(rt *slot.Runtime, now time.Time) {
	if err := rt.Hide(now); err != nil {
		pv.logger.Error("hide slot", zap.Error(err))
		return
	}
	pv.metrics.MarkHidden(rt.SlotID())
	pv.trace.AddStep(now, rt.SlotID(), stageVisibility, "hidden")
	pv.readmit(now)
}

// readmit offers freed density to demoted slots still over their threshold,
// in declaration order.
func (pv *PageView) readmit(now time.Time) {
	for _, id := range pv.order {
		rt := pv.slots[id]
		if rt.Demoted() && rt.OverThreshold() && !rt.Visible() {
			pv.show(rt, now)
		}
	}
}

// onDwell runs on the clock's goroutine when a dwell timer fires.
func (pv *PageView) onDwell(slotID string, gen uint64) {
	_ = pv.do(func(now time.Time) error {
		rt, ok := pv.slots[slotID]
		if !ok {
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				pv.deps.Metrics.IncrementDecisionPanics(stageDwell)
				pv.logger.Error("dwell handling panicked", zap.String("slot_id", slotID), zap.Any("panic", r))
			}
		}()
		if rt.DwellElapsed(gen, now) {
			pv.confirmImpression(rt, now)
		}
		return nil
	})
}

func (pv *PageView) confirmImpression(rt *slot.Runtime, now time.Time) {
	cfg := rt.Config()
	n := pv.metrics.RecordImpression(cfg.SlotID)
	pv.deps.Metrics.IncrementImpressions(string(cfg.Position))
	pv.trace.AddStep(now, cfg.SlotID, stageDwell, "viewed")

	p := pv.slotPayload(rt)
	p["accumulated_visible_ms"] = rt.AccumulatedVisible(now).Milliseconds()
	p["min_view_time_ms"] = cfg.MinViewTimeMs
	p["ratio"] = rt.Ratio()
	p["impressions"] = n
	pv.emit(models.EventImpression, p)

	// Visitor caps are best-effort: page views open at the same time were
	// seeded from the same count and may each confirm. The counter itself
	// stays exact, so later page views see every confirmation.
	if pv.visitor {
		caps, visitor, window, logger := pv.deps.Caps, pv.page.VisitorID, pv.deps.CapWindow, pv.logger
		pv.enqueue(func() {
			total, err := caps.IncrementVisitorImpression(visitor, cfg.SlotID, window)
			if err != nil {
				logger.Warn("visitor cap increment failed", zap.String("slot_id", cfg.SlotID), zap.Error(err))
				return
			}
			if total > int64(cfg.MaxPerSession) {
				logger.Info("visitor cap overshot by concurrent page views",
					zap.String("slot_id", cfg.SlotID),
					zap.Int64("visitor_impressions", total),
					zap.Int("max_per_session", cfg.MaxPerSession))
			}
		})
	}
}

func (pv *PageView) onTransition(slotID string, from, to slot.State) {
	pv.deps.Metrics.IncrementSlotTransition(string(to))
	pv.logger.Debug("slot transition",
		zap.String("slot_id", slotID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

// Tick advances time on page and re-gates slots waiting on it.
func (pv *PageView) Tick() error {
	return pv.do(func(now time.Time) error {
		pv.metrics.Tick(now)
		pv.evaluateAll(now)
		return nil
	})
}

// Scroll records a scroll delta and, when known, the current depth in
// percent of the document.
func (pv *PageView) Scroll(deltaPx float64, depthPct *float64) error {
	return pv.do(func(now time.Time) error {
		pv.metrics.RecordScroll(deltaPx)
		if depthPct != nil {
			pv.metrics.RecordScrollDepth(*depthPct)
		}
		pv.metrics.Tick(now)
		pv.evaluateAll(now)
		return nil
	})
}

// Interaction counts a non-ad user interaction.
func (pv *PageView) Interaction() error {
	return pv.do(func(time.Time) error {
		pv.metrics.RecordInteraction()
		return nil
	})
}

// Click records a click on slotID. Clicks before the creative loaded are
// rejected with slot.ErrNotLoaded.
func (pv *PageView) Click(slotID string) error {
	return pv.do(func(now time.Time) error {
		rt, ok := pv.slots[slotID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
		}
		cc, err := rt.Click(now)
		if err != nil {
			return err
		}
		pv.metrics.RecordInteraction()
		pv.deps.Metrics.IncrementClicks(string(rt.Config().Position))

		p := pv.slotPayload(rt)
		p["ratio"] = cc.Ratio
		p["accumulated_visible_ms"] = cc.AccumulatedVisible.Milliseconds()
		p["clicks"] = cc.Clicks
		p["viewed"] = cc.Viewed
		pv.emit(models.EventClick, p)
		return nil
	})
}

// CreativeLoaded records the ad network's load callback. A failed load
// leaves the slot unloaded and is reported as ad_request_failed once per
// instance; failures for slots that never requested a creative, or whose
// creative already loaded, are ignored.
func (pv *PageView) CreativeLoaded(slotID string, ok bool, reason string) error {
	return pv.do(func(now time.Time) error {
		rt, found := pv.slots[slotID]
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
		}
		if !ok {
			pv.loadFailed(rt, reason, now)
			return nil
		}
		if rt.SetLoaded() {
			pv.trace.AddStep(now, slotID, stageRequest, "loaded")
		}
		return nil
	})
}

// RemoveSlot unmounts slotID: it is unobserved, its dwell timer cleared and
// it leaves the visible set. The slot ID may be registered again afterwards.
func (pv *PageView) RemoveSlot(slotID string) error {
	return pv.do(func(now time.Time) error {
		if _, ok := pv.slots[slotID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
		}
		pv.removeLocked(slotID, now)
		pv.readmit(now)
		return nil
	})
}

func (pv *PageView) removeLocked(slotID string, now time.Time) {
	rt := pv.slots[slotID]
	rt.Remove(now)
	pv.observer.Unobserve(slotID)
	pv.metrics.MarkHidden(slotID)
	pv.retired = append(pv.retired, rt.Snapshot(now))
	delete(pv.slots, slotID)
	for i, id := range pv.order {
		if id == slotID {
			pv.order = append(pv.order[:i], pv.order[i+1:]...)
			break
		}
	}
	pv.trace.AddStep(now, slotID, stageRegister, "removed")
}

// Close tears the page view down, emits its page_summary and returns it.
// Closing twice returns the first summary and ErrClosed.
func (pv *PageView) Close() (analytics.PageSummary, error) {
	var summary analytics.PageSummary
	err := pv.do(func(now time.Time) error {
		for len(pv.order) > 0 {
			pv.removeLocked(pv.order[0], now)
		}
		pv.observer.Close()
		summary = analytics.Summarize(pv.id, pv.retired, pv.metrics.Snapshot(), now)
		pv.summary = summary
		pv.emit(models.EventPageSummary, summary.Payload())
		pv.closed = true
		return nil
	})
	if errors.Is(err, ErrClosed) {
		pv.mu.Lock()
		defer pv.mu.Unlock()
		return pv.summary, err
	}
	return summary, err
}

// Snapshot is a point-in-time copy of a page view.
type Snapshot struct {
	PageViewID string                 `json:"page_view_id"`
	Page       models.PageContext     `json:"page"`
	Session    session.Snapshot       `json:"session"`
	Slots      []slot.AdRuntimeState  `json:"slots"`
	Removed    []slot.AdRuntimeState  `json:"removed,omitempty"`
	Observers  []visibility.GroupInfo `json:"observer_groups"`
	Trace      *logic.EvaluationTrace `json:"trace,omitempty"`
	Closed     bool                   `json:"closed"`
}

// Snapshot returns the current state; withTrace attaches the evaluation trace.
func (pv *PageView) Snapshot(withTrace bool) Snapshot {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	now := pv.deps.Clock.Now()
	s := Snapshot{
		PageViewID: pv.id,
		Page:       pv.page,
		Session:    pv.metrics.Snapshot(),
		Slots:      make([]slot.AdRuntimeState, 0, len(pv.order)),
		Removed:    append([]slot.AdRuntimeState(nil), pv.retired...),
		Observers:  pv.observer.Groups(),
		Closed:     pv.closed,
	}
	for _, id := range pv.order {
		s.Slots = append(s.Slots, pv.slots[id].Snapshot(now))
	}
	if withTrace {
		t := pv.trace.Copy()
		s.Trace = &t
	}
	return s
}

// Metrics exposes the session store for read-only inspection.
func (pv *PageView) Metrics() logic.SessionView { return pv.metrics }

// CurrentRatio returns the last ratio reported for slotID.
func (pv *PageView) CurrentRatio(slotID string) (float64, bool) {
	return pv.observer.CurrentRatio(slotID)
}

func outcome(ok bool) string {
	if ok {
		return "eligible"
	}
	return "not_eligible"
}
