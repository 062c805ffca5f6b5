package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/config"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/slot"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPageViewNotFound is returned for unknown or already closed page view IDs.
var ErrPageViewNotFound = errors.New("page view not found")

// ManagerConfig controls page view lifetime.
type ManagerConfig struct {
	// SessionScope is config.ScopePageView or config.ScopeVisitor.
	SessionScope string
	// IdleTTL closes page views with no activity for this long. Zero disables sweeping.
	IdleTTL time.Duration
}

// CreateRequest mounts a page view with its initial placeholders.
type CreateRequest struct {
	Page models.PageContext
	// SlotIDs name declared slots from the store, in page order.
	SlotIDs []string
	// Slots are ad-hoc configs declared by the page itself.
	Slots             []models.AdSlotConfig
	ObserverSupported bool
}

// SlotTotals aggregates one slot's outcomes across page views.
type SlotTotals struct {
	SlotID       string          `json:"slot_id"`
	Position     models.Position `json:"position"`
	Requested    int64           `json:"requested"`
	Impressions  int64           `json:"impressions"`
	Clicks       int64           `json:"clicks"`
	Capped       int64           `json:"capped"`
	DwellMs      int64           `json:"dwell_ms"`
	DwellSamples int64           `json:"dwell_samples"`
}

func (t *SlotTotals) add(s slot.AdRuntimeState) {
	if t.Position == "" {
		t.Position = s.Position
	}
	if s.Requested {
		t.Requested++
	}
	if s.ImpressionConfirmed {
		t.Impressions++
	}
	if s.State == slot.StateCapped || s.CappedReason != "" {
		t.Capped++
	}
	t.Clicks += int64(s.Clicks)
	if s.AccumulatedVisibleMs > 0 {
		t.DwellMs += s.AccumulatedVisibleMs
		t.DwellSamples++
	}
}

// Manager owns every live page view of the process.
type Manager struct {
	mu     sync.RWMutex
	views  map[string]*PageView
	closed map[string]*SlotTotals

	store  models.SlotStore
	deps   Dependencies
	cfg    ManagerConfig
	logger *zap.Logger
	newID  func() string
}

// NewManager creates a Manager resolving slot IDs against store.
func NewManager(store models.SlotStore, deps Dependencies, cfg ManagerConfig) *Manager {
	deps = deps.withDefaults()
	if store == nil {
		store = models.NewInMemorySlotStore()
	}
	if cfg.SessionScope == "" {
		cfg.SessionScope = config.ScopePageView
	}
	return &Manager{
		views:  make(map[string]*PageView),
		closed: make(map[string]*SlotTotals),
		store:  store,
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger,
		newID:  uuid.NewString,
	}
}

// Create mounts a page view and registers its slots in order. Slots that fail
// to register are returned in rejected, keyed by slot ID; they do not fail
// the page view.
func (m *Manager) Create(req CreateRequest) (*PageView, map[string]error, error) {
	if req.Page.PageViewID == "" {
		req.Page.PageViewID = m.newID()
	}

	configs := make([]models.AdSlotConfig, 0, len(req.SlotIDs)+len(req.Slots))
	rejected := make(map[string]error)
	for _, id := range req.SlotIDs {
		cfg, ok := m.store.GetSlot(id)
		if !ok {
			rejected[id] = fmt.Errorf("%w: %s", ErrUnknownSlot, id)
			continue
		}
		configs = append(configs, cfg)
	}
	configs = append(configs, req.Slots...)

	visitorScoped := m.cfg.SessionScope == config.ScopeVisitor
	var seed map[string]int
	if visitorScoped && m.deps.Caps != nil && req.Page.VisitorID != "" {
		ids := make([]string, 0, len(configs))
		for _, c := range configs {
			ids = append(ids, c.SlotID)
		}
		var err error
		seed, err = m.deps.Caps.VisitorImpressions(req.Page.VisitorID, ids)
		if err != nil {
			// caps fall back to page view scope for this view
			m.logger.Warn("load visitor impressions", zap.String("visitor_id", req.Page.VisitorID), zap.Error(err))
		}
	}

	pv := NewPageView(PageViewOptions{
		Page:              req.Page,
		ObserverSupported: req.ObserverSupported,
		VisitorScoped:     visitorScoped,
		Seed:              seed,
	}, m.deps)

	m.mu.Lock()
	if _, exists := m.views[pv.ID()]; exists {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("page view %s already exists", pv.ID())
	}
	m.views[pv.ID()] = pv
	n := len(m.views)
	m.mu.Unlock()
	m.deps.Metrics.SetActivePageViews(n)

	for _, c := range configs {
		if err := pv.Register(c); err != nil {
			rejected[c.SlotID] = err
		}
	}
	return pv, rejected, nil
}

// Get returns the live page view with id.
func (m *Manager) Get(id string) (*PageView, error) {
	m.mu.RLock()
	pv, ok := m.views[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPageViewNotFound, id)
	}
	return pv, nil
}

// Close ends the page view with id and returns its summary.
func (m *Manager) Close(id string) (analytics.PageSummary, error) {
	m.mu.Lock()
	pv, ok := m.views[id]
	delete(m.views, id)
	n := len(m.views)
	m.mu.Unlock()
	if !ok {
		return analytics.PageSummary{}, fmt.Errorf("%w: %s", ErrPageViewNotFound, id)
	}
	m.deps.Metrics.SetActivePageViews(n)

	summary, err := pv.Close()
	if err != nil && !errors.Is(err, ErrClosed) {
		return summary, err
	}
	snap := pv.Snapshot(false)

	m.mu.Lock()
	for _, s := range snap.Removed {
		t, ok := m.closed[s.SlotID]
		if !ok {
			t = &SlotTotals{SlotID: s.SlotID}
			m.closed[s.SlotID] = t
		}
		t.add(s)
	}
	m.mu.Unlock()
	return summary, nil
}

// Len returns the number of live page views.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.views)
}

func (m *Manager) live() []*PageView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PageView, 0, len(m.views))
	for _, pv := range m.views {
		out = append(out, pv)
	}
	return out
}

// TickAll advances time on page for every live page view.
func (m *Manager) TickAll() {
	for _, pv := range m.live() {
		if err := pv.Tick(); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("tick page view", zap.String("page_view_id", pv.ID()), zap.Error(err))
		}
	}
}

// SweepIdle closes page views idle since before now-IdleTTL and returns how
// many were closed.
func (m *Manager) SweepIdle(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTTL)
	n := 0
	for _, pv := range m.live() {
		if pv.LastActivity().Before(cutoff) {
			if _, err := m.Close(pv.ID()); err == nil {
				n++
			}
		}
	}
	if n > 0 {
		m.logger.Info("swept idle page views", zap.Int("count", n))
	}
	return n
}

// CloseAll closes every live page view, emitting their summaries.
func (m *Manager) CloseAll() {
	for _, pv := range m.live() {
		_, _ = m.Close(pv.ID())
	}
}

// Run ticks page views every tick and sweeps idle ones every sweep until ctx
// is done.
func (m *Manager) Run(ctx context.Context, tick, sweep time.Duration) {
	if tick <= 0 {
		tick = time.Second
	}
	if sweep <= 0 {
		sweep = time.Minute
	}
	tickT := time.NewTicker(tick)
	defer tickT.Stop()
	sweepT := time.NewTicker(sweep)
	defer sweepT.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tickT.C:
			m.TickAll()
		case <-sweepT.C:
			m.SweepIdle(m.deps.Clock.Now())
		}
	}
}

// Totals returns per-slot outcomes across closed and live page views,
// sorted by slot ID.
func (m *Manager) Totals() []SlotTotals {
	agg := make(map[string]*SlotTotals)
	m.mu.RLock()
	for id, t := range m.closed {
		c := *t
		agg[id] = &c
	}
	m.mu.RUnlock()

	for _, pv := range m.live() {
		snap := pv.Snapshot(false)
		for _, group := range [][]slot.AdRuntimeState{snap.Slots, snap.Removed} {
			for _, s := range group {
				t, ok := agg[s.SlotID]
				if !ok {
					t = &SlotTotals{SlotID: s.SlotID}
					agg[s.SlotID] = t
				}
				t.add(s)
			}
		}
	}

	out := make([]SlotTotals, 0, len(agg))
	for _, t := range agg {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out
}
