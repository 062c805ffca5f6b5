package main

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/clock"
	"github.com/patrickwarner/openadview/internal/engine"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/slot"
)

// Placement puts a slot on the simulated page. Sticky slots stay in view once
// the visitor starts scrolling.
type Placement struct {
	SlotID string
	Top    float64
	Height float64
	Sticky bool
}

// Options tunes the simulated visitors.
type Options struct {
	Visitors       int
	UniqueVisitors int
	PageHeightPx   float64
	ViewportPx     float64
	Step           time.Duration
	MaxSteps       int
	ClickRate      float64
	LoadFailRate   float64
	Seed           int64
}

func (o Options) withDefaults() Options {
	if o.Visitors <= 0 {
		o.Visitors = 100
	}
	if o.UniqueVisitors <= 0 {
		o.UniqueVisitors = o.Visitors
	}
	if o.PageHeightPx <= 0 {
		o.PageHeightPx = 4000
	}
	if o.ViewportPx <= 0 {
		o.ViewportPx = 800
	}
	if o.Step <= 0 {
		o.Step = 500 * time.Millisecond
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 120
	}
	return o
}

// Result aggregates one simulation run.
type Result struct {
	PageViews int
	Clicks    int
	Failures  int
	Summaries []analytics.PageSummary
}

// overlap returns the visible fraction of p for a viewport starting at scrollY.
func overlap(p Placement, scrollY, viewport float64) float64 {
	if p.Sticky {
		if scrollY > 0 {
			return 1
		}
		return 0
	}
	if p.Height <= 0 {
		return 0
	}
	top := max(p.Top, scrollY)
	bottom := min(p.Top+p.Height, scrollY+viewport)
	if bottom <= top {
		return 0
	}
	return (bottom - top) / p.Height
}

// Simulate runs opts.Visitors page views one after another against m,
// advancing clk between scroll steps.
func Simulate(m *engine.Manager, clk *clock.Manual, layout []Placement, opts Options) (Result, error) {
	opts = opts.withDefaults()
	r := rand.New(rand.NewSource(opts.Seed))
	ids := make([]string, len(layout))
	for i, p := range layout {
		ids[i] = p.SlotID
	}

	var res Result
	for v := 0; v < opts.Visitors; v++ {
		pv, rejected, err := m.Create(engine.CreateRequest{
			Page: models.PageContext{
				Path:       fmt.Sprintf("/articles/%d", r.Intn(50)),
				PageType:   "recipe",
				Category:   "dinner",
				DeviceType: "desktop",
				VisitorID:  fmt.Sprintf("visitor-%d", v%opts.UniqueVisitors),
			},
			SlotIDs:           ids,
			ObserverSupported: true,
		})
		if err != nil {
			return res, fmt.Errorf("create page view: %w", err)
		}
		if len(rejected) > 0 {
			return res, fmt.Errorf("%d of %d slots rejected", len(rejected), len(ids))
		}
		res.PageViews++

		for _, p := range layout {
			ok := r.Float64() >= opts.LoadFailRate
			if !ok {
				res.Failures++
			}
			if err := pv.CreativeLoaded(p.SlotID, ok, "simulated no fill"); err != nil {
				return res, err
			}
		}

		depth := opts.PageHeightPx * (0.3 + 0.7*r.Float64())
		scrollY := 0.0
		clicked := make(map[string]bool)
		for step := 0; step < opts.MaxSteps && scrollY+opts.ViewportPx < depth; step++ {
			delta := 50 + r.Float64()*250
			scrollY += delta
			pct := min(100, (scrollY+opts.ViewportPx)/opts.PageHeightPx*100)
			if err := pv.Scroll(delta, &pct); err != nil {
				return res, err
			}
			for _, p := range layout {
				if err := pv.ReportVisibility(p.SlotID, overlap(p, scrollY, opts.ViewportPx)); err != nil {
					return res, err
				}
			}
			if r.Float64() < 0.1 {
				_ = pv.Interaction()
			}
			clk.Advance(opts.Step)

			for _, s := range pv.Snapshot(false).Slots {
				if !s.ImpressionConfirmed || clicked[s.SlotID] || r.Float64() >= opts.ClickRate {
					continue
				}
				err := pv.Click(s.SlotID)
				if errors.Is(err, slot.ErrNotLoaded) {
					continue
				}
				if err != nil {
					return res, err
				}
				clicked[s.SlotID] = true
				res.Clicks++
			}
		}

		summary, err := m.Close(pv.ID())
		if err != nil {
			return res, err
		}
		res.Summaries = append(res.Summaries, summary)
	}
	return res, nil
}
