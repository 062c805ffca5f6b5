package reporting

import (
	"context"
	"time"

	"github.com/patrickwarner/openadview/internal/engine"
)

// TotalsProvider exposes per-slot engine outcomes. *engine.Manager satisfies it.
type TotalsProvider interface {
	Totals() []engine.SlotTotals
}

// LiveSource reports from the running engine. It covers every page view
// since process start; the window is informational only.
type LiveSource struct {
	Engine TotalsProvider
	Now    func() time.Time
}

func (l *LiveSource) Name() string { return "live" }

func (l *LiveSource) Report(_ context.Context, window time.Duration) (*PerformanceReport, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	r := &PerformanceReport{
		GeneratedAt: now(),
		Window:      window.String(),
		Source:      l.Name(),
		Slots:       []SlotPerformance{},
	}
	for _, t := range l.Engine.Totals() {
		s := SlotPerformance{
			SlotID:      t.SlotID,
			Position:    string(t.Position),
			Impressions: t.Impressions,
			Clicks:      t.Clicks,
			Capped:      t.Capped,
			CTR:         ctr(t.Clicks, t.Impressions),
		}
		if t.DwellSamples > 0 {
			s.AvgDwellMs = float64(t.DwellMs) / float64(t.DwellSamples)
		}
		r.Slots = append(r.Slots, s)
	}
	finalize(r)
	return r, nil
}
