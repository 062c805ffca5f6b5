// Package reporting provides the read-only ad performance dashboard. It
// aggregates impression, click and dwell metrics per slot, either from the
// ClickHouse ad_events table or from the live engine, and caches the most
// recent report for display.
package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// SlotPerformance represents performance metrics for one slot over the
// report window. CTR is expressed as a percentage (0-100).
type SlotPerformance struct {
	SlotID          string  `json:"slot_id"`
	Position        string  `json:"position,omitempty"`
	Impressions     int64   `json:"impressions"`      // Confirmed viewable impressions
	Clicks          int64   `json:"clicks"`           // Accepted clicks
	Capped          int64   `json:"capped"`           // Instances refused by caps or density
	RequestFailures int64   `json:"request_failures"` // Failed creative loads
	CTR             float64 `json:"ctr"`              // clicks/impressions * 100
	AvgDwellMs      float64 `json:"avg_dwell_ms"`     // Mean visible time per impression
}

// DailyPerformance is the day-by-day breakdown across all slots.
type DailyPerformance struct {
	Date        time.Time `json:"date"`
	PageViews   int64     `json:"page_views"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	CTR         float64   `json:"ctr"`
}

// PerformanceReport is one dashboard refresh.
type PerformanceReport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Window      string             `json:"window"`
	Source      string             `json:"source"`
	Totals      SlotPerformance    `json:"totals"`
	Slots       []SlotPerformance  `json:"slots"`
	Daily       []DailyPerformance `json:"daily,omitempty"`
}

// Source produces performance reports for a trailing window.
type Source interface {
	Name() string
	Report(ctx context.Context, window time.Duration) (*PerformanceReport, error)
}

func ctr(clicks, impressions int64) float64 {
	if impressions == 0 {
		return 0
	}
	return float64(clicks) / float64(impressions) * 100
}

// finalize computes totals and orders slots by impressions, then slot ID.
func finalize(r *PerformanceReport) {
	sort.SliceStable(r.Slots, func(i, j int) bool {
		if r.Slots[i].Impressions != r.Slots[j].Impressions {
			return r.Slots[i].Impressions > r.Slots[j].Impressions
		}
		return r.Slots[i].SlotID < r.Slots[j].SlotID
	})
	t := SlotPerformance{SlotID: "all"}
	var dwell float64
	for _, s := range r.Slots {
		t.Impressions += s.Impressions
		t.Clicks += s.Clicks
		t.Capped += s.Capped
		t.RequestFailures += s.RequestFailures
		dwell += s.AvgDwellMs * float64(s.Impressions)
	}
	t.CTR = ctr(t.Clicks, t.Impressions)
	if t.Impressions > 0 {
		t.AvgDwellMs = dwell / float64(t.Impressions)
	}
	r.Totals = t
}

// ClickHouseSource reads the ad_events table written by the analytics sink.
type ClickHouseSource struct {
	DB  *sql.DB
	Now func() time.Time
}

func (c *ClickHouseSource) Name() string { return "clickhouse" }

// Report queries per-slot and daily metrics over window.
func (c *ClickHouseSource) Report(ctx context.Context, window time.Duration) (*PerformanceReport, error) {
	if c == nil || c.DB == nil {
		return nil, fmt.Errorf("clickhouse source not configured")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	secs := int64(window.Seconds())

	slots, err := c.slotMetrics(ctx, secs)
	if err != nil {
		return nil, fmt.Errorf("get slot metrics: %w", err)
	}
	daily, err := c.dailyMetrics(ctx, secs)
	if err != nil {
		return nil, fmt.Errorf("get daily metrics: %w", err)
	}

	r := &PerformanceReport{
		GeneratedAt: now(),
		Window:      window.String(),
		Source:      c.Name(),
		Slots:       slots,
		Daily:       daily,
	}
	finalize(r)
	return r, nil
}

func (c *ClickHouseSource) slotMetrics(ctx context.Context, secs int64) ([]SlotPerformance, error) {
	query := `
		SELECT
			slot_id,
			ifNull(any(position), '') as position,
			countIf(event_type = 'ad_impression') as impressions,
			countIf(event_type = 'ad_click') as clicks,
			countIf(event_type = 'ad_capped') as capped,
			countIf(event_type = 'ad_request_failed') as failures,
			round(if(impressions > 0, avgIf(visible_ms, event_type = 'ad_impression'), 0), 1) as avg_dwell_ms
		FROM ad_events
		WHERE slot_id != ''
			AND timestamp >= now() - INTERVAL ? SECOND
		GROUP BY slot_id`

	rows, err := c.DB.QueryContext(ctx, query, secs)
	if err != nil {
		return nil, fmt.Errorf("query slot metrics: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []SlotPerformance
	for rows.Next() {
		var s SlotPerformance
		if err := rows.Scan(&s.SlotID, &s.Position, &s.Impressions, &s.Clicks,
			&s.Capped, &s.RequestFailures, &s.AvgDwellMs); err != nil {
			return nil, fmt.Errorf("scan slot metrics: %w", err)
		}
		s.CTR = ctr(s.Clicks, s.Impressions)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *ClickHouseSource) dailyMetrics(ctx context.Context, secs int64) ([]DailyPerformance, error) {
	query := `
		SELECT
			toDate(timestamp) as date,
			countIf(event_type = 'page_summary') as page_views,
			countIf(event_type = 'ad_impression') as impressions,
			countIf(event_type = 'ad_click') as clicks
		FROM ad_events
		WHERE timestamp >= now() - INTERVAL ? SECOND
		GROUP BY date
		ORDER BY date DESC`

	rows, err := c.DB.QueryContext(ctx, query, secs)
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []DailyPerformance
	for rows.Next() {
		var d DailyPerformance
		if err := rows.Scan(&d.Date, &d.PageViews, &d.Impressions, &d.Clicks); err != nil {
			return nil, fmt.Errorf("scan daily metrics: %w", err)
		}
		d.CTR = ctr(d.Clicks, d.Impressions)
		out = append(out, d)
	}
	return out, rows.Err()
}
