package reporting

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/openadview/internal/engine"
	"github.com/patrickwarner/openadview/internal/models"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestClickHouseSourceReport(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY slot_id")).
		WithArgs(int64(86400)).
		WillReturnRows(sqlmock.NewRows([]string{"slot_id", "position", "impressions", "clicks", "capped", "failures", "avg_dwell_ms"}).
			AddRow("sidebar", "sidebar-sticky", int64(50), int64(2), int64(4), int64(1), 1200.0).
			AddRow("hero", "hero-banner", int64(150), int64(6), int64(0), int64(0), 2000.0))
	mock.ExpectQuery("GROUP BY date").
		WithArgs(int64(86400)).
		WillReturnRows(sqlmock.NewRows([]string{"date", "page_views", "impressions", "clicks"}).
			AddRow(now.Truncate(24*time.Hour), int64(90), int64(200), int64(8)))

	src := &ClickHouseSource{DB: db, Now: func() time.Time { return now }}
	r, err := src.Report(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "clickhouse", r.Source)
	assert.Equal(t, now, r.GeneratedAt)
	require.Len(t, r.Slots, 2)
	assert.Equal(t, "hero", r.Slots[0].SlotID)
	assert.InDelta(t, 4.0, r.Slots[0].CTR, 1e-9)
	assert.InDelta(t, 4.0, r.Slots[1].CTR, 1e-9)

	assert.Equal(t, int64(200), r.Totals.Impressions)
	assert.Equal(t, int64(8), r.Totals.Clicks)
	assert.Equal(t, int64(4), r.Totals.Capped)
	assert.Equal(t, int64(1), r.Totals.RequestFailures)
	assert.InDelta(t, 1800.0, r.Totals.AvgDwellMs, 1e-9)

	require.Len(t, r.Daily, 1)
	assert.Equal(t, int64(90), r.Daily[0].PageViews)
}

func TestClickHouseSourceQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	mock.ExpectQuery("FROM ad_events").WillReturnError(assert.AnError)

	_, err = (&ClickHouseSource{DB: db}).Report(context.Background(), time.Hour)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestClickHouseSourceUnconfigured(t *testing.T) {
	_, err := (&ClickHouseSource{}).Report(context.Background(), time.Hour)
	assert.Error(t, err)
}

type fakeTotals []engine.SlotTotals

func (f fakeTotals) Totals() []engine.SlotTotals { return f }

func TestLiveSourceReport(t *testing.T) {
	src := &LiveSource{
		Engine: fakeTotals{
			{SlotID: "a", Position: models.PositionFooter, Impressions: 4, Clicks: 1, DwellMs: 6000, DwellSamples: 4},
			{SlotID: "b", Position: models.PositionHeroBanner, Impressions: 0, Capped: 3},
		},
		Now: func() time.Time { return now },
	}
	r, err := src.Report(context.Background(), time.Hour)
	require.NoError(t, err)

	require.Len(t, r.Slots, 2)
	assert.Equal(t, "a", r.Slots[0].SlotID)
	assert.InDelta(t, 25.0, r.Slots[0].CTR, 1e-9)
	assert.InDelta(t, 1500.0, r.Slots[0].AvgDwellMs, 1e-9)
	assert.Zero(t, r.Slots[1].CTR)
	assert.Equal(t, int64(3), r.Totals.Capped)
	assert.Equal(t, "live", r.Source)
}

func TestLiveSourceEmpty(t *testing.T) {
	r, err := (&LiveSource{Engine: fakeTotals(nil)}).Report(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, r.Slots)
	assert.Zero(t, r.Totals.Impressions)
}
