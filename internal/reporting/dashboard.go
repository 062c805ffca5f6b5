package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickwarner/openadview/internal/observability"

	"go.uber.org/zap"
)

// ErrNoReport is returned before the first successful refresh.
var ErrNoReport = errors.New("no performance report available yet")

// Dashboard periodically re-fetches a report from its source and serves the
// latest one. A failed refresh keeps the previous report.
type Dashboard struct {
	source  Source
	refresh time.Duration
	window  time.Duration
	metrics observability.MetricsRegistry
	logger  *zap.Logger

	mu      sync.RWMutex
	last    *PerformanceReport
	lastErr error
}

// NewDashboard creates a dashboard polling source every refresh over window.
func NewDashboard(source Source, refresh, window time.Duration, metrics observability.MetricsRegistry, logger *zap.Logger) *Dashboard {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if refresh <= 0 {
		refresh = time.Minute
	}
	return &Dashboard{source: source, refresh: refresh, window: window, metrics: metrics, logger: logger}
}

// Refresh fetches a new report now.
func (d *Dashboard) Refresh(ctx context.Context) error {
	r, err := d.source.Report(ctx, d.window)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.lastErr = err
		d.metrics.IncrementDashboardRefresh("error")
		d.logger.Warn("dashboard refresh failed", zap.String("source", d.source.Name()), zap.Error(err))
		return err
	}
	d.last = r
	d.lastErr = nil
	d.metrics.IncrementDashboardRefresh("ok")
	return nil
}

// Latest returns the most recent report and the error of the last refresh,
// if it failed. Before any successful refresh the error is ErrNoReport or
// the refresh failure.
func (d *Dashboard) Latest() (*PerformanceReport, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		if d.lastErr != nil {
			return nil, errors.Join(ErrNoReport, d.lastErr)
		}
		return nil, ErrNoReport
	}
	return d.last, d.lastErr
}

// Run refreshes immediately and then on every tick until ctx is done.
func (d *Dashboard) Run(ctx context.Context) {
	_ = d.Refresh(ctx)
	t := time.NewTicker(d.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = d.Refresh(ctx)
		}
	}
}
