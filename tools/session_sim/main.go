package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/clock"
	"github.com/patrickwarner/openadview/internal/config"
	"github.com/patrickwarner/openadview/internal/db"
	"github.com/patrickwarner/openadview/internal/engine"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/observability"
	"github.com/patrickwarner/openadview/internal/reporting"
)

var (
	visitors     int
	unique       int
	seed         int64
	clickRate    float64
	loadFailRate float64
	scope        string
	redisAddr    string
	flush        bool
	debug        bool
)

// DemoLayout is a long-form recipe page.
var DemoLayout = []Placement{
	{SlotID: "hero", Top: 120, Height: 250},
	{SlotID: "sidebar", Sticky: true},
	{SlotID: "inline-1", Top: 1100, Height: 250},
	{SlotID: "inline-2", Top: 2000, Height: 250},
	{SlotID: "inline-3", Top: 2900, Height: 250},
	{SlotID: "footer", Top: 3700, Height: 90},
}

// DemoSlots declares the slots of DemoLayout.
func DemoSlots() []models.AdSlotConfig {
	mk := func(id string, pos models.Position, prio models.Priority, maxPer int) models.AdSlotConfig {
		return models.AdSlotConfig{
			SlotID:            id,
			Position:          pos,
			Priority:          prio,
			MaxPerSession:     maxPer,
			MinViewTimeMs:     1000,
			ViewportThreshold: 0.5,
		}
	}
	return []models.AdSlotConfig{
		mk("hero", models.PositionHeroBanner, models.PriorityHigh, 1),
		mk("sidebar", models.PositionSidebarSticky, models.PriorityMedium, 2),
		mk("inline-1", models.PositionContentInline, models.PriorityMedium, 1),
		mk("inline-2", models.PositionContentInline, models.PriorityLow, 1),
		mk("inline-3", models.PositionContentInline, models.PriorityLow, 1),
		mk("footer", models.PositionFooter, models.PriorityLow, 1),
	}
}

func main() {
	flag.IntVar(&visitors, "visitors", 200, "page views to simulate")
	flag.IntVar(&unique, "unique", 50, "distinct visitor IDs")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	flag.Float64Var(&clickRate, "click-rate", 0.02, "probability of a click per viewed slot")
	flag.Float64Var(&loadFailRate, "load-fail-rate", 0.05, "probability that a creative fails to load")
	flag.StringVar(&scope, "scope", config.ScopePageView, "session scope: pageview or visitor")
	flag.StringVar(&redisAddr, "redis", "", "redis address for visitor scope (defaults to REDIS_ADDR)")
	flag.BoolVar(&flush, "flush", false, "delete visitor cap counters before running")
	flag.BoolVar(&debug, "debug", false, "log every analytics event")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	logger, err := observability.InitLoggerWithLevel(level, "session-sim")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	store := models.NewInMemorySlotStore()
	if err := store.ReloadAll(DemoSlots()); err != nil {
		return err
	}

	var caps engine.VisitorCapStore
	if scope == config.ScopeVisitor {
		addr := redisAddr
		if addr == "" {
			addr = config.Load().RedisAddr
		}
		rs, err := db.InitRedis(addr)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer rs.Close()
		if flush {
			keys, err := rs.Client.Keys(rs.Ctx, "adcap:*").Result()
			if err != nil {
				return fmt.Errorf("list cap keys: %w", err)
			}
			if len(keys) > 0 {
				if err := rs.Client.Del(rs.Ctx, keys...).Err(); err != nil {
					return fmt.Errorf("flush cap keys: %w", err)
				}
			}
			logger.Info("visitor caps flushed", zap.Int("keys_deleted", len(keys)))
		}
		caps = rs
	}

	metrics := observability.NewNoOpRegistry()
	emitter := analytics.NewEmitter(4096, metrics, logger, []analytics.Sink{analytics.LogSink{Logger: logger}})
	clk := clock.NewManual(time.Now())
	m := engine.NewManager(store, engine.Dependencies{
		Clock:     clk,
		Emitter:   emitter,
		Metrics:   metrics,
		Logger:    logger,
		Caps:      caps,
		CapWindow: 30 * time.Minute,
	}, engine.ManagerConfig{SessionScope: scope})

	start := time.Now()
	res, err := Simulate(m, clk, DemoLayout, Options{
		Visitors:       visitors,
		UniqueVisitors: unique,
		ClickRate:      clickRate,
		LoadFailRate:   loadFailRate,
		Seed:           seed,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Close(ctx); err != nil {
		logger.Warn("analytics flush incomplete", zap.Error(err))
	}

	report, err := (&reporting.LiveSource{Engine: m, Now: clk.Now}).Report(ctx, 0)
	if err != nil {
		return err
	}
	logger.Info("simulation complete",
		zap.Int("page_views", res.PageViews),
		zap.Int("clicks", res.Clicks),
		zap.Int("load_failures", res.Failures),
		zap.Int64("seed", seed),
		zap.Duration("elapsed", time.Since(start)),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
