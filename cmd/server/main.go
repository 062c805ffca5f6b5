package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/api"
	"github.com/patrickwarner/openadview/internal/clock"
	"github.com/patrickwarner/openadview/internal/config"
	"github.com/patrickwarner/openadview/internal/db"
	"github.com/patrickwarner/openadview/internal/engine"
	"github.com/patrickwarner/openadview/internal/geoip"
	"github.com/patrickwarner/openadview/internal/logic/ratelimit"
	"github.com/patrickwarner/openadview/internal/middleware"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/network"
	"github.com/patrickwarner/openadview/internal/observability"
	"github.com/patrickwarner/openadview/internal/reporting"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()
	connectRetry := db.ConnectRetry{
		Attempts: uint(max(1, cfg.ConnectAttempts)),
		Delay:    cfg.ConnectRetryDelay,
	}
	slots := models.NewInMemorySlotStore()

	var pg *db.Postgres
	var slotFile *db.SlotFile
	if cfg.PostgresDSN != "" {
		var err error
		pg, err = db.Connect(ctx, logger, "postgres", connectRetry, func() (*db.Postgres, error) {
			return db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		})
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		declared, err := pg.LoadSlots(ctx)
		if err != nil {
			return fmt.Errorf("load slots: %w", err)
		}
		if err := slots.ReloadAll(declared); err != nil {
			return fmt.Errorf("populate slot store: %w", err)
		}
		logger.Info("slot configs loaded", zap.Int("count", len(declared)))
	} else if cfg.SlotConfigFile != "" {
		slotFile = &db.SlotFile{Path: cfg.SlotConfigFile}
		declared, err := slotFile.Load()
		if err != nil {
			return fmt.Errorf("load slot file: %w", err)
		}
		if err := slots.ReloadAll(declared); err != nil {
			return fmt.Errorf("populate slot store: %w", err)
		}
		logger.Info("slot configs loaded from file", zap.String("path", cfg.SlotConfigFile), zap.Int("count", len(declared)))
	} else {
		logger.Warn("neither POSTGRES_DSN nor SLOT_CONFIG_FILE set, slot configs live in memory only")
	}

	var store *db.RedisStore
	if cfg.RedisAddr != "" {
		var err error
		store, err = db.Connect(ctx, logger, "redis", connectRetry, func() (*db.RedisStore, error) {
			return db.InitRedis(cfg.RedisAddr)
		})
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer store.Close()
	} else if cfg.SessionScope == config.ScopeVisitor {
		logger.Warn("SESSION_SCOPE=visitor without REDIS_ADDR, caps stay page view scoped")
	}

	var sinks []analytics.Sink
	var events *analytics.ClickHouseSink
	if cfg.ClickHouseDSN != "" {
		var err error
		events, err = db.Connect(ctx, logger, "clickhouse", connectRetry, func() (*analytics.ClickHouseSink, error) {
			return analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns)
		})
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer events.Close()
		sinks = append(sinks, analytics.NewBreakerSink(events, analytics.BreakerConfig{
			FailureThreshold: uint32(cfg.AnalyticsBreakerFailure),
			Timeout:          cfg.AnalyticsBreakerTimeout,
		}, logger))
	} else {
		sinks = append(sinks, analytics.LogSink{Logger: logger})
	}
	emitter := analytics.NewEmitter(cfg.EmitQueueSize, metricsRegistry, logger, sinks)

	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		var err error
		geoSvc, err = geoip.Init(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
	}

	var requester network.CreativeRequester = network.NoopRequester{}
	if cfg.AdNetworkURL != "" {
		hr, err := network.NewHTTPRequester(cfg.AdNetworkURL, cfg.AdNetworkTimeout)
		if err != nil {
			return fmt.Errorf("ad network: %w", err)
		}
		requester = hr
	}

	deps := engine.Dependencies{
		Clock:          clock.Real{},
		Emitter:        emitter,
		Requester:      requester,
		Metrics:        metricsRegistry,
		Logger:         logger,
		CapWindow:      cfg.VisitorCapWindow,
		RequestTimeout: cfg.AdNetworkTimeout,
	}
	if store != nil {
		deps.Caps = store
	}
	manager := engine.NewManager(slots, deps, engine.ManagerConfig{
		SessionScope: cfg.SessionScope,
		IdleTTL:      cfg.PageViewIdleTTL,
	})

	var source reporting.Source = &reporting.LiveSource{Engine: manager}
	if events != nil {
		source = &reporting.ClickHouseSource{DB: events.DB}
	}
	dashboard := reporting.NewDashboard(source, cfg.DashboardRefresh, cfg.DashboardWindow, metricsRegistry, logger)

	limiter := ratelimit.NewPageViewLimiter(ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillRate,
		Enabled:    cfg.RateLimitEnabled,
	}, metricsRegistry)

	srvDeps := api.NewServer(logger, manager, slots, store, pg, events, geoSvc, dashboard, limiter, metricsRegistry, cfg)
	srvDeps.SlotFile = slotFile

	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(logger))
	r.Use(middleware.WithRequestMetrics(metricsRegistry))
	srvDeps.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, "openadview"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad view server running",
		zap.String("addr", addr),
		zap.String("session_scope", cfg.SessionScope),
		zap.String("dashboard_source", source.Name()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	go manager.Run(ctx, cfg.TickInterval, cfg.SweepInterval)
	go dashboard.Run(ctx)
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.Prune(cfg.PageViewIdleTTL)
			}
		}
	}()

	if pg != nil && cfg.ReloadInterval > 0 {
		ticker := time.NewTicker(cfg.ReloadInterval)
		go func() {
			for {
				select {
				case <-ticker.C:
					if err := srvDeps.Reload(ctx); err != nil {
						logger.Error("auto reload", zap.Error(err))
					}
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}()
	}
	if pg != nil && store != nil {
		go subscribeUpdates(ctx, store, srvDeps, logger)
	}
	if slotFile != nil {
		go func() {
			if err := slotFile.Watch(ctx, slots.ReloadAll, logger); err != nil {
				logger.Error("slot file watch", zap.Error(err))
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	// stop background loops before the page views they touch are closed
	stop()
	if err := teardown(srv, manager, emitter, logger); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// teardown stops the HTTP server, closes open page views so their summaries
// reach the sinks, and drains the emitter. It runs whether the server stopped
// on a signal or failed to listen.
func teardown(srv *http.Server, manager *engine.Manager, emitter *analytics.Emitter, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var shutdownErr error
	if err := srv.Shutdown(ctx); err != nil {
		shutdownErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	open := manager.Len()
	manager.CloseAll()
	if err := emitter.Close(ctx); err != nil {
		logger.Warn("analytics flush incomplete", zap.Int("pending", emitter.Pending()), zap.Error(err))
	}
	logger.Info("shutdown complete", zap.Int("page_views_closed", open))
	return shutdownErr
}

// subscribeUpdates reloads slot configs whenever another instance publishes a
// CRUD change.
func subscribeUpdates(ctx context.Context, store *db.RedisStore, srv *api.Server, logger *zap.Logger) {
	sub := store.Client.Subscribe(ctx, api.SlotUpdateChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var update api.UpdateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				logger.Warn("bad slot update message", zap.Error(err))
				continue
			}
			if err := srv.Reload(ctx); err != nil {
				logger.Error("reload after update", zap.String("slot_id", update.ID), zap.Error(err))
			}
		}
	}
}
