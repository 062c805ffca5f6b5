package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/config"
	"github.com/patrickwarner/openadview/internal/db"
	"github.com/patrickwarner/openadview/internal/engine"
	"github.com/patrickwarner/openadview/internal/geoip"
	"github.com/patrickwarner/openadview/internal/logic/ratelimit"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/observability"
	"github.com/patrickwarner/openadview/internal/reporting"
	"github.com/patrickwarner/openadview/internal/slot"
)

// SlotUpdateChannel is the Redis channel announcing slot config changes to
// other instances.
const SlotUpdateChannel = "slot-config-updates"

// UpdateMessage is published on SlotUpdateChannel after a CRUD write.
type UpdateMessage struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id"`
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Engine      *engine.Manager
	Slots       models.SlotStore
	Store       *db.RedisStore
	PG          *db.Postgres
	SlotFile    *db.SlotFile
	Events      *analytics.ClickHouseSink
	GeoIP       *geoip.GeoIP
	Dashboard   *reporting.Dashboard
	Limiter     *ratelimit.PageViewLimiter
	TokenSecret []byte
	TokenTTL    time.Duration
	Metrics     observability.MetricsRegistry
	Config      config.Config
	reloadMu    sync.Mutex
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, manager *engine.Manager, slots models.SlotStore, store *db.RedisStore, pg *db.Postgres, events *analytics.ClickHouseSink, geo *geoip.GeoIP, dashboard *reporting.Dashboard, limiter *ratelimit.PageViewLimiter, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:      logger,
		Engine:      manager,
		Slots:       slots,
		Store:       store,
		PG:          pg,
		Events:      events,
		GeoIP:       geo,
		Dashboard:   dashboard,
		Limiter:     limiter,
		TokenSecret: []byte(cfg.TokenSecret),
		TokenTTL:    cfg.TokenTTL,
		Metrics:     metrics,
		Config:      cfg,
	}
}

// Routes registers every handler on r.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/pageviews", s.CreatePageView).Methods("POST")
	r.HandleFunc("/pageviews/{id}", s.GetPageView).Methods("GET")
	r.HandleFunc("/pageviews/{id}", s.ClosePageView).Methods("DELETE")
	r.HandleFunc("/pageviews/{id}/slots", s.RegisterSlot).Methods("POST")
	r.HandleFunc("/pageviews/{id}/slots/{slot}", s.RemoveSlot).Methods("DELETE")
	r.HandleFunc("/pageviews/{id}/events", s.IngestEvents).Methods("POST")
	r.HandleFunc("/pageviews/{id}/plan", s.PlanArticle).Methods("POST")

	r.HandleFunc("/dashboard", s.DashboardHandler).Methods("GET")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.HandleFunc("/reload", s.ReloadHandler).Methods("POST")

	admin := r.PathPrefix("/api").Subrouter()
	admin.HandleFunc("/slots", s.ListSlots).Methods("GET")
	admin.HandleFunc("/slots", s.CreateSlot).Methods("POST")
	admin.HandleFunc("/slots/{id}", s.GetSlot).Methods("GET")
	admin.HandleFunc("/slots/{id}", s.UpdateSlot).Methods("PUT")
	admin.HandleFunc("/slots/{id}", s.DeleteSlot).Methods("DELETE")
	admin.HandleFunc("/events", s.EventsHandler).Methods("GET")
}

func (s *Server) notifyUpdate(action, id string) {
	if s.Store == nil || s.Store.Client == nil {
		return
	}
	payload, err := json.Marshal(UpdateMessage{Entity: "slot", Action: action, ID: id})
	if err != nil {
		s.Logger.Error("failed to marshal update message", zap.Error(err))
		return
	}
	if err := s.Store.Client.Publish(context.Background(), SlotUpdateChannel, payload).Err(); err != nil {
		s.Logger.Error("failed to publish update message", zap.Error(err))
	}
}

// Reload replaces the declared slot configs with the rows in Postgres.
// Live page views keep the configs they were mounted with.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	var slots []models.AdSlotConfig
	var err error
	switch {
	case s.PG != nil:
		slots, err = s.PG.LoadSlots(ctx)
	case s.SlotFile != nil:
		slots, err = s.SlotFile.Load()
	default:
		return fmt.Errorf("no slot config source")
	}
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	if err := s.Slots.ReloadAll(slots); err != nil {
		return fmt.Errorf("reload slots: %w", err)
	}
	s.Logger.Info("slot configs reloaded", zap.Int("count", len(slots)))
	return nil
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps engine and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrPageViewNotFound),
		errors.Is(err, engine.ErrUnknownSlot),
		errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrDuplicateSlot),
		errors.Is(err, models.ErrDuplicate),
		errors.Is(err, slot.ErrNotLoaded),
		errors.Is(err, slot.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
