package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/engine"
	"github.com/patrickwarner/openadview/internal/logic"
	"github.com/patrickwarner/openadview/internal/middleware"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/observability"
	"github.com/patrickwarner/openadview/internal/token"
)

// TokenHeader carries the page view token on follow-up requests. The "t"
// query parameter is accepted as well for beacon style clients.
const TokenHeader = "X-PageView-Token"

var tracer = observability.Tracer("api")

// CreatePageViewRequest mounts a page view.
type CreatePageViewRequest struct {
	PageViewID string                `json:"page_view_id,omitempty"`
	Path       string                `json:"path"`
	PageType   string                `json:"page_type"`
	Category   string                `json:"category"`
	VisitorID  string                `json:"visitor_id,omitempty"`
	DeviceType string                `json:"device_type,omitempty"`
	Country    string                `json:"country,omitempty"`
	SlotIDs    []string              `json:"slot_ids"`
	Slots      []models.AdSlotConfig `json:"slots,omitempty"`
	// ObserverSupported defaults to true; false fails open.
	ObserverSupported *bool `json:"observer_supported,omitempty"`
}

// CreatePageViewResponse is returned from POST /pageviews.
type CreatePageViewResponse struct {
	Token    string            `json:"token,omitempty"`
	Rejected map[string]string `json:"rejected,omitempty"`
	engine.Snapshot
}

// CreatePageView handles POST /pageviews.
func (s *Server) CreatePageView(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	_, span := tracer.Start(r.Context(), "CreatePageView")
	defer span.End()

	var req CreatePageViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.VisitorID) > token.MaxVisitorIDLength {
		http.Error(w, "visitor_id too long", http.StatusBadRequest)
		return
	}

	page, client := logic.ResolvePageContext(r, s.GeoIP, models.PageContext{
		PageViewID: req.PageViewID,
		Path:       req.Path,
		PageType:   req.PageType,
		Category:   req.Category,
		VisitorID:  req.VisitorID,
		DeviceType: req.DeviceType,
		Country:    req.Country,
	})
	observerSupported := req.ObserverSupported == nil || *req.ObserverSupported

	pv, rejected, err := s.Engine.Create(engine.CreateRequest{
		Page:              page,
		SlotIDs:           req.SlotIDs,
		Slots:             req.Slots,
		ObserverSupported: observerSupported,
	})
	if err != nil {
		logger.Error("create page view", zap.Error(err))
		span.RecordError(err)
		http.Error(w, "failed to create page view", http.StatusConflict)
		return
	}
	span.SetAttributes(
		attribute.String("page_view.id", pv.ID()),
		attribute.String("page.type", page.PageType),
		attribute.String("device.type", page.DeviceType),
		attribute.Int("slots.count", len(pv.Slots())),
		attribute.Bool("client.bot", client.IsBot),
	)

	resp := CreatePageViewResponse{Snapshot: pv.Snapshot(false)}
	if len(s.TokenSecret) > 0 {
		tok, err := token.Generate(pv.ID(), page.VisitorID, s.TokenSecret)
		if err != nil {
			logger.Error("generate token", zap.Error(err))
			_, _ = s.Engine.Close(pv.ID())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		resp.Token = tok
	}
	if len(rejected) > 0 {
		resp.Rejected = make(map[string]string, len(rejected))
		for id, err := range rejected {
			resp.Rejected[id] = err.Error()
		}
	}

	logger.Info("page view created",
		zap.String("page_view_id", pv.ID()),
		zap.String("page_type", page.PageType),
		zap.String("device_type", page.DeviceType),
		zap.Int("slots", len(pv.Slots())),
		zap.Int("rejected", len(rejected)),
	)
	writeJSON(w, http.StatusCreated, resp)
}

// pageView resolves and authorizes the page view named in the route. On
// failure it has already written the response.
func (s *Server) pageView(w http.ResponseWriter, r *http.Request) (*engine.PageView, bool) {
	id := mux.Vars(r)["id"]
	if len(s.TokenSecret) > 0 {
		tok := r.Header.Get(TokenHeader)
		if tok == "" {
			tok = r.URL.Query().Get("t")
		}
		if _, err := token.VerifyFor(tok, id, s.TokenSecret, s.TokenTTL); err != nil {
			middleware.LoggerFromRequest(r, s.Logger).Warn("rejected page view token", zap.String("page_view_id", id), zap.Error(err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return nil, false
		}
	}
	pv, err := s.Engine.Get(id)
	if err != nil {
		http.Error(w, "page view not found", http.StatusNotFound)
		return nil, false
	}
	return pv, true
}

// GetPageView handles GET /pageviews/{id}. ?trace=1 attaches the
// evaluation trace.
func (s *Server) GetPageView(w http.ResponseWriter, r *http.Request) {
	pv, ok := s.pageView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pv.Snapshot(r.URL.Query().Get("trace") == "1"))
}

// ClosePageView handles DELETE /pageviews/{id} and returns the page summary.
func (s *Server) ClosePageView(w http.ResponseWriter, r *http.Request) {
	pv, ok := s.pageView(w, r)
	if !ok {
		return
	}
	summary, err := s.Engine.Close(pv.ID())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if s.Limiter != nil {
		s.Limiter.Forget(pv.ID())
	}
	writeJSON(w, http.StatusOK, summary)
}

// RegisterSlotRequest mounts one placeholder. Either SlotID names a declared
// slot or Config carries an ad-hoc declaration.
type RegisterSlotRequest struct {
	SlotID string               `json:"slot_id,omitempty"`
	Config *models.AdSlotConfig `json:"config,omitempty"`
}

// RegisterSlot handles POST /pageviews/{id}/slots.
func (s *Server) RegisterSlot(w http.ResponseWriter, r *http.Request) {
	pv, ok := s.pageView(w, r)
	if !ok {
		return
	}
	var req RegisterSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var cfg models.AdSlotConfig
	switch {
	case req.Config != nil:
		cfg = *req.Config
	case req.SlotID != "":
		declared, found := s.Slots.GetSlot(req.SlotID)
		if !found {
			http.Error(w, fmt.Sprintf("unknown slot %s", req.SlotID), http.StatusNotFound)
			return
		}
		cfg = declared
	default:
		http.Error(w, "slot_id or config is required", http.StatusBadRequest)
		return
	}

	if err := pv.Register(cfg); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, pv.Snapshot(false))
}

// RemoveSlot handles DELETE /pageviews/{id}/slots/{slot}.
func (s *Server) RemoveSlot(w http.ResponseWriter, r *http.Request) {
	pv, ok := s.pageView(w, r)
	if !ok {
		return
	}
	if err := pv.RemoveSlot(mux.Vars(r)["slot"]); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Event types accepted by IngestEvents.
const (
	EventVisibility     = "visibility"
	EventScroll         = "scroll"
	EventInteraction    = "interaction"
	EventClick          = "click"
	EventCreativeLoaded = "creative_loaded"
	EventTick           = "tick"
)

// MaxEventsPerBatch bounds one IngestEvents request.
const MaxEventsPerBatch = 200

// ClientEvent is one browser signal.
type ClientEvent struct {
	Type     string   `json:"type"`
	SlotID   string   `json:"slot_id,omitempty"`
	Ratio    float64  `json:"ratio,omitempty"`
	DeltaPx  float64  `json:"delta_px,omitempty"`
	DepthPct *float64 `json:"depth_pct,omitempty"`
	// OK defaults to true for creative_loaded.
	OK     *bool  `json:"ok,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EventBatch is the body of POST /pageviews/{id}/events.
type EventBatch struct {
	Events []ClientEvent `json:"events"`
}

// EventError reports one rejected event of a batch.
type EventError struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
	Error string `json:"error"`
}

// EventBatchResponse is returned after a batch is applied.
type EventBatchResponse struct {
	Accepted int          `json:"accepted"`
	Errors   []EventError `json:"errors,omitempty"`
	engine.Snapshot
}

var errUnknownEvent = errors.New("unknown event type")

func applyEvent(pv *engine.PageView, ev ClientEvent) error {
	switch ev.Type {
	case EventVisibility:
		return pv.ReportVisibility(ev.SlotID, ev.Ratio)
	case EventScroll:
		return pv.Scroll(ev.DeltaPx, ev.DepthPct)
	case EventInteraction:
		return pv.Interaction()
	case EventClick:
		return pv.Click(ev.SlotID)
	case EventCreativeLoaded:
		return pv.CreativeLoaded(ev.SlotID, ev.OK == nil || *ev.OK, ev.Reason)
	case EventTick:
		return pv.Tick()
	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, ev.Type)
	}
}

// IngestEvents handles POST /pageviews/{id}/events. Events are applied in
// order; a rejected event does not stop the rest of the batch.
func (s *Server) IngestEvents(w http.ResponseWriter, r *http.Request) {
	pv, ok := s.pageView(w, r)
	if !ok {
		return
	}
	logger := middleware.LoggerFromRequest(r, s.Logger)
	_, span := tracer.Start(r.Context(), "IngestEvents", trace.WithAttributes(
		attribute.String("page_view.id", pv.ID()),
	))
	defer span.End()

	var batch EventBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(batch.Events) > MaxEventsPerBatch {
		http.Error(w, fmt.Sprintf("at most %d events per batch", MaxEventsPerBatch), http.StatusRequestEntityTooLarge)
		return
	}
	if s.Limiter != nil && !s.Limiter.Allow(pv.ID(), len(batch.Events)) {
		logger.Warn("event batch rate limited", zap.Int("events", len(batch.Events)))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	span.SetAttributes(attribute.Int("events.count", len(batch.Events)))

	resp := EventBatchResponse{}
	for i, ev := range batch.Events {
		err := applyEvent(pv, ev)
		if errors.Is(err, engine.ErrClosed) {
			http.Error(w, "page view closed", http.StatusGone)
			return
		}
		if err != nil {
			logger.Debug("rejected event", zap.Int("index", i), zap.String("type", ev.Type), zap.Error(err))
			resp.Errors = append(resp.Errors, EventError{Index: i, Type: ev.Type, Error: err.Error()})
			continue
		}
		resp.Accepted++
	}
	if len(resp.Errors) > 0 {
		span.SetAttributes(attribute.Int("events.rejected", len(resp.Errors)))
	}
	resp.Snapshot = pv.Snapshot(false)
	writeJSON(w, http.StatusOK, resp)
}
