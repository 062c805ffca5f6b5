package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/middleware"
	"github.com/patrickwarner/openadview/internal/reporting"
)

// DashboardResponse wraps the latest performance report. Stale is set when
// the most recent refresh failed and an older report is being served.
type DashboardResponse struct {
	Stale bool   `json:"stale,omitempty"`
	Error string `json:"error,omitempty"`
	*reporting.PerformanceReport
}

// DashboardHandler handles GET /dashboard. ?refresh=1 refreshes the report
// before answering.
func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	if s.Dashboard == nil {
		http.Error(w, "dashboard unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("refresh") == "1" {
		_ = s.Dashboard.Refresh(r.Context())
	}

	report, err := s.Dashboard.Latest()
	if report == nil {
		if !errors.Is(err, reporting.ErrNoReport) {
			middleware.LoggerFromRequest(r, s.Logger).Error("dashboard report", zap.Error(err))
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	resp := DashboardResponse{PerformanceReport: report}
	if err != nil {
		resp.Stale = true
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// EventsHandler handles GET /api/events?page_view_id=, returning the stored
// analytics events of one page view.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("page_view_id")
	if id == "" {
		http.Error(w, "page_view_id is required", http.StatusBadRequest)
		return
	}
	events, err := s.Events.GetEventsByPageView(r.Context(), id)
	if errors.Is(err, analytics.ErrUnavailable) {
		http.Error(w, "event store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("query events", zap.String("page_view_id", id), zap.Error(err))
		http.Error(w, "failed to query events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []analytics.EventRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}
