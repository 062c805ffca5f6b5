package api

import (
	"net/http"
)

// HealthResponse reports liveness plus the state of optional backends.
type HealthResponse struct {
	Status    string `json:"status"`
	PageViews int    `json:"page_views"`
	Redis     string `json:"redis,omitempty"`
}

// HealthHandler responds with a simple status check. Redis outages degrade
// visitor caps but never fail the check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.Engine != nil {
		resp.PageViews = s.Engine.Len()
	}
	if s.Store != nil {
		resp.Redis = "ok"
		if err := s.Store.Ping(); err != nil {
			resp.Redis = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
