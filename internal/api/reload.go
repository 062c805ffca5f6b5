package api

import (
	"net/http"

	"go.uber.org/zap"
)

// ReloadHandler reloads slot configs from Postgres or the slot file.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Reload(r.Context()); err != nil {
		s.Logger.Error("reload failed", zap.Error(err))
		http.Error(w, "reload failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
