package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/models"
)

// ===== Slot configs =====

func (s *Server) ListSlots(w http.ResponseWriter, r *http.Request) {
	if s.Slots == nil {
		http.Error(w, "slot store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.Slots.GetAllSlots())
}

func (s *Server) GetSlot(w http.ResponseWriter, r *http.Request) {
	if s.Slots == nil {
		http.Error(w, "slot store unavailable", http.StatusInternalServerError)
		return
	}
	cfg, ok := s.Slots.GetSlot(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func decodeSlot(r *http.Request) (models.AdSlotConfig, error) {
	var cfg models.AdSlotConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		return cfg, errors.New("invalid json")
	}
	return cfg, cfg.Validate()
}

func (s *Server) CreateSlot(w http.ResponseWriter, r *http.Request) {
	if s.Slots == nil {
		http.Error(w, "slot store unavailable", http.StatusInternalServerError)
		return
	}
	cfg, err := decodeSlot(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, exists := s.Slots.GetSlot(cfg.SlotID); exists {
		http.Error(w, "slot already exists", http.StatusConflict)
		return
	}

	// persist first so a failed write never leaves memory ahead of Postgres
	if s.PG != nil {
		if err := s.PG.InsertSlot(r.Context(), cfg); err != nil {
			s.Logger.Error("insert slot to postgres", zap.String("slot_id", cfg.SlotID), zap.Error(err))
			http.Error(w, "failed to persist slot", statusOrInternal(err))
			return
		}
	}
	if err := s.Slots.InsertSlot(cfg); err != nil {
		s.Logger.Error("insert slot to store", zap.Error(err))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	s.notifyUpdate("create", cfg.SlotID)
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	if s.Slots == nil {
		http.Error(w, "slot store unavailable", http.StatusInternalServerError)
		return
	}
	id := mux.Vars(r)["id"]
	var cfg models.AdSlotConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cfg.SlotID = id
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.PG != nil {
		if err := s.PG.UpdateSlot(r.Context(), cfg); err != nil {
			s.Logger.Error("update slot in postgres", zap.String("slot_id", id), zap.Error(err))
			http.Error(w, "failed to persist slot", statusOrInternal(err))
			return
		}
	}
	if err := s.Slots.UpdateSlot(cfg); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	s.notifyUpdate("update", id)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	if s.Slots == nil {
		http.Error(w, "slot store unavailable", http.StatusInternalServerError)
		return
	}
	id := mux.Vars(r)["id"]
	if s.PG != nil {
		if err := s.PG.DeleteSlot(r.Context(), id); err != nil {
			s.Logger.Error("delete slot from postgres", zap.String("slot_id", id), zap.Error(err))
			http.Error(w, "failed to delete slot", statusOrInternal(err))
			return
		}
	}
	if err := s.Slots.DeleteSlot(id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	s.notifyUpdate("delete", id)
	w.WriteHeader(http.StatusNoContent)
}

// statusOrInternal keeps not-found and duplicate statuses from the
// database layer and maps everything else to 500.
func statusOrInternal(err error) int {
	switch statusFor(err) {
	case http.StatusNotFound:
		return http.StatusNotFound
	case http.StatusConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
