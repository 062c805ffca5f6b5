package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/logic/placement"
	"github.com/patrickwarner/openadview/internal/middleware"
	"github.com/patrickwarner/openadview/internal/models"
)

// PlanRequest describes an article. Boundaries, when given, take precedence
// over Paragraphs. SlotIDs restricts the candidate configs; by default every
// declared content-inline slot is considered.
type PlanRequest struct {
	Paragraphs int      `json:"paragraphs"`
	Boundaries []int    `json:"boundaries,omitempty"`
	SlotIDs    []string `json:"slot_ids,omitempty"`
	// Register mounts the planned slots on the page view.
	Register bool `json:"register"`
}

// PlanResponse lists the planned insertions in article order.
type PlanResponse struct {
	Insertions []placement.Insertion `json:"insertions"`
	Rejected   map[string]string     `json:"rejected,omitempty"`
}

// PlanArticle handles POST /pageviews/{id}/plan.
func (s *Server) PlanArticle(w http.ResponseWriter, r *http.Request) {
	pv, ok := s.pageView(w, r)
	if !ok {
		return
	}
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Paragraphs < 0 {
		http.Error(w, "paragraphs must be >= 0", http.StatusBadRequest)
		return
	}

	var configs []models.AdSlotConfig
	if len(req.SlotIDs) > 0 {
		for _, id := range req.SlotIDs {
			if cfg, found := s.Slots.GetSlot(id); found {
				configs = append(configs, cfg)
			}
		}
	} else {
		configs = s.Slots.GetSlotsByPosition(models.PositionContentInline)
	}

	var plan []placement.Insertion
	if len(req.Boundaries) > 0 {
		plan = placement.PlanBoundaries(req.Boundaries, configs)
	} else {
		plan = placement.Plan(req.Paragraphs, configs)
	}

	resp := PlanResponse{Insertions: plan}
	if req.Register {
		for _, ins := range plan {
			if err := pv.Register(ins.Slot); err != nil {
				if resp.Rejected == nil {
					resp.Rejected = make(map[string]string)
				}
				resp.Rejected[ins.Slot.SlotID] = err.Error()
			}
		}
	}

	middleware.LoggerFromRequest(r, s.Logger).Debug("planned article",
		zap.Int("candidates", len(configs)),
		zap.Ints("paragraphs", placement.Indices(plan)),
	)
	writeJSON(w, http.StatusOK, resp)
}
