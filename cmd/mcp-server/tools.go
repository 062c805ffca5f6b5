package main

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/logic/placement"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/reporting"
)

const defaultWindowHours = 24

type GetAdPerformanceInput struct {
	WindowHours int    `json:"window_hours,omitempty" jsonschema:"trailing window in hours (default 24)"`
	SlotID      string `json:"slot_id,omitempty" jsonschema:"restrict the report to one slot"`
}

type GetAdPerformanceOutput struct {
	GeneratedAt string                      `json:"generated_at"`
	Window      string                      `json:"window"`
	Source      string                      `json:"source"`
	Totals      reporting.SlotPerformance   `json:"totals"`
	Slots       []reporting.SlotPerformance `json:"slots"`
}

type PlanInArticleInput struct {
	Paragraphs int      `json:"paragraphs" jsonschema:"number of paragraphs in the article"`
	Boundaries []int    `json:"boundaries,omitempty" jsonschema:"paragraph boundary offsets; overrides paragraphs when set"`
	SlotIDs    []string `json:"slot_ids,omitempty" jsonschema:"candidate slot IDs (default: every content-inline slot)"`
}

type PlannedInsertion struct {
	ParagraphIndex int    `json:"paragraph_index"`
	Boundary       int    `json:"boundary,omitempty"`
	SlotID         string `json:"slot_id"`
	Priority       string `json:"priority"`
}

type PlanInArticleOutput struct {
	Insertions []PlannedInsertion `json:"insertions"`
}

type ListSlotsInput struct {
	Position string `json:"position,omitempty" jsonschema:"only slots rendered at this position"`
}

type ListSlotsOutput struct {
	Slots []models.AdSlotConfig `json:"slots"`
}

// ViewServer answers read-only questions about slot configuration and ad
// performance.
type ViewServer struct {
	slots  models.SlotStore
	source reporting.Source
	logger *zap.Logger
}

// GetAdPerformance implements the get_ad_performance tool.
func (s *ViewServer) GetAdPerformance(ctx context.Context, req *mcp.CallToolRequest, input GetAdPerformanceInput) (*mcp.CallToolResult, GetAdPerformanceOutput, error) {
	if s.source == nil {
		return nil, GetAdPerformanceOutput{}, fmt.Errorf("performance data unavailable: CLICKHOUSE_DSN not set")
	}
	hours := input.WindowHours
	if hours <= 0 {
		hours = defaultWindowHours
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	report, err := s.source.Report(ctx, time.Duration(hours)*time.Hour)
	if err != nil {
		s.logger.Error("performance report", zap.Error(err))
		return nil, GetAdPerformanceOutput{}, fmt.Errorf("performance report: %w", err)
	}
	out := GetAdPerformanceOutput{
		GeneratedAt: report.GeneratedAt.UTC().Format(time.RFC3339),
		Window:      report.Window,
		Source:      report.Source,
		Totals:      report.Totals,
		Slots:       []reporting.SlotPerformance{},
	}
	for _, sp := range report.Slots {
		if input.SlotID == "" || sp.SlotID == input.SlotID {
			out.Slots = append(out.Slots, sp)
		}
	}
	return nil, out, nil
}

// PlanInArticle implements the plan_in_article tool.
func (s *ViewServer) PlanInArticle(ctx context.Context, req *mcp.CallToolRequest, input PlanInArticleInput) (*mcp.CallToolResult, PlanInArticleOutput, error) {
	if input.Paragraphs < 0 {
		return nil, PlanInArticleOutput{}, fmt.Errorf("paragraphs must be >= 0")
	}
	var configs []models.AdSlotConfig
	if len(input.SlotIDs) > 0 {
		for _, id := range input.SlotIDs {
			cfg, ok := s.slots.GetSlot(id)
			if !ok {
				return nil, PlanInArticleOutput{}, fmt.Errorf("unknown slot %s", id)
			}
			configs = append(configs, cfg)
		}
	} else {
		configs = s.slots.GetSlotsByPosition(models.PositionContentInline)
	}

	var plan []placement.Insertion
	if len(input.Boundaries) > 0 {
		plan = placement.PlanBoundaries(input.Boundaries, configs)
	} else {
		plan = placement.Plan(input.Paragraphs, configs)
	}
	out := PlanInArticleOutput{Insertions: make([]PlannedInsertion, 0, len(plan))}
	for _, ins := range plan {
		out.Insertions = append(out.Insertions, PlannedInsertion{
			ParagraphIndex: ins.ParagraphIndex,
			Boundary:       ins.Boundary,
			SlotID:         ins.Slot.SlotID,
			Priority:       string(ins.Slot.Priority),
		})
	}
	return nil, out, nil
}

// ListSlots implements the list_slots tool.
func (s *ViewServer) ListSlots(ctx context.Context, req *mcp.CallToolRequest, input ListSlotsInput) (*mcp.CallToolResult, ListSlotsOutput, error) {
	var slots []models.AdSlotConfig
	if input.Position != "" {
		pos := models.Position(input.Position)
		if !pos.Valid() {
			return nil, ListSlotsOutput{}, fmt.Errorf("unknown position %q", input.Position)
		}
		slots = s.slots.GetSlotsByPosition(pos)
	} else {
		slots = s.slots.GetAllSlots()
	}
	if slots == nil {
		slots = []models.AdSlotConfig{}
	}
	return nil, ListSlotsOutput{Slots: slots}, nil
}

func registerTools(server *mcp.Server, vs *ViewServer) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_ad_performance",
		Description: "Impressions, clicks, CTR and average dwell per ad slot over a trailing window",
	}, vs.GetAdPerformance)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan_in_article",
		Description: "Compute where in-article ads would be inserted for an article of a given length",
	}, vs.PlanInArticle)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_slots",
		Description: "List declared ad slot configurations",
	}, vs.ListSlots)
}
