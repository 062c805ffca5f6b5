package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/config"
	"github.com/patrickwarner/openadview/internal/db"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/observability"
)

var (
	file       = flag.String("file", "", "YAML file of slot configs to seed instead of generated ones")
	sites      = flag.Int("sites", 3, "number of random sites to seed in addition to the demo site")
	seed       = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	reset      = flag.Bool("reset", false, "delete every slot config before seeding")
	skipReload = flag.Bool("skip-reload", false, "skip automatic reload after data insertion")
)

var (
	pageTypes  = []string{"recipe", "blog", "forum", "shop"}
	categories = []string{"dinner", "dessert", "travel", "tech", "fitness", "diy"}
	devices    = []string{"desktop", "mobile", "tablet"}
)

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx := context.Background()
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}
	if *reset {
		if _, err := pg.DB.ExecContext(ctx, `DELETE FROM ad_slots`); err != nil {
			logger.Fatal("reset slots", zap.Error(err))
		}
	}

	var slots []models.AdSlotConfig
	if *file != "" {
		slots, err = (&db.SlotFile{Path: *file}).Load()
		if err != nil {
			logger.Fatal("load slot file", zap.String("file", *file), zap.Error(err))
		}
	} else {
		r := newRand(*seed)
		slots = demoSlots()
		for i := 0; i < *sites; i++ {
			slots = append(slots, randomSite(r, fmt.Sprintf("site%d", i+1))...)
		}
	}

	inserted, skipped := 0, 0
	for _, s := range slots {
		err := pg.InsertSlot(ctx, s)
		switch {
		case errors.Is(err, models.ErrDuplicate):
			skipped++
		case err != nil:
			logger.Fatal("insert slot", zap.String("slot_id", s.SlotID), zap.Error(err))
		default:
			inserted++
		}
	}
	fmt.Printf("slot configs seeded: %d inserted, %d already present\n", inserted, skipped)

	if !*skipReload {
		if err := callReloadEndpoint(&cfg); err != nil {
			logger.Error("reload endpoint failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Warning: failed to reload server data: %v\n", err)
		} else {
			fmt.Println("server data reloaded")
		}
	}
}

func ptr[T any](v T) *T { return &v }

func newRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

// demoSlots is the fixed layout of the demo recipe site.
func demoSlots() []models.AdSlotConfig {
	return []models.AdSlotConfig{
		{
			SlotID: "demo-hero", Position: models.PositionHeroBanner, Priority: models.PriorityHigh,
			MaxPerSession: 1, MinViewTimeMs: 1000, ViewportThreshold: 0.5,
		},
		{
			SlotID: "demo-sidebar", Position: models.PositionSidebarSticky, Priority: models.PriorityMedium,
			MaxPerSession: 2, MinViewTimeMs: 1000, ViewportThreshold: 0.5,
			Targeting: models.Targeting{Devices: []string{"desktop", "tablet"}},
		},
		{
			SlotID: "demo-inline-1", Position: models.PositionContentInline, Priority: models.PriorityMedium,
			MaxPerSession: 1, MinViewTimeMs: 1000, ViewportThreshold: 0.5,
			Placement: models.PlacementRules{MinParagraphGap: 3, MaxSlotsInContent: 3},
		},
		{
			SlotID: "demo-inline-2", Position: models.PositionContentInline, Priority: models.PriorityLow,
			MaxPerSession: 1, MinViewTimeMs: 1000, ViewportThreshold: 0.5,
			Targeting: models.Targeting{MinScrollDepthPct: ptr(25)},
			Placement: models.PlacementRules{MinParagraphGap: 3, MaxSlotsInContent: 3},
		},
		{
			SlotID: "demo-footer", Position: models.PositionFooter, Priority: models.PriorityLow,
			MaxPerSession: 1, MinViewTimeMs: 1000, ViewportThreshold: 0.3,
			Targeting: models.Targeting{MinTimeOnPageMs: ptr(int64(10000))},
		},
		{
			SlotID: "demo-interstitial", Position: models.PositionMobileInterstitial, Priority: models.PriorityHigh,
			MaxPerSession: 1, MinViewTimeMs: 1000, ViewportThreshold: 0.5,
			Targeting: models.Targeting{Devices: []string{"mobile"}, MinScrollDepthPct: ptr(50)},
		},
	}
}

// randomSite returns one slot per position for a site with a random page
// type and a few targeting rules.
func randomSite(r *rand.Rand, prefix string) []models.AdSlotConfig {
	pageType := pageTypes[r.Intn(len(pageTypes))]
	category := categories[r.Intn(len(categories))]
	priorities := []models.Priority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow}

	positions := []models.Position{
		models.PositionHeroBanner,
		models.PositionSidebarSticky,
		models.PositionContentInline,
		models.PositionContentInline,
		models.PositionBetweenSections,
		models.PositionFooter,
	}
	out := make([]models.AdSlotConfig, 0, len(positions))
	for i, pos := range positions {
		s := models.AdSlotConfig{
			SlotID:            fmt.Sprintf("%s-%s-%d", prefix, pos, i),
			Position:          pos,
			Priority:          priorities[r.Intn(len(priorities))],
			MaxPerSession:     1 + r.Intn(3),
			MinViewTimeMs:     []int64{0, 1000, 2000}[r.Intn(3)],
			ViewportThreshold: []float64{0.3, 0.5, 0.7}[r.Intn(3)],
			Targeting: models.Targeting{
				PageTypes: []string{pageType},
			},
		}
		if r.Intn(2) == 0 {
			s.Targeting.Categories = []string{category}
		}
		if r.Intn(4) == 0 {
			s.Targeting.Devices = []string{devices[r.Intn(len(devices))]}
		}
		if r.Intn(3) == 0 {
			s.Targeting.MinScrollDepthPct = ptr(10 * (1 + r.Intn(5)))
		}
		if pos == models.PositionContentInline {
			s.Placement = models.PlacementRules{MinParagraphGap: 2 + r.Intn(3), MaxSlotsInContent: 2 + r.Intn(2)}
		}
		out = append(out, s)
	}
	return out
}

func callReloadEndpoint(cfg *config.Config) error {
	reloadURL := fmt.Sprintf("http://localhost:%s/reload", cfg.Port)
	req, err := http.NewRequest("POST", reloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
