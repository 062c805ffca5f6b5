package logic

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/patrickwarner/openadview/internal/geoip"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/session"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func recipePage() models.PageContext {
	return models.PageContext{PageViewID: "pv-1", Path: "/recipes/ramen", PageType: "recipe", Category: "japanese", DeviceType: "mobile", Country: "US"}
}

func TestEvaluateEligibilityOrder(t *testing.T) {
	base := models.TestSlot("inline-1", models.PositionContentInline, models.PriorityMedium)

	tests := []struct {
		name     string
		mutate   func(*models.AdSlotConfig)
		prepare  func(*session.Metrics)
		page     func(*models.PageContext)
		wantRule string
	}{
		{name: "no rules", wantRule: ""},
		{
			name:     "page type mismatch wins over category",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.PageTypes = []string{"blog"}; c.Targeting.Categories = []string{"x"} },
			wantRule: RulePageType,
		},
		{
			name:     "page type case insensitive",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.PageTypes = []string{"Recipe"} },
			wantRule: "",
		},
		{
			name:     "category mismatch",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.Categories = []string{"italian"} },
			wantRule: RuleCategory,
		},
		{
			name:     "device mismatch",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.Devices = []string{"desktop"} },
			wantRule: RuleDevice,
		},
		{
			name:     "country mismatch",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.Countries = []string{"CA"} },
			wantRule: RuleCountry,
		},
		{
			name:     "time on page not reached",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.MinTimeOnPageMs = models.Int64Ptr(5000) },
			prepare:  func(m *session.Metrics) { m.Tick(start.Add(4999 * time.Millisecond)) },
			wantRule: RuleTimeOnPage,
		},
		{
			name:     "time on page reached",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.MinTimeOnPageMs = models.Int64Ptr(5000) },
			prepare:  func(m *session.Metrics) { m.Tick(start.Add(5 * time.Second)) },
			wantRule: "",
		},
		{
			name:     "scroll depth not reached",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.MinScrollDepthPct = models.IntPtr(50) },
			prepare:  func(m *session.Metrics) { m.RecordScrollDepth(49) },
			wantRule: RuleScrollDepth,
		},
		{
			name:     "session cap reached",
			prepare:  func(m *session.Metrics) { m.RecordImpression("inline-1") },
			wantRule: RuleSessionCap,
		},
		{
			name:     "time rule checked before cap",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.MinTimeOnPageMs = models.Int64Ptr(1000) },
			prepare:  func(m *session.Metrics) { m.RecordImpression("inline-1") },
			wantRule: RuleTimeOnPage,
		},
		{
			name:     "empty page type against targeted set",
			mutate:   func(c *models.AdSlotConfig) { c.Targeting.PageTypes = []string{"recipe"} },
			page:     func(p *models.PageContext) { p.PageType = "" },
			wantRule: RulePageType,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			if tc.mutate != nil {
				tc.mutate(&cfg)
			}
			m := session.New(start)
			if tc.prepare != nil {
				tc.prepare(m)
			}
			page := recipePage()
			if tc.page != nil {
				tc.page(&page)
			}
			got := EvaluateEligibility(cfg, m, page)
			if got.Rule != tc.wantRule {
				t.Fatalf("expected rule %q, got %q (%s)", tc.wantRule, got.Rule, got.Detail)
			}
			if got.Eligible != (tc.wantRule == "") {
				t.Fatalf("eligible=%v inconsistent with rule %q", got.Eligible, got.Rule)
			}
			if IsEligible(cfg, m, page) != got.Eligible {
				t.Fatal("IsEligible disagrees with EvaluateEligibility")
			}
		})
	}
}

func TestEligibilityNoReentryOnceCapped(t *testing.T) {
	cfg := models.TestSlot("hero", models.PositionHeroBanner, models.PriorityHigh)
	cfg.MaxPerSession = 2
	m := session.New(start)
	m.MarkVisible("hero")

	m.RecordImpression("hero")
	if !IsEligible(cfg, m, recipePage()) {
		t.Fatal("one of two impressions used; expected eligible")
	}
	m.RecordImpression("hero")
	if IsEligible(cfg, m, recipePage()) {
		t.Fatal("capped slot must be ineligible even while visible")
	}
}

func TestEligibilityNilMetrics(t *testing.T) {
	cfg := models.TestSlot("s", models.PositionFooter, models.PriorityLow)
	if IsEligible(cfg, nil, recipePage()) {
		t.Fatal("nil metrics must not be eligible")
	}
}

func TestResolveClientFromUA(t *testing.T) {
	tests := []struct {
		name            string
		ua              string
		expectedDevice  string
		expectedOS      string
		expectedBrowser string
		expectedIsBot   bool
	}{
		{
			name:            "Windows Chrome",
			ua:              "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36",
			expectedDevice:  "desktop",
			expectedOS:      "Windows",
			expectedBrowser: "Chrome",
		},
		{
			name:            "iPhone Safari",
			ua:              "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15",
			expectedDevice:  "mobile",
			expectedOS:      "iOS",
			expectedBrowser: "Safari",
		},
		{
			name:            "iPad Safari",
			ua:              "Mozilla/5.0 (iPad; CPU OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15",
			expectedDevice:  "tablet",
			expectedOS:      "iOS",
			expectedBrowser: "Safari",
		},
		{
			name:            "Googlebot",
			ua:              "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			expectedDevice:  "desktop",
			expectedOS:      "Bot",
			expectedBrowser: "GoogleBot",
			expectedIsBot:   true,
		},
		{
			name:            "Empty UA",
			ua:              "",
			expectedDevice:  "other",
			expectedOS:      "Unknown",
			expectedBrowser: "Unknown",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := ResolveClientFromUA(tc.ua)
			if c.DeviceType != tc.expectedDevice {
				t.Errorf("DeviceType: expected '%s', got '%s'", tc.expectedDevice, c.DeviceType)
			}
			if !strings.Contains(c.OS, tc.expectedOS) {
				t.Errorf("OS: expected to contain '%s', got '%s'", tc.expectedOS, c.OS)
			}
			if !strings.Contains(c.Browser, tc.expectedBrowser) {
				t.Errorf("Browser: expected to contain '%s', got '%s'", tc.expectedBrowser, c.Browser)
			}
			if c.IsBot != tc.expectedIsBot {
				t.Errorf("IsBot: expected %t, got %t", tc.expectedIsBot, c.IsBot)
			}
		})
	}
}

func TestResolvePageContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.json")
	if err := os.WriteFile(path, []byte(`[{"net":"203.0.113.0/24","country":"NZ","region":"AUK"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	g, err := geoip.Init(path)
	if err != nil {
		t.Fatalf("geoip init: %v", err)
	}

	r := httptest.NewRequest("POST", "/pageviews", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15")
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	page, client := ResolvePageContext(r, g, models.PageContext{PageType: "blog"})
	if page.DeviceType != "mobile" || client.DeviceType != "mobile" {
		t.Errorf("expected mobile, got %q", page.DeviceType)
	}
	if page.Country != "NZ" {
		t.Errorf("expected NZ from forwarded IP, got %q", page.Country)
	}

	page, _ = ResolvePageContext(r, g, models.PageContext{DeviceType: "desktop", Country: "DE"})
	if page.DeviceType != "desktop" || page.Country != "DE" {
		t.Errorf("caller supplied values should win, got %+v", page)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.7:5123"
	if ip := ClientIP(r); ip == nil || ip.String() != "198.51.100.7" {
		t.Fatalf("unexpected ip %v", ip)
	}
}
