package logic

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/openadview/internal/geoip"
	"github.com/patrickwarner/openadview/internal/models"
)

// SessionView is the read side of the session metrics store used by
// targeting and density decisions.
type SessionView interface {
	TimeOnPage() time.Duration
	MaxScrollDepthPct() float64
	Impressions(slotID string) int
	VisibleCount() int
	IsVisible(slotID string) bool
}

// Rule names reported when a slot fails eligibility.
const (
	RulePageType      = "page_type"
	RuleCategory      = "category"
	RuleDevice        = "device"
	RuleCountry       = "country"
	RuleTimeOnPage    = "min_time_on_page"
	RuleScrollDepth   = "min_scroll_depth"
	RuleSessionCap    = "max_per_session"
	RuleDensityMedium = "density_medium"
	RuleDensityLow    = "density_low"
)

// Eligibility is the outcome of evaluating a slot's targeting rules.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Rule     string `json:"rule,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// IsEligible reports whether cfg may render on the page described by page
// given the current session metrics.
func IsEligible(cfg models.AdSlotConfig, metrics SessionView, page models.PageContext) bool {
	return EvaluateEligibility(cfg, metrics, page).Eligible
}

// EvaluateEligibility checks the rules in a fixed order and stops at the
// first failure. It has no side effects.
func EvaluateEligibility(cfg models.AdSlotConfig, metrics SessionView, page models.PageContext) Eligibility {
	t := cfg.Targeting
	if !matchesSet(t.PageTypes, page.PageType) {
		return deny(RulePageType, "page type %q not targeted", page.PageType)
	}
	if !matchesSet(t.Categories, page.Category) {
		return deny(RuleCategory, "category %q not targeted", page.Category)
	}
	if !matchesSet(t.Devices, page.DeviceType) {
		return deny(RuleDevice, "device %q not targeted", page.DeviceType)
	}
	if !matchesSet(t.Countries, page.Country) {
		return deny(RuleCountry, "country %q not targeted", page.Country)
	}
	if metrics == nil {
		return deny(RuleSessionCap, "%v", ErrNilSession)
	}
	if t.MinTimeOnPageMs != nil {
		if got := metrics.TimeOnPage().Milliseconds(); got < *t.MinTimeOnPageMs {
			return deny(RuleTimeOnPage, "time on page %dms < %dms", got, *t.MinTimeOnPageMs)
		}
	}
	if t.MinScrollDepthPct != nil {
		if got := metrics.MaxScrollDepthPct(); got < float64(*t.MinScrollDepthPct) {
			return deny(RuleScrollDepth, "scroll depth %.0f%% < %d%%", got, *t.MinScrollDepthPct)
		}
	}
	if got := metrics.Impressions(cfg.SlotID); got >= cfg.MaxPerSession {
		return deny(RuleSessionCap, "%d of %d impressions used", got, cfg.MaxPerSession)
	}
	return Eligibility{Eligible: true}
}

func deny(rule, format string, args ...any) Eligibility {
	return Eligibility{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// matchesSet treats an empty set as a wildcard; comparison ignores case.
func matchesSet(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Client describes the browser making a page view request.
type Client struct {
	DeviceType string
	OS         string
	Browser    string
	IsBot      bool
}

// ResolveClientFromUA parses a raw User-Agent string using uasurfer.
func ResolveClientFromUA(uaString string) Client {
	u := uasurfer.Parse(uaString)

	var deviceType string
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}

	v := u.OS.Version
	bv := u.Browser.Version
	return Client{
		DeviceType: deviceType,
		OS:         fmt.Sprintf("%s %s %d.%d.%d", u.OS.Platform.String(), u.OS.Name.String(), v.Major, v.Minor, v.Patch),
		Browser:    fmt.Sprintf("%s %d.%d.%d", u.Browser.Name.String(), bv.Major, bv.Minor, bv.Patch),
		IsBot:      u.IsBot(),
	}
}

// ClientIP extracts the caller address, preferring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) net.IP {
	ipStr := r.Header.Get("X-Forwarded-For")
	if ipStr == "" {
		ipStr = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ipStr); err == nil {
			ipStr = host
		}
	} else if idx := strings.Index(ipStr, ","); idx != -1 {
		ipStr = strings.TrimSpace(ipStr[:idx])
	}
	return net.ParseIP(strings.TrimSpace(ipStr))
}

// ResolvePageContext fills the request-derived fields of page: device type
// from the User-Agent and country from the client IP. Values the caller
// already set are kept.
func ResolvePageContext(r *http.Request, g *geoip.GeoIP, page models.PageContext) (models.PageContext, Client) {
	client := ResolveClientFromUA(r.Header.Get("User-Agent"))
	if page.DeviceType == "" {
		page.DeviceType = client.DeviceType
	}
	if page.Country == "" && g != nil {
		if ip := ClientIP(r); ip != nil {
			page.Country = g.Country(ip)
		}
	}
	return page, client
}
