package logic

import (
	"fmt"

	"github.com/patrickwarner/openadview/internal/models"
)

// Simultaneous-visibility limits. A medium slot yields once MediumDensityLimit
// slots are already visible; a low slot once LowDensityLimit are.
const (
	MediumDensityLimit = 5
	LowDensityLimit    = 3
)

// Admit reports whether cfg may join the set of visible slots. It is only
// meaningful after IsEligible has passed. High priority is never denied.
func Admit(cfg models.AdSlotConfig, metrics SessionView) bool {
	return EvaluateAdmission(cfg, metrics).Eligible
}

// EvaluateAdmission is Admit with the denying rule attached. The slot itself
// is not counted when it is already a member of the visible set.
func EvaluateAdmission(cfg models.AdSlotConfig, metrics SessionView) Eligibility {
	if metrics == nil {
		return deny(RuleSessionCap, "%v", ErrNilSession)
	}
	visible := metrics.VisibleCount()
	if metrics.IsVisible(cfg.SlotID) {
		visible--
	}
	var limit int
	var rule string
	switch cfg.Priority {
	case models.PriorityHigh:
		return Eligibility{Eligible: true}
	case models.PriorityMedium:
		limit, rule = MediumDensityLimit, RuleDensityMedium
	default:
		limit, rule = LowDensityLimit, RuleDensityLow
	}
	if visible >= limit {
		return Eligibility{Rule: rule, Detail: fmt.Sprintf("%d slots visible, %s limit is %d", visible, cfg.Priority, limit)}
	}
	return Eligibility{Eligible: true}
}

// DensityLimit returns the visible-set size at which p is denied, or -1 for
// priorities density never denies.
func DensityLimit(p models.Priority) int {
	switch p {
	case models.PriorityHigh:
		return -1
	case models.PriorityMedium:
		return MediumDensityLimit
	default:
		return LowDensityLimit
	}
}
