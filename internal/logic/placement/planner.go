// Package placement computes where in-article ads go inside flowing content.
package placement

import (
	"sort"

	"github.com/patrickwarner/openadview/internal/models"
)

// MinParagraphs is the shortest article that receives in-article ads.
const MinParagraphs = 3

// Insertion places one slot after the paragraph at ParagraphIndex.
type Insertion struct {
	ParagraphIndex int                 `json:"paragraph_index"`
	Boundary       int                 `json:"boundary,omitempty"`
	Slot           models.AdSlotConfig `json:"slot"`
}

type candidate struct {
	index     int
	minLength int
}

// candidates lists the fractional insertion points in order: the first is
// min(2, 20%), the second 50% and the third 80% of the article. The 80%
// point is split so it cannot overflow for huge n.
func candidates(n int) []candidate {
	first := n / 5
	if first > 2 {
		first = 2
	}
	return []candidate{
		{index: first, minLength: MinParagraphs},
		{index: n / 2, minLength: 6},
		{index: n/5*4 + n%5*4/5, minLength: 9},
	}
}

// InlineConfigs returns the content-inline configs from configs ordered by
// priority. Configs of equal priority keep their declaration order.
func InlineConfigs(configs []models.AdSlotConfig) []models.AdSlotConfig {
	out := make([]models.AdSlotConfig, 0, len(configs))
	for _, c := range configs {
		if c.Position == models.PositionContentInline {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}

// Plan computes insertion points for an article of n paragraphs. Candidate k
// is paired with the k-th inline config; a candidate closer than its config's
// paragraph gap to the previously accepted one is dropped, not shifted. The
// result never exceeds the leading config's MaxSlotsInContent. Plan does not
// modify configs and always returns the same result for the same input.
func Plan(n int, configs []models.AdSlotConfig) []Insertion {
	out := []Insertion{}
	if n < MinParagraphs {
		return out
	}
	inline := InlineConfigs(configs)
	if len(inline) == 0 {
		return out
	}
	maxSlots := inline[0].Placement.EffectiveMaxSlots()

	last := -1
	for k, c := range candidates(n) {
		if k >= len(inline) || len(out) >= maxSlots {
			break
		}
		if n < c.minLength {
			break
		}
		cfg := inline[k]
		if last >= 0 && c.index-last < cfg.Placement.EffectiveGap() {
			continue
		}
		out = append(out, Insertion{ParagraphIndex: c.index, Slot: cfg})
		last = c.index
	}
	return out
}

// PlanBoundaries is Plan over an ordered list of paragraph boundaries as
// reported by the rendering layer. Each insertion carries the boundary value
// at its paragraph index.
func PlanBoundaries(boundaries []int, configs []models.AdSlotConfig) []Insertion {
	out := Plan(len(boundaries), configs)
	for i := range out {
		out[i].Boundary = boundaries[out[i].ParagraphIndex]
	}
	return out
}

// Indices extracts the paragraph indices of a plan.
func Indices(plan []Insertion) []int {
	out := make([]int, len(plan))
	for i, ins := range plan {
		out[i] = ins.ParagraphIndex
	}
	return out
}
