package session

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mount = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestMonotonicCounters drives random operation sequences and asserts that no
// counter ever decreases.
func TestMonotonicCounters(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		m := New(mount)
		prev := m.Snapshot()
		now := mount

		for step := 0; step < 500; step++ {
			switch rng.Intn(7) {
			case 0:
				m.RecordScroll(rng.Float64()*2000 - 1000)
			case 1:
				m.RecordScrollDepth(rng.Float64()*140 - 20)
			case 2:
				// clock readings may jitter backwards
				now = now.Add(time.Duration(rng.Intn(2000)-500) * time.Millisecond)
				m.Tick(now)
			case 3:
				m.RecordInteraction()
			case 4:
				m.RecordImpression([]string{"a", "b", "c"}[rng.Intn(3)])
			case 5:
				m.MarkVisible([]string{"a", "b", "c"}[rng.Intn(3)])
			case 6:
				m.MarkHidden([]string{"a", "b", "c"}[rng.Intn(3)])
			}

			cur := m.Snapshot()
			require.GreaterOrEqual(t, cur.ScrollDistancePx, prev.ScrollDistancePx, "seed %d step %d", seed, step)
			require.GreaterOrEqual(t, cur.MaxScrollDepthPct, prev.MaxScrollDepthPct, "seed %d step %d", seed, step)
			require.GreaterOrEqual(t, cur.TimeOnPageMs, prev.TimeOnPageMs, "seed %d step %d", seed, step)
			require.GreaterOrEqual(t, cur.InteractionCount, prev.InteractionCount, "seed %d step %d", seed, step)
			for id, n := range prev.PerSlotImpressions {
				require.GreaterOrEqual(t, cur.PerSlotImpressions[id], n, "seed %d step %d slot %s", seed, step, id)
			}
			require.LessOrEqual(t, cur.MaxScrollDepthPct, 100.0)
			prev = cur
		}
	}
}

func TestRecordScrollUsesAbsoluteDelta(t *testing.T) {
	m := New(mount)
	m.RecordScroll(300)
	m.RecordScroll(-120)
	m.RecordScroll(math.NaN())
	assert.Equal(t, 420.0, m.Snapshot().ScrollDistancePx)
}

func TestTickMeasuresFromMount(t *testing.T) {
	m := New(mount)
	m.Tick(mount.Add(1500 * time.Millisecond))
	m.Tick(mount.Add(700 * time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, m.TimeOnPage())
}

func TestVisibleSetIsASet(t *testing.T) {
	m := New(mount)
	m.MarkVisible("a")
	m.MarkVisible("a")
	m.MarkVisible("b")
	assert.Equal(t, 2, m.VisibleCount())
	m.MarkHidden("a")
	m.MarkHidden("missing")
	assert.Equal(t, 1, m.VisibleCount())
	assert.True(t, m.IsVisible("b"))
	assert.False(t, m.IsVisible("a"))

	snap := m.Snapshot()
	assert.Equal(t, []string{"b"}, snap.VisibleSlotIDs)
	assert.Equal(t, 2, snap.PeakVisible)
}

func TestSeededImpressions(t *testing.T) {
	m := NewSeeded(mount, map[string]int{"hero": 2, "bogus": -1})
	assert.Equal(t, 2, m.Impressions("hero"))
	assert.Equal(t, 0, m.Impressions("bogus"))
	assert.Equal(t, 3, m.RecordImpression("hero"))
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New(mount)
	m.RecordImpression("a")
	snap := m.Snapshot()
	snap.PerSlotImpressions["a"] = 99
	assert.Equal(t, 1, m.Impressions("a"))
}
