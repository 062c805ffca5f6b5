package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/openadview/internal/db"
)

func TestExampleFileLoads(t *testing.T) {
	slots, err := (&db.SlotFile{Path: "slots.example.yaml"}).Load()
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, []string{"desktop"}, slots[2].Targeting.Devices)
}

func TestDemoSlotsValidate(t *testing.T) {
	for _, s := range demoSlots() {
		assert.NoError(t, s.Validate(), s.SlotID)
	}
}

func TestRandomSiteValidates(t *testing.T) {
	r := newRand(7)
	slots := randomSite(r, "site1")
	require.Len(t, slots, 6)
	seen := map[string]bool{}
	for _, s := range slots {
		assert.NoError(t, s.Validate(), s.SlotID)
		assert.False(t, seen[s.SlotID], "duplicate %s", s.SlotID)
		seen[s.SlotID] = true
		assert.Len(t, s.Targeting.PageTypes, 1)
	}
}
