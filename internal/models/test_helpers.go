package models

// NewTestSlotStore creates an in-memory slot store preloaded with slots.
// It panics on invalid input since it is only used to build fixtures.
func NewTestSlotStore(slots ...AdSlotConfig) SlotStore {
	s := NewInMemorySlotStore()
	if err := s.ReloadAll(slots); err != nil {
		panic(err)
	}
	return s
}

// TestSlot returns a valid slot config with permissive defaults for tests.
func TestSlot(id string, position Position, priority Priority) AdSlotConfig {
	return AdSlotConfig{
		SlotID:            id,
		Position:          position,
		Priority:          priority,
		MaxPerSession:     1,
		MinViewTimeMs:     1000,
		ViewportThreshold: 0.5,
	}
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
