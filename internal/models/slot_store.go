package models

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNotFound is returned when a slot config is not found in the store
var ErrNotFound = errors.New("entity not found")

// ErrDuplicate is returned when inserting a slot ID that already exists
var ErrDuplicate = errors.New("entity already exists")

// SlotStore provides thread-safe access to declared slot configs without
// global variables. Reads are lock-free against an immutable snapshot; every
// write swaps in a new snapshot.
type SlotStore interface {
	// Read operations (hot path)
	GetSlot(slotID string) (AdSlotConfig, bool)
	// GetAllSlots returns configs in declaration order.
	GetAllSlots() []AdSlotConfig
	GetSlotsByPosition(position Position) []AdSlotConfig

	// Atomic bulk operation (reload path)
	ReloadAll(slots []AdSlotConfig) error

	// CRUD operations for admin updates
	InsertSlot(slot AdSlotConfig) error
	UpdateSlot(slot AdSlotConfig) error
	DeleteSlot(slotID string) error
}

// slotSnapshot is an immutable view of all declared slots
type slotSnapshot struct {
	slots []AdSlotConfig
	index map[string]int // slot ID -> position in slots
}

func newSlotSnapshot(slots []AdSlotConfig) *slotSnapshot {
	snap := &slotSnapshot{
		slots: slots,
		index: make(map[string]int, len(slots)),
	}
	for i := range slots {
		snap.index[slots[i].SlotID] = i
	}
	return snap
}

// InMemorySlotStore implements SlotStore with atomic snapshot updates
type InMemorySlotStore struct {
	data atomic.Pointer[slotSnapshot]
}

// NewInMemorySlotStore creates an empty SlotStore
func NewInMemorySlotStore() *InMemorySlotStore {
	s := &InMemorySlotStore{}
	s.data.Store(newSlotSnapshot(nil))
	return s
}

// GetSlot retrieves a slot config by ID
func (s *InMemorySlotStore) GetSlot(slotID string) (AdSlotConfig, bool) {
	data := s.data.Load()
	i, ok := data.index[slotID]
	if !ok {
		return AdSlotConfig{}, false
	}
	return data.slots[i], true
}

// GetAllSlots returns a copy of all slot configs in declaration order
func (s *InMemorySlotStore) GetAllSlots() []AdSlotConfig {
	data := s.data.Load()
	out := make([]AdSlotConfig, len(data.slots))
	copy(out, data.slots)
	return out
}

// GetSlotsByPosition returns the slots declared for position, in declaration order
func (s *InMemorySlotStore) GetSlotsByPosition(position Position) []AdSlotConfig {
	data := s.data.Load()
	var out []AdSlotConfig
	for _, sl := range data.slots {
		if sl.Position == position {
			out = append(out, sl)
		}
	}
	return out
}

// ReloadAll validates every config and replaces the whole snapshot.
// Nothing is replaced when any config is invalid or duplicated.
func (s *InMemorySlotStore) ReloadAll(slots []AdSlotConfig) error {
	seen := make(map[string]struct{}, len(slots))
	for _, sl := range slots {
		if err := sl.Validate(); err != nil {
			return fmt.Errorf("slot %q: %w", sl.SlotID, err)
		}
		if _, dup := seen[sl.SlotID]; dup {
			return fmt.Errorf("slot %q: %w", sl.SlotID, ErrDuplicate)
		}
		seen[sl.SlotID] = struct{}{}
	}
	next := make([]AdSlotConfig, len(slots))
	copy(next, slots)
	s.data.Store(newSlotSnapshot(next))
	return nil
}

// InsertSlot appends a new slot config
func (s *InMemorySlotStore) InsertSlot(slot AdSlotConfig) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	current := s.data.Load()
	if _, ok := current.index[slot.SlotID]; ok {
		return ErrDuplicate
	}
	next := make([]AdSlotConfig, len(current.slots)+1)
	copy(next, current.slots)
	next[len(current.slots)] = slot
	s.data.Store(newSlotSnapshot(next))
	return nil
}

// UpdateSlot replaces an existing slot config, keeping its declaration position
func (s *InMemorySlotStore) UpdateSlot(slot AdSlotConfig) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	current := s.data.Load()
	i, ok := current.index[slot.SlotID]
	if !ok {
		return ErrNotFound
	}
	next := make([]AdSlotConfig, len(current.slots))
	copy(next, current.slots)
	next[i] = slot
	s.data.Store(newSlotSnapshot(next))
	return nil
}

// DeleteSlot removes a slot config
func (s *InMemorySlotStore) DeleteSlot(slotID string) error {
	current := s.data.Load()
	if _, ok := current.index[slotID]; !ok {
		return ErrNotFound
	}
	next := make([]AdSlotConfig, 0, len(current.slots)-1)
	for _, sl := range current.slots {
		if sl.SlotID != slotID {
			next = append(next, sl)
		}
	}
	s.data.Store(newSlotSnapshot(next))
	return nil
}
