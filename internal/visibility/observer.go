// Package visibility tracks how much of each ad placeholder overlaps the
// viewport. Raw ratios come from the client's intersection primitive; the
// Observer turns them into threshold-crossing entries and answers pull-style
// ratio queries for the slot state machine.
package visibility

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotObserved is returned for element IDs the observer is not tracking.
var ErrNotObserved = errors.New("element not observed")

// Entry is one intersection report for an observed element.
type Entry struct {
	ElementID     string
	Ratio         float64
	PreviousRatio float64
	// Crossed is set when the ratio moved across one of the element's
	// thresholds; Threshold then holds the crossed value.
	Crossed    bool
	Threshold  float64
	Increasing bool
	At         time.Time
	// Assumed marks synthetic entries produced while failing open.
	Assumed bool
}

// Handler receives entries for one element, in delivery order.
type Handler func(Entry)

// Primitive is the client's viewport-intersection facility. One Group is
// created per distinct threshold set and shared by every element using it.
type Primitive interface {
	Supported() bool
	NewGroup(key string, thresholds []float64) (Group, error)
}

// Group is a single shared intersection registration.
type Group interface {
	Observe(elementID string)
	Unobserve(elementID string)
	Disconnect()
}

type group struct {
	key        string
	thresholds []float64
	handle     Group
	members    map[string]struct{}
}

type tracked struct {
	id         string
	thresholds []float64
	key        string
	ratio      float64
	failOpen   bool
	handler    Handler
}

// Observer multiplexes element observations over shared primitive groups.
// It never starts timers or performs I/O; it only reports geometry.
type Observer struct {
	mu        sync.Mutex
	primitive Primitive
	logger    *zap.Logger
	groups    map[string]*group
	elements  map[string]*tracked
	warned    bool
}

// NewObserver creates an observer over primitive. A nil or unsupported
// primitive makes every observed element report as fully visible.
func NewObserver(primitive Primitive, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		primitive: primitive,
		logger:    logger,
		groups:    make(map[string]*group),
		elements:  make(map[string]*tracked),
	}
}

// Observe starts tracking elementID against thresholds and delivers entries
// to handler. Observing an element again replaces its previous registration.
// When the primitive is unavailable the handler immediately receives an
// assumed ratio of 1.0.
func (o *Observer) Observe(elementID string, thresholds []float64, handler Handler, at time.Time) error {
	if elementID == "" {
		return errors.New("element id is required")
	}
	norm := NormalizeThresholds(thresholds)
	key := GroupKey(norm)

	o.mu.Lock()
	o.detachLocked(elementID)

	t := &tracked{id: elementID, thresholds: norm, key: key, handler: handler}

	if o.primitive == nil || !o.primitive.Supported() {
		if !o.warned {
			o.warned = true
			o.logger.Warn("intersection primitive unavailable, treating ads as always visible")
		}
		t.failOpen = true
		t.ratio = 1.0
		o.elements[elementID] = t
		o.mu.Unlock()
		if handler != nil {
			handler(Entry{
				ElementID:  elementID,
				Ratio:      1.0,
				Crossed:    true,
				Threshold:  norm[len(norm)-1],
				Increasing: true,
				At:         at,
				Assumed:    true,
			})
		}
		return nil
	}

	g, ok := o.groups[key]
	if !ok {
		handle, err := o.primitive.NewGroup(key, norm)
		if err != nil {
			o.mu.Unlock()
			return err
		}
		g = &group{key: key, thresholds: norm, handle: handle, members: make(map[string]struct{})}
		o.groups[key] = g
	}
	g.members[elementID] = struct{}{}
	g.handle.Observe(elementID)
	o.elements[elementID] = t
	o.mu.Unlock()
	return nil
}

// Unobserve stops tracking elementID. The shared group is disconnected once
// its last element leaves.
func (o *Observer) Unobserve(elementID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detachLocked(elementID)
}

func (o *Observer) detachLocked(elementID string) {
	t, ok := o.elements[elementID]
	if !ok {
		return
	}
	delete(o.elements, elementID)
	if t.failOpen {
		return
	}
	g, ok := o.groups[t.key]
	if !ok {
		return
	}
	g.handle.Unobserve(elementID)
	delete(g.members, elementID)
	if len(g.members) == 0 {
		g.handle.Disconnect()
		delete(o.groups, t.key)
	}
}

// Report pushes a new overlap ratio for elementID and delivers the resulting
// entry to its handler. Reports for fail-open elements are ignored.
func (o *Observer) Report(elementID string, ratio float64, at time.Time) error {
	if math.IsNaN(ratio) {
		return errors.New("ratio is NaN")
	}
	ratio = math.Max(0, math.Min(1, ratio))

	o.mu.Lock()
	t, ok := o.elements[elementID]
	if !ok {
		o.mu.Unlock()
		return ErrNotObserved
	}
	if t.failOpen {
		o.mu.Unlock()
		return nil
	}
	prev := t.ratio
	t.ratio = ratio
	entry := Entry{
		ElementID:     elementID,
		Ratio:         ratio,
		PreviousRatio: prev,
		Increasing:    ratio > prev,
		At:            at,
	}
	entry.Threshold, entry.Crossed = crossedThreshold(t.thresholds, prev, ratio)
	handler := t.handler
	o.mu.Unlock()

	if handler != nil {
		handler(entry)
	}
	return nil
}

// CurrentRatio returns the last known overlap ratio for elementID.
func (o *Observer) CurrentRatio(elementID string) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.elements[elementID]
	if !ok {
		return 0, false
	}
	return t.ratio, true
}

// FailingOpen reports whether elementID is tracked without a primitive.
func (o *Observer) FailingOpen(elementID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.elements[elementID]
	return ok && t.failOpen
}

// GroupInfo describes one shared primitive registration.
type GroupInfo struct {
	Key        string    `json:"key"`
	Thresholds []float64 `json:"thresholds"`
	Elements   []string  `json:"elements"`
}

// Groups lists the live shared registrations, ordered by key.
func (o *Observer) Groups() []GroupInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]GroupInfo, 0, len(o.groups))
	for _, g := range o.groups {
		info := GroupInfo{Key: g.key, Thresholds: append([]float64(nil), g.thresholds...)}
		for id := range g.members {
			info.Elements = append(info.Elements, id)
		}
		sort.Strings(info.Elements)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close unobserves every element.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.elements {
		o.detachLocked(id)
	}
}

// NormalizeThresholds clamps to [0,1], sorts and de-duplicates thresholds.
// An empty set becomes {0}, matching the browser default.
func NormalizeThresholds(thresholds []float64) []float64 {
	out := make([]float64, 0, len(thresholds))
	for _, th := range thresholds {
		if math.IsNaN(th) {
			continue
		}
		out = append(out, math.Max(0, math.Min(1, th)))
	}
	if len(out) == 0 {
		return []float64{0}
	}
	sort.Float64s(out)
	dedup := out[:1]
	for _, th := range out[1:] {
		if th != dedup[len(dedup)-1] {
			dedup = append(dedup, th)
		}
	}
	return dedup
}

// GroupKey identifies a normalized threshold set.
func GroupKey(thresholds []float64) string {
	parts := make([]string, len(thresholds))
	for i, th := range thresholds {
		parts[i] = strconv.FormatFloat(th, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// crossedThreshold returns the threshold the ratio moved across, picking the
// one closest to the new ratio when several were crossed at once.
func crossedThreshold(thresholds []float64, prev, cur float64) (float64, bool) {
	switch {
	case cur > prev:
		for i := len(thresholds) - 1; i >= 0; i-- {
			if th := thresholds[i]; prev < th && th <= cur {
				return th, true
			}
		}
	case cur < prev:
		for _, th := range thresholds {
			if cur < th && th <= prev {
				return th, true
			}
		}
	}
	return 0, false
}
