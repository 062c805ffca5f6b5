// Package slot implements the per-placeholder ad state machine: load,
// visibility, the minimum-dwell timer and impression confirmation.
//
// A Runtime is not safe for concurrent use. Its owner serialises every call,
// including dwell timer callbacks, which arrive through Options.OnDwell and
// must be handed back via DwellElapsed.
package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/patrickwarner/openadview/internal/clock"
	"github.com/patrickwarner/openadview/internal/models"
)

// State is a slot instance's lifecycle position.
type State string

const (
	StatePending  State = "pending"
	StateEligible State = "eligible"
	StateLoaded   State = "loaded"
	StateVisible  State = "visible"
	StateHidden   State = "hidden"
	StateViewed   State = "viewed"
	StateCapped   State = "capped"
	StateRemoved  State = "removed"
)

// Terminal reports whether no further lifecycle transitions are possible.
func (s State) Terminal() bool {
	return s == StateViewed || s == StateCapped || s == StateRemoved
}

var (
	// ErrInvalidTransition is returned when an operation does not apply to
	// the slot's current state.
	ErrInvalidTransition = errors.New("invalid slot transition")
	// ErrNotLoaded is returned for clicks before the creative has loaded.
	ErrNotLoaded = errors.New("creative not loaded")
)

func names(states ...State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// lifecycle names each event after the state it enters.
var lifecycle = fsm.Events{
	{Name: string(StateEligible), Src: names(StatePending), Dst: string(StateEligible)},
	{Name: string(StateLoaded), Src: names(StateEligible), Dst: string(StateLoaded)},
	{Name: string(StateVisible), Src: names(StateLoaded, StateHidden), Dst: string(StateVisible)},
	{Name: string(StateHidden), Src: names(StateVisible), Dst: string(StateHidden)},
	{Name: string(StateViewed), Src: names(StateVisible), Dst: string(StateViewed)},
	{Name: string(StateCapped), Src: names(StatePending, StateEligible), Dst: string(StateCapped)},
	{
		Name: string(StateRemoved),
		Src:  names(StatePending, StateEligible, StateLoaded, StateVisible, StateHidden, StateViewed, StateCapped),
		Dst:  string(StateRemoved),
	},
}

// Options wires a Runtime to its owner.
type Options struct {
	Clock clock.Clock
	// OnDwell runs on the clock's goroutine when the dwell timer fires.
	OnDwell func(slotID string, gen uint64)
	// OnTransition observes every state change.
	OnTransition func(slotID string, from, to State)
}

// Runtime is the mutable state of one rendered slot instance.
type Runtime struct {
	cfg  models.AdSlotConfig
	opts Options
	fsm  *fsm.FSM

	loaded       bool
	loadFailed   bool
	visible      bool
	demoted      bool
	ratio        float64
	visibleSince time.Time
	accumulated  time.Duration
	confirmed    bool
	clicks       int
	cappedReason string
	requestedAt  time.Time
	viewedAt     time.Time

	timer clock.Timer
	gen   uint64
}

// New creates a pending runtime for cfg.
func New(cfg models.AdSlotConfig, opts Options) *Runtime {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	r := &Runtime{cfg: cfg, opts: opts}
	r.fsm = fsm.NewFSM(string(StatePending), lifecycle, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			if r.opts.OnTransition != nil {
				r.opts.OnTransition(r.cfg.SlotID, State(e.Src), State(e.Dst))
			}
		},
	})
	return r
}

// Config returns the slot's declared configuration.
func (r *Runtime) Config() models.AdSlotConfig { return r.cfg }

// SlotID returns the slot identifier.
func (r *Runtime) SlotID() string { return r.cfg.SlotID }

// State returns the lifecycle state.
func (r *Runtime) State() State { return State(r.fsm.Current()) }

// Visible reports whether the slot currently counts as on screen. Viewed
// slots stay visible until they scroll away.
func (r *Runtime) Visible() bool { return r.visible }

// Loaded reports whether the creative has finished loading.
func (r *Runtime) Loaded() bool { return r.loaded }

// Demoted reports whether density is holding the slot hidden.
func (r *Runtime) Demoted() bool { return r.demoted }

// Clicks returns the number of accepted clicks.
func (r *Runtime) Clicks() int { return r.clicks }

// Ratio returns the last reported overlap ratio.
func (r *Runtime) Ratio() float64 { return r.ratio }

// ImpressionConfirmed reports whether the dwell requirement has been met.
func (r *Runtime) ImpressionConfirmed() bool { return r.confirmed }

// Requested reports whether the creative has been requested.
func (r *Runtime) Requested() bool { return !r.requestedAt.IsZero() }

func (r *Runtime) transition(to State) error {
	from := r.State()
	if err := r.fsm.Event(context.Background(), string(to)); err != nil {
		return fmt.Errorf("%w: %s -> %s for slot %s: %v", ErrInvalidTransition, from, to, r.cfg.SlotID, err)
	}
	return nil
}

// MarkEligible moves a pending slot to eligible.
func (r *Runtime) MarkEligible() error {
	return r.transition(StateEligible)
}

// Cap makes the slot terminally capped with the denying reason.
func (r *Runtime) Cap(reason string) error {
	if err := r.transition(StateCapped); err != nil {
		return err
	}
	r.cappedReason = reason
	return nil
}

// Load records that the creative request was dispatched.
func (r *Runtime) Load(now time.Time) error {
	if err := r.transition(StateLoaded); err != nil {
		return err
	}
	r.requestedAt = now
	return nil
}

// SetLoaded flips the creative loaded flag once the ad network completes.
// It returns false when the flag was already set or the slot never
// requested a creative.
func (r *Runtime) SetLoaded() bool {
	if r.loaded || !r.Requested() || r.State() == StateRemoved {
		return false
	}
	r.loaded = true
	return true
}

// SetLoadFailed records a failed creative load. It returns true only the
// first time a requested, not yet loaded creative fails, so each instance
// reports at most one failure.
func (r *Runtime) SetLoadFailed() bool {
	if r.loaded || r.loadFailed || !r.Requested() || r.State() == StateRemoved {
		return false
	}
	r.loadFailed = true
	return true
}

// LoadFailed reports whether a creative load failure was recorded.
func (r *Runtime) LoadFailed() bool { return r.loadFailed }

// SetRatio stores the last observed overlap ratio.
func (r *Runtime) SetRatio(ratio float64) { r.ratio = ratio }

// OverThreshold reports whether the last ratio meets the viewport threshold.
// A zero threshold still needs some overlap.
func (r *Runtime) OverThreshold() bool {
	return r.ratio > 0 && r.ratio >= r.cfg.ViewportThreshold
}

// Demote marks a slot that crossed its threshold but was refused by density.
func (r *Runtime) Demote() { r.demoted = true }

// Show makes the slot visible at now and starts or resumes the dwell timer.
// It returns true when the impression is confirmed immediately, which happens
// when no dwell time is required or the accumulated time already covers it.
// Showing an already viewed slot only restores its on-screen flag.
func (r *Runtime) Show(now time.Time) (bool, error) {
	r.demoted = false
	if r.State() == StateViewed {
		if !r.visible {
			r.visible = true
			r.visibleSince = now
		}
		return false, nil
	}
	if r.State() == StateVisible {
		return false, nil
	}
	if err := r.transition(StateVisible); err != nil {
		return false, err
	}
	r.visible = true
	r.visibleSince = now
	return r.checkDwell(now), nil
}

// Hide takes the slot off screen at now. Accumulated visible time is kept
// and the dwell timer is cancelled.
func (r *Runtime) Hide(now time.Time) error {
	switch r.State() {
	case StateViewed:
		r.fold(now)
		r.visible = false
		return nil
	case StateVisible:
		r.stopTimer()
		r.fold(now)
		r.visible = false
		return r.transition(StateHidden)
	case StateLoaded, StateHidden:
		return nil
	}
	return fmt.Errorf("%w: hide in %s for slot %s", ErrInvalidTransition, r.State(), r.cfg.SlotID)
}

// DwellElapsed handles a dwell timer firing. Stale generations are ignored.
// It returns true when the impression was confirmed by this call.
func (r *Runtime) DwellElapsed(gen uint64, now time.Time) bool {
	if gen != r.gen || r.State() != StateVisible {
		return false
	}
	r.timer = nil
	return r.checkDwell(now)
}

// checkDwell confirms the impression if enough visible time has accrued,
// otherwise schedules the timer for the remainder.
func (r *Runtime) checkDwell(now time.Time) bool {
	remaining := r.MinViewTime() - r.AccumulatedVisible(now)
	if remaining <= 0 {
		r.stopTimer()
		if err := r.transition(StateViewed); err != nil {
			return false
		}
		r.confirmed = true
		r.viewedAt = now
		return true
	}
	r.schedule(remaining)
	return false
}

func (r *Runtime) schedule(d time.Duration) {
	r.stopTimer()
	gen := r.gen
	id := r.cfg.SlotID
	cb := r.opts.OnDwell
	r.timer = r.opts.Clock.AfterFunc(d, func() {
		if cb != nil {
			cb(id, gen)
		}
	})
}

// stopTimer cancels any pending dwell timer and invalidates its generation.
func (r *Runtime) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

func (r *Runtime) fold(now time.Time) {
	if r.visibleSince.IsZero() {
		return
	}
	if d := now.Sub(r.visibleSince); d > 0 {
		r.accumulated += d
	}
	r.visibleSince = time.Time{}
}

// TimerPending reports whether a dwell timer is armed.
func (r *Runtime) TimerPending() bool { return r.timer != nil }

// MinViewTime returns the configured dwell requirement.
func (r *Runtime) MinViewTime() time.Duration {
	return time.Duration(r.cfg.MinViewTimeMs) * time.Millisecond
}

// AccumulatedVisible returns total on-screen time including the open interval.
func (r *Runtime) AccumulatedVisible(now time.Time) time.Duration {
	total := r.accumulated
	if !r.visibleSince.IsZero() && now.After(r.visibleSince) {
		total += now.Sub(r.visibleSince)
	}
	return total
}

// ClickContext is attached to every accepted click.
type ClickContext struct {
	Ratio              float64
	AccumulatedVisible time.Duration
	Clicks             int
	Viewed             bool
}

// Click records a click. Clicks are accepted any time after the creative has
// loaded, whether or not the impression was confirmed.
func (r *Runtime) Click(now time.Time) (ClickContext, error) {
	if r.State() == StateRemoved {
		return ClickContext{}, fmt.Errorf("%w: click on removed slot %s", ErrInvalidTransition, r.cfg.SlotID)
	}
	if !r.loaded {
		return ClickContext{}, fmt.Errorf("%w: slot %s", ErrNotLoaded, r.cfg.SlotID)
	}
	r.clicks++
	return ClickContext{
		Ratio:              r.ratio,
		AccumulatedVisible: r.AccumulatedVisible(now),
		Clicks:             r.clicks,
		Viewed:             r.confirmed,
	}, nil
}

// Remove tears the instance down: the timer is cleared and the slot leaves
// the visible set. It reports whether the slot was visible before removal.
func (r *Runtime) Remove(now time.Time) bool {
	wasVisible := r.visible
	if r.State() == StateRemoved {
		return false
	}
	r.stopTimer()
	r.fold(now)
	r.visible = false
	r.demoted = false
	_ = r.transition(StateRemoved)
	return wasVisible
}

// AdRuntimeState is the externally visible state of a slot instance.
type AdRuntimeState struct {
	SlotID               string          `json:"slot_id"`
	Position             models.Position `json:"position"`
	Priority             models.Priority `json:"priority"`
	State                State           `json:"state"`
	Visible              bool            `json:"visible"`
	VisibleSince         *time.Time      `json:"visible_since"`
	AccumulatedVisibleMs int64           `json:"accumulated_visible_ms"`
	ImpressionConfirmed  bool            `json:"impression_confirmed"`
	Clicks               int             `json:"clicks"`
	Loaded               bool            `json:"loaded"`
	Requested            bool            `json:"requested"`
	LoadFailed           bool            `json:"load_failed,omitempty"`
	Ratio                float64         `json:"ratio"`
	Demoted              bool            `json:"demoted,omitempty"`
	CappedReason         string          `json:"capped_reason,omitempty"`
	ViewedAt             *time.Time      `json:"viewed_at,omitempty"`
}

// Snapshot returns the runtime state as of now.
func (r *Runtime) Snapshot(now time.Time) AdRuntimeState {
	s := AdRuntimeState{
		SlotID:               r.cfg.SlotID,
		Position:             r.cfg.Position,
		Priority:             r.cfg.Priority,
		State:                r.State(),
		Visible:              r.visible,
		AccumulatedVisibleMs: r.AccumulatedVisible(now).Milliseconds(),
		ImpressionConfirmed:  r.confirmed,
		Clicks:               r.clicks,
		Loaded:               r.loaded,
		Requested:            r.Requested(),
		LoadFailed:           r.loadFailed,
		Ratio:                r.ratio,
		Demoted:              r.demoted,
		CappedReason:         r.cappedReason,
	}
	if !r.visibleSince.IsZero() {
		t := r.visibleSince
		s.VisibleSince = &t
	}
	if !r.viewedAt.IsZero() {
		t := r.viewedAt
		s.ViewedAt = &t
	}
	return s
}
