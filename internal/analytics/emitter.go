package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/observability"
)

// Event is one named analytics record.
type Event struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	PageViewID string         `json:"page_view_id,omitempty"`
	SlotID     string         `json:"slot_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Sink delivers events to an analytics backend.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// Emitter forwards events to its sinks from a background worker. Emit never
// blocks and never returns an error: when the queue is full the event is
// dropped and counted, and sink failures are logged and swallowed.
type Emitter struct {
	sinks        []Sink
	queue        chan Event
	metrics      observability.MetricsRegistry
	logger       *zap.Logger
	now          func() time.Time
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// EmitterOption customises an Emitter.
type EmitterOption func(*Emitter)

// WithClock sets the timestamp source for events emitted without one.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.writeTimeout = d }
}

// NewEmitter starts an emitter with a queue of queueSize events.
func NewEmitter(queueSize int, metrics observability.MetricsRegistry, logger *zap.Logger, sinks []Sink, opts ...EmitterOption) *Emitter {
	if queueSize < 1 {
		queueSize = 1
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		sinks:        sinks,
		queue:        make(chan Event, queueSize),
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

// Emit queues a named event. The page_view_id and slot_id payload keys, when
// present as strings, are lifted onto the event.
func (e *Emitter) Emit(name string, payload map[string]any) {
	e.EmitEvent(NewEvent(name, payload))
}

// NewEvent builds an unstamped event from a name and payload.
func NewEvent(name string, payload map[string]any) Event {
	ev := Event{Name: name, Payload: payload}
	if v, ok := payload["page_view_id"].(string); ok {
		ev.PageViewID = v
	}
	if v, ok := payload["slot_id"].(string); ok {
		ev.SlotID = v
	}
	return ev
}

// EmitEvent queues ev, stamping it when Timestamp is zero.
func (e *Emitter) EmitEvent(ev Event) {
	if e == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.metrics.IncrementEmitDropped()
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.metrics.IncrementEmitDropped()
		e.logger.Debug("analytics queue full, dropping event", zap.String("event", ev.Name))
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		for _, s := range e.sinks {
			e.deliver(s, ev)
		}
	}
}

func (e *Emitter) deliver(s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.IncrementEmitFailures(s.Name())
			e.logger.Error("analytics sink panicked",
				zap.String("sink", s.Name()),
				zap.String("event", ev.Name),
				zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
	defer cancel()
	if err := s.Write(ctx, ev); err != nil {
		e.metrics.IncrementEmitFailures(s.Name())
		e.logger.Warn("analytics emit failed",
			zap.String("sink", s.Name()),
			zap.String("event", ev.Name),
			zap.Error(err))
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain analytics queue: %w", ctx.Err())
	}
}

// Pending returns the number of queued events.
func (e *Emitter) Pending() int {
	return len(e.queue)
}
