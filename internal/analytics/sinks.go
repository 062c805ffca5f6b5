package analytics

import (
	"context"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// LogSink writes events to a zap logger. It stands in for the analytics
// backend when ClickHouse is not configured.
type LogSink struct {
	Logger *zap.Logger
}

func (l LogSink) Name() string { return "log" }

func (l LogSink) Write(_ context.Context, ev Event) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Info("analytics event",
		zap.String("event", ev.Name),
		zap.Time("ts", ev.Timestamp),
		zap.String("page_view_id", ev.PageViewID),
		zap.String("slot_id", ev.SlotID),
		zap.Any("payload", ev.Payload))
	return nil
}

// BreakerConfig configures BreakerSink.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

// BreakerSink stops calling a failing sink until Timeout has passed, so a
// dead analytics backend costs one fast error per event instead of a write
// timeout.
type BreakerSink struct {
	next Sink
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerSink wraps next with a circuit breaker.
func NewBreakerSink(next Sink, cfg BreakerConfig, logger *zap.Logger) *BreakerSink {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("analytics circuit breaker state change",
				zap.String("sink", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerSink{next: next, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *BreakerSink) Name() string { return b.next.Name() }

func (b *BreakerSink) Write(ctx context.Context, ev Event) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Write(ctx, ev)
	})
	return err
}

// State returns the breaker state for health reporting.
func (b *BreakerSink) State() string { return b.cb.State().String() }

// RecordingSink keeps every event in memory. Err, when set, is returned from
// Write after the event is recorded.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *RecordingSink) Name() string { return "recording" }

func (r *RecordingSink) Write(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByName returns the recorded events called name.
func (r *RecordingSink) ByName(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Emit satisfies the engine's synchronous emitter interface so tests can
// observe events without the background worker.
func (r *RecordingSink) Emit(name string, payload map[string]any) {
	_ = r.Write(context.Background(), NewEvent(name, payload))
}
