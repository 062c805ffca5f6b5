package clock

import (
	"sync"
	"testing"
	"time"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	var order []string
	var seenAt []time.Duration
	c.AfterFunc(300*time.Millisecond, func() {
		order = append(order, "b")
		seenAt = append(seenAt, c.Now().Sub(start))
	})
	c.AfterFunc(100*time.Millisecond, func() {
		order = append(order, "a")
		seenAt = append(seenAt, c.Now().Sub(start))
	})

	c.Advance(200 * time.Millisecond)
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("expected only a to fire, got %v", order)
	}
	c.Advance(200 * time.Millisecond)
	if len(order) != 2 || order[1] != "b" {
		t.Fatalf("expected b to fire second, got %v", order)
	}
	if seenAt[0] != 100*time.Millisecond || seenAt[1] != 300*time.Millisecond {
		t.Fatalf("callbacks should observe their deadline, got %v", seenAt)
	}
	if got := c.Now().Sub(start); got != 400*time.Millisecond {
		t.Fatalf("expected clock at 400ms, got %v", got)
	}
}

func TestManualStop(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("first stop should report true")
	}
	if timer.Stop() {
		t.Fatal("second stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}

func TestManualCallbackCanReschedule(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)
	c.Advance(time.Second)
	if count != 3 {
		t.Fatalf("expected 3 chained fires, got %d", count)
	}
}

func TestManualEqualDeadlinesAllFire(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		c.AfterFunc(50*time.Millisecond, func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		})
	}
	c.Advance(50 * time.Millisecond)
	if len(order) != 3 {
		t.Fatalf("expected 3 fires, got %v", order)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer never fired")
	}
}
