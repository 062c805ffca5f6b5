package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickwarner/openadview/internal/observability"
)

// PageViewLimiter keeps one token bucket per page view, created lazily on the
// first event batch and released when the page view closes.
type PageViewLimiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	config  Config
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int  // burst allowance in events
	RefillRate int  // events per second
	Enabled    bool
}

// NewPageViewLimiter creates a limiter with the given configuration.
func NewPageViewLimiter(config Config, metrics observability.MetricsRegistry) *PageViewLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &PageViewLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// Allow reports whether a batch of n events for pageViewID may be ingested.
// When rate limiting is disabled it always returns true.
func (l *PageViewLimiter) Allow(pageViewID string, n int) bool {
	if !l.config.Enabled {
		return true
	}
	if n < 1 {
		n = 1
	}

	l.mu.RLock()
	bucket, exists := l.buckets[pageViewID]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		bucket, exists = l.buckets[pageViewID]
		if !exists {
			bucket = newTokenBucket(l.config.Capacity, l.config.RefillRate, l.now)
			l.buckets[pageViewID] = bucket
		}
		l.mu.Unlock()
	}

	allowed := bucket.AllowN(n)
	if !allowed {
		l.metrics.IncrementRateLimitHits()
	}
	return allowed
}

// Forget drops the bucket of a closed page view.
func (l *PageViewLimiter) Forget(pageViewID string) {
	l.mu.Lock()
	delete(l.buckets, pageViewID)
	l.mu.Unlock()
}

// Prune drops buckets unused for longer than idle and returns how many went.
func (l *PageViewLimiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, b := range l.buckets {
		if b.idleSince().Before(cutoff) {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}

// GetStats returns rate limiting statistics per page view.
func (l *PageViewLimiter) GetStats() map[string]RateLimitStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(l.buckets))
	for id, bucket := range l.buckets {
		hits, total := bucket.Stats()
		hitRate := 0.0
		if total > 0 {
			hitRate = float64(hits) / float64(total)
		}
		stats[id] = RateLimitStats{PageViewID: id, Hits: hits, Total: total, HitRate: hitRate}
	}
	return stats
}

// RateLimitStats contains rate limiting counters for one page view.
type RateLimitStats struct {
	PageViewID string  `json:"page_view_id"`
	Hits       int64   `json:"hits"`
	Total      int64   `json:"total"`
	HitRate    float64 `json:"hit_rate"`
}

func (s RateLimitStats) String() string {
	return fmt.Sprintf("PageView %s: %d/%d hits (%.2f%%)", s.PageViewID, s.Hits, s.Total, s.HitRate*100)
}
