// Package ratelimit throttles API clients with per-key token buckets.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures the limiter.
type Config struct {
	// RequestsPerMinute is the sustained refill rate per key.
	RequestsPerMinute int
	// BurstSize is the bucket capacity, allowing short bursts above the rate.
	BurstSize int
	// CleanupInterval is how often idle buckets are swept.
	CleanupInterval time.Duration
}

// DefaultConfig returns the limits used in production.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// bucket is the token-bucket state for one key.
type bucket struct {
	tokens float64
	seen   time.Time
}

// take refills the bucket for the elapsed time and consumes one token if
// available.
func (b *bucket) take(now time.Time, perSecond, capacity float64) bool {
	b.tokens += now.Sub(b.seen).Seconds() * perSecond
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limiter tracks request budgets per key.
type Limiter struct {
	perSecond float64
	capacity  float64

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
}

// New creates a limiter and starts its background sweep.
func New(cfg Config) *Limiter {
	l := &Limiter{
		perSecond: float64(cfg.RequestsPerMinute) / 60.0,
		capacity:  float64(cfg.BurstSize),
		buckets:   make(map[string]*bucket),
		stop:      make(chan struct{}),
	}
	go l.sweep(cfg.CleanupInterval)
	return l
}

// Stop terminates the sweep goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow reports whether a request under key fits the budget.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.capacity - 1, seen: now}
		return true
	}
	return b.take(now, l.perSecond, l.capacity)
}

// sweep drops buckets that have been idle long enough to be full again.
func (l *Limiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			idle := now.Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.seen.Before(idle) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware rate limits per user when the route carries a userId parameter,
// falling back to the client IP. Payment endpoints are throttled per user so
// one account cannot hammer the provider.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID := c.Param("userId"); userID != "" {
			key = "user:" + userID
		}

		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}

		c.Next()
	}
}
