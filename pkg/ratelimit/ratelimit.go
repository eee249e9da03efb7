// Package ratelimit provides per-caller rate limiting middleware for the hub API.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/integration-hub/pkg/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
	// UserKey is the gin context key holding the caller identity. Requests
	// without one are limited per client IP.
	UserKey string
}

// DefaultAPIConfig returns default config for API endpoints: 20 req/s, burst of 40.
func DefaultAPIConfig() Config {
	return Config{
		Rate:            20,
		Burst:           40,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
		UserKey:         "userId",
	}
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter tracks one token bucket per caller and drops idle buckets.
type Limiter struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// New creates a limiter and starts its cleanup goroutine. Call Stop to end it.
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}

	rl := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether one more request for key fits the budget.
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)}
		rl.entries[key] = e
	}
	e.lastAccess = rl.now()
	return e.limiter.Allow()
}

// key returns "user:<id>" for identified callers and "ip:<addr>" otherwise.
func (rl *Limiter) key(c *gin.Context) string {
	if rl.config.UserKey != "" {
		if v, ok := c.Get(rl.config.UserKey); ok {
			if user, ok2 := v.(string); ok2 && user != "" {
				return "user:" + user
			}
		}
	}
	return "ip:" + c.ClientIP()
}

// Middleware returns a Gin middleware that rejects over-budget callers with 429.
// Mount it after the middleware that identifies the caller.
func (rl *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(rl.key(c)) {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.APIRateLimited.WithLabelValues(route).Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *Limiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *Limiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked callers.
func (rl *Limiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration.
func (rl *Limiter) Config() Config {
	return rl.config
}
