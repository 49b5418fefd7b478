// ratelimit.go provides Gin middleware that enforces a per-client sliding
// window rate limit, returning 429 responses when a client exceeds the
// configured number of requests inside the window. The limiter keeps its
// state in memory and is scoped to a single process.
package middleware

import (
	"container/list"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/telemetry-hub/telemetry-hub/internal/telemetry"
)

// RateLimitConfig holds configuration for one limiter instance
type RateLimitConfig struct {
	// Limit is the maximum number of requests allowed per window
	Limit int
	// Window is the sliding window duration
	Window time.Duration
	// MaxTrackedClients caps limiter memory; the least recently seen
	// client is evicted when the cap is exceeded
	MaxTrackedClients int
	// CleanupInterval is how often idle clients are purged
	CleanupInterval time.Duration
}

// LoginRateLimitConfig limits password-guessing on the login endpoint
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:             5,
		Window:            time.Minute,
		MaxTrackedClients: 10000,
		CleanupInterval:   5 * time.Minute,
	}
}

// ResetRateLimitConfig limits password reset requests
func ResetRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:             3,
		Window:            time.Hour,
		MaxTrackedClients: 10000,
		CleanupInterval:   5 * time.Minute,
	}
}

// clientWindow tracks the recent request times of a single client
type clientWindow struct {
	key  string
	hits []time.Time
	elem *list.Element
}

// RateLimiter implements a sliding-window rate limiter with LRU eviction
type RateLimiter struct {
	config RateLimitConfig

	mu      sync.Mutex
	clients map[string]*clientWindow
	order   *list.List // front = most recently seen

	stopCh   chan struct{}
	stopOnce sync.Once

	// now is swappable for tests
	now func() time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*clientWindow),
		order:   list.New(),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	if config.CleanupInterval > 0 {
		go rl.cleanup()
	}

	return rl
}

// cleanup periodically removes clients with no hits inside the window
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-rl.config.Window)
			for key, client := range rl.clients {
				if len(client.hits) == 0 || client.hits[len(client.hits)-1].Before(cutoff) {
					rl.order.Remove(client.elem)
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow records a request from key and reports whether it is within the
// limit. When denied, retryAfter is how long the client must wait before a
// request can succeed again.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.config.Window)

	client, exists := rl.clients[key]
	if !exists {
		client = &clientWindow{key: key}
		client.elem = rl.order.PushFront(client)
		rl.clients[key] = client
		rl.evictOverCap()
	} else {
		rl.order.MoveToFront(client.elem)
	}

	// Drop hits that slid out of the window
	keep := client.hits[:0]
	for _, hit := range client.hits {
		if hit.After(windowStart) {
			keep = append(keep, hit)
		}
	}
	client.hits = keep

	if len(client.hits) >= rl.config.Limit {
		oldest := client.hits[0]
		return false, oldest.Add(rl.config.Window).Sub(now)
	}

	client.hits = append(client.hits, now)
	return true, 0
}

// evictOverCap removes the least recently seen clients while over the cap.
// Callers must hold mu.
func (rl *RateLimiter) evictOverCap() {
	if rl.config.MaxTrackedClients <= 0 {
		return
	}
	for len(rl.clients) > rl.config.MaxTrackedClients {
		back := rl.order.Back()
		if back == nil {
			return
		}
		victim := back.Value.(*clientWindow)
		rl.order.Remove(back)
		delete(rl.clients, victim.key)
	}
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests by
// client IP. The scope label distinguishes limiter instances in metrics.
func RateLimitMiddleware(limiter *RateLimiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = c.Request.RemoteAddr
		}

		allowed, retryAfter := limiter.Allow(key)
		if !allowed {
			seconds := int(retryAfter.Seconds()) + 1
			telemetry.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}
