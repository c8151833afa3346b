package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/labstack/echo/v4"

	"github.com/rxlearn/rxlearn/internal/platform/auth"
	"github.com/rxlearn/rxlearn/internal/platform/metrics"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int64
	// CleanupInterval controls how often idle buckets are dropped.
	CleanupInterval time.Duration
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	cfg     RateLimitConfig
	clients map[string]*ratelimit.Bucket
	mu      sync.RWMutex
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	return &RateLimiter{
		cfg:     cfg,
		clients: make(map[string]*ratelimit.Bucket),
	}
}

func (rl *RateLimiter) bucket(key string) *ratelimit.Bucket {
	rl.mu.RLock()
	b, ok := rl.clients[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.clients[key]; ok {
		return b
	}
	b = ratelimit.NewBucketWithRate(rl.cfg.RequestsPerSecond, rl.cfg.BurstSize)
	rl.clients[key] = b
	metrics.RateLimiterBucketsTotal.Set(float64(len(rl.clients)))
	return b
}

// Cleanup removes buckets that have refilled completely, i.e. clients that
// have been idle long enough to no longer matter.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, b := range rl.clients {
		if b.Available() == b.Capacity() {
			delete(rl.clients, key)
			removed++
		}
	}
	metrics.RateLimiterBucketsTotal.Set(float64(len(rl.clients)))
	return removed
}

// Run calls Cleanup every CleanupInterval until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	interval := rl.cfg.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-stop:
			return
		}
	}
}

// Middleware rejects requests with 429 once the caller's bucket is empty.
// Callers are keyed by authenticated user when one is known and by IP
// otherwise.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	limit := strconv.FormatInt(rl.cfg.BurstSize, 10)
	rate := strconv.FormatFloat(rl.cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Rate", rate)

			b := rl.bucket(key)
			if b.TakeAvailable(1) < 1 {
				retryAfter := int(1/rl.cfg.RequestsPerSecond) + 1
				h.Set("X-RateLimit-Remaining", "0")
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(b.Available(), 10))
			return next(c)
		}
	}
}

// RateLimit is a convenience wrapper for a limiter without background cleanup.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return NewRateLimiter(cfg).Middleware()
}
