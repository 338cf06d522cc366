package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/chameleoncloud/doni/internal/metrics"
)

// RateLimiter implements per-identifier token bucket rate limiting with
// periodic cleanup of idle buckets.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst per identifier.
func NewRateLimiter(rps float64, burst int, cleanup time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		cleanup:  cleanup,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) getLimiter(identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[identifier]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[identifier] = limiter
	}
	return limiter
}

// cleanupLoop drops buckets that refilled completely, i.e. have not been used
// for a while. Keeps one-shot client IPs from accumulating forever.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for identifier, limiter := range rl.limiters {
			if limiter.Tokens() == float64(rl.burst) {
				delete(rl.limiters, identifier)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) allow(identifier string) bool {
	return rl.getLimiter(identifier).Allow()
}

func respondRateLimited(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":   "rate_limit_exceeded",
		"message": "Rate limit exceeded",
	})
	c.Abort()
}

// RateLimitByIP limits request rate per client IP. Use on public endpoints.
func RateLimitByIP(rps float64, burst int) gin.HandlerFunc {
	limiter := NewRateLimiter(rps, burst, time.Minute)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		allowed := limiter.allow(ip)
		metrics.RateLimitChecks.WithLabelValues("ip", boolLabel(allowed)).Inc()
		if !allowed {
			metrics.RateLimitBlocks.WithLabelValues("ip", ip).Inc()
			respondRateLimited(c)
			return
		}
		c.Next()
	}
}

// RateLimitByProject limits request rate per authenticated project. Use after
// RequireAPIToken.
func RateLimitByProject(rps float64, burst int) gin.HandlerFunc {
	limiter := NewRateLimiter(rps, burst, 5*time.Minute)

	return func(c *gin.Context) {
		token := GetAPIToken(c)
		if token == nil {
			c.Next()
			return
		}

		allowed := limiter.allow(token.ProjectID)
		metrics.RateLimitChecks.WithLabelValues("project", boolLabel(allowed)).Inc()
		if !allowed {
			metrics.RateLimitBlocks.WithLabelValues("project", token.ProjectID).Inc()
			respondRateLimited(c)
			return
		}
		c.Next()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
