package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/ratelimit"
)

// RateLimitHeaders enforces the global per-IP request budget
// (RATE_LIMIT_WINDOW_MS / RATE_LIMIT_MAX_REQUESTS) and stamps every
// response with X-RateLimit-Limit/Remaining/Reset, per spec.md §6. The
// per-user chat budget is a separate, tighter check the orchestrator
// itself applies during ADMIT.
func RateLimitHeaders(limiter *ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	window := time.Duration(cfg.RateLimitWindowMs) * time.Millisecond
	max := int64(cfg.RateLimitMaxRequests)
	return func(c *gin.Context) {
		decision := limiter.CheckRequest(c.Request.Context(), "ip:"+c.ClientIP(), window, max)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Total))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAtEpoch))

		if !decision.Allowed {
			retryAfter := window.Seconds()
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter)))
			writeError(c, http.StatusTooManyRequests, "rate-limited", "Too Many Requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CORS mirrors spec.md §4.6's Access-Control-Allow-Origin requirement
// on the SSE binding, applied globally for simplicity.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	}
}
