package api

import (
	"net/http"
	"strconv"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/ratelimit"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "admin_principal"

// requestLogger writes one access log line per request
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		h.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// RequireAdmin rejects requests without a valid admin session or API key
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Auth == nil {
			writeError(c, apperr.Unauthorized("authentication required"))
			c.Abort()
			return
		}

		p, err := h.Auth.Authenticate(c.Request)
		if err != nil {
			h.logger.Info("Admin request rejected",
				zap.String("path", c.FullPath()),
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err))
			writeError(c, apperr.Unauthorized("authentication required"))
			c.Abort()
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// actor names the authenticated admin for audit logs
func actor(c *gin.Context) string {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*auth.Principal); ok {
			return p.Method + ":" + p.Subject
		}
	}
	return "unknown"
}

// rateLimit throttles class per client IP. A failing limiter lets the request through.
func (h *Handler) rateLimit(class ratelimit.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Limiter == nil {
			c.Next()
			return
		}

		d, err := h.Limiter.Allow(c.Request.Context(), class, c.ClientIP())
		if err != nil {
			h.logger.Warn("Rate limiter unavailable, allowing request",
				zap.String("class", string(class)),
				zap.Error(err))
			c.Next()
			return
		}

		if d.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}

		if !d.Allowed {
			retryAfter := int(d.RetryAfter(time.Now()) / time.Second)
			util.RateLimitedTotal.WithLabelValues(string(class)).Inc()
			h.logger.Info("Rate limit exceeded",
				zap.String("class", string(class)),
				zap.String("client_ip", c.ClientIP()))

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests, please try again later",
				"code":        apperr.CodeRateLimited,
				"retry_after": retryAfter,
				"reset_at":    d.ResetAt.UTC().Format(time.RFC3339),
			})
			return
		}

		c.Next()
	}
}

// trapped reports whether the honeypot field was filled. The caller answers
// with a decoy success and drops the submission.
func (h *Handler) trapped(c *gin.Context, class ratelimit.Class, honeypot string) bool {
	if honeypot == "" {
		return false
	}

	hits := 0
	if h.Bots != nil {
		hits = h.Bots.Record(c.ClientIP())
	}
	util.HoneypotHitsTotal.WithLabelValues(string(class)).Inc()
	h.logger.Info("Honeypot submission discarded",
		zap.String("class", string(class)),
		zap.String("client_ip", c.ClientIP()),
		zap.Int("hits", hits))
	return true
}
