package middleware

import (
	"context"
	"net/http"
	"strconv"

	"clinic-phone/internal/redis"
	"clinic-phone/internal/services"
	"clinic-phone/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type AuthLimiter interface {
	AllowAuth(ctx context.Context, ip string) (*redis.RateLimitResult, error)
}

type DialLimiter interface {
	AllowDial(ctx context.Context, operatorID string) (*redis.RateLimitResult, error)
}

// AuthRateLimitMiddleware limits login attempts per client IP.
func AuthRateLimitMiddleware(limiter AuthLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.AllowAuth(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "INTERNAL_ERROR"))
			c.Abort()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// DialRateLimitMiddleware limits outbound dials per operator. Requests
// without an operator in context share the "anonymous" bucket.
func DialRateLimitMiddleware(limiter DialLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		operatorID, ok := services.OperatorIDFromContext(c.Request.Context())
		if !ok || operatorID == "" {
			operatorID = "anonymous"
		}

		result, err := limiter.AllowDial(c.Request.Context(), operatorID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "INTERNAL_ERROR"))
			c.Abort()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("dial rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	if result.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
