package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/auth"
	"github.com/orangearcade/backend/internal/metrics"
)

const rateLimitWindow = time.Minute

// RateLimit caps requests per account in fixed one-minute windows kept in
// Redis. Unauthenticated requests are keyed by client IP. A nil client or a
// non-positive limit disables the check, and Redis errors fail open.
func RateLimit(rdb *redis.Client, perMinute int) gin.HandlerFunc {
	if rdb == nil || perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		subject := auth.AccountID(c)
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}
		now := time.Now()
		window := now.Truncate(rateLimitWindow)
		key := fmt.Sprintf("ratelimit:%s:%d", subject, window.Unix())

		ctx := c.Request.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.WithError(err).Warn("[RATELIMIT] redis unavailable, allowing request")
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(ctx, key, 2*rateLimitWindow)
		}

		remaining := int64(perMinute) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(perMinute) {
			retry := window.Add(rateLimitWindow).Sub(now)
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			metrics.RateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "rate limit exceeded",
				"reason": "RateLimited",
			})
			return
		}
		c.Next()
	}
}
