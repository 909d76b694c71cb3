package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimitConfig HTTP 接口限流配置。
// 这是接口级别的粗粒度保护；聊天发送的滑动窗口限流在引擎内部单独实现。
type RateLimitConfig struct {
	Limit    int64
	Window   time.Duration
	FailOpen bool
}

// RateLimit 基于 Redis 固定窗口计数的限流中间件，
// 优先以参与者 ID 为主体，匿名请求退化为客户端 IP。
func RateLimit(client *redis.Client, keyPrefix string, cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString("participant_id")
		if subject == "" {
			subject = c.ClientIP()
		}
		key := keyPrefix + "ratelimit:http:" + subject

		ctx := c.Request.Context()
		pipe := client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, cfg.Window)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).WithField("subject", subject).Error("HTTP rate limit check failed against store")
			if cfg.FailOpen {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
			return
		}

		if incr.Val() > cfg.Limit {
			logrus.WithFields(logrus.Fields{
				"subject": subject,
				"count":   incr.Val(),
				"limit":   cfg.Limit,
			}).Warn("HTTP request rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
