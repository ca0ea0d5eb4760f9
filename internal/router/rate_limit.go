package router

import (
	"fmt"
	"strconv"
	"strings"

	handlershared "github.com/bookd-next/internal/http/handlers/shared"
	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 固定窗口限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
	Message       string
	// FailOpen 为 true 时 Redis 不可用直接放行
	FailOpen bool
}

func (r RateLimitRule) enabled() bool {
	return r.WindowSeconds > 0 && r.MaxRequests > 0
}

// 返回 {当前计数, 剩余 TTL 秒}
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("TTL", KEYS[1])}
`)

// RateLimitMiddleware Redis 固定窗口限流中间件，client 为 nil 时不限流
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || !rule.enabled() {
			c.Next()
			return
		}
		key := rateLimitKey(c, rule.Prefix, keyFunc)
		values, err := fixedWindowScript.Run(c.Request.Context(), client, []string{key}, rule.WindowSeconds).Int64Slice()
		if err == nil && len(values) < 2 {
			err = fmt.Errorf("unexpected script result length %d", len(values))
		}
		if err != nil {
			logger.Warnw("rate_limit_unavailable", "key", key, "fail_open", rule.FailOpen, "error", err)
			if rule.FailOpen {
				c.Next()
				return
			}
			response.Error(c, response.CodeServiceUnavailable, "rate limit unavailable")
			c.Abort()
			return
		}

		allowed, remaining, retryAfter := rateLimitDecision(values[0], values[1], rule)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			msg := strings.TrimSpace(rule.Message)
			if msg == "" {
				msg = "too many requests"
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			response.Error(c, response.CodeTooManyRequests, fmt.Sprintf("%s, retry in %ds", msg, retryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}

// rateLimitDecision 根据窗口计数与剩余 TTL 判定是否放行
func rateLimitDecision(count, ttlSeconds int64, rule RateLimitRule) (allowed bool, remaining int, retryAfter int) {
	remaining = rule.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if count <= int64(rule.MaxRequests) {
		return true, remaining, 0
	}
	retryAfter = int(ttlSeconds)
	if retryAfter < 1 {
		// TTL 为 -1/-2 时按整窗口等待
		retryAfter = rule.WindowSeconds
	}
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, remaining, retryAfter
}

func rateLimitKey(c *gin.Context, prefix string, keyFunc RateLimitKeyFunc) string {
	key := ""
	if keyFunc != nil {
		key = strings.TrimSpace(keyFunc(c))
	}
	if key == "" {
		key = c.ClientIP()
	}
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByActorAndParam 使用调用方 + 路径参数作为限流 key，未认证时退化为 IP
func KeyByActorAndParam(param string) RateLimitKeyFunc {
	return func(c *gin.Context) string {
		actor, ok := handlershared.LookupActor(c)
		if !ok {
			return c.ClientIP()
		}
		return fmt.Sprintf("%s:%d|%s", actor.Role, actor.ID, strings.TrimSpace(c.Param(param)))
	}
}
