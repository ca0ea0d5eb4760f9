package shared

import (
	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 提供携带 request_id 与调用方信息的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	var kv []interface{}
	if id := c.GetString(response.RequestIDKey); id != "" {
		kv = append(kv, "request_id", id)
	}
	if actor, ok := LookupActor(c); ok {
		kv = append(kv, "actor_role", actor.Role, "actor_id", actor.ID)
	}
	if len(kv) == 0 {
		return logger.S()
	}
	return logger.SW(kv...)
}

// RespondError 返回业务错误响应，携带原始错误时记录日志。
func RespondError(c *gin.Context, code int, msg string, err error) {
	if err != nil {
		RequestLog(c).Errorw("handler_error",
			"code", code,
			"message", msg,
			"error", err,
		)
	}
	response.Error(c, code, msg)
}
