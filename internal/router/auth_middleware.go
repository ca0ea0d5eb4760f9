package router

import (
	"strings"

	"github.com/bookd-next/internal/config"
	handlershared "github.com/bookd-next/internal/http/handlers/shared"
	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/service"

	"github.com/gin-gonic/gin"
)

// ActorAuthMiddleware 校验调用方令牌并写入角色与主体 ID
func ActorAuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(cfg.SecretKey) == "" {
			response.Unauthorized(c, "auth secret not configured")
			c.Abort()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header missing")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			response.Unauthorized(c, "authorization header invalid")
			c.Abort()
			return
		}

		actor, err := service.ParseActorToken(cfg.SecretKey, cfg.Issuer, strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "token invalid")
			c.Abort()
			return
		}
		handlershared.SetActor(c, actor)
		c.Next()
	}
}

// RequireRoleMiddleware 仅允许指定角色访问
func RequireRoleMiddleware(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := handlershared.RequireRole(c, roles...); !ok {
			c.Abort()
			return
		}
		c.Next()
	}
}
