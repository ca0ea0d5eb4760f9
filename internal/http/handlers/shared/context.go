package shared

import (
	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/service"

	"github.com/gin-gonic/gin"
)

// 上下文键，由鉴权中间件写入
const (
	ActorRoleKey = "actor_role"
	ActorIDKey   = "actor_id"
)

// SetActor 写入已认证调用方。
func SetActor(c *gin.Context, actor service.Actor) {
	c.Set(ActorRoleKey, actor.Role)
	c.Set(ActorIDKey, actor.ID)
}

// LookupActor 从上下文读取调用方，不写响应。
func LookupActor(c *gin.Context) (service.Actor, bool) {
	roleText, ok := c.Value(ActorRoleKey).(string)
	if !ok || !service.ValidActorRole(roleText) {
		return service.Actor{}, false
	}
	actor := service.Actor{Role: roleText}
	switch v := c.Value(ActorIDKey).(type) {
	case uint:
		actor.ID = v
	case int:
		if v < 0 {
			return service.Actor{}, false
		}
		actor.ID = uint(v)
	}
	return actor, true
}

// GetActor 从上下文读取调用方，缺失时直接返回 401。
func GetActor(c *gin.Context) (service.Actor, bool) {
	actor, ok := LookupActor(c)
	if !ok {
		RespondError(c, response.CodeUnauthorized, "unauthorized", nil)
		return service.Actor{}, false
	}
	return actor, true
}

// RequireRole 校验调用方角色，不符时返回 403。
func RequireRole(c *gin.Context, roles ...string) (service.Actor, bool) {
	actor, ok := GetActor(c)
	if !ok {
		return actor, false
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, true
		}
	}
	RespondError(c, response.CodeForbidden, "forbidden", nil)
	return service.Actor{}, false
}
