package public

import "github.com/bookd-next/internal/provider"

// Handler 司机、经纪商侧接口与网关回调处理器入口
type Handler struct {
	*provider.Container
}

// New 创建前台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
