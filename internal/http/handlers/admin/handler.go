package admin

import "github.com/bookd-next/internal/provider"

// Handler 运营后台接口处理器入口
// 说明：该处理器仅用于平台运营 API。
type Handler struct {
	*provider.Container
}

// New 创建后台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
