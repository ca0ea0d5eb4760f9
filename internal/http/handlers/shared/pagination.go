package shared

import (
	"strconv"
	"strings"

	"github.com/bookd-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageQuery 列表接口通用分页参数
type pageQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

func (q pageQuery) clamp() (int, int) {
	page, size := max(q.Page, 1), q.PageSize
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	return page, size
}

// ParsePagination 读取 page / page_size，非法值按默认处理
func ParsePagination(c *gin.Context) (int, int) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		q = pageQuery{}
	}
	return q.clamp()
}

// ParseIDParam 读取路径中的正整数 ID，非法时返回 400。
func ParseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		RespondError(c, response.CodeBadRequest, name+" invalid", nil)
		return 0, false
	}
	return uint(id), true
}
