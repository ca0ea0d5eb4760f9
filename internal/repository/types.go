package repository

import (
	"time"

	"gorm.io/gorm"
)

// EarlyPayRequestListFilter 查询提前付款申请的过滤条件
type EarlyPayRequestListFilter struct {
	Page         int
	PageSize     int
	TruckerID    uint
	BrokerID     uint
	Status       string
	PayoutStatus string
}

// EarningsEntryListFilter 查询收益条目的过滤条件
type EarningsEntryListFilter struct {
	Page          int
	PageSize      int
	TruckerID     uint
	Status        string
	SourceType    string
	CollectedFrom *time.Time
	CollectedTo   *time.Time
}

// ReviewFlagListFilter 查询复核标记的过滤条件
type ReviewFlagListFilter struct {
	Page     int
	PageSize int
	Reason   string
	Resolved *bool
}

// maxPageSize 单页上限，导出等全量读取传 pageSize<=0
const maxPageSize = 500

// applyPagination 应用分页参数，pageSize<=0 表示不分页
func applyPagination(query *gorm.DB, page, pageSize int) *gorm.DB {
	if query == nil || pageSize <= 0 {
		return query
	}
	pageSize = min(pageSize, maxPageSize)
	page = max(page, 1)
	return query.Limit(pageSize).Offset((page - 1) * pageSize)
}
