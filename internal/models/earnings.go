package models

import (
	"time"

	"github.com/bookd-next/internal/constants"
)

// EarningsLedgerEntry 推荐收益流水（只追加）
type EarningsLedgerEntry struct {
	ID               uint                        `gorm:"primarykey" json:"id"`                                                                // 主键
	TruckerID        uint                        `gorm:"not null;index;index:idx_earning_source_unique,unique" json:"trucker_id"`             // 受益司机
	SourceType       constants.EarningSourceType `gorm:"type:varchar(32);not null;index:idx_earning_source_unique,unique" json:"source_type"` // 来源类型
	RequestID        *uint                       `gorm:"index;index:idx_earning_source_unique,unique" json:"request_id,omitempty"`            // 来源申请
	BrokerID         *uint                       `gorm:"index" json:"broker_id,omitempty"`                                                    // 来源经纪商
	SourceTruckerID  *uint                       `gorm:"index" json:"source_trucker_id,omitempty"`                                            // 被推荐司机（推荐奖励）
	SourceEntryID    *uint                       `gorm:"index" json:"source_entry_id,omitempty"`                                              // 级联来源条目
	GrossAmount      Money                       `gorm:"type:decimal(20,2);not null;default:0" json:"gross_amount"`                           // 计提基数
	TruckerShare     Money                       `gorm:"type:decimal(20,2);not null;default:0" json:"trucker_share"`                          // 应付金额
	Status           constants.EarningStatus     `gorm:"type:varchar(20);not null;index" json:"status"`                                       // 状态
	CollectedAt      time.Time                   `gorm:"not null;index" json:"collected_at"`                                                  // 计提时间
	BecomesPayableAt time.Time                   `gorm:"not null;index" json:"becomes_payable_at"`                                            // 可付时间
	PayoutID         *uint                       `gorm:"index" json:"payout_id,omitempty"`                                                    // 占用的提现单
	PaidAt           *time.Time                  `json:"paid_at,omitempty"`                                                                   // 支付时间
	ClawedBackAt     *time.Time                  `json:"clawed_back_at,omitempty"`                                                            // 追回时间
	ClawbackReason   string                      `gorm:"type:varchar(255)" json:"clawback_reason,omitempty"`                                  // 追回原因
	CreatedAt        time.Time                   `json:"created_at"`                                                                          // 创建时间
	UpdatedAt        time.Time                   `json:"updated_at"`                                                                          // 更新时间
}

// TableName 指定表名
func (EarningsLedgerEntry) TableName() string {
	return "earnings_ledger_entries"
}

// EarningsMonthlyCap 司机-经纪商月度计提累计（乐观锁）
type EarningsMonthlyCap struct {
	ID        uint      `gorm:"primarykey" json:"id"`                                                   // 主键
	TruckerID uint      `gorm:"not null;index:idx_earning_cap_key,unique" json:"trucker_id"`            // 司机ID
	BrokerID  uint      `gorm:"not null;index:idx_earning_cap_key,unique" json:"broker_id"`             // 经纪商ID
	Month     string    `gorm:"type:varchar(7);not null;index:idx_earning_cap_key,unique" json:"month"` // 月份 YYYY-MM（UTC）
	Total     Money     `gorm:"type:decimal(20,2);not null;default:0" json:"total"`                     // 当月累计
	Version   int64     `gorm:"not null;default:0" json:"version"`                                      // 版本号
	CreatedAt time.Time `json:"created_at"`                                                             // 创建时间
	UpdatedAt time.Time `json:"updated_at"`                                                             // 更新时间
}

// TableName 指定表名
func (EarningsMonthlyCap) TableName() string {
	return "earnings_monthly_caps"
}

// EarningsPayout 收益提现单
type EarningsPayout struct {
	ID            uint       `gorm:"primarykey" json:"id"`                                   // 主键
	TruckerID     uint       `gorm:"not null;index" json:"trucker_id"`                       // 司机ID
	Amount        Money      `gorm:"type:decimal(20,2);not null" json:"amount"`              // 提现金额
	Status        string     `gorm:"type:varchar(20);not null;index" json:"status"`          // 状态
	SubmissionKey string     `gorm:"type:varchar(96);index" json:"-"`                        // 幂等键
	BatchID       *string    `gorm:"type:varchar(64);uniqueIndex" json:"batch_id,omitempty"` // 网关批次号
	Method        string     `gorm:"type:varchar(20)" json:"method"`                         // 收款方式
	Recipient     string     `gorm:"type:varchar(255)" json:"recipient"`                     // 收款账号
	Error         string     `gorm:"type:text" json:"error,omitempty"`                       // 错误信息
	SubmittedAt   *time.Time `gorm:"index" json:"submitted_at,omitempty"`                    // 提交时间
	CompletedAt   *time.Time `json:"completed_at,omitempty"`                                 // 完成时间
	CreatedAt     time.Time  `json:"created_at"`                                             // 创建时间
	UpdatedAt     time.Time  `json:"updated_at"`                                             // 更新时间
}

// TableName 指定表名
func (EarningsPayout) TableName() string {
	return "earnings_payouts"
}
