package models

import (
	"time"

	"github.com/bookd-next/internal/constants"
)

// EarlyPayRequest 司机提前付款申请
type EarlyPayRequest struct {
	ID                uint                    `gorm:"primarykey" json:"id"`                                                // 主键
	TruckerID         uint                    `gorm:"not null;index" json:"trucker_id"`                                    // 司机ID
	BrokerID          uint                    `gorm:"not null;index" json:"broker_id"`                                     // 经纪商ID
	LoadReference     string                  `gorm:"type:varchar(120);not null" json:"load_reference"`                    // 运单/发票号
	AmountRequested   Money                   `gorm:"type:decimal(20,2);not null" json:"amount_requested"`                 // 申请金额
	BrokerFee         Money                   `gorm:"type:decimal(20,2);not null;default:0" json:"broker_fee"`             // 经纪商费用
	PlatformFee       Money                   `gorm:"type:decimal(20,2);not null;default:0" json:"platform_fee"`           // 平台费用（抵扣后）
	CreditApplied     Money                   `gorm:"type:decimal(20,2);not null;default:0" json:"credit_applied"`         // 抵扣额度
	TotalFee          Money                   `gorm:"type:decimal(20,2);not null;default:0" json:"total_fee"`              // 总费用
	AmountToTrucker   Money                   `gorm:"type:decimal(20,2);not null;default:0" json:"amount_to_trucker"`      // 司机实收
	Status            constants.RequestStatus `gorm:"type:varchar(20);not null;index" json:"status"`                       // 申请状态
	RejectReason      string                  `gorm:"type:varchar(255)" json:"reject_reason,omitempty"`                    // 拒绝原因
	PayoutStatus      constants.PayoutStatus  `gorm:"type:varchar(20);not null;default:'none';index" json:"payout_status"` // 打款状态
	PayoutError       string                  `gorm:"type:text" json:"payout_error,omitempty"`                             // 打款错误信息
	PayoutBatchID     *string                 `gorm:"type:varchar(64);uniqueIndex" json:"payout_batch_id,omitempty"`       // 网关批次号
	SubmissionKey     string                  `gorm:"type:varchar(96);index" json:"-"`                                     // 打款幂等键
	PayoutMethod      constants.PayoutMethod  `gorm:"type:varchar(20)" json:"payout_method,omitempty"`                     // 打款方式快照
	PayoutRecipient   string                  `gorm:"type:varchar(255)" json:"payout_recipient,omitempty"`                 // 收款账号快照
	PayoutSubmittedAt *time.Time              `gorm:"index" json:"payout_submitted_at,omitempty"`                          // 最近提交时间
	PayoutSettledAt   *time.Time              `json:"payout_settled_at,omitempty"`                                         // 打款终态时间
	LastReconciledAt  *time.Time              `gorm:"index" json:"last_reconciled_at,omitempty"`                           // 最近对账时间
	ApprovedAt        *time.Time              `json:"approved_at,omitempty"`                                               // 审批时间
	RejectedAt        *time.Time              `json:"rejected_at,omitempty"`                                               // 拒绝时间
	FundedAt          *time.Time              `gorm:"index" json:"funded_at,omitempty"`                                    // 放款时间
	CreatedAt         time.Time               `gorm:"index" json:"created_at"`                                             // 创建时间
	UpdatedAt         time.Time               `json:"updated_at"`                                                          // 更新时间
}

// TableName 指定表名
func (EarlyPayRequest) TableName() string {
	return "early_pay_requests"
}

// BatchID 返回批次号（未提交时为空）
func (r *EarlyPayRequest) BatchID() string {
	if r == nil || r.PayoutBatchID == nil {
		return ""
	}
	return *r.PayoutBatchID
}
