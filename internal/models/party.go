package models

import (
	"strings"
	"time"

	"github.com/bookd-next/internal/constants"
)

// Broker 经纪商
type Broker struct {
	ID                  uint                 `gorm:"primarykey" json:"id"`                                      // 主键
	Name                string               `gorm:"type:varchar(120);not null" json:"name"`                    // 名称
	Email               string               `gorm:"type:varchar(255);index" json:"email"`                      // 邮箱
	Tier                constants.BrokerTier `gorm:"type:varchar(20);not null;default:'free'" json:"tier"`      // 套餐等级
	TotalEarned         Money                `gorm:"type:decimal(20,2);not null;default:0" json:"total_earned"` // 累计收取费用
	ReferredByTruckerID *uint                `gorm:"index" json:"referred_by_trucker_id,omitempty"`             // 邀请入驻的司机
	CreatedAt           time.Time            `json:"created_at"`                                                // 创建时间
	UpdatedAt           time.Time            `json:"updated_at"`                                                // 更新时间
}

// TableName 指定表名
func (Broker) TableName() string {
	return "brokers"
}

// Trucker 司机
type Trucker struct {
	ID                   uint                   `gorm:"primarykey" json:"id"`                                                // 主键
	Name                 string                 `gorm:"type:varchar(120);not null" json:"name"`                              // 姓名
	Email                string                 `gorm:"type:varchar(255);index" json:"email"`                                // 邮箱
	PayoutMethod         constants.PayoutMethod `gorm:"type:varchar(20);not null;default:'manual'" json:"payout_method"`     // 收款方式
	PaypalEmail          string                 `gorm:"type:varchar(255)" json:"paypal_email,omitempty"`                     // PayPal 邮箱
	VenmoHandle          string                 `gorm:"type:varchar(120)" json:"venmo_handle,omitempty"`                     // Venmo 账号
	BonusCreditRemaining Money                  `gorm:"type:decimal(20,2);not null;default:0" json:"bonus_credit_remaining"` // 剩余抵扣额度
	BonusCreditUsed      Money                  `gorm:"type:decimal(20,2);not null;default:0" json:"bonus_credit_used"`      // 已用抵扣额度
	RecruiterID          *uint                  `gorm:"index" json:"recruiter_id,omitempty"`                                 // 推荐人（司机）
	CreatedAt            time.Time              `json:"created_at"`                                                          // 创建时间
	UpdatedAt            time.Time              `json:"updated_at"`                                                          // 更新时间
}

// TableName 指定表名
func (Trucker) TableName() string {
	return "truckers"
}

// PayoutDestination 返回收款方式对应的账号，manual 或缺失时返回空
func (t *Trucker) PayoutDestination() string {
	if t == nil {
		return ""
	}
	switch t.PayoutMethod {
	case constants.PayoutMethodPayPal:
		return strings.TrimSpace(t.PaypalEmail)
	case constants.PayoutMethodVenmo:
		return strings.TrimSpace(t.VenmoHandle)
	}
	return ""
}
