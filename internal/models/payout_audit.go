package models

import "time"

// PayoutWebhookEvent 网关回调事件审计
type PayoutWebhookEvent struct {
	ID         uint      `gorm:"primarykey" json:"id"`                                  // 主键
	EventID    string    `gorm:"type:varchar(96);not null;uniqueIndex" json:"event_id"` // 网关事件ID
	EventType  string    `gorm:"type:varchar(96);not null;index" json:"event_type"`     // 事件类型
	BatchID    string    `gorm:"type:varchar(64);index" json:"batch_id"`                // 批次号
	ItemID     string    `gorm:"type:varchar(96);index" json:"item_id"`                 // sender_item_id
	RequestID  *uint     `gorm:"index" json:"request_id,omitempty"`                     // 匹配到的申请
	Outcome    string    `gorm:"type:varchar(32);not null;index" json:"outcome"`        // 处理结果
	Detail     string    `gorm:"type:varchar(255)" json:"detail"`                       // 说明
	Payload    string    `gorm:"type:text" json:"-"`                                    // 原始报文
	ReceivedAt time.Time `gorm:"not null;index" json:"received_at"`                     // 接收时间
}

// TableName 指定表名
func (PayoutWebhookEvent) TableName() string {
	return "payout_webhook_events"
}

// PayoutReviewFlag 需要人工复核的打款
type PayoutReviewFlag struct {
	ID          uint       `gorm:"primarykey" json:"id"`                                                             // 主键
	SubjectKey  string     `gorm:"type:varchar(64);not null;index:idx_review_flag_unique,unique" json:"subject_key"` // request:<id> / earnings:<id>
	Reason      string     `gorm:"type:varchar(32);not null;index:idx_review_flag_unique,unique" json:"reason"`      // 原因
	RequestID   *uint      `gorm:"index" json:"request_id,omitempty"`                                                // 申请ID
	PayoutID    *uint      `gorm:"index" json:"payout_id,omitempty"`                                                 // 提现单ID
	Detail      string     `gorm:"type:text" json:"detail"`                                                          // 说明
	Occurrences int        `gorm:"not null;default:1" json:"occurrences"`                                            // 命中次数
	Resolved    bool       `gorm:"not null;default:false;index" json:"resolved"`                                     // 是否已处理
	FirstSeenAt time.Time  `gorm:"not null" json:"first_seen_at"`                                                    // 首次发现
	LastSeenAt  time.Time  `gorm:"not null;index" json:"last_seen_at"`                                               // 最近发现
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`                                                            // 处理时间
}

// TableName 指定表名
func (PayoutReviewFlag) TableName() string {
	return "payout_review_flags"
}
