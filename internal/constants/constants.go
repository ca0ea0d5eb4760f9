package constants

// RequestStatus 提前付款申请状态
type RequestStatus string

// 提前付款申请状态常量
const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusFunded   RequestStatus = "funded"
)

// Valid 判断是否为已知状态
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected, RequestStatusFunded:
		return true
	}
	return false
}

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:  {RequestStatusApproved, RequestStatusRejected},
	RequestStatusApproved: {RequestStatusFunded},
}

// CanTransitionRequest 判断申请状态迁移是否合法
func CanTransitionRequest(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PayoutStatus 外部打款状态
type PayoutStatus string

// 打款状态常量
const (
	PayoutStatusNone      PayoutStatus = "none"
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusSuccess   PayoutStatus = "success"
	PayoutStatusFailed    PayoutStatus = "failed"
	PayoutStatusUnclaimed PayoutStatus = "unclaimed"
)

// Valid 判断是否为已知状态
func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutStatusNone, PayoutStatusPending, PayoutStatusSuccess, PayoutStatusFailed, PayoutStatusUnclaimed:
		return true
	}
	return false
}

// Terminal 是否为终态
func (s PayoutStatus) Terminal() bool {
	return s == PayoutStatusSuccess || s == PayoutStatusFailed
}

// 由网关回调驱动的迁移，none/failed -> pending 只能由提交流程设置
var payoutEventTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:   {PayoutStatusSuccess, PayoutStatusFailed, PayoutStatusUnclaimed},
	PayoutStatusUnclaimed: {PayoutStatusFailed},
}

// CanTransitionPayout 判断回调驱动的打款状态迁移是否合法
func CanTransitionPayout(from, to PayoutStatus) bool {
	for _, next := range payoutEventTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PayoutSourcesFor 返回可迁移到目标状态的来源状态
func PayoutSourcesFor(to PayoutStatus) []PayoutStatus {
	sources := make([]PayoutStatus, 0, 2)
	for _, from := range []PayoutStatus{PayoutStatusPending, PayoutStatusUnclaimed} {
		if CanTransitionPayout(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// BrokerTier 经纪商套餐等级
type BrokerTier string

// 套餐等级常量
const (
	BrokerTierFree       BrokerTier = "free"
	BrokerTierPro        BrokerTier = "pro"
	BrokerTierEnterprise BrokerTier = "enterprise"
)

// Valid 判断是否为已知等级
func (t BrokerTier) Valid() bool {
	switch t {
	case BrokerTierFree, BrokerTierPro, BrokerTierEnterprise:
		return true
	}
	return false
}

// PayoutMethod 司机收款方式
type PayoutMethod string

// 收款方式常量
const (
	PayoutMethodManual PayoutMethod = "manual"
	PayoutMethodPayPal PayoutMethod = "paypal"
	PayoutMethodVenmo  PayoutMethod = "venmo"
)

// EarningSourceType 收益来源类型
type EarningSourceType string

// 收益来源常量
const (
	EarningSourceBrokerFreeFee  EarningSourceType = "broker_free_fee"
	EarningSourceRecruiterBonus EarningSourceType = "recruiter_bonus"
)

// EarningStatus 收益条目状态
type EarningStatus string

// 收益条目状态常量
const (
	EarningStatusPending    EarningStatus = "pending"
	EarningStatusPayable    EarningStatus = "payable"
	EarningStatusPaid       EarningStatus = "paid"
	EarningStatusClawedBack EarningStatus = "clawed_back"
)

var earningTransitions = map[EarningStatus][]EarningStatus{
	EarningStatusPending: {EarningStatusPayable, EarningStatusClawedBack},
	EarningStatusPayable: {EarningStatusPaid, EarningStatusClawedBack},
}

// CanTransitionEarning 判断收益条目状态迁移是否合法
func CanTransitionEarning(from, to EarningStatus) bool {
	for _, next := range earningTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// 收益提现状态常量
const (
	EarningsPayoutStatusPending = "pending"
	EarningsPayoutStatusSuccess = "success"
	EarningsPayoutStatusFailed  = "failed"
)

// 回调处理结果常量
const (
	WebhookOutcomeApplied        = "applied"
	WebhookOutcomeNoop           = "noop"
	WebhookOutcomeDiscardedStale = "discarded_stale"
	WebhookOutcomeUnmatched      = "unmatched"
	WebhookOutcomeIgnoredType    = "ignored_unknown_type"
	WebhookOutcomeDuplicate      = "duplicate"
)

// 人工复核标记原因
const (
	ReviewReasonStuckPending       = "stuck_pending"
	ReviewReasonFundedPayoutFailed = "funded_payout_failed"
	ReviewReasonCreditShortfall    = "credit_shortfall"
	ReviewReasonCashOutStuck       = "cashout_stuck"
)

// 调用方角色
const (
	ActorRoleTrucker  = "trucker"
	ActorRoleBroker   = "broker"
	ActorRoleOperator = "operator"
)

// 队列与任务
const (
	QueueDefault          = "default"
	QueueCritical         = "critical"
	TaskPayoutSubmit      = "payout:submit"
	TaskEarningsCashOut   = "earnings:cashout"
	EarningsItemIDPrefix  = "earn_"
	PayoutBatchIDPrefix   = "BOOKD"
	EarningsBatchIDPrefix = "BOOKD_EARN"
)
