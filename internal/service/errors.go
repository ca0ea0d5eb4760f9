package service

import "errors"

// 通用错误
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

// 费用计算错误
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidTier   = errors.New("broker tier is invalid")
	ErrInvalidCredit = errors.New("credit must not be negative")
)

// 申请生命周期错误
var (
	ErrRequestNotFound          = errors.New("early pay request not found")
	ErrInvalidStatusTransition  = errors.New("early pay request status does not allow this action")
	ErrBrokerNotFound           = errors.New("broker not found")
	ErrTruckerNotFound          = errors.New("trucker not found")
	ErrMonthlyAllowanceExceeded = errors.New("broker monthly request allowance exceeded")
)

// 打款编排错误
var (
	ErrNotApproved           = errors.New("early pay request is not approved")
	ErrAlreadyFunded         = errors.New("early pay request already funded")
	ErrPayoutInProgress      = errors.New("payout already in progress")
	ErrPayoutMethodMissing   = errors.New("trucker payout method not configured")
	ErrInvalidPayoutAmount   = errors.New("payout amount must be positive")
	ErrGatewayNotConfigured  = errors.New("payout gateway not configured")
	ErrGatewayRejected       = errors.New("payout gateway rejected transfer")
	ErrGatewayTimeout        = errors.New("payout gateway outcome unknown")
	ErrFundingCommitConflict = errors.New("funding commit lost race")
	ErrReplayRejected        = errors.New("replayed submission rejected, awaiting review")
)

// 收益相关错误
var (
	ErrCapConflict           = errors.New("monthly cap update conflict")
	ErrNoPayableBalance      = errors.New("no payable earnings")
	ErrCashOutInProgress     = errors.New("earnings cash out already in progress")
	ErrEarningsPayoutMissing = errors.New("earnings payout not found")
)

// 回调错误
var (
	ErrWebhookInvalid          = errors.New("webhook payload invalid")
	ErrWebhookSignatureInvalid = errors.New("webhook signature verification failed")
)
