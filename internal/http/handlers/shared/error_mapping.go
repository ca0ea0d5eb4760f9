package shared

import (
	"errors"

	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

var settlementErrorRules = []mappedHandlerError{
	{target: service.ErrInvalidAmount, code: response.CodeBadRequest, msg: "amount must be positive"},
	{target: service.ErrInvalidTier, code: response.CodeBadRequest, msg: "broker tier is invalid"},
	{target: service.ErrInvalidCredit, code: response.CodeBadRequest, msg: "credit must not be negative"},
	{target: service.ErrInvalidInput, code: response.CodeBadRequest, msg: "invalid input"},
	{target: service.ErrWebhookInvalid, code: response.CodeBadRequest, msg: "webhook payload invalid"},
	{target: service.ErrWebhookSignatureInvalid, code: response.CodeBadRequest, msg: "webhook signature invalid"},
	{target: service.ErrPayoutMethodMissing, code: response.CodeBadRequest, msg: "payout method not configured"},
	{target: service.ErrInvalidPayoutAmount, code: response.CodeBadRequest, msg: "payout amount must be positive"},
	{target: service.ErrNoPayableBalance, code: response.CodeBadRequest, msg: "no payable earnings"},
	{target: service.ErrForbidden, code: response.CodeForbidden, msg: "forbidden"},
	{target: service.ErrRequestNotFound, code: response.CodeNotFound, msg: "early pay request not found"},
	{target: service.ErrBrokerNotFound, code: response.CodeNotFound, msg: "broker not found"},
	{target: service.ErrTruckerNotFound, code: response.CodeNotFound, msg: "trucker not found"},
	{target: service.ErrEarningsPayoutMissing, code: response.CodeNotFound, msg: "earnings payout not found"},
	{target: service.ErrNotFound, code: response.CodeNotFound, msg: "not found"},
	{target: service.ErrInvalidStatusTransition, code: response.CodeConflict, msg: "request status does not allow this action"},
	{target: service.ErrNotApproved, code: response.CodeConflict, msg: "request is not approved"},
	{target: service.ErrAlreadyFunded, code: response.CodeConflict, msg: "request already funded"},
	{target: service.ErrPayoutInProgress, code: response.CodeConflict, msg: "payout already in progress"},
	{target: service.ErrCashOutInProgress, code: response.CodeConflict, msg: "cash out already in progress"},
	{target: service.ErrFundingCommitConflict, code: response.CodeConflict, msg: "funding commit conflict"},
	{target: service.ErrCapConflict, code: response.CodeConflict, msg: "earnings cap update conflict, retry later"},
	{target: service.ErrMonthlyAllowanceExceeded, code: response.CodeTooManyRequests, msg: "monthly request allowance exceeded"},
	{target: service.ErrReplayRejected, code: response.CodeConflict, msg: "payout outcome unknown, flagged for review"},
	{target: service.ErrGatewayRejected, code: response.CodeBadGateway, msg: "payout rejected by gateway"},
	{target: service.ErrGatewayNotConfigured, code: response.CodeServiceUnavailable, msg: "payout gateway not configured"},
	{target: service.ErrGatewayTimeout, code: response.CodeGatewayTimeout, msg: "payout outcome unknown, it will be reconciled"},
}

// MapServiceError 返回业务错误对应的响应码与提示，未命中时返回 500。
func MapServiceError(err error) (int, string, bool) {
	for _, rule := range settlementErrorRules {
		if errors.Is(err, rule.target) {
			return rule.code, rule.msg, true
		}
	}
	return response.CodeInternal, "internal error", false
}

// RespondServiceError 按映射表返回业务错误，未知错误记录日志。
func RespondServiceError(c *gin.Context, err error, fallbackMsg string) {
	code, msg, known := MapServiceError(err)
	if known {
		RespondError(c, code, msg, nil)
		return
	}
	if fallbackMsg != "" {
		msg = fallbackMsg
	}
	RespondError(c, code, msg, err)
}
