package public

import (
	"strconv"
	"strings"

	"github.com/bookd-next/internal/constants"
	handlershared "github.com/bookd-next/internal/http/handlers/shared"
	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/repository"
	"github.com/bookd-next/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// FeeQuoteRequest 费用试算请求
type FeeQuoteRequest struct {
	Amount   models.Money  `json:"amount"`
	BrokerID uint          `json:"broker_id"`
	Tier     string        `json:"tier"`
	Credit   *models.Money `json:"credit"`
}

// CreateEarlyPayRequest 创建申请请求
type CreateEarlyPayRequest struct {
	BrokerID      uint         `json:"broker_id" binding:"required"`
	LoadReference string       `json:"load_reference" binding:"required"`
	Amount        models.Money `json:"amount"`
}

// RejectEarlyPayRequest 拒绝申请请求
type RejectEarlyPayRequest struct {
	Reason string `json:"reason"`
}

// QuoteFee 费用试算（不落库）
func (h *Handler) QuoteFee(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleTrucker, constants.ActorRoleBroker, constants.ActorRoleOperator)
	if !ok {
		return
	}
	var req FeeQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}

	tier := constants.BrokerTier(strings.ToLower(strings.TrimSpace(req.Tier)))
	if req.BrokerID != 0 {
		broker, err := h.BrokerRepo.GetByID(req.BrokerID)
		if err != nil {
			respondError(c, response.CodeInternal, "broker fetch failed", err)
			return
		}
		if broker == nil {
			respondServiceError(c, service.ErrBrokerNotFound, "")
			return
		}
		tier = broker.Tier
	}
	if tier == "" {
		tier = constants.BrokerTierFree
	}

	credit := decimal.Zero
	if req.Credit != nil {
		credit = req.Credit.Decimal
	} else if actor.Role == constants.ActorRoleTrucker {
		trucker, err := h.TruckerRepo.GetByID(actor.ID)
		if err != nil {
			respondError(c, response.CodeInternal, "trucker fetch failed", err)
			return
		}
		if trucker != nil {
			credit = trucker.BonusCreditRemaining.Decimal
		}
	}

	quote, err := h.EarlyPayService.QuoteFee(req.Amount.Decimal, tier, credit)
	if err != nil {
		respondServiceError(c, err, "fee quote failed")
		return
	}
	response.Success(c, quote)
}

// CreateEarlyPay 司机发起提前付款申请
func (h *Handler) CreateEarlyPay(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleTrucker)
	if !ok {
		return
	}
	var req CreateEarlyPayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	created, err := h.EarlyPayService.CreateRequest(service.CreateEarlyPayInput{
		TruckerID:     actor.ID,
		BrokerID:      req.BrokerID,
		LoadReference: req.LoadReference,
		Amount:        req.Amount.Decimal,
	})
	if err != nil {
		respondServiceError(c, err, "early pay request create failed")
		return
	}
	requestLog(c).Infow("early_pay_request_created",
		"request_id", created.ID,
		"trucker_id", created.TruckerID,
		"broker_id", created.BrokerID,
		"amount", created.AmountRequested.String(),
	)
	response.Success(c, created)
}

// ListEarlyPay 按调用方身份分页查询申请
func (h *Handler) ListEarlyPay(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleTrucker, constants.ActorRoleBroker, constants.ActorRoleOperator)
	if !ok {
		return
	}
	page, pageSize := handlershared.ParsePagination(c)
	filter := repository.EarlyPayRequestListFilter{
		Page:         page,
		PageSize:     pageSize,
		Status:       strings.TrimSpace(c.Query("status")),
		PayoutStatus: strings.TrimSpace(c.Query("payout_status")),
	}
	switch actor.Role {
	case constants.ActorRoleTrucker:
		filter.TruckerID = actor.ID
	case constants.ActorRoleBroker:
		filter.BrokerID = actor.ID
	default:
		filter.TruckerID = parseUintQuery(c, "trucker_id")
		filter.BrokerID = parseUintQuery(c, "broker_id")
	}
	rows, total, err := h.EarlyPayService.ListRequests(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "early pay request fetch failed", err)
		return
	}
	response.SuccessWithPage(c, rows, response.BuildPagination(page, pageSize, total))
}

// GetEarlyPay 查询申请详情
func (h *Handler) GetEarlyPay(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleTrucker, constants.ActorRoleBroker, constants.ActorRoleOperator)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	req, err := h.EarlyPayService.GetRequest(id)
	if err != nil {
		respondServiceError(c, err, "early pay request fetch failed")
		return
	}
	if !canViewRequest(actor, req) {
		respondServiceError(c, service.ErrRequestNotFound, "")
		return
	}
	response.Success(c, req)
}

// ApproveEarlyPay 经纪商审批通过
func (h *Handler) ApproveEarlyPay(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleBroker, constants.ActorRoleOperator)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	approved, err := h.EarlyPayService.ApproveRequest(id, brokerScope(actor))
	if err != nil {
		respondServiceError(c, err, "early pay request approve failed")
		return
	}
	response.Success(c, approved)
}

// RejectEarlyPay 经纪商拒绝
func (h *Handler) RejectEarlyPay(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleBroker, constants.ActorRoleOperator)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req RejectEarlyPayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, response.CodeBadRequest, "invalid request body", nil)
			return
		}
	}
	rejected, err := h.EarlyPayService.RejectRequest(id, brokerScope(actor), req.Reason)
	if err != nil {
		respondServiceError(c, err, "early pay request reject failed")
		return
	}
	response.Success(c, rejected)
}

// SubmitPayout 触发已审批申请的打款，可重复调用
func (h *Handler) SubmitPayout(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleBroker, constants.ActorRoleOperator)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if actor.Role == constants.ActorRoleBroker {
		req, err := h.EarlyPayService.GetRequest(id)
		if err != nil {
			respondServiceError(c, err, "early pay request fetch failed")
			return
		}
		if req.BrokerID != actor.ID {
			respondServiceError(c, service.ErrForbidden, "")
			return
		}
	}
	result, err := h.PayoutService.SubmitPayout(c.Request.Context(), id)
	if err != nil {
		requestLog(c).Warnw("payout_submit_failed", "request_id", id, "error", err)
		respondServiceError(c, err, "payout submit failed")
		return
	}
	response.Success(c, result)
}

// brokerScope 经纪商只能操作自己的申请，运营不限
func brokerScope(actor service.Actor) uint {
	if actor.IsOperator() {
		return 0
	}
	return actor.ID
}

func canViewRequest(actor service.Actor, req *models.EarlyPayRequest) bool {
	switch actor.Role {
	case constants.ActorRoleOperator:
		return true
	case constants.ActorRoleTrucker:
		return req.TruckerID == actor.ID
	case constants.ActorRoleBroker:
		return req.BrokerID == actor.ID
	}
	return false
}

func parseUintQuery(c *gin.Context, key string) uint {
	value, err := strconv.ParseUint(strings.TrimSpace(c.Query(key)), 10, 64)
	if err != nil {
		return 0
	}
	return uint(value)
}
