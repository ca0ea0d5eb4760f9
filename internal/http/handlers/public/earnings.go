package public

import (
	"errors"
	"strings"

	"github.com/bookd-next/internal/constants"
	handlershared "github.com/bookd-next/internal/http/handlers/shared"
	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/repository"
	"github.com/bookd-next/internal/service"

	"github.com/gin-gonic/gin"
)

// GetEarningsBalance 司机收益余额
func (h *Handler) GetEarningsBalance(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleTrucker)
	if !ok {
		return
	}
	balance, err := h.EarningsLedger.GetPayableBalance(actor.ID)
	if err != nil {
		respondServiceError(c, err, "earnings balance fetch failed")
		return
	}
	response.Success(c, balance)
}

// ListEarningsEntries 司机收益明细
func (h *Handler) ListEarningsEntries(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleTrucker)
	if !ok {
		return
	}
	page, pageSize := handlershared.ParsePagination(c)
	rows, total, err := h.EarningsAdminService.ListEntries(repository.EarningsEntryListFilter{
		Page:       page,
		PageSize:   pageSize,
		TruckerID:  actor.ID,
		Status:     strings.TrimSpace(c.Query("status")),
		SourceType: strings.TrimSpace(c.Query("source_type")),
	})
	if err != nil {
		respondError(c, response.CodeInternal, "earnings fetch failed", err)
		return
	}
	response.SuccessWithPage(c, rows, response.BuildPagination(page, pageSize, total))
}

// RequestCashOut 司机提现全部可提现收益
func (h *Handler) RequestCashOut(c *gin.Context) {
	actor, ok := requireRole(c, constants.ActorRoleTrucker)
	if !ok {
		return
	}
	payout, err := h.EarningsCashOutService.RequestCashOut(c.Request.Context(), actor.ID)
	if err != nil {
		if errors.Is(err, service.ErrGatewayRejected) && payout != nil {
			requestLog(c).Warnw("earnings_cashout_rejected", "payout_id", payout.ID, "trucker_id", actor.ID)
		}
		respondServiceError(c, err, "cash out failed")
		return
	}
	response.Success(c, payout)
}
