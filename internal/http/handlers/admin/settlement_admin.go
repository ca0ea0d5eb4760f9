package admin

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	handlershared "github.com/bookd-next/internal/http/handlers/shared"
	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/repository"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ClawbackRequest 追回收益请求
type ClawbackRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListReviewFlags 复核标记列表
func (h *Handler) ListReviewFlags(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	filter := repository.ReviewFlagListFilter{
		Page:     page,
		PageSize: pageSize,
		Reason:   strings.TrimSpace(c.Query("reason")),
	}
	if raw := strings.TrimSpace(c.Query("resolved")); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, response.CodeBadRequest, "resolved must be a boolean", nil)
			return
		}
		filter.Resolved = &resolved
	}
	rows, total, err := h.EarningsAdminService.ListReviewFlags(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "review flag fetch failed", err)
		return
	}
	response.SuccessWithPage(c, rows, response.BuildPagination(page, pageSize, total))
}

// ResolveReviewFlag 标记复核完成
func (h *Handler) ResolveReviewFlag(c *gin.Context) {
	id, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.EarningsAdminService.ResolveReviewFlag(id); err != nil {
		respondServiceError(c, err, "review flag resolve failed")
		return
	}
	response.Success(c, gin.H{"id": id, "resolved": true})
}

// RunReconcile 立即执行一轮卡单对账
func (h *Handler) RunReconcile(c *gin.Context) {
	report, err := h.PayoutReconcileService.ReconcileStuckPayouts(c.Request.Context(), time.Now())
	if err != nil {
		respondError(c, response.CodeInternal, "reconcile failed", err)
		return
	}
	requestLog(c).Infow("admin_reconcile_triggered", "scanned", report.Scanned, "flagged", report.Flagged)
	response.Success(c, report)
}

// GetLastReconcileReport 最近一次对账汇总
func (h *Handler) GetLastReconcileReport(c *gin.Context) {
	report, err := h.PayoutReconcileService.LastReport(c.Request.Context())
	if err != nil {
		respondError(c, response.CodeInternal, "reconcile report fetch failed", err)
		return
	}
	if report == nil {
		respondError(c, response.CodeNotFound, "no reconcile report yet", nil)
		return
	}
	response.Success(c, report)
}

// MatureEarnings 立即推进到期收益
func (h *Handler) MatureEarnings(c *gin.Context) {
	count, err := h.EarningsAdminService.MatureDueEntries()
	if err != nil {
		respondError(c, response.CodeInternal, "earnings mature failed", err)
		return
	}
	response.Success(c, gin.H{"matured": count})
}

// ClawBackRequest 追回某笔申请产生的收益
func (h *Handler) ClawBackRequest(c *gin.Context) {
	id, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req ClawbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "reason is required", nil)
		return
	}
	result, err := h.EarningsAdminService.ClawBackRequest(id, req.Reason)
	if err != nil {
		respondServiceError(c, err, "clawback failed")
		return
	}
	requestLog(c).Infow("admin_earnings_clawback",
		"request_id", id,
		"clawed_back", len(result.ClawedBack),
		"skipped", len(result.Skipped),
	)
	response.Success(c, result)
}

// ListEarningsEntries 收益明细（运营视角）
func (h *Handler) ListEarningsEntries(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	filter, ok := parseEarningsFilter(c)
	if !ok {
		return
	}
	filter.Page, filter.PageSize = page, pageSize
	rows, total, err := h.EarningsAdminService.ListEntries(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "earnings fetch failed", err)
		return
	}
	response.SuccessWithPage(c, rows, response.BuildPagination(page, pageSize, total))
}

// ExportEarnings 导出收益与复核标记为 xlsx
func (h *Handler) ExportEarnings(c *gin.Context) {
	filter, ok := parseEarningsFilter(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.EarningsAdminService.ExportWorkbook(&buf, filter); err != nil {
		respondError(c, response.CodeInternal, "earnings export failed", err)
		return
	}
	filename := fmt.Sprintf("earnings_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func parseEarningsFilter(c *gin.Context) (repository.EarningsEntryListFilter, bool) {
	filter := repository.EarningsEntryListFilter{
		Status:     strings.TrimSpace(c.Query("status")),
		SourceType: strings.TrimSpace(c.Query("source_type")),
	}
	if raw := strings.TrimSpace(c.Query("trucker_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, response.CodeBadRequest, "trucker_id invalid", nil)
			return filter, false
		}
		filter.TruckerID = uint(id)
	}
	for key, target := range map[string]**time.Time{"from": &filter.CollectedFrom, "to": &filter.CollectedTo} {
		raw := strings.TrimSpace(c.Query(key))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(c, response.CodeBadRequest, key+" must be YYYY-MM-DD", nil)
			return filter, false
		}
		if key == "to" {
			parsed = parsed.AddDate(0, 0, 1)
		}
		*target = &parsed
	}
	return filter, true
}
