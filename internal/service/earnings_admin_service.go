package service

import (
	"fmt"
	"io"
	"time"

	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/repository"

	"github.com/xuri/excelize/v2"
)

const (
	earningsSheetName    = "Earnings"
	reviewFlagsSheetName = "Review Flags"
)

// EarningsAdminService 运营侧收益台账与复核标记管理
type EarningsAdminService struct {
	earningsRepo repository.EarningsRepository
	auditRepo    repository.PayoutAuditRepository
	ledger       *EarningsLedger
	now          func() time.Time
}

// NewEarningsAdminService 创建运营管理服务
func NewEarningsAdminService(earningsRepo repository.EarningsRepository, auditRepo repository.PayoutAuditRepository, ledger *EarningsLedger) *EarningsAdminService {
	return &EarningsAdminService{
		earningsRepo: earningsRepo,
		auditRepo:    auditRepo,
		ledger:       ledger,
		now:          time.Now,
	}
}

// ListEntries 分页查询收益条目
func (s *EarningsAdminService) ListEntries(filter repository.EarningsEntryListFilter) ([]models.EarningsLedgerEntry, int64, error) {
	return s.earningsRepo.ListEntries(filter)
}

// ListReviewFlags 分页查询复核标记
func (s *EarningsAdminService) ListReviewFlags(filter repository.ReviewFlagListFilter) ([]models.PayoutReviewFlag, int64, error) {
	return s.auditRepo.ListReviewFlags(filter)
}

// ResolveReviewFlag 标记复核完成
func (s *EarningsAdminService) ResolveReviewFlag(id uint) error {
	ok, err := s.auditRepo.ResolveReviewFlag(id, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	logger.Infow("payout_review_flag_resolved", "flag_id", id)
	return nil
}

// MatureDueEntries 手动触发到期条目转为可提现
func (s *EarningsAdminService) MatureDueEntries() (int64, error) {
	return s.ledger.MatureDueEntries(s.now())
}

// ClawBackRequest 追回某笔申请产生的全部收益
func (s *EarningsAdminService) ClawBackRequest(requestID uint, reason string) (*ClawbackResult, error) {
	return s.ledger.ClawBackRequestEarnings(requestID, reason)
}

// ExportWorkbook 导出收益条目与复核标记到 xlsx
func (s *EarningsAdminService) ExportWorkbook(w io.Writer, filter repository.EarningsEntryListFilter) error {
	entries, _, err := s.earningsRepo.ListEntries(filter)
	if err != nil {
		return err
	}
	flags, _, err := s.auditRepo.ListReviewFlags(repository.ReviewFlagListFilter{})
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warnw("earnings_export_close_failed", "error", closeErr)
		}
	}()
	if err := f.SetSheetName("Sheet1", earningsSheetName); err != nil {
		return err
	}
	if _, err := f.NewSheet(reviewFlagsSheetName); err != nil {
		return err
	}

	if err := writeSheetRow(f, earningsSheetName, 1, []interface{}{
		"ID", "Trucker", "Source", "Request", "Broker", "Gross", "Share", "Status", "Collected At", "Payable At", "Payout", "Paid At",
	}); err != nil {
		return err
	}
	for i, entry := range entries {
		row := []interface{}{
			entry.ID,
			entry.TruckerID,
			string(entry.SourceType),
			uintOrEmpty(entry.RequestID),
			uintOrEmpty(entry.BrokerID),
			entry.GrossAmount.InexactFloat64(),
			entry.TruckerShare.InexactFloat64(),
			string(entry.Status),
			entry.CollectedAt.UTC().Format(time.RFC3339),
			entry.BecomesPayableAt.UTC().Format(time.RFC3339),
			uintOrEmpty(entry.PayoutID),
			timeOrEmpty(entry.PaidAt),
		}
		if err := writeSheetRow(f, earningsSheetName, i+2, row); err != nil {
			return err
		}
	}

	if err := writeSheetRow(f, reviewFlagsSheetName, 1, []interface{}{
		"ID", "Subject", "Reason", "Occurrences", "Resolved", "First Seen", "Last Seen", "Detail",
	}); err != nil {
		return err
	}
	for i, flag := range flags {
		row := []interface{}{
			flag.ID,
			flag.SubjectKey,
			flag.Reason,
			flag.Occurrences,
			flag.Resolved,
			flag.FirstSeenAt.UTC().Format(time.RFC3339),
			flag.LastSeenAt.UTC().Format(time.RFC3339),
			flag.Detail,
		}
		if err := writeSheetRow(f, reviewFlagsSheetName, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheetRow(f *excelize.File, sheet string, rowNo int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func uintOrEmpty(v *uint) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
