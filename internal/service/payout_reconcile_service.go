package service

import (
	"context"
	"errors"
	"time"

	"github.com/bookd-next/internal/cache"
	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/payment/paypal"
	"github.com/bookd-next/internal/repository"
)

const lastReconcileReportKey = "payout:reconcile:last"

// ReconcileOptions 卡单对账参数
type ReconcileOptions struct {
	StuckAfter time.Duration
	BatchSize  int
}

// ReconcileReport 单轮对账汇总
type ReconcileReport struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Scanned        int       `json:"scanned"`
	Resubmitted    int       `json:"resubmitted"`
	Resolved       int       `json:"resolved"`
	Flagged        int       `json:"flagged"`
	CashOutScanned int       `json:"cashout_scanned"`
	CashOutSettled int       `json:"cashout_settled"`
	CashOutFlagged int       `json:"cashout_flagged"`
	Errors         []string  `json:"errors,omitempty"`
}

// PayoutReconcileService 卡在 pending 的打款与提现对账
type PayoutReconcileService struct {
	requestRepo  repository.EarlyPayRequestRepository
	earningsRepo repository.EarningsRepository
	auditRepo    repository.PayoutAuditRepository
	payouts      *PayoutService
	webhooks     *PayoutWebhookService
	cashOut      *EarningsCashOutService
	gateway      PayoutGateway
	opts         ReconcileOptions
}

// NewPayoutReconcileService 创建对账服务
func NewPayoutReconcileService(
	requestRepo repository.EarlyPayRequestRepository,
	earningsRepo repository.EarningsRepository,
	auditRepo repository.PayoutAuditRepository,
	payouts *PayoutService,
	webhooks *PayoutWebhookService,
	cashOut *EarningsCashOutService,
	gateway PayoutGateway,
	opts ReconcileOptions,
) *PayoutReconcileService {
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 30 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &PayoutReconcileService{
		requestRepo:  requestRepo,
		earningsRepo: earningsRepo,
		auditRepo:    auditRepo,
		payouts:      payouts,
		webhooks:     webhooks,
		cashOut:      cashOut,
		gateway:      gateway,
		opts:         opts,
	}
}

// ReconcileStuckPayouts 未放款的按原幂等键重提，已放款的查询批次状态，仍无结论的标记人工复核
func (s *PayoutReconcileService) ReconcileStuckPayouts(ctx context.Context, now time.Time) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: now}
	cutoff := now.Add(-s.opts.StuckAfter)

	requests, err := s.requestRepo.ListStuckPayouts(cutoff, s.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	for i := range requests {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		s.reconcileRequest(ctx, &requests[i], now, report)
	}

	payouts, err := s.earningsRepo.ListStuckPayouts(cutoff, s.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	for i := range payouts {
		if ctx.Err() != nil {
			break
		}
		report.CashOutScanned++
		s.reconcileCashOut(ctx, &payouts[i], now, report)
	}

	report.FinishedAt = time.Now()
	if err := cache.SetJSON(ctx, lastReconcileReportKey, report, 24*time.Hour); err != nil {
		logger.Debugw("payout_reconcile_report_cache_failed", "error", err)
	}
	logger.Infow("payout_reconcile_finished",
		"scanned", report.Scanned,
		"resubmitted", report.Resubmitted,
		"resolved", report.Resolved,
		"flagged", report.Flagged,
		"cashout_scanned", report.CashOutScanned,
		"cashout_settled", report.CashOutSettled,
		"cashout_flagged", report.CashOutFlagged,
	)
	return report, ctx.Err()
}

// LastReport 读取最近一次对账汇总
func (s *PayoutReconcileService) LastReport(ctx context.Context) (*ReconcileReport, error) {
	var report ReconcileReport
	hit, err := cache.GetJSON(ctx, lastReconcileReportKey, &report)
	if err != nil || !hit {
		return nil, err
	}
	return &report, nil
}

func (s *PayoutReconcileService) reconcileRequest(ctx context.Context, req *models.EarlyPayRequest, now time.Time, report *ReconcileReport) {
	if err := s.requestRepo.MarkReconciled(req.ID, now); err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	if req.Status == constants.RequestStatusApproved {
		if s.payouts == nil {
			return
		}
		_, err := s.payouts.SubmitPayout(ctx, req.ID)
		switch {
		case err == nil:
			report.Resubmitted++
			return
		case errors.Is(err, ErrGatewayRejected):
			report.Resolved++
			return
		case errors.Is(err, ErrPayoutInProgress):
			return
		case errors.Is(err, ErrReplayRejected):
			report.Flagged++
			return
		}
		report.Errors = append(report.Errors, err.Error())
		report.Flagged++
		flagReviewSubject(s.auditRepo, req.ID, nil, constants.ReviewReasonStuckPending,
			"resubmit with stored submission key did not resolve: "+err.Error(), now)
		return
	}

	batchID := req.BatchID()
	if batchID == "" || s.gateway == nil {
		report.Flagged++
		flagReviewSubject(s.auditRepo, req.ID, nil, constants.ReviewReasonStuckPending, "funded request without a queryable batch", now)
		return
	}
	batch, err := s.gateway.GetPayoutBatch(ctx, batchID)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		report.Flagged++
		flagReviewSubject(s.auditRepo, req.ID, nil, constants.ReviewReasonStuckPending, "batch lookup failed: "+err.Error(), now)
		return
	}
	target, message, ok := paypal.BatchPayoutStatus(batch)
	if !ok {
		report.Flagged++
		flagReviewSubject(s.auditRepo, req.ID, nil, constants.ReviewReasonStuckPending, "batch "+batchID+" still "+batch.Status, now)
		return
	}
	outcome, err := s.webhooks.ApplyRequestPayoutStatus(req, constants.PayoutStatus(target), message, "reconcile")
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return
	}
	if outcome == constants.WebhookOutcomeApplied {
		report.Resolved++
	}
	if target == paypal.StatusUnclaimed {
		report.Flagged++
		flagReviewSubject(s.auditRepo, req.ID, nil, constants.ReviewReasonStuckPending, message, now)
	}
}

func (s *PayoutReconcileService) reconcileCashOut(ctx context.Context, payout *models.EarningsPayout, now time.Time, report *ReconcileReport) {
	if s.cashOut == nil {
		return
	}
	payoutID := payout.ID
	if payout.BatchID == nil || *payout.BatchID == "" {
		_, err := s.cashOut.SubmitCashOut(ctx, payout.ID)
		if err == nil || errors.Is(err, ErrGatewayRejected) {
			report.CashOutSettled++
			return
		}
		report.Errors = append(report.Errors, err.Error())
		report.CashOutFlagged++
		flagReviewSubject(s.auditRepo, 0, &payoutID, constants.ReviewReasonCashOutStuck, "cash-out resubmit failed: "+err.Error(), now)
		return
	}
	if s.gateway == nil {
		return
	}
	batch, err := s.gateway.GetPayoutBatch(ctx, *payout.BatchID)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		report.CashOutFlagged++
		flagReviewSubject(s.auditRepo, 0, &payoutID, constants.ReviewReasonCashOutStuck, "batch lookup failed: "+err.Error(), now)
		return
	}
	target, message, ok := paypal.BatchPayoutStatus(batch)
	if !ok || target == paypal.StatusUnclaimed {
		report.CashOutFlagged++
		flagReviewSubject(s.auditRepo, 0, &payoutID, constants.ReviewReasonCashOutStuck, "batch "+*payout.BatchID+" still "+batch.Status, now)
		if ok {
			if _, err := s.cashOut.ApplyPayoutStatus(payout.ID, target, message); err != nil {
				report.Errors = append(report.Errors, err.Error())
			}
		}
		return
	}
	outcome, err := s.cashOut.ApplyPayoutStatus(payout.ID, target, message)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return
	}
	if outcome == constants.WebhookOutcomeApplied {
		report.CashOutSettled++
	}
}
