package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bookd-next/internal/cache"
	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/payment/paypal"
	"github.com/bookd-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultPayoutLockTTL = 30 * time.Second

// PayoutGateway 外部打款网关
type PayoutGateway interface {
	SubmitTransfer(ctx context.Context, input paypal.TransferInput) (*paypal.TransferResult, error)
	GetPayoutBatch(ctx context.Context, batchID string) (*paypal.BatchStatus, error)
}

// PayoutServiceOptions 打款编排参数
type PayoutServiceOptions struct {
	Currency string
	LockTTL  time.Duration
}

// PayoutService 打款编排
type PayoutService struct {
	requestRepo repository.EarlyPayRequestRepository
	brokerRepo  repository.BrokerRepository
	truckerRepo repository.TruckerRepository
	auditRepo   repository.PayoutAuditRepository
	ledger      *EarningsLedger
	gateway     PayoutGateway
	opts        PayoutServiceOptions
	now         func() time.Time
}

// NewPayoutService 创建打款编排服务
func NewPayoutService(
	requestRepo repository.EarlyPayRequestRepository,
	brokerRepo repository.BrokerRepository,
	truckerRepo repository.TruckerRepository,
	auditRepo repository.PayoutAuditRepository,
	ledger *EarningsLedger,
	gateway PayoutGateway,
	opts PayoutServiceOptions,
) *PayoutService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultPayoutLockTTL
	}
	return &PayoutService{
		requestRepo: requestRepo,
		brokerRepo:  brokerRepo,
		truckerRepo: truckerRepo,
		auditRepo:   auditRepo,
		ledger:      ledger,
		gateway:     gateway,
		opts:        opts,
		now:         time.Now,
	}
}

// PayoutSubmitResult 打款提交结果
type PayoutSubmitResult struct {
	Success   bool                   `json:"success"`
	RequestID uint                   `json:"request_id"`
	BatchID   string                 `json:"batch_id"`
	Amount    models.Money           `json:"amount"`
	Recipient string                 `json:"recipient"`
	Method    constants.PayoutMethod `json:"method"`
}

// SubmitPayout 向网关提交打款，受理后在同一事务内完成放款、经纪商累计、抵扣额度与收益计提
func (s *PayoutService) SubmitPayout(ctx context.Context, requestID uint) (*PayoutSubmitResult, error) {
	req, err := s.requestRepo.GetByID(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	if req.Status == constants.RequestStatusFunded {
		return nil, ErrAlreadyFunded
	}
	if req.Status != constants.RequestStatusApproved {
		return nil, fmt.Errorf("%w: status is %s", ErrNotApproved, req.Status)
	}
	trucker, err := s.truckerRepo.GetByID(req.TruckerID)
	if err != nil {
		return nil, err
	}
	if trucker == nil {
		return nil, ErrTruckerNotFound
	}
	method, recipient := trucker.PayoutMethod, trucker.PayoutDestination()
	reuse := req.PayoutStatus == constants.PayoutStatusPending && req.SubmissionKey != ""
	if reuse && req.PayoutRecipient != "" {
		method, recipient = req.PayoutMethod, req.PayoutRecipient
	}
	if method == constants.PayoutMethodManual || recipient == "" {
		return nil, ErrPayoutMethodMissing
	}
	if !req.AmountToTrucker.IsPositive() {
		return nil, ErrInvalidPayoutAmount
	}
	if s.gateway == nil {
		return nil, ErrGatewayNotConfigured
	}

	release, lockErr := cache.ObtainLock(ctx, "payout:request:"+strconv.FormatUint(uint64(req.ID), 10), s.opts.LockTTL)
	if errors.Is(lockErr, cache.ErrLockNotObtained) {
		return nil, ErrPayoutInProgress
	}
	if lockErr != nil {
		logger.Warnw("payout_lock_unavailable", "request_id", req.ID, "error", lockErr)
	}
	defer release()

	key, err := s.claimSubmission(req, reuse, method, recipient)
	if err != nil {
		return nil, err
	}

	transfer, err := s.gateway.SubmitTransfer(ctx, paypal.TransferInput{
		IdempotencyKey: key,
		ItemID:         strconv.FormatUint(uint64(req.ID), 10),
		Receiver:       recipient,
		Wallet:         walletFor(method),
		Amount:         req.AmountToTrucker.String(),
		Currency:       s.opts.Currency,
		Note:           "Early pay for load " + req.LoadReference,
	})
	if err != nil {
		return nil, s.handleSubmitError(req, key, reuse, err)
	}

	if err := s.CommitAcceptedTransfer(ctx, req.ID, key, transfer.BatchID); err != nil {
		logger.Errorw("payout_funding_commit_failed",
			"request_id", req.ID,
			"batch_id", transfer.BatchID,
			"error", err,
		)
		s.flag(req.ID, nil, constants.ReviewReasonStuckPending, "transfer accepted but funding commit failed: "+err.Error())
		return nil, err
	}
	logger.Infow("payout_submit_accepted",
		"request_id", req.ID,
		"batch_id", transfer.BatchID,
		"batch_status", transfer.BatchStatus,
		"amount", req.AmountToTrucker.String(),
		"method", method,
	)
	return &PayoutSubmitResult{
		Success:   true,
		RequestID: req.ID,
		BatchID:   transfer.BatchID,
		Amount:    req.AmountToTrucker,
		Recipient: recipient,
		Method:    method,
	}, nil
}

// claimSubmission 外呼前持久化幂等键：结果未知的 pending 复用原键，none/failed 生成新键
func (s *PayoutService) claimSubmission(req *models.EarlyPayRequest, reuse bool, method constants.PayoutMethod, recipient string) (string, error) {
	now := s.now()
	if reuse {
		key := req.SubmissionKey
		ok, err := s.requestRepo.UpdateIf(req.ID, repository.RequestCondition{
			Statuses:       []constants.RequestStatus{constants.RequestStatusApproved},
			PayoutStatuses: []constants.PayoutStatus{constants.PayoutStatusPending},
			SubmissionKey:  &key,
		}, map[string]interface{}{
			"payout_submitted_at": now,
			"updated_at":          now,
		})
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrPayoutInProgress
		}
		return key, nil
	}
	if req.PayoutStatus != constants.PayoutStatusNone && req.PayoutStatus != constants.PayoutStatusFailed {
		return "", fmt.Errorf("%w: payout status is %s", ErrPayoutInProgress, req.PayoutStatus)
	}
	key := fmt.Sprintf("%s_%d_%d", constants.PayoutBatchIDPrefix, req.ID, now.UnixMilli())
	ok, err := s.requestRepo.UpdateIf(req.ID, repository.RequestCondition{
		Statuses:       []constants.RequestStatus{constants.RequestStatusApproved},
		PayoutStatuses: []constants.PayoutStatus{constants.PayoutStatusNone, constants.PayoutStatusFailed},
	}, map[string]interface{}{
		"payout_status":       constants.PayoutStatusPending,
		"payout_error":        "",
		"submission_key":      key,
		"payout_method":       method,
		"payout_recipient":    recipient,
		"payout_submitted_at": now,
		"updated_at":          now,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrPayoutInProgress
	}
	return key, nil
}

// handleSubmitError 区分明确拒绝与结果未知；未知结果保持 pending。
// 重放原幂等键被拒绝时首笔可能已出款，不能置 failed（否则下次会生成新键），保持 pending 并转人工复核。
func (s *PayoutService) handleSubmitError(req *models.EarlyPayRequest, key string, replay bool, err error) error {
	if isGatewayRejection(err) && replay {
		logger.Warnw("payout_submit_replay_rejected",
			"request_id", req.ID,
			"submission_key", key,
			"error", err,
		)
		s.flag(req.ID, nil, constants.ReviewReasonStuckPending,
			"replay of submission "+key+" rejected: "+truncateText(err.Error(), 200))
		return fmt.Errorf("%w: %v", ErrReplayRejected, err)
	}
	if isGatewayRejection(err) {
		now := s.now()
		ok, updateErr := s.requestRepo.UpdateIf(req.ID, repository.RequestCondition{
			Statuses:       []constants.RequestStatus{constants.RequestStatusApproved},
			PayoutStatuses: []constants.PayoutStatus{constants.PayoutStatusPending},
			SubmissionKey:  &key,
		}, map[string]interface{}{
			"payout_status": constants.PayoutStatusFailed,
			"payout_error":  truncateText(err.Error(), 1000),
			"updated_at":    now,
		})
		if updateErr != nil {
			return updateErr
		}
		logger.Warnw("payout_submit_rejected",
			"request_id", req.ID,
			"submission_key", key,
			"persisted", ok,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	logger.Warnw("payout_submit_outcome_unknown",
		"request_id", req.ID,
		"submission_key", key,
		"error", err,
	)
	return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
}

// CommitAcceptedTransfer 网关受理后的放款提交，按 submission_key 条件更新，重复调用幂等
func (s *PayoutService) CommitAcceptedTransfer(_ context.Context, requestID uint, submissionKey, batchID string) error {
	now := s.now()
	shortfall := decimal.Zero
	alreadyFunded := false
	err := s.requestRepo.Transaction(func(tx *gorm.DB) error {
		requestRepo := s.requestRepo.WithTx(tx)
		req, err := requestRepo.GetByID(requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrRequestNotFound
		}
		if req.Status == constants.RequestStatusFunded {
			if req.BatchID() == batchID {
				alreadyFunded = true
				return nil
			}
			return fmt.Errorf("%w: funded with batch %s", ErrFundingCommitConflict, req.BatchID())
		}
		condition := repository.RequestCondition{
			Statuses: []constants.RequestStatus{constants.RequestStatusApproved},
		}
		if submissionKey != "" {
			condition.SubmissionKey = &submissionKey
		}
		ok, err := requestRepo.UpdateIf(req.ID, condition, map[string]interface{}{
			"status":          constants.RequestStatusFunded,
			"funded_at":       now,
			"payout_batch_id": batchID,
			"updated_at":      now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrFundingCommitConflict
		}

		broker, err := s.brokerRepo.WithTx(tx).GetByID(req.BrokerID)
		if err != nil {
			return err
		}
		if broker == nil {
			return ErrBrokerNotFound
		}
		if err := s.brokerRepo.WithTx(tx).IncrementTotalEarned(broker.ID, req.BrokerFee.Decimal, now); err != nil {
			return err
		}

		if req.CreditApplied.IsPositive() {
			missing, err := s.consumeCredit(tx, req, now)
			if err != nil {
				return err
			}
			shortfall = missing
		}

		if broker.Tier == constants.BrokerTierFree && broker.ReferredByTruckerID != nil && s.ledger != nil {
			accrual, err := s.ledger.AccrueBrokerFreeFeeEarning(tx, AccrualInput{
				BeneficiaryTruckerID: *broker.ReferredByTruckerID,
				BrokerID:             broker.ID,
				RequestID:            req.ID,
				SourceTruckerID:      req.TruckerID,
				TransactionAmount:    req.AmountRequested.Decimal,
				CollectedAt:          now,
			})
			if err != nil {
				return err
			}
			logger.Infow("payout_funding_accrued",
				"request_id", req.ID,
				"beneficiary_trucker_id", *broker.ReferredByTruckerID,
				"amount", accrual.Amount.StringFixed(2),
				"capped", accrual.Capped,
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if alreadyFunded {
		logger.Infow("payout_funding_already_committed", "request_id", requestID, "batch_id", batchID)
		return nil
	}
	if shortfall.IsPositive() {
		s.flag(requestID, nil, constants.ReviewReasonCreditShortfall,
			"credit re-priced at funding, platform fee increased by "+shortfall.StringFixed(2))
	}
	return nil
}

// consumeCredit 条件扣减抵扣额度，余额不足时按剩余额度重新定价平台费，返回差额
func (s *PayoutService) consumeCredit(tx *gorm.DB, req *models.EarlyPayRequest, now time.Time) (decimal.Decimal, error) {
	truckerRepo := s.truckerRepo.WithTx(tx)
	credit := req.CreditApplied.Decimal
	ok, err := truckerRepo.ConsumeCredit(req.TruckerID, credit, now)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return decimal.Zero, nil
	}
	trucker, err := truckerRepo.GetByID(req.TruckerID)
	if err != nil {
		return decimal.Zero, err
	}
	if trucker == nil {
		return decimal.Zero, ErrTruckerNotFound
	}
	available := decimal.Max(decimal.Zero, decimal.Min(credit, trucker.BonusCreditRemaining.Decimal))
	if available.IsPositive() {
		ok, err := truckerRepo.ConsumeCredit(req.TruckerID, available, now)
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			available = decimal.Zero
		}
	}
	missing := credit.Sub(available)
	platformFee := req.PlatformFee.Decimal.Add(missing)
	if _, err := s.requestRepo.WithTx(tx).UpdateIf(req.ID, repository.RequestCondition{}, map[string]interface{}{
		"credit_applied": models.NewMoneyFromDecimal(available),
		"platform_fee":   models.NewMoneyFromDecimal(platformFee),
		"total_fee":      models.NewMoneyFromDecimal(req.BrokerFee.Decimal.Add(platformFee)),
		"updated_at":     now,
	}); err != nil {
		return decimal.Zero, err
	}
	logger.Warnw("payout_credit_shortfall",
		"request_id", req.ID,
		"trucker_id", req.TruckerID,
		"quoted_credit", credit.StringFixed(2),
		"applied_credit", available.StringFixed(2),
	)
	return missing, nil
}

func (s *PayoutService) flag(requestID uint, payoutID *uint, reason, detail string) {
	if s.auditRepo == nil {
		return
	}
	flagReviewSubject(s.auditRepo, requestID, payoutID, reason, detail, s.now())
}

// flagReviewSubject 写入人工复核标记，失败只记录日志
func flagReviewSubject(auditRepo repository.PayoutAuditRepository, requestID uint, payoutID *uint, reason, detail string, now time.Time) {
	if auditRepo == nil {
		return
	}
	flag := &models.PayoutReviewFlag{
		Reason:      reason,
		Detail:      truncateText(detail, 1000),
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	if payoutID != nil {
		flag.SubjectKey = "earnings:" + strconv.FormatUint(uint64(*payoutID), 10)
		flag.PayoutID = payoutID
	} else {
		id := requestID
		flag.SubjectKey = "request:" + strconv.FormatUint(uint64(requestID), 10)
		flag.RequestID = &id
	}
	if err := auditRepo.UpsertReviewFlag(flag); err != nil {
		logger.Errorw("payout_review_flag_failed",
			"subject", flag.SubjectKey,
			"reason", reason,
			"error", err,
		)
		return
	}
	logger.Warnw("payout_review_flagged", "subject", flag.SubjectKey, "reason", reason, "detail", flag.Detail)
}

// isGatewayRejection 明确拒绝（未产生转账）；超时、传输失败、响应不完整视为结果未知
func isGatewayRejection(err error) bool {
	return errors.Is(err, paypal.ErrTransferRejected) ||
		errors.Is(err, paypal.ErrAuthFailed) ||
		errors.Is(err, paypal.ErrConfigInvalid)
}

func walletFor(method constants.PayoutMethod) string {
	if method == constants.PayoutMethodVenmo {
		return paypal.WalletVenmo
	}
	return paypal.WalletPayPal
}

func truncateText(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
