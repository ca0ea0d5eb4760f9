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
	"github.com/bookd-next/internal/queue"
	"github.com/bookd-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EarningsCashOutService 收益提现（payable -> paid）
type EarningsCashOutService struct {
	earningsRepo repository.EarningsRepository
	truckerRepo  repository.TruckerRepository
	gateway      PayoutGateway
	queueClient  *queue.Client
	opts         PayoutServiceOptions
	now          func() time.Time
}

// NewEarningsCashOutService 创建收益提现服务
func NewEarningsCashOutService(
	earningsRepo repository.EarningsRepository,
	truckerRepo repository.TruckerRepository,
	gateway PayoutGateway,
	queueClient *queue.Client,
	opts PayoutServiceOptions,
) *EarningsCashOutService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultPayoutLockTTL
	}
	return &EarningsCashOutService{
		earningsRepo: earningsRepo,
		truckerRepo:  truckerRepo,
		gateway:      gateway,
		queueClient:  queueClient,
		opts:         opts,
		now:          time.Now,
	}
}

// RequestCashOut 锁定司机全部可提现条目并发起一笔提现
func (s *EarningsCashOutService) RequestCashOut(ctx context.Context, truckerID uint) (*models.EarningsPayout, error) {
	trucker, err := s.truckerRepo.GetByID(truckerID)
	if err != nil {
		return nil, err
	}
	if trucker == nil {
		return nil, ErrTruckerNotFound
	}
	recipient := trucker.PayoutDestination()
	if trucker.PayoutMethod == constants.PayoutMethodManual || recipient == "" {
		return nil, ErrPayoutMethodMissing
	}
	if s.gateway == nil {
		return nil, ErrGatewayNotConfigured
	}

	release, lockErr := cache.ObtainLock(ctx, "cashout:trucker:"+strconv.FormatUint(uint64(truckerID), 10), s.opts.LockTTL)
	if errors.Is(lockErr, cache.ErrLockNotObtained) {
		return nil, ErrCashOutInProgress
	}
	if lockErr != nil {
		logger.Warnw("earnings_cashout_lock_unavailable", "trucker_id", truckerID, "error", lockErr)
	}
	defer release()

	now := s.now()
	if _, err := s.earningsRepo.MarkDueEntriesPayable(now, now, truckerID); err != nil {
		return nil, err
	}

	var payout *models.EarningsPayout
	err = s.earningsRepo.Transaction(func(tx *gorm.DB) error {
		repo := s.earningsRepo.WithTx(tx)
		entries, err := repo.ListPayableUnreservedForUpdate(truckerID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		ids := make([]uint, 0, len(entries))
		for _, entry := range entries {
			total = total.Add(entry.TruckerShare.Decimal)
			ids = append(ids, entry.ID)
		}
		if !total.IsPositive() {
			return ErrNoPayableBalance
		}
		row := &models.EarningsPayout{
			TruckerID:   truckerID,
			Amount:      models.NewMoneyFromDecimal(total),
			Status:      constants.EarningsPayoutStatusPending,
			Method:      string(trucker.PayoutMethod),
			Recipient:   recipient,
			SubmittedAt: &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.CreatePayout(row); err != nil {
			return err
		}
		row.SubmissionKey = fmt.Sprintf("%s_%d_%d", constants.EarningsBatchIDPrefix, row.ID, now.UnixMilli())
		if _, err := repo.UpdatePayoutIf(row.ID, nil, map[string]interface{}{"submission_key": row.SubmissionKey}); err != nil {
			return err
		}
		reserved, err := repo.ReserveEntries(ids, row.ID, now)
		if err != nil {
			return err
		}
		if reserved != int64(len(ids)) {
			return ErrCashOutInProgress
		}
		payout = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("earnings_cashout_created",
		"payout_id", payout.ID,
		"trucker_id", truckerID,
		"amount", payout.Amount.String(),
	)

	if s.queueClient != nil && s.queueClient.Enabled() {
		err := s.queueClient.EnqueueEarningsCashOut(queue.EarningsCashOutPayload{PayoutID: payout.ID})
		if err == nil {
			return payout, nil
		}
		logger.Warnw("earnings_cashout_enqueue_failed", "payout_id", payout.ID, "error", err)
	}
	submitted, err := s.SubmitCashOut(ctx, payout.ID)
	if errors.Is(err, ErrGatewayTimeout) {
		return s.earningsRepo.GetPayoutByID(payout.ID)
	}
	return submitted, err
}

// SubmitCashOut 以固定幂等键向网关提交提现，可安全重试
func (s *EarningsCashOutService) SubmitCashOut(ctx context.Context, payoutID uint) (*models.EarningsPayout, error) {
	payout, err := s.earningsRepo.GetPayoutByID(payoutID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, ErrEarningsPayoutMissing
	}
	if payout.Status != constants.EarningsPayoutStatusPending || (payout.BatchID != nil && *payout.BatchID != "") {
		return payout, nil
	}
	if s.gateway == nil {
		return nil, ErrGatewayNotConfigured
	}
	now := s.now()
	if _, err := s.earningsRepo.UpdatePayoutIf(payout.ID, []string{constants.EarningsPayoutStatusPending}, map[string]interface{}{
		"submitted_at": now,
		"updated_at":   now,
	}); err != nil {
		return nil, err
	}

	wallet := paypal.WalletPayPal
	if payout.Method == string(constants.PayoutMethodVenmo) {
		wallet = paypal.WalletVenmo
	}
	transfer, err := s.gateway.SubmitTransfer(ctx, paypal.TransferInput{
		IdempotencyKey: payout.SubmissionKey,
		ItemID:         constants.EarningsItemIDPrefix + strconv.FormatUint(uint64(payout.ID), 10),
		Receiver:       payout.Recipient,
		Wallet:         wallet,
		Amount:         payout.Amount.String(),
		Currency:       s.opts.Currency,
		Note:           "Referral earnings payout",
	})
	if err != nil {
		if isGatewayRejection(err) {
			if _, applyErr := s.ApplyPayoutStatus(payout.ID, paypal.StatusFailed, truncateText(err.Error(), 1000)); applyErr != nil {
				return nil, applyErr
			}
			logger.Warnw("earnings_cashout_rejected", "payout_id", payout.ID, "error", err)
			refreshed, _ := s.earningsRepo.GetPayoutByID(payout.ID)
			return refreshed, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}
		logger.Warnw("earnings_cashout_outcome_unknown", "payout_id", payout.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	batchID := transfer.BatchID
	if _, err := s.earningsRepo.UpdatePayoutIf(payout.ID, []string{constants.EarningsPayoutStatusPending}, map[string]interface{}{
		"batch_id":   batchID,
		"updated_at": s.now(),
	}); err != nil {
		return nil, err
	}
	logger.Infow("earnings_cashout_accepted",
		"payout_id", payout.ID,
		"batch_id", batchID,
		"amount", payout.Amount.String(),
	)
	return s.earningsRepo.GetPayoutByID(payout.ID)
}

// ApplyPayoutStatus 落地提现结果：成功则条目记为已支付，失败则释放条目
func (s *EarningsCashOutService) ApplyPayoutStatus(payoutID uint, target, message string) (string, error) {
	payout, err := s.earningsRepo.GetPayoutByID(payoutID)
	if err != nil {
		return "", err
	}
	if payout == nil {
		return "", ErrEarningsPayoutMissing
	}
	if payout.Status != constants.EarningsPayoutStatusPending {
		if payout.Status == target {
			return constants.WebhookOutcomeNoop, nil
		}
		logger.Warnw("earnings_cashout_event_discarded",
			"payout_id", payout.ID,
			"current_status", payout.Status,
			"target_status", target,
		)
		return constants.WebhookOutcomeDiscardedStale, nil
	}

	now := s.now()
	switch target {
	case paypal.StatusUnclaimed:
		if _, err := s.earningsRepo.UpdatePayoutIf(payout.ID, []string{constants.EarningsPayoutStatusPending}, map[string]interface{}{
			"error":      message,
			"updated_at": now,
		}); err != nil {
			return "", err
		}
		return constants.WebhookOutcomeApplied, nil
	case paypal.StatusSuccess, paypal.StatusFailed:
	default:
		return constants.WebhookOutcomeIgnoredType, nil
	}

	applied := false
	err = s.earningsRepo.Transaction(func(tx *gorm.DB) error {
		repo := s.earningsRepo.WithTx(tx)
		updates := map[string]interface{}{
			"status":       target,
			"completed_at": now,
			"updated_at":   now,
		}
		if target == paypal.StatusFailed {
			updates["error"] = message
		}
		ok, err := repo.UpdatePayoutIf(payout.ID, []string{constants.EarningsPayoutStatusPending}, updates)
		if err != nil || !ok {
			return err
		}
		applied = true
		if target == paypal.StatusSuccess {
			_, err = repo.MarkReservedPaid(payout.ID, now)
		} else {
			_, err = repo.ReleaseEntries(payout.ID, now)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	if !applied {
		return constants.WebhookOutcomeNoop, nil
	}
	logger.Infow("earnings_cashout_settled",
		"payout_id", payout.ID,
		"trucker_id", payout.TruckerID,
		"status", target,
	)
	return constants.WebhookOutcomeApplied, nil
}

// FindPayoutByBatchID 按批次号查找提现单
func (s *EarningsCashOutService) FindPayoutByBatchID(batchID string) (*models.EarningsPayout, error) {
	return s.earningsRepo.GetPayoutByBatchID(batchID)
}
