package service

import (
	"fmt"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EarningsLedger 推荐收益台账
type EarningsLedger struct {
	repo        repository.EarningsRepository
	truckerRepo repository.TruckerRepository
	policy      SettlementPolicy
	now         func() time.Time
}

// NewEarningsLedger 创建收益台账
func NewEarningsLedger(repo repository.EarningsRepository, truckerRepo repository.TruckerRepository, policy SettlementPolicy) *EarningsLedger {
	return &EarningsLedger{
		repo:        repo,
		truckerRepo: truckerRepo,
		policy:      policy,
		now:         time.Now,
	}
}

// AccrualInput 经纪商免费套餐收益计提输入
type AccrualInput struct {
	BeneficiaryTruckerID uint
	BrokerID             uint
	RequestID            uint
	SourceTruckerID      uint
	TransactionAmount    decimal.Decimal
	CollectedAt          time.Time
}

// AccrualResult 计提结果，Capped 表示受月度上限截断（含截断为 0）
type AccrualResult struct {
	Entry          *models.EarningsLedgerEntry
	RecruiterBonus *models.EarningsLedgerEntry
	Amount         decimal.Decimal
	RawShare       decimal.Decimal
	Capped         bool
	Existing       bool
}

// EarningsBalance 司机收益余额
type EarningsBalance struct {
	TruckerID uint         `json:"trucker_id"`
	Pending   models.Money `json:"pending"`
	Payable   models.Money `json:"payable"`
	Reserved  models.Money `json:"reserved"`
	Total     models.Money `json:"total"`
}

// ClawbackResult 追回结果
type ClawbackResult struct {
	RequestID  uint   `json:"request_id"`
	ClawedBack []uint `json:"clawed_back"`
	Skipped    []uint `json:"skipped"`
}

// AccrueBrokerFreeFeeEarning 在调用方事务内计提收益，月度上限通过版本号 CAS 串行化
func (l *EarningsLedger) AccrueBrokerFreeFeeEarning(tx *gorm.DB, input AccrualInput) (*AccrualResult, error) {
	if input.BeneficiaryTruckerID == 0 || input.BrokerID == 0 || input.RequestID == 0 {
		return nil, fmt.Errorf("%w: accrual references are required", ErrInvalidInput)
	}
	if !input.TransactionAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	repo := l.repo.WithTx(tx)
	collectedAt := input.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = l.now()
	}

	existing, err := repo.GetEntryBySource(input.BeneficiaryTruckerID, constants.EarningSourceBrokerFreeFee, input.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &AccrualResult{Entry: existing, Amount: existing.TruckerShare.Decimal, RawShare: existing.TruckerShare.Decimal, Existing: true}, nil
	}

	grossFee := input.TransactionAmount.Mul(l.policy.EarningsBasisRate).Round(2)
	rawShare := grossFee.Mul(l.policy.TruckerShareRate).Round(2)
	result := &AccrualResult{RawShare: rawShare, Amount: decimal.Zero}
	month := monthKey(collectedAt)

	share := decimal.Zero
	swapped := false
	for attempt := 0; attempt < l.capRetries(); attempt++ {
		row, err := repo.EnsureMonthlyCap(input.BeneficiaryTruckerID, input.BrokerID, month, collectedAt)
		if err != nil {
			return nil, err
		}
		remaining := l.policy.MonthlyCap.Sub(row.Total.Decimal)
		share = decimal.Max(decimal.Zero, decimal.Min(rawShare, remaining))
		if !share.IsPositive() {
			result.Capped = true
			logger.Infow("earnings_accrual_capped",
				"trucker_id", input.BeneficiaryTruckerID,
				"broker_id", input.BrokerID,
				"request_id", input.RequestID,
				"month", month,
				"month_total", row.Total.String(),
			)
			return result, nil
		}
		ok, err := repo.CompareAndSwapMonthlyCap(row.ID, row.Version, row.Total.Decimal.Add(share), collectedAt)
		if err != nil {
			return nil, err
		}
		if ok {
			swapped = true
			break
		}
		logger.Debugw("earnings_cap_cas_retry",
			"trucker_id", input.BeneficiaryTruckerID,
			"broker_id", input.BrokerID,
			"month", month,
			"attempt", attempt+1,
		)
	}
	if !swapped {
		return nil, ErrCapConflict
	}

	requestID := input.RequestID
	brokerID := input.BrokerID
	entry := &models.EarningsLedgerEntry{
		TruckerID:        input.BeneficiaryTruckerID,
		SourceType:       constants.EarningSourceBrokerFreeFee,
		RequestID:        &requestID,
		BrokerID:         &brokerID,
		GrossAmount:      models.NewMoneyFromDecimal(grossFee),
		TruckerShare:     models.NewMoneyFromDecimal(share),
		Status:           constants.EarningStatusPending,
		CollectedAt:      collectedAt,
		BecomesPayableAt: collectedAt.Add(l.policy.MaturationPeriod),
		CreatedAt:        collectedAt,
		UpdatedAt:        collectedAt,
	}
	if input.SourceTruckerID != 0 {
		sourceTruckerID := input.SourceTruckerID
		entry.SourceTruckerID = &sourceTruckerID
	}
	if err := repo.CreateEntry(entry); err != nil {
		return nil, err
	}
	result.Entry = entry
	result.Amount = share
	result.Capped = share.LessThan(rawShare)

	bonus, err := l.AccrueRecruiterBonus(tx, entry)
	if err != nil {
		return nil, err
	}
	result.RecruiterBonus = bonus
	return result, nil
}

// AccrueRecruiterBonus 为受益司机的推荐人追加一级奖励，不受月度上限约束，不再继续级联
func (l *EarningsLedger) AccrueRecruiterBonus(tx *gorm.DB, source *models.EarningsLedgerEntry) (*models.EarningsLedgerEntry, error) {
	if source == nil || source.SourceType != constants.EarningSourceBrokerFreeFee || source.RequestID == nil {
		return nil, nil
	}
	trucker, err := l.truckerRepo.WithTx(tx).GetByID(source.TruckerID)
	if err != nil {
		return nil, err
	}
	if trucker == nil || trucker.RecruiterID == nil || *trucker.RecruiterID == 0 || *trucker.RecruiterID == source.TruckerID {
		return nil, nil
	}
	bonus := source.TruckerShare.Decimal.Mul(l.policy.RecruiterBonusRate).Round(2)
	if !bonus.IsPositive() {
		return nil, nil
	}
	repo := l.repo.WithTx(tx)
	existing, err := repo.GetEntryBySource(*trucker.RecruiterID, constants.EarningSourceRecruiterBonus, *source.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	requestID := *source.RequestID
	sourceTruckerID := source.TruckerID
	sourceEntryID := source.ID
	entry := &models.EarningsLedgerEntry{
		TruckerID:        *trucker.RecruiterID,
		SourceType:       constants.EarningSourceRecruiterBonus,
		RequestID:        &requestID,
		BrokerID:         source.BrokerID,
		SourceTruckerID:  &sourceTruckerID,
		SourceEntryID:    &sourceEntryID,
		GrossAmount:      source.TruckerShare,
		TruckerShare:     models.NewMoneyFromDecimal(bonus),
		Status:           constants.EarningStatusPending,
		CollectedAt:      source.CollectedAt,
		BecomesPayableAt: source.CollectedAt.Add(l.policy.MaturationPeriod),
		CreatedAt:        source.CollectedAt,
		UpdatedAt:        source.CollectedAt,
	}
	if err := repo.CreateEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetPayableBalance 返回司机收益余额，读取前先推进到期条目
func (l *EarningsLedger) GetPayableBalance(truckerID uint) (*EarningsBalance, error) {
	if truckerID == 0 {
		return nil, ErrTruckerNotFound
	}
	now := l.now()
	if _, err := l.repo.MarkDueEntriesPayable(now, now, truckerID); err != nil {
		return nil, err
	}
	agg, err := l.repo.SumBalanceByTrucker(truckerID)
	if err != nil {
		return nil, err
	}
	return &EarningsBalance{
		TruckerID: truckerID,
		Pending:   models.NewMoneyFromDecimal(agg.Pending),
		Payable:   models.NewMoneyFromDecimal(agg.Payable),
		Reserved:  models.NewMoneyFromDecimal(agg.Reserved),
		Total:     models.NewMoneyFromDecimal(agg.Pending.Add(agg.Payable).Add(agg.Reserved)),
	}, nil
}

// MatureDueEntries 将到期的 pending 条目推进为 payable，可重复、可并发执行
func (l *EarningsLedger) MatureDueEntries(now time.Time) (int64, error) {
	if now.IsZero() {
		now = l.now()
	}
	affected, err := l.repo.MarkDueEntriesPayable(now, now, 0)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		logger.Infow("earnings_entries_matured", "count", affected)
	}
	return affected, nil
}

// ClawBackRequestEarnings 追回申请产生的收益及其级联奖励，已支付或已被提现占用的条目跳过
func (l *EarningsLedger) ClawBackRequestEarnings(requestID uint, reason string) (*ClawbackResult, error) {
	if requestID == 0 {
		return nil, ErrRequestNotFound
	}
	result := &ClawbackResult{RequestID: requestID, ClawedBack: []uint{}, Skipped: []uint{}}
	now := l.now()
	err := l.repo.Transaction(func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)
		direct, err := repo.ListEntriesByRequest(requestID)
		if err != nil {
			return err
		}
		sourceIDs := make([]uint, 0, len(direct))
		for _, entry := range direct {
			sourceIDs = append(sourceIDs, entry.ID)
		}
		cascaded, err := repo.ListEntriesBySourceEntries(sourceIDs)
		if err != nil {
			return err
		}
		seen := make(map[uint]struct{}, len(direct)+len(cascaded))
		for _, entry := range append(direct, cascaded...) {
			if _, ok := seen[entry.ID]; ok {
				continue
			}
			seen[entry.ID] = struct{}{}
			if entry.Status == constants.EarningStatusClawedBack {
				continue
			}
			if !constants.CanTransitionEarning(entry.Status, constants.EarningStatusClawedBack) || entry.PayoutID != nil {
				result.Skipped = append(result.Skipped, entry.ID)
				continue
			}
			ok, err := repo.ClawBackEntry(entry.ID, reason, now)
			if err != nil {
				return err
			}
			if !ok {
				result.Skipped = append(result.Skipped, entry.ID)
				continue
			}
			result.ClawedBack = append(result.ClawedBack, entry.ID)
			if entry.SourceType == constants.EarningSourceBrokerFreeFee && entry.BrokerID != nil {
				if err := l.adjustMonthlyCap(repo, entry.TruckerID, *entry.BrokerID, monthKey(entry.CollectedAt), entry.TruckerShare.Decimal.Neg(), now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("earnings_clawback_applied",
		"request_id", requestID,
		"clawed_back", len(result.ClawedBack),
		"skipped", len(result.Skipped),
		"reason", reason,
	)
	return result, nil
}

func (l *EarningsLedger) adjustMonthlyCap(repo repository.EarningsRepository, truckerID, brokerID uint, month string, delta decimal.Decimal, now time.Time) error {
	for attempt := 0; attempt < l.capRetries(); attempt++ {
		row, err := repo.EnsureMonthlyCap(truckerID, brokerID, month, now)
		if err != nil {
			return err
		}
		next := decimal.Max(decimal.Zero, row.Total.Decimal.Add(delta))
		ok, err := repo.CompareAndSwapMonthlyCap(row.ID, row.Version, next, now)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrCapConflict
}

func (l *EarningsLedger) capRetries() int {
	if l.policy.CapMaxRetries <= 0 {
		return defaultCapMaxRetries
	}
	return l.policy.CapMaxRetries
}
