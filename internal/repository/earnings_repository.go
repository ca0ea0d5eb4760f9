package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EarningsBalanceAggregate 收益余额汇总
type EarningsBalanceAggregate struct {
	Pending  decimal.Decimal
	Payable  decimal.Decimal
	Reserved decimal.Decimal
}

// EarningsRepository 收益流水数据访问接口
type EarningsRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) EarningsRepository

	EnsureMonthlyCap(truckerID, brokerID uint, month string, now time.Time) (*models.EarningsMonthlyCap, error)
	CompareAndSwapMonthlyCap(id uint, expectedVersion int64, newTotal decimal.Decimal, now time.Time) (bool, error)

	CreateEntry(entry *models.EarningsLedgerEntry) error
	GetEntryBySource(truckerID uint, sourceType constants.EarningSourceType, requestID uint) (*models.EarningsLedgerEntry, error)
	ListEntriesByRequest(requestID uint) ([]models.EarningsLedgerEntry, error)
	ListEntriesBySourceEntries(sourceEntryIDs []uint) ([]models.EarningsLedgerEntry, error)
	ClawBackEntry(id uint, reason string, now time.Time) (bool, error)
	MarkDueEntriesPayable(before, now time.Time, truckerID uint) (int64, error)
	SumBalanceByTrucker(truckerID uint) (EarningsBalanceAggregate, error)
	ListEntries(filter EarningsEntryListFilter) ([]models.EarningsLedgerEntry, int64, error)

	ListPayableUnreservedForUpdate(truckerID uint) ([]models.EarningsLedgerEntry, error)
	ReserveEntries(ids []uint, payoutID uint, now time.Time) (int64, error)
	ReleaseEntries(payoutID uint, now time.Time) (int64, error)
	MarkReservedPaid(payoutID uint, now time.Time) (int64, error)

	CreatePayout(payout *models.EarningsPayout) error
	GetPayoutByID(id uint) (*models.EarningsPayout, error)
	GetPayoutByBatchID(batchID string) (*models.EarningsPayout, error)
	UpdatePayoutIf(id uint, statuses []string, updates map[string]interface{}) (bool, error)
	ListStuckPayouts(submittedBefore time.Time, limit int) ([]models.EarningsPayout, error)
}

// GormEarningsRepository GORM 收益流水仓储
type GormEarningsRepository struct {
	db *gorm.DB
}

// NewEarningsRepository 创建收益流水仓储
func NewEarningsRepository(db *gorm.DB) *GormEarningsRepository {
	return &GormEarningsRepository{db: db}
}

// WithTx 绑定事务
func (r *GormEarningsRepository) WithTx(tx *gorm.DB) EarningsRepository {
	if tx == nil {
		return r
	}
	return &GormEarningsRepository{db: tx}
}

// Transaction 执行事务
func (r *GormEarningsRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// EnsureMonthlyCap 获取（不存在则创建）月度累计行
func (r *GormEarningsRepository) EnsureMonthlyCap(truckerID, brokerID uint, month string, now time.Time) (*models.EarningsMonthlyCap, error) {
	row := models.EarningsMonthlyCap{
		TruckerID: truckerID,
		BrokerID:  brokerID,
		Month:     month,
		Total:     models.ZeroMoney(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trucker_id"}, {Name: "broker_id"}, {Name: "month"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	var current models.EarningsMonthlyCap
	if err := r.db.Where("trucker_id = ? AND broker_id = ? AND month = ?", truckerID, brokerID, month).
		First(&current).Error; err != nil {
		return nil, err
	}
	return &current, nil
}

// CompareAndSwapMonthlyCap 按版本号写入新的月度累计，版本不符时返回 false
func (r *GormEarningsRepository) CompareAndSwapMonthlyCap(id uint, expectedVersion int64, newTotal decimal.Decimal, now time.Time) (bool, error) {
	if id == 0 {
		return false, nil
	}
	result := r.db.Model(&models.EarningsMonthlyCap{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"total":      models.NewMoneyFromDecimal(newTotal),
			"version":    expectedVersion + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CreateEntry 追加收益条目
func (r *GormEarningsRepository) CreateEntry(entry *models.EarningsLedgerEntry) error {
	return r.db.Create(entry).Error
}

// GetEntryBySource 按来源获取收益条目
func (r *GormEarningsRepository) GetEntryBySource(truckerID uint, sourceType constants.EarningSourceType, requestID uint) (*models.EarningsLedgerEntry, error) {
	if truckerID == 0 || requestID == 0 {
		return nil, nil
	}
	var entry models.EarningsLedgerEntry
	if err := r.db.Where("trucker_id = ? AND source_type = ? AND request_id = ?", truckerID, sourceType, requestID).
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListEntriesByRequest 查询申请产生的全部收益条目
func (r *GormEarningsRepository) ListEntriesByRequest(requestID uint) ([]models.EarningsLedgerEntry, error) {
	if requestID == 0 {
		return []models.EarningsLedgerEntry{}, nil
	}
	var rows []models.EarningsLedgerEntry
	if err := r.db.Where("request_id = ?", requestID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListEntriesBySourceEntries 查询由指定条目级联产生的条目
func (r *GormEarningsRepository) ListEntriesBySourceEntries(sourceEntryIDs []uint) ([]models.EarningsLedgerEntry, error) {
	if len(sourceEntryIDs) == 0 {
		return []models.EarningsLedgerEntry{}, nil
	}
	var rows []models.EarningsLedgerEntry
	if err := r.db.Where("source_entry_id IN ?", sourceEntryIDs).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ClawBackEntry 追回未支付且未被提现占用的条目
func (r *GormEarningsRepository) ClawBackEntry(id uint, reason string, now time.Time) (bool, error) {
	if id == 0 {
		return false, nil
	}
	result := r.db.Model(&models.EarningsLedgerEntry{}).
		Where("id = ? AND status IN ? AND payout_id IS NULL", id,
			[]constants.EarningStatus{constants.EarningStatusPending, constants.EarningStatusPayable}).
		Updates(map[string]interface{}{
			"status":          constants.EarningStatusClawedBack,
			"clawed_back_at":  now,
			"clawback_reason": reason,
			"updated_at":      now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkDueEntriesPayable 将到期条目转为可付，truckerID 为 0 时处理全部司机
func (r *GormEarningsRepository) MarkDueEntriesPayable(before, now time.Time, truckerID uint) (int64, error) {
	query := r.db.Model(&models.EarningsLedgerEntry{}).
		Where("status = ? AND becomes_payable_at <= ?", constants.EarningStatusPending, before)
	if truckerID != 0 {
		query = query.Where("trucker_id = ?", truckerID)
	}
	result := query.Updates(map[string]interface{}{
		"status":     constants.EarningStatusPayable,
		"updated_at": now,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// SumBalanceByTrucker 汇总司机收益余额
func (r *GormEarningsRepository) SumBalanceByTrucker(truckerID uint) (EarningsBalanceAggregate, error) {
	agg := EarningsBalanceAggregate{Pending: decimal.Zero, Payable: decimal.Zero, Reserved: decimal.Zero}
	if truckerID == 0 {
		return agg, nil
	}
	var rows []struct {
		Status   string          `gorm:"column:status"`
		Reserved bool            `gorm:"column:reserved"`
		Total    decimal.Decimal `gorm:"column:total"`
	}
	if err := r.db.Model(&models.EarningsLedgerEntry{}).
		Select("status, CASE WHEN payout_id IS NULL THEN 0 ELSE 1 END AS reserved, COALESCE(SUM(trucker_share), 0) AS total").
		Where("trucker_id = ? AND status IN ?", truckerID,
			[]constants.EarningStatus{constants.EarningStatusPending, constants.EarningStatusPayable}).
		Group("status, CASE WHEN payout_id IS NULL THEN 0 ELSE 1 END").
		Scan(&rows).Error; err != nil {
		return agg, err
	}
	for _, row := range rows {
		total := row.Total.Round(2)
		switch {
		case row.Status == string(constants.EarningStatusPending):
			agg.Pending = agg.Pending.Add(total)
		case row.Reserved:
			agg.Reserved = agg.Reserved.Add(total)
		default:
			agg.Payable = agg.Payable.Add(total)
		}
	}
	return agg, nil
}

// ListEntries 分页查询收益条目
func (r *GormEarningsRepository) ListEntries(filter EarningsEntryListFilter) ([]models.EarningsLedgerEntry, int64, error) {
	query := r.db.Model(&models.EarningsLedgerEntry{})
	if filter.TruckerID != 0 {
		query = query.Where("trucker_id = ?", filter.TruckerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.SourceType != "" {
		query = query.Where("source_type = ?", filter.SourceType)
	}
	if filter.CollectedFrom != nil {
		query = query.Where("collected_at >= ?", *filter.CollectedFrom)
	}
	if filter.CollectedTo != nil {
		query = query.Where("collected_at < ?", *filter.CollectedTo)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)
	var rows []models.EarningsLedgerEntry
	if err := query.Order("collected_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListPayableUnreservedForUpdate 查询并锁定可提现条目
func (r *GormEarningsRepository) ListPayableUnreservedForUpdate(truckerID uint) ([]models.EarningsLedgerEntry, error) {
	if truckerID == 0 {
		return []models.EarningsLedgerEntry{}, nil
	}
	var rows []models.EarningsLedgerEntry
	if err := lockForUpdate(r.db).
		Where("trucker_id = ? AND status = ? AND payout_id IS NULL", truckerID, constants.EarningStatusPayable).
		Order("id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReserveEntries 将条目绑定到提现单
func (r *GormEarningsRepository) ReserveEntries(ids []uint, payoutID uint, now time.Time) (int64, error) {
	if len(ids) == 0 || payoutID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.EarningsLedgerEntry{}).
		Where("id IN ? AND status = ? AND payout_id IS NULL", ids, constants.EarningStatusPayable).
		Updates(map[string]interface{}{
			"payout_id":  payoutID,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ReleaseEntries 解除提现单占用
func (r *GormEarningsRepository) ReleaseEntries(payoutID uint, now time.Time) (int64, error) {
	if payoutID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.EarningsLedgerEntry{}).
		Where("payout_id = ? AND status = ?", payoutID, constants.EarningStatusPayable).
		Updates(map[string]interface{}{
			"payout_id":  nil,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// MarkReservedPaid 将提现单占用的条目标记为已支付
func (r *GormEarningsRepository) MarkReservedPaid(payoutID uint, now time.Time) (int64, error) {
	if payoutID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.EarningsLedgerEntry{}).
		Where("payout_id = ? AND status = ?", payoutID, constants.EarningStatusPayable).
		Updates(map[string]interface{}{
			"status":     constants.EarningStatusPaid,
			"paid_at":    now,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CreatePayout 创建提现单
func (r *GormEarningsRepository) CreatePayout(payout *models.EarningsPayout) error {
	return r.db.Create(payout).Error
}

// GetPayoutByID 按ID获取提现单
func (r *GormEarningsRepository) GetPayoutByID(id uint) (*models.EarningsPayout, error) {
	if id == 0 {
		return nil, nil
	}
	var payout models.EarningsPayout
	if err := r.db.First(&payout, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payout, nil
}

// GetPayoutByBatchID 按网关批次号获取提现单
func (r *GormEarningsRepository) GetPayoutByBatchID(batchID string) (*models.EarningsPayout, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, nil
	}
	var payout models.EarningsPayout
	if err := r.db.Where("batch_id = ?", batchID).First(&payout).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payout, nil
}

// UpdatePayoutIf 按状态条件更新提现单
func (r *GormEarningsRepository) UpdatePayoutIf(id uint, statuses []string, updates map[string]interface{}) (bool, error) {
	if id == 0 || len(updates) == 0 {
		return false, nil
	}
	query := r.db.Model(&models.EarningsPayout{}).Where("id = ?", id)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListStuckPayouts 查询长时间未完成的提现单
func (r *GormEarningsRepository) ListStuckPayouts(submittedBefore time.Time, limit int) ([]models.EarningsPayout, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.EarningsPayout
	if err := r.db.Where("status = ? AND submitted_at IS NOT NULL AND submitted_at <= ?",
		constants.EarningsPayoutStatusPending, submittedBefore).
		Order("submitted_at asc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
