package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/models"

	"gorm.io/gorm"
)

// RequestCondition 条件更新的前置条件，零值字段不参与匹配
type RequestCondition struct {
	Statuses       []constants.RequestStatus
	PayoutStatuses []constants.PayoutStatus
	SubmissionKey  *string
	BrokerID       uint
}

// EarlyPayRequestRepository 提前付款申请数据访问接口
type EarlyPayRequestRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) EarlyPayRequestRepository

	Create(req *models.EarlyPayRequest) error
	GetByID(id uint) (*models.EarlyPayRequest, error)
	GetByBatchID(batchID string) (*models.EarlyPayRequest, error)
	GetBySubmissionKey(key string) (*models.EarlyPayRequest, error)
	UpdateIf(id uint, cond RequestCondition, updates map[string]interface{}) (bool, error)
	CountCreatedByBrokerSince(brokerID uint, since time.Time) (int64, error)
	ListStuckPayouts(submittedBefore time.Time, limit int) ([]models.EarlyPayRequest, error)
	MarkReconciled(id uint, now time.Time) error
	List(filter EarlyPayRequestListFilter) ([]models.EarlyPayRequest, int64, error)
}

// GormEarlyPayRequestRepository GORM 提前付款申请仓储
type GormEarlyPayRequestRepository struct {
	db *gorm.DB
}

// NewEarlyPayRequestRepository 创建提前付款申请仓储
func NewEarlyPayRequestRepository(db *gorm.DB) *GormEarlyPayRequestRepository {
	return &GormEarlyPayRequestRepository{db: db}
}

// WithTx 绑定事务
func (r *GormEarlyPayRequestRepository) WithTx(tx *gorm.DB) EarlyPayRequestRepository {
	if tx == nil {
		return r
	}
	return &GormEarlyPayRequestRepository{db: tx}
}

// Transaction 执行事务
func (r *GormEarlyPayRequestRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// Create 创建申请
func (r *GormEarlyPayRequestRepository) Create(req *models.EarlyPayRequest) error {
	return r.db.Create(req).Error
}

// GetByID 按ID获取申请
func (r *GormEarlyPayRequestRepository) GetByID(id uint) (*models.EarlyPayRequest, error) {
	if id == 0 {
		return nil, nil
	}
	var req models.EarlyPayRequest
	if err := r.db.First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// GetByBatchID 按网关批次号获取申请
func (r *GormEarlyPayRequestRepository) GetByBatchID(batchID string) (*models.EarlyPayRequest, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, nil
	}
	var req models.EarlyPayRequest
	if err := r.db.Where("payout_batch_id = ?", batchID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// GetBySubmissionKey 按打款幂等键获取申请
func (r *GormEarlyPayRequestRepository) GetBySubmissionKey(key string) (*models.EarlyPayRequest, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var req models.EarlyPayRequest
	if err := r.db.Where("submission_key = ?", key).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// UpdateIf 条件更新，返回是否命中
func (r *GormEarlyPayRequestRepository) UpdateIf(id uint, cond RequestCondition, updates map[string]interface{}) (bool, error) {
	if id == 0 || len(updates) == 0 {
		return false, nil
	}
	query := r.db.Model(&models.EarlyPayRequest{}).Where("id = ?", id)
	if len(cond.Statuses) > 0 {
		query = query.Where("status IN ?", cond.Statuses)
	}
	if len(cond.PayoutStatuses) > 0 {
		query = query.Where("payout_status IN ?", cond.PayoutStatuses)
	}
	if cond.SubmissionKey != nil {
		query = query.Where("submission_key = ?", *cond.SubmissionKey)
	}
	if cond.BrokerID != 0 {
		query = query.Where("broker_id = ?", cond.BrokerID)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountCreatedByBrokerSince 统计经纪商自某时间起的申请数
func (r *GormEarlyPayRequestRepository) CountCreatedByBrokerSince(brokerID uint, since time.Time) (int64, error) {
	if brokerID == 0 {
		return 0, nil
	}
	var total int64
	if err := r.db.Model(&models.EarlyPayRequest{}).
		Where("broker_id = ? AND created_at >= ?", brokerID, since).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// ListStuckPayouts 查询长时间处于 pending 的打款，最久未对账的优先
func (r *GormEarlyPayRequestRepository) ListStuckPayouts(submittedBefore time.Time, limit int) ([]models.EarlyPayRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.EarlyPayRequest
	if err := r.db.Where("payout_status = ? AND payout_submitted_at IS NOT NULL AND payout_submitted_at <= ?",
		constants.PayoutStatusPending, submittedBefore).
		Where("last_reconciled_at IS NULL OR last_reconciled_at <= ?", submittedBefore).
		Order("COALESCE(last_reconciled_at, payout_submitted_at) asc").
		Order("id asc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkReconciled 记录对账时间，未结清的行在下一个窗口前不再入选
func (r *GormEarlyPayRequestRepository) MarkReconciled(id uint, now time.Time) error {
	return r.db.Model(&models.EarlyPayRequest{}).Where("id = ?", id).
		UpdateColumn("last_reconciled_at", now).Error
}

// List 分页查询申请
func (r *GormEarlyPayRequestRepository) List(filter EarlyPayRequestListFilter) ([]models.EarlyPayRequest, int64, error) {
	query := r.db.Model(&models.EarlyPayRequest{})
	if filter.TruckerID != 0 {
		query = query.Where("trucker_id = ?", filter.TruckerID)
	}
	if filter.BrokerID != 0 {
		query = query.Where("broker_id = ?", filter.BrokerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PayoutStatus != "" {
		query = query.Where("payout_status = ?", filter.PayoutStatus)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)
	var rows []models.EarlyPayRequest
	if err := query.Order("id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
