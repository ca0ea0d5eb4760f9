package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/bookd-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayoutAuditRepository 回调审计与人工复核数据访问接口
type PayoutAuditRepository interface {
	GetWebhookEvent(eventID string) (*models.PayoutWebhookEvent, error)
	RecordWebhookEvent(event *models.PayoutWebhookEvent) (bool, error)
	UpsertReviewFlag(flag *models.PayoutReviewFlag) error
	ListReviewFlags(filter ReviewFlagListFilter) ([]models.PayoutReviewFlag, int64, error)
	ResolveReviewFlag(id uint, now time.Time) (bool, error)
}

// GormPayoutAuditRepository GORM 回调审计仓储
type GormPayoutAuditRepository struct {
	db *gorm.DB
}

// NewPayoutAuditRepository 创建回调审计仓储
func NewPayoutAuditRepository(db *gorm.DB) *GormPayoutAuditRepository {
	return &GormPayoutAuditRepository{db: db}
}

// GetWebhookEvent 按事件ID获取审计记录
func (r *GormPayoutAuditRepository) GetWebhookEvent(eventID string) (*models.PayoutWebhookEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, nil
	}
	var event models.PayoutWebhookEvent
	if err := r.db.Where("event_id = ?", eventID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// RecordWebhookEvent 写入审计记录，事件ID已存在时返回 false
func (r *GormPayoutAuditRepository) RecordWebhookEvent(event *models.PayoutWebhookEvent) (bool, error) {
	if event == nil || strings.TrimSpace(event.EventID) == "" {
		return false, nil
	}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpsertReviewFlag 新增或刷新复核标记
func (r *GormPayoutAuditRepository) UpsertReviewFlag(flag *models.PayoutReviewFlag) error {
	if flag == nil {
		return nil
	}
	if flag.Occurrences <= 0 {
		flag.Occurrences = 1
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_key"}, {Name: "reason"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"detail":       flag.Detail,
			"last_seen_at": flag.LastSeenAt,
			"occurrences":  gorm.Expr("payout_review_flags.occurrences + 1"),
			"resolved":     false,
			"resolved_at":  nil,
		}),
	}).Create(flag).Error
}

// ListReviewFlags 分页查询复核标记
func (r *GormPayoutAuditRepository) ListReviewFlags(filter ReviewFlagListFilter) ([]models.PayoutReviewFlag, int64, error) {
	query := r.db.Model(&models.PayoutReviewFlag{})
	if filter.Resolved != nil {
		query = query.Where("resolved = ?", *filter.Resolved)
	}
	if reason := strings.TrimSpace(filter.Reason); reason != "" {
		query = query.Where("reason = ?", reason)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)
	var rows []models.PayoutReviewFlag
	if err := query.Order("last_seen_at desc, id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ResolveReviewFlag 标记复核已处理
func (r *GormPayoutAuditRepository) ResolveReviewFlag(id uint, now time.Time) (bool, error) {
	if id == 0 {
		return false, nil
	}
	result := r.db.Model(&models.PayoutReviewFlag{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
