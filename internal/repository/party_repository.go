package repository

import (
	"errors"
	"time"

	"github.com/bookd-next/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BrokerRepository 经纪商数据访问接口
type BrokerRepository interface {
	WithTx(tx *gorm.DB) BrokerRepository
	Create(broker *models.Broker) error
	GetByID(id uint) (*models.Broker, error)
	IncrementTotalEarned(id uint, delta decimal.Decimal, now time.Time) error
}

// GormBrokerRepository GORM 经纪商仓储
type GormBrokerRepository struct {
	db *gorm.DB
}

// NewBrokerRepository 创建经纪商仓储
func NewBrokerRepository(db *gorm.DB) *GormBrokerRepository {
	return &GormBrokerRepository{db: db}
}

// WithTx 绑定事务
func (r *GormBrokerRepository) WithTx(tx *gorm.DB) BrokerRepository {
	if tx == nil {
		return r
	}
	return &GormBrokerRepository{db: tx}
}

// Create 创建经纪商
func (r *GormBrokerRepository) Create(broker *models.Broker) error {
	return r.db.Create(broker).Error
}

// GetByID 按ID获取经纪商
func (r *GormBrokerRepository) GetByID(id uint) (*models.Broker, error) {
	if id == 0 {
		return nil, nil
	}
	var broker models.Broker
	if err := r.db.First(&broker, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &broker, nil
}

// IncrementTotalEarned 原子累加经纪商收取费用
func (r *GormBrokerRepository) IncrementTotalEarned(id uint, delta decimal.Decimal, now time.Time) error {
	if id == 0 || !delta.IsPositive() {
		return nil
	}
	result := r.db.Model(&models.Broker{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_earned": gorm.Expr("total_earned + ?", models.NewMoneyFromDecimal(delta)),
			"updated_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TruckerRepository 司机数据访问接口
type TruckerRepository interface {
	WithTx(tx *gorm.DB) TruckerRepository
	Create(trucker *models.Trucker) error
	GetByID(id uint) (*models.Trucker, error)
	ConsumeCredit(id uint, amount decimal.Decimal, now time.Time) (bool, error)
}

// GormTruckerRepository GORM 司机仓储
type GormTruckerRepository struct {
	db *gorm.DB
}

// NewTruckerRepository 创建司机仓储
func NewTruckerRepository(db *gorm.DB) *GormTruckerRepository {
	return &GormTruckerRepository{db: db}
}

// WithTx 绑定事务
func (r *GormTruckerRepository) WithTx(tx *gorm.DB) TruckerRepository {
	if tx == nil {
		return r
	}
	return &GormTruckerRepository{db: tx}
}

// Create 创建司机
func (r *GormTruckerRepository) Create(trucker *models.Trucker) error {
	return r.db.Create(trucker).Error
}

// GetByID 按ID获取司机
func (r *GormTruckerRepository) GetByID(id uint) (*models.Trucker, error) {
	if id == 0 {
		return nil, nil
	}
	var trucker models.Trucker
	if err := r.db.First(&trucker, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trucker, nil
}

// ConsumeCredit 条件扣减抵扣额度，余额不足时不修改并返回 false
func (r *GormTruckerRepository) ConsumeCredit(id uint, amount decimal.Decimal, now time.Time) (bool, error) {
	if id == 0 || !amount.IsPositive() {
		return true, nil
	}
	value := models.NewMoneyFromDecimal(amount)
	result := r.db.Model(&models.Trucker{}).
		Where("id = ? AND bonus_credit_remaining >= ?", id, value).
		Updates(map[string]interface{}{
			"bonus_credit_remaining": gorm.Expr("bonus_credit_remaining - ?", value),
			"bonus_credit_used":      gorm.Expr("bonus_credit_used + ?", value),
			"updated_at":             now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
