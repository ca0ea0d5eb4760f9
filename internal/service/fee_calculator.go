package service

import (
	"fmt"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/models"

	"github.com/shopspring/decimal"
)

// FeeBreakdown 费用拆分结果
//
// 抵扣额度只减少平台实收，不增加司机实收：
// AmountToTrucker = AmountRequested - BrokerFee - PlatformFeeGross，
// BrokerFee + PlatformFee + CreditApplied + AmountToTrucker = AmountRequested。
type FeeBreakdown struct {
	AmountRequested      models.Money         `json:"amount_requested"`
	Tier                 constants.BrokerTier `json:"tier"`
	BrokerFee            models.Money         `json:"broker_fee"`
	PlatformFeeGross     models.Money         `json:"platform_fee_gross"`
	PlatformFee          models.Money         `json:"platform_fee"`
	CreditApplied        models.Money         `json:"credit_applied"`
	TotalFee             models.Money         `json:"total_fee"`
	AmountToTrucker      models.Money         `json:"amount_to_trucker"`
	CreditRemainingAfter models.Money         `json:"credit_remaining_after"`
}

// FeeCalculator 费用计算器（纯函数，无副作用）
type FeeCalculator struct {
	policy SettlementPolicy
}

// NewFeeCalculator 创建费用计算器
func NewFeeCalculator(policy SettlementPolicy) *FeeCalculator {
	return &FeeCalculator{policy: policy}
}

// ComputeFee 计算费用拆分
//
// 经纪商与平台两部分各自按 2 位小数四舍五入后再合并。
func (c *FeeCalculator) ComputeFee(amount decimal.Decimal, tier constants.BrokerTier, creditRemaining decimal.Decimal) (*FeeBreakdown, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	rule, ok := c.policy.Tier(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTier, tier)
	}
	if creditRemaining.IsNegative() {
		return nil, ErrInvalidCredit
	}

	amount = amount.Round(2)
	credit := creditRemaining.Round(2)
	brokerFee := amount.Mul(rule.BrokerRate).Round(2)
	platformGross := amount.Mul(rule.PlatformRate).Round(2)
	creditApplied := decimal.Min(platformGross, credit)
	platformNet := platformGross.Sub(creditApplied)

	return &FeeBreakdown{
		AmountRequested:      models.NewMoneyFromDecimal(amount),
		Tier:                 tier,
		BrokerFee:            models.NewMoneyFromDecimal(brokerFee),
		PlatformFeeGross:     models.NewMoneyFromDecimal(platformGross),
		PlatformFee:          models.NewMoneyFromDecimal(platformNet),
		CreditApplied:        models.NewMoneyFromDecimal(creditApplied),
		TotalFee:             models.NewMoneyFromDecimal(brokerFee.Add(platformNet)),
		AmountToTrucker:      models.NewMoneyFromDecimal(amount.Sub(brokerFee).Sub(platformGross)),
		CreditRemainingAfter: models.NewMoneyFromDecimal(credit.Sub(creditApplied)),
	}, nil
}
