package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/constants"

	"github.com/shopspring/decimal"
)

const (
	defaultMaturationDays = 7
	defaultCapMaxRetries  = 5
)

// TierPolicy 单个套餐的费率
type TierPolicy struct {
	BrokerRate              decimal.Decimal
	PlatformRate            decimal.Decimal
	MonthlyRequestAllowance int
}

// SettlementPolicy 费用与收益规则（启动时从配置构建，之后只读）
type SettlementPolicy struct {
	tiers              map[constants.BrokerTier]TierPolicy
	EarningsBasisRate  decimal.Decimal
	TruckerShareRate   decimal.Decimal
	MonthlyCap         decimal.Decimal
	RecruiterBonusRate decimal.Decimal
	MaturationPeriod   time.Duration
	CapMaxRetries      int
}

// DefaultSettlementPolicy 默认规则：free 3%+1%，pro/enterprise 4%+0，5% 计提基数，10% 分成，月上限 100，7 天到期
func DefaultSettlementPolicy() SettlementPolicy {
	return SettlementPolicy{
		tiers: map[constants.BrokerTier]TierPolicy{
			constants.BrokerTierFree:       {BrokerRate: decimal.RequireFromString("0.03"), PlatformRate: decimal.RequireFromString("0.01")},
			constants.BrokerTierPro:        {BrokerRate: decimal.RequireFromString("0.04"), PlatformRate: decimal.Zero},
			constants.BrokerTierEnterprise: {BrokerRate: decimal.RequireFromString("0.04"), PlatformRate: decimal.Zero},
		},
		EarningsBasisRate:  decimal.RequireFromString("0.05"),
		TruckerShareRate:   decimal.RequireFromString("0.10"),
		MonthlyCap:         decimal.RequireFromString("100.00"),
		RecruiterBonusRate: decimal.RequireFromString("0.10"),
		MaturationPeriod:   defaultMaturationDays * 24 * time.Hour,
		CapMaxRetries:      defaultCapMaxRetries,
	}
}

// NewSettlementPolicy 从配置构建规则，缺省项沿用默认值
func NewSettlementPolicy(cfg config.SettlementConfig) (SettlementPolicy, error) {
	policy := DefaultSettlementPolicy()
	for rawTier, tierCfg := range cfg.Tiers {
		tier := constants.BrokerTier(strings.ToLower(strings.TrimSpace(rawTier)))
		if !tier.Valid() {
			return SettlementPolicy{}, fmt.Errorf("%w: %s", ErrInvalidTier, rawTier)
		}
		current := policy.tiers[tier]
		brokerRate, err := parseRate(tierCfg.BrokerRate, current.BrokerRate)
		if err != nil {
			return SettlementPolicy{}, fmt.Errorf("settlement.tiers.%s.broker_rate: %w", tier, err)
		}
		platformRate, err := parseRate(tierCfg.PlatformRate, current.PlatformRate)
		if err != nil {
			return SettlementPolicy{}, fmt.Errorf("settlement.tiers.%s.platform_rate: %w", tier, err)
		}
		allowance := tierCfg.MonthlyRequestAllowance
		if allowance < 0 {
			allowance = 0
		}
		policy.tiers[tier] = TierPolicy{BrokerRate: brokerRate, PlatformRate: platformRate, MonthlyRequestAllowance: allowance}
	}

	var err error
	if policy.EarningsBasisRate, err = parseRate(cfg.EarningsBasisRate, policy.EarningsBasisRate); err != nil {
		return SettlementPolicy{}, fmt.Errorf("settlement.earnings_basis_rate: %w", err)
	}
	if policy.TruckerShareRate, err = parseRate(cfg.TruckerShareRate, policy.TruckerShareRate); err != nil {
		return SettlementPolicy{}, fmt.Errorf("settlement.trucker_share_rate: %w", err)
	}
	if policy.RecruiterBonusRate, err = parseRate(cfg.RecruiterBonusRate, policy.RecruiterBonusRate); err != nil {
		return SettlementPolicy{}, fmt.Errorf("settlement.recruiter_bonus_rate: %w", err)
	}
	if raw := strings.TrimSpace(cfg.MonthlyCap); raw != "" {
		monthlyCap, err := decimal.NewFromString(raw)
		if err != nil || monthlyCap.IsNegative() {
			return SettlementPolicy{}, fmt.Errorf("settlement.monthly_cap: invalid value %q", raw)
		}
		policy.MonthlyCap = monthlyCap.Round(2)
	}
	if cfg.MaturationDays > 0 {
		policy.MaturationPeriod = time.Duration(cfg.MaturationDays) * 24 * time.Hour
	}
	if cfg.CapMaxRetries > 0 {
		policy.CapMaxRetries = cfg.CapMaxRetries
	}
	return policy, nil
}

// Tier 返回套餐费率
func (p SettlementPolicy) Tier(tier constants.BrokerTier) (TierPolicy, bool) {
	rule, ok := p.tiers[tier]
	return rule, ok
}

// MonthlyAllowance 套餐月度申请额度，0 表示不限
func (p SettlementPolicy) MonthlyAllowance(tier constants.BrokerTier) int {
	return p.tiers[tier].MonthlyRequestAllowance
}

func parseRate(raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q", raw)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("rate %q out of range", raw)
	}
	return rate, nil
}

// monthKey 返回 UTC 自然月键 YYYY-MM
func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// monthStart 返回 UTC 自然月第一刻
func monthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
