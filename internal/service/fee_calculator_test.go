package service

import (
	"errors"
	"testing"

	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/constants"

	"github.com/shopspring/decimal"
)

func TestComputeFeeFreeTierWithCredit(t *testing.T) {
	calc := NewFeeCalculator(DefaultSettlementPolicy())
	fee, err := calc.ComputeFee(decimal.NewFromInt(1000), constants.BrokerTierFree, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("compute fee failed: %v", err)
	}
	assertMoney(t, "broker fee", fee.BrokerFee, "30.00")
	assertMoney(t, "platform gross", fee.PlatformFeeGross, "10.00")
	assertMoney(t, "credit applied", fee.CreditApplied, "5.00")
	assertMoney(t, "platform fee", fee.PlatformFee, "5.00")
	assertMoney(t, "total fee", fee.TotalFee, "35.00")
	assertMoney(t, "amount to trucker", fee.AmountToTrucker, "960.00")
	assertMoney(t, "credit remaining", fee.CreditRemainingAfter, "0.00")

	sum := fee.BrokerFee.Add(fee.PlatformFee.Decimal).Add(fee.CreditApplied.Decimal).Add(fee.AmountToTrucker.Decimal)
	if !sum.Equal(fee.AmountRequested.Decimal) {
		t.Fatalf("components must add up to the request amount, got %s", sum.String())
	}
}

func TestComputeFeeCreditLargerThanPlatformFee(t *testing.T) {
	calc := NewFeeCalculator(DefaultSettlementPolicy())
	fee, err := calc.ComputeFee(decimal.NewFromInt(1000), constants.BrokerTierFree, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("compute fee failed: %v", err)
	}
	assertMoney(t, "credit applied", fee.CreditApplied, "10.00")
	assertMoney(t, "platform fee", fee.PlatformFee, "0.00")
	assertMoney(t, "total fee", fee.TotalFee, "30.00")
	assertMoney(t, "credit remaining", fee.CreditRemainingAfter, "15.00")
}

func TestComputeFeePaidTiers(t *testing.T) {
	calc := NewFeeCalculator(DefaultSettlementPolicy())
	for _, tier := range []constants.BrokerTier{constants.BrokerTierPro, constants.BrokerTierEnterprise} {
		fee, err := calc.ComputeFee(decimal.NewFromInt(1000), tier, decimal.NewFromInt(50))
		if err != nil {
			t.Fatalf("compute fee for %s failed: %v", tier, err)
		}
		assertMoney(t, string(tier)+" broker fee", fee.BrokerFee, "40.00")
		assertMoney(t, string(tier)+" platform fee", fee.PlatformFee, "0.00")
		assertMoney(t, string(tier)+" credit applied", fee.CreditApplied, "0.00")
		assertMoney(t, string(tier)+" total fee", fee.TotalFee, "40.00")
		assertMoney(t, string(tier)+" amount to trucker", fee.AmountToTrucker, "960.00")
		assertMoney(t, string(tier)+" credit remaining", fee.CreditRemainingAfter, "50.00")
	}
}

func TestComputeFeeRoundsEachComponent(t *testing.T) {
	calc := NewFeeCalculator(DefaultSettlementPolicy())
	fee, err := calc.ComputeFee(decimal.RequireFromString("333.33"), constants.BrokerTierFree, decimal.Zero)
	if err != nil {
		t.Fatalf("compute fee failed: %v", err)
	}
	assertMoney(t, "broker fee", fee.BrokerFee, "10.00")
	assertMoney(t, "platform fee", fee.PlatformFee, "3.33")
	assertMoney(t, "total fee", fee.TotalFee, "13.33")
	assertMoney(t, "amount to trucker", fee.AmountToTrucker, "320.00")
}

func TestComputeFeeRejectsInvalidInput(t *testing.T) {
	calc := NewFeeCalculator(DefaultSettlementPolicy())
	cases := []struct {
		name   string
		amount decimal.Decimal
		tier   constants.BrokerTier
		credit decimal.Decimal
		want   error
	}{
		{name: "zero amount", amount: decimal.Zero, tier: constants.BrokerTierFree, credit: decimal.Zero, want: ErrInvalidAmount},
		{name: "negative amount", amount: decimal.NewFromInt(-5), tier: constants.BrokerTierFree, credit: decimal.Zero, want: ErrInvalidAmount},
		{name: "unknown tier", amount: decimal.NewFromInt(100), tier: "gold", credit: decimal.Zero, want: ErrInvalidTier},
		{name: "negative credit", amount: decimal.NewFromInt(100), tier: constants.BrokerTierFree, credit: decimal.NewFromInt(-1), want: ErrInvalidCredit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := calc.ComputeFee(tc.amount, tc.tier, tc.credit); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNewSettlementPolicyOverrides(t *testing.T) {
	policy, err := NewSettlementPolicy(config.SettlementConfig{
		Tiers: map[string]config.TierConfig{
			"FREE": {BrokerRate: "0.025", PlatformRate: "0.015", MonthlyRequestAllowance: 3},
		},
		MonthlyCap:     "50",
		MaturationDays: 14,
	})
	if err != nil {
		t.Fatalf("build policy failed: %v", err)
	}
	rule, ok := policy.Tier(constants.BrokerTierFree)
	if !ok {
		t.Fatalf("free tier missing")
	}
	if !rule.BrokerRate.Equal(decimal.RequireFromString("0.025")) || !rule.PlatformRate.Equal(decimal.RequireFromString("0.015")) {
		t.Fatalf("unexpected free tier rates: %+v", rule)
	}
	if policy.MonthlyAllowance(constants.BrokerTierFree) != 3 {
		t.Fatalf("unexpected allowance: %d", policy.MonthlyAllowance(constants.BrokerTierFree))
	}
	if !policy.MonthlyCap.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected monthly cap: %s", policy.MonthlyCap.String())
	}
	if policy.MaturationPeriod.Hours() != 14*24 {
		t.Fatalf("unexpected maturation: %s", policy.MaturationPeriod)
	}
	if _, ok := policy.Tier(constants.BrokerTierPro); !ok {
		t.Fatalf("pro tier should keep defaults")
	}

	if _, err := NewSettlementPolicy(config.SettlementConfig{Tiers: map[string]config.TierConfig{"gold": {}}}); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("want invalid tier, got %v", err)
	}
	if _, err := NewSettlementPolicy(config.SettlementConfig{TruckerShareRate: "1.5"}); err == nil {
		t.Fatalf("rate above 1 should be rejected")
	}
}
