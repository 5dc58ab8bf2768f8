package service

import (
	"github.com/shopspring/decimal"
)

// RewardPrecision 货币最小单位（分）
const RewardPrecision = 2

var (
	hundred       = decimal.NewFromInt(100)
	maxRewardRate = hundred
)

// CalculateReward 奖励 = 成交金额 × 比例 / 100，四舍五入到分（远离零方向）
//
//	CalculateReward(50000, 10) = 5000.00
//	CalculateReward(33333, 10) = 3333.30
func CalculateReward(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePercent).Div(hundred).Round(RewardPrecision)
}

// SumRewards 汇总已经按分取整的奖励，保证总额等于各项展示值之和
func SumRewards(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// 金额和比例的列都是两位小数，超出精度的输入会在落库时被截断，直接拒绝
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount", "必须大于0")
	}
	if !fitsPrecision(amount) {
		return invalid("amount", "最多两位小数")
	}
	return nil
}

func validateRewardRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxRewardRate) {
		return invalid("reward_rate", "必须在0-100之间")
	}
	if !fitsPrecision(rate) {
		return invalid("reward_rate", "最多两位小数")
	}
	return nil
}

func fitsPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(RewardPrecision))
}
