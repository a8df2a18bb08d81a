package money

import (
	"github.com/shopspring/decimal"
)

// Places 全系统统一的金额精度（两位小数）
const Places = 2

// Round 按统一精度四舍五入
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Min 返回较小值
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Sum 累加
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Format 格式化为两位小数的展示字符串
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
