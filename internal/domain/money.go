package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places every monetary result carries.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds d to two places, halves away from zero. Amounts handled
// by the engine are never negative, so this is round-half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Percent returns pct percent of amount, unrounded.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// ClampMoney bounds d to [0, max]. A nil max means no upper bound.
func ClampMoney(d decimal.Decimal, max *decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if max != nil && d.GreaterThan(*max) {
		return *max
	}
	return d
}
