package engine

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
)

// Evaluate computes the discount a rule grants on order. local is the
// current time in the tenant's clock; only conditional rules look at it.
// The amount is rounded to cents, never negative, and never more than the
// order total. Evaluate is pure.
func Evaluate(rule domain.Rule, order domain.OrderSnapshot, local time.Time) (bool, decimal.Decimal) {
	total := order.Total
	if total.IsNegative() {
		return false, decimal.Zero
	}

	var amount decimal.Decimal
	switch rule.Type {
	case domain.RulePercentage:
		amount = domain.ClampMoney(domain.Percent(total, rule.Value), rule.MaxDiscount)
	case domain.RuleFixedAmount:
		amount = decimal.Min(rule.Value, total)
	case domain.RuleTiered:
		tier, ok := bestTier(rule.Tiers, order)
		if !ok {
			return false, decimal.Zero
		}
		if tier.DiscountPercentage != nil {
			amount = domain.Percent(total, *tier.DiscountPercentage)
		} else {
			amount = *tier.DiscountAmount
		}
		amount = domain.ClampMoney(amount, rule.MaxDiscount)
	case domain.RuleConditional:
		if rule.Conditions != nil && !conditionsMet(*rule.Conditions, order, local) {
			return false, decimal.Zero
		}
		amount = domain.ClampMoney(domain.Percent(total, rule.Value), rule.MaxDiscount)
	default:
		return false, decimal.Zero
	}

	amount = domain.RoundMoney(domain.ClampMoney(amount, &total))
	return true, amount
}

// EvaluateCoupon is the single-rule variant for coupons: the order must
// reach the coupon's minimum value first.
func EvaluateCoupon(c domain.Coupon, order domain.OrderSnapshot) (bool, decimal.Decimal) {
	if order.Total.LessThan(c.MinOrderValue) {
		return false, decimal.Zero
	}
	if c.Type != domain.RulePercentage && c.Type != domain.RuleFixedAmount {
		return false, decimal.Zero
	}
	return Evaluate(domain.Rule{Type: c.Type, Value: c.Value, MaxDiscount: c.MaxDiscount}, order, time.Time{})
}

// bestTier returns the satisfied tier with the highest threshold. Tiers
// are compared by min value first, then by min quantity.
func bestTier(tiers []domain.Tier, order domain.OrderSnapshot) (domain.Tier, bool) {
	qty := order.Quantity()
	var (
		best  domain.Tier
		found bool
	)
	for _, t := range tiers {
		if t.DiscountPercentage == nil && t.DiscountAmount == nil {
			continue
		}
		if t.MinValue != nil && order.Total.LessThan(*t.MinValue) {
			continue
		}
		if t.MinQuantity != nil && qty < *t.MinQuantity {
			continue
		}
		if !found || tierAbove(t, best) {
			best, found = t, true
		}
	}
	return best, found
}

func tierAbove(a, b domain.Tier) bool {
	av, bv := tierValue(a.MinValue), tierValue(b.MinValue)
	if !av.Equal(bv) {
		return av.GreaterThan(bv)
	}
	return tierQty(a.MinQuantity) > tierQty(b.MinQuantity)
}

func tierValue(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}

func tierQty(q *int) int {
	if q == nil {
		return 0
	}
	return *q
}

// conditionsMet checks every gate of a conditional rule. Service exclusion
// beats inclusion.
func conditionsMet(c domain.Conditions, order domain.OrderSnapshot, local time.Time) bool {
	if c.MinOrderValue != nil && order.Total.LessThan(*c.MinOrderValue) {
		return false
	}
	if c.MaxOrderValue != nil && order.Total.GreaterThan(*c.MaxOrderValue) {
		return false
	}
	if !domain.MatchesDay(c.DaysOfWeek, local) {
		return false
	}
	if c.TimeRange != nil && !c.TimeRange.Contains(local) {
		return false
	}

	services := order.Services()
	for _, s := range services {
		if slices.Contains(c.ExcludeServices, s) {
			return false
		}
	}
	if len(c.IncludeServices) > 0 {
		return slices.ContainsFunc(services, func(s string) bool {
			return slices.Contains(c.IncludeServices, s)
		})
	}
	return true
}
