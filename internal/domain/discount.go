package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// RuleType is the computation a discount rule performs.
type RuleType string

const (
	RulePercentage  RuleType = "percentage"
	RuleFixedAmount RuleType = "fixed_amount"
	RuleTiered      RuleType = "tiered"
	RuleConditional RuleType = "conditional"
)

// ValidRuleTypes returns every known rule type.
func ValidRuleTypes() []RuleType {
	return []RuleType{RulePercentage, RuleFixedAmount, RuleTiered, RuleConditional}
}

// IsValidRuleType checks whether t is a known rule type.
func IsValidRuleType(t RuleType) bool {
	return slices.Contains(ValidRuleTypes(), t)
}

// Tier is one breakpoint of a tiered rule. A tier is satisfied when every
// threshold it sets is met; it grants either a percentage or a fixed amount.
type Tier struct {
	MinValue           *decimal.Decimal `json:"min_value,omitempty"`
	MinQuantity        *int             `json:"min_quantity,omitempty"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty"`
	DiscountAmount     *decimal.Decimal `json:"discount_amount,omitempty"`
}

// Conditions gate a conditional rule.
type Conditions struct {
	MinOrderValue   *decimal.Decimal `json:"min_order_value,omitempty"`
	MaxOrderValue   *decimal.Decimal `json:"max_order_value,omitempty"`
	DaysOfWeek      []int            `json:"days_of_week,omitempty"`
	TimeRange       *TimeRange       `json:"time_range,omitempty"`
	IncludeServices []string         `json:"include_services,omitempty"`
	ExcludeServices []string         `json:"exclude_services,omitempty"`
}

// Rule is one computation inside a discount.
type Rule struct {
	Type        RuleType         `json:"type"`
	Value       decimal.Decimal  `json:"value"`
	MaxDiscount *decimal.Decimal `json:"max_discount,omitempty"`
	Tiers       []Tier           `json:"tiers,omitempty"`
	Conditions  *Conditions      `json:"conditions,omitempty"`
}

// Validate checks the rule is computable.
func (r Rule) Validate() error {
	if !IsValidRuleType(r.Type) {
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	if r.Value.IsNegative() {
		return errors.New("value must not be negative")
	}
	if r.MaxDiscount != nil && r.MaxDiscount.IsNegative() {
		return errors.New("max_discount must not be negative")
	}
	if (r.Type == RulePercentage || r.Type == RuleConditional) && r.Value.GreaterThan(hundred) {
		return errors.New("percentage value must not exceed 100")
	}
	if r.Type == RuleTiered {
		if len(r.Tiers) == 0 {
			return errors.New("tiered rule needs at least one tier")
		}
		for i, t := range r.Tiers {
			if t.MinValue == nil && t.MinQuantity == nil {
				return fmt.Errorf("tiers[%d]: min_value or min_quantity is required", i)
			}
			if (t.DiscountPercentage == nil) == (t.DiscountAmount == nil) {
				return fmt.Errorf("tiers[%d]: exactly one of discount_percentage or discount_amount is required", i)
			}
		}
	}
	if r.Conditions != nil {
		if err := validateDays(r.Conditions.DaysOfWeek); err != nil {
			return err
		}
		if r.Conditions.TimeRange != nil {
			if err := r.Conditions.TimeRange.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// StackingPolicy decides how many rules of a discount may contribute and
// whether other discounts may follow it.
type StackingPolicy int

const (
	// StopAtFirstMatch applies the first matching rule and locks out every
	// later discount for the checkout.
	StopAtFirstMatch StackingPolicy = iota
	// Accumulate applies every matching rule.
	Accumulate
)

// Discount is a named, prioritized bundle of rules, owned by a tenancy or
// global when TenancyID is nil.
type Discount struct {
	ID                         string          `json:"id"`
	TenancyID                  *string         `json:"tenancy_id,omitempty"`
	Name                       string          `json:"name"`
	Priority                   int             `json:"priority"`
	Rules                      []Rule          `json:"rules"`
	IsActive                   bool            `json:"is_active"`
	StartDate                  time.Time       `json:"start_date"`
	EndDate                    time.Time       `json:"end_date"`
	UsageLimit                 int             `json:"usage_limit"`
	UsedCount                  int             `json:"used_count"`
	CanStackWithOtherDiscounts bool            `json:"can_stack_with_other_discounts"`
	TotalSavings               decimal.Decimal `json:"total_savings"`
	TotalOrders                int             `json:"total_orders"`
	CreatedAt                  time.Time       `json:"created_at"`
	UpdatedAt                  time.Time       `json:"updated_at"`
}

// StackingPolicy derives the discount's policy from its stacking flag.
func (d *Discount) StackingPolicy() StackingPolicy {
	if d.CanStackWithOtherDiscounts {
		return Accumulate
	}
	return StopAtFirstMatch
}

// UsableAt reports whether the discount is active, inside [start, end] and
// under its usage limit.
func (d *Discount) UsableAt(now time.Time) bool {
	return d.IsActive &&
		!now.Before(d.StartDate) && !now.After(d.EndDate) &&
		(d.UsageLimit == 0 || d.UsedCount < d.UsageLimit)
}

// Validate checks the authoring rules of a discount.
func (d *Discount) Validate() error {
	if d.Name == "" {
		return errors.New("name is required")
	}
	if !d.StartDate.Before(d.EndDate) {
		return errors.New("start_date must be before end_date")
	}
	if d.UsageLimit < 0 {
		return errors.New("usage_limit must not be negative")
	}
	if len(d.Rules) == 0 {
		return errors.New("at least one rule is required")
	}
	for i, r := range d.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// DiscountFilter narrows discount listings.
type DiscountFilter struct {
	TenancyID  *string
	ActiveOnly bool
}
