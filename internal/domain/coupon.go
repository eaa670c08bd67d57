package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Coupon is a single-rule promotion redeemed by code.
type Coupon struct {
	ID            string           `json:"id"`
	Code          string           `json:"code"`
	TenancyID     *string          `json:"tenancy_id,omitempty"`
	Type          RuleType         `json:"type"`
	Value         decimal.Decimal  `json:"value"`
	MinOrderValue decimal.Decimal  `json:"min_order_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount,omitempty"`
	UsageLimit    int              `json:"usage_limit"`
	UsedCount     int              `json:"used_count"`
	IsActive      bool             `json:"is_active"`
	StartDate     time.Time        `json:"start_date"`
	EndDate       time.Time        `json:"end_date"`
	TotalSavings  decimal.Decimal  `json:"total_savings"`
	TotalOrders   int              `json:"total_orders"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// UsableAt reports whether the coupon is active, inside [start, end] and
// under its usage limit.
func (c *Coupon) UsableAt(now time.Time) bool {
	return c.IsActive &&
		!now.Before(c.StartDate) && !now.After(c.EndDate) &&
		(c.UsageLimit == 0 || c.UsedCount < c.UsageLimit)
}

// Validate checks the authoring rules of a coupon.
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return errors.New("code is required")
	}
	if c.Type != RulePercentage && c.Type != RuleFixedAmount {
		return errors.New("coupon type must be percentage or fixed_amount")
	}
	if c.Value.IsNegative() || (c.Type == RulePercentage && c.Value.GreaterThan(hundred)) {
		return errors.New("value out of range")
	}
	if c.MinOrderValue.IsNegative() {
		return errors.New("min_order_value must not be negative")
	}
	if !c.StartDate.Before(c.EndDate) {
		return errors.New("start_date must be before end_date")
	}
	if c.UsageLimit < 0 {
		return errors.New("usage_limit must not be negative")
	}
	return nil
}
