package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PromotionType tags what a campaign promotion reference points at.
type PromotionType string

const (
	PromotionDiscount      PromotionType = "DISCOUNT"
	PromotionCoupon        PromotionType = "COUPON"
	PromotionWalletCredit  PromotionType = "WALLET_CREDIT"
	PromotionLoyaltyPoints PromotionType = "LOYALTY_POINTS"
)

// PromotionRef is a weak reference from a campaign to a promotion. It is
// resolved by lookup at evaluation time; the campaign does not own it.
//
// For DISCOUNT and COUPON, ValueOverride replaces every rule value and
// MaxDiscountOverride replaces every cap. For WALLET_CREDIT, ValueOverride is
// the credit amount and RefID is optional. For LOYALTY_POINTS, ValueOverride
// replaces the program's points per currency unit.
type PromotionRef struct {
	Type                PromotionType    `json:"type"`
	RefID               string           `json:"ref_id,omitempty"`
	ValueOverride       *decimal.Decimal `json:"value_override,omitempty"`
	MaxDiscountOverride *decimal.Decimal `json:"max_discount_override,omitempty"`
}

// Validate checks the reference is resolvable.
func (p PromotionRef) Validate() error {
	switch p.Type {
	case PromotionDiscount, PromotionCoupon, PromotionLoyaltyPoints:
		if p.RefID == "" {
			return fmt.Errorf("%s promotion needs ref_id", p.Type)
		}
	case PromotionWalletCredit:
		if p.ValueOverride == nil || !p.ValueOverride.IsPositive() {
			return errors.New("WALLET_CREDIT promotion needs a positive value_override")
		}
	default:
		return fmt.Errorf("unknown promotion type %q", p.Type)
	}
	if p.ValueOverride != nil && p.ValueOverride.IsNegative() {
		return errors.New("value_override must not be negative")
	}
	if p.MaxDiscountOverride != nil && p.MaxDiscountOverride.IsNegative() {
		return errors.New("max_discount_override must not be negative")
	}
	return nil
}

// LoyaltyProgram is read from the loyalty service.
type LoyaltyProgram struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	PointsPerUnit decimal.Decimal `json:"points_per_unit"`
	BonusPoints   int64           `json:"bonus_points"`
}

// Promotion is a resolved campaign promotion. The set of implementations is
// closed: DiscountPromotion, CouponPromotion, WalletCreditPromotion and
// LoyaltyPointsPromotion.
type Promotion interface {
	Ref() PromotionRef
	promotion()
}

// DiscountPromotion is a resolved DISCOUNT reference. Discount is the stored
// record; overrides from Reference are applied by the applicator.
type DiscountPromotion struct {
	Reference PromotionRef
	Discount  Discount
}

// CouponPromotion is a resolved COUPON reference.
type CouponPromotion struct {
	Reference PromotionRef
	Coupon    Coupon
}

// WalletCreditPromotion grants Amount to the shopper's wallet after the order.
type WalletCreditPromotion struct {
	Reference PromotionRef
	Amount    decimal.Decimal
}

// LoyaltyPointsPromotion grants loyalty points after the order.
type LoyaltyPointsPromotion struct {
	Reference PromotionRef
	Program   LoyaltyProgram
}

func (p DiscountPromotion) Ref() PromotionRef      { return p.Reference }
func (p CouponPromotion) Ref() PromotionRef        { return p.Reference }
func (p WalletCreditPromotion) Ref() PromotionRef  { return p.Reference }
func (p LoyaltyPointsPromotion) Ref() PromotionRef { return p.Reference }

func (DiscountPromotion) promotion()      {}
func (CouponPromotion) promotion()        {}
func (WalletCreditPromotion) promotion()  {}
func (LoyaltyPointsPromotion) promotion() {}

// WithOverrides returns a copy of d whose rules use the reference overrides.
func (p PromotionRef) WithOverrides(d Discount) Discount {
	if p.ValueOverride == nil && p.MaxDiscountOverride == nil {
		return d
	}
	rules := make([]Rule, len(d.Rules))
	for i, r := range d.Rules {
		if p.ValueOverride != nil {
			r.Value = *p.ValueOverride
		}
		if p.MaxDiscountOverride != nil {
			limit := *p.MaxDiscountOverride
			r.MaxDiscount = &limit
		}
		rules[i] = r
	}
	d.Rules = rules
	return d
}

// WithCouponOverrides returns a copy of c using the reference overrides.
func (p PromotionRef) WithCouponOverrides(c Coupon) Coupon {
	if p.ValueOverride != nil {
		c.Value = *p.ValueOverride
	}
	if p.MaxDiscountOverride != nil {
		limit := *p.MaxDiscountOverride
		c.MaxDiscount = &limit
	}
	return c
}
