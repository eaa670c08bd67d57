package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
)

// CampaignStackingPolicy is the campaign's stacking flags collapsed into the
// three questions the applicator asks.
type CampaignStackingPolicy struct {
	CouponAfterDiscount bool
	DiscountAfterCoupon bool
	LoyaltyWithDiscount bool
}

// StackingPolicyOf derives the policy of c.
func StackingPolicyOf(c *domain.Campaign) CampaignStackingPolicy {
	return CampaignStackingPolicy{
		CouponAfterDiscount: c.Stacking.CombineWithCoupons,
		DiscountAfterCoupon: c.Stacking.CombineWithDiscounts,
		LoyaltyWithDiscount: c.Stacking.CombineWithLoyalty,
	}
}

// ApplyInput is the order and clock a campaign is applied against.
type ApplyInput struct {
	Order domain.OrderSnapshot
	Now   time.Time
	Local time.Time
}

type applyState struct {
	total          decimal.Decimal
	discount       decimal.Decimal
	discountLocked bool
	discountHit    bool
	couponHit      bool
	result         *domain.ApplicationResult
}

// remaining is what is left of the order total to discount.
func (s *applyState) remaining() decimal.Decimal {
	return decimal.Max(s.total.Sub(s.discount), decimal.Zero)
}

func (s *applyState) addLine(ref domain.PromotionRef, id string, amount decimal.Decimal, desc string) {
	amount = domain.RoundMoney(decimal.Min(amount, s.remaining()))
	if !amount.IsPositive() {
		return
	}
	s.discount = s.discount.Add(amount)
	s.result.Breakdown = append(s.result.Breakdown, domain.BreakdownLine{
		Type:        ref.Type,
		RefID:       id,
		Amount:      amount,
		Description: desc,
	})
}

// Apply runs the campaign's promotions against the order in list order and
// returns the discount breakdown plus the grants to fulfil after the order.
// promotions must be the resolved form of c.Promotions, in the same order;
// references that failed to resolve are simply absent. Apply is pure.
func Apply(c *domain.Campaign, promotions []domain.Promotion, in ApplyInput) (*domain.ApplicationResult, error) {
	policy := StackingPolicyOf(c)
	st := &applyState{
		total:    in.Order.Total,
		discount: decimal.Zero,
		result: &domain.ApplicationResult{
			AppliedCampaign: &domain.AppliedCampaign{ID: c.ID, Name: c.Name, Scope: c.Scope},
			Breakdown:       []domain.BreakdownLine{},
			SideEffects:     []domain.SideEffect{},
		},
	}

	for _, p := range promotions {
		switch p := p.(type) {
		case domain.DiscountPromotion:
			applyDiscount(st, policy, p, in)
		case domain.CouponPromotion:
			applyCoupon(st, policy, p, in)
		case domain.WalletCreditPromotion:
			if p.Amount.IsPositive() {
				st.result.SideEffects = append(st.result.SideEffects, domain.SideEffect{
					Kind:  domain.SideEffectWalletCredit,
					Value: domain.RoundMoney(p.Amount),
					RefID: p.Reference.RefID,
				})
			}
		case domain.LoyaltyPointsPromotion:
			if st.discountHit && !policy.LoyaltyWithDiscount {
				continue
			}
			if points := loyaltyPoints(p, in.Order); points.IsPositive() {
				st.result.SideEffects = append(st.result.SideEffects, domain.SideEffect{
					Kind:  domain.SideEffectLoyaltyPoints,
					Value: points,
					RefID: p.Program.ID,
				})
			}
		default:
			return nil, apperrors.InconsistentConfiguration(fmt.Sprintf("campaign %s has unsupported promotion %T", c.ID, p))
		}
	}

	st.result.TotalDiscount = domain.RoundMoney(decimal.Min(st.discount, st.total))
	st.result.FinalAmount = decimal.Max(st.total.Sub(st.result.TotalDiscount), decimal.Zero)
	return st.result, nil
}

func applyDiscount(st *applyState, policy CampaignStackingPolicy, p domain.DiscountPromotion, in ApplyInput) {
	d := p.Reference.WithOverrides(p.Discount)
	if !d.UsableAt(in.Now) || st.discountLocked {
		return
	}
	if st.couponHit && !policy.DiscountAfterCoupon {
		return
	}
	stacking := d.StackingPolicy()
	if stacking == domain.StopAtFirstMatch && st.discountHit {
		return
	}

	matched := false
	sum := decimal.Zero
	for _, rule := range d.Rules {
		ok, amount := Evaluate(rule, in.Order, in.Local)
		if !ok {
			continue
		}
		matched = true
		sum = sum.Add(amount)
		if stacking == domain.StopAtFirstMatch {
			// Later discounts are not evaluated, stackable or not.
			st.discountLocked = true
			break
		}
	}
	if !matched {
		return
	}
	st.discountHit = true
	st.addLine(p.Reference, d.ID, sum, d.Name)
}

func applyCoupon(st *applyState, policy CampaignStackingPolicy, p domain.CouponPromotion, in ApplyInput) {
	c := p.Reference.WithCouponOverrides(p.Coupon)
	if !c.UsableAt(in.Now) {
		return
	}
	if st.discountHit && !policy.CouponAfterDiscount {
		return
	}
	ok, amount := EvaluateCoupon(c, in.Order)
	if !ok {
		return
	}
	st.couponHit = true
	st.addLine(p.Reference, c.ID, amount, "coupon "+c.Code)
}

// loyaltyPoints is floor(total * pointsPerUnit) + bonus. A value override on
// the reference replaces the program's rate.
func loyaltyPoints(p domain.LoyaltyPointsPromotion, order domain.OrderSnapshot) decimal.Decimal {
	rate := p.Program.PointsPerUnit
	if p.Reference.ValueOverride != nil {
		rate = *p.Reference.ValueOverride
	}
	points := order.Total.Mul(rate).Floor().Add(decimal.NewFromInt(p.Program.BonusPoints))
	return decimal.Max(points, decimal.Zero)
}
