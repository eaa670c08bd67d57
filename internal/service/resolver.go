package service

import (
	"context"
	"fmt"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/engine"
	"github.com/utafrali/campaign-engine/internal/repository"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
)

var _ engine.PromotionResolver = (*PromotionResolver)(nil)

// PromotionResolver turns campaign promotion references into promotions by
// looking them up at evaluation time.
type PromotionResolver struct {
	discounts repository.DiscountRepository
	coupons   repository.CouponRepository
	loyalty   LoyaltyPrograms
}

// NewPromotionResolver creates a resolver over the promotion stores.
func NewPromotionResolver(discounts repository.DiscountRepository, coupons repository.CouponRepository, loyalty LoyaltyPrograms) *PromotionResolver {
	return &PromotionResolver{discounts: discounts, coupons: coupons, loyalty: loyalty}
}

// Resolve returns the promotion ref points at. A discount or coupon owned by
// another tenancy is reported as not found.
func (r *PromotionResolver) Resolve(ctx context.Context, tenancyID string, ref domain.PromotionRef) (domain.Promotion, error) {
	switch ref.Type {
	case domain.PromotionDiscount:
		d, err := r.discounts.GetByID(ctx, ref.RefID)
		if err != nil {
			return nil, fmt.Errorf("resolve discount: %w", err)
		}
		if !visibleTo(d.TenancyID, tenancyID) {
			return nil, apperrors.NotFound("discount", ref.RefID)
		}
		return domain.DiscountPromotion{Reference: ref, Discount: *d}, nil

	case domain.PromotionCoupon:
		c, err := r.coupons.GetByID(ctx, ref.RefID)
		if err != nil {
			return nil, fmt.Errorf("resolve coupon: %w", err)
		}
		if !visibleTo(c.TenancyID, tenancyID) {
			return nil, apperrors.NotFound("coupon", ref.RefID)
		}
		return domain.CouponPromotion{Reference: ref, Coupon: *c}, nil

	case domain.PromotionWalletCredit:
		if ref.ValueOverride == nil {
			return nil, apperrors.InconsistentConfiguration("WALLET_CREDIT promotion without value_override")
		}
		return domain.WalletCreditPromotion{Reference: ref, Amount: *ref.ValueOverride}, nil

	case domain.PromotionLoyaltyPoints:
		p, err := r.loyalty.GetProgram(ctx, tenancyID, ref.RefID)
		if err != nil {
			return nil, fmt.Errorf("resolve loyalty program: %w", err)
		}
		return domain.LoyaltyPointsPromotion{Reference: ref, Program: *p}, nil

	default:
		return nil, apperrors.InconsistentConfiguration(fmt.Sprintf("unknown promotion type %q", ref.Type))
	}
}

// visibleTo reports whether a promotion owned by owner (nil for global) may
// be used by tenancyID.
func visibleTo(owner *string, tenancyID string) bool {
	return owner == nil || *owner == tenancyID
}
