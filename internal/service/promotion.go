package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/repository"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

// DiscountService manages discounts.
type DiscountService struct {
	repo   repository.DiscountRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewDiscountService creates a new discount service.
func NewDiscountService(repo repository.DiscountRepository, logger *slog.Logger) *DiscountService {
	return &DiscountService{repo: repo, logger: logger, now: utcNow}
}

// CreateDiscountInput holds the authored fields of a discount.
type CreateDiscountInput struct {
	TenancyID                  *string
	Name                       string
	Priority                   int
	Rules                      []domain.Rule
	StartDate                  time.Time
	EndDate                    time.Time
	UsageLimit                 int
	CanStackWithOtherDiscounts bool
}

// CreateDiscount validates and stores an active discount.
func (s *DiscountService) CreateDiscount(ctx context.Context, input *CreateDiscountInput) (*domain.Discount, error) {
	now := s.now()
	d := &domain.Discount{
		ID:                         uuid.New().String(),
		TenancyID:                  input.TenancyID,
		Name:                       input.Name,
		Priority:                   input.Priority,
		Rules:                      input.Rules,
		IsActive:                   true,
		StartDate:                  input.StartDate,
		EndDate:                    input.EndDate,
		UsageLimit:                 input.UsageLimit,
		CanStackWithOtherDiscounts: input.CanStackWithOtherDiscounts,
		TotalSavings:               decimal.Zero,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	if err := d.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create discount: %w", err)
	}

	s.logger.InfoContext(ctx, "discount created",
		slog.String("discount_id", d.ID),
		slog.Int("rules", len(d.Rules)),
	)
	return d, nil
}

// GetDiscount retrieves a discount by ID.
func (s *DiscountService) GetDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get discount: %w", err)
	}
	return d, nil
}

// ListDiscounts returns a filtered, paginated list of discounts.
func (s *DiscountService) ListDiscounts(ctx context.Context, filter domain.DiscountFilter, page pagination.Params) ([]domain.Discount, int, error) {
	list, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list discounts: %w", err)
	}
	return list, total, nil
}

// DeactivateDiscount stops a discount from contributing to new checkouts.
// Campaigns referencing it skip it from then on.
func (s *DiscountService) DeactivateDiscount(ctx context.Context, id string) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivate discount: %w", err)
	}
	s.logger.InfoContext(ctx, "discount deactivated", slog.String("discount_id", id))
	return nil
}

// CouponService manages coupons.
type CouponService struct {
	repo   repository.CouponRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewCouponService creates a new coupon service.
func NewCouponService(repo repository.CouponRepository, logger *slog.Logger) *CouponService {
	return &CouponService{repo: repo, logger: logger, now: utcNow}
}

// CreateCouponInput holds the authored fields of a coupon.
type CreateCouponInput struct {
	Code          string
	TenancyID     *string
	Type          domain.RuleType
	Value         decimal.Decimal
	MinOrderValue decimal.Decimal
	MaxDiscount   *decimal.Decimal
	UsageLimit    int
	StartDate     time.Time
	EndDate       time.Time
}

// CreateCoupon validates and stores an active coupon. Codes are stored
// upper-cased and trimmed.
func (s *CouponService) CreateCoupon(ctx context.Context, input *CreateCouponInput) (*domain.Coupon, error) {
	now := s.now()
	c := &domain.Coupon{
		ID:            uuid.New().String(),
		Code:          domain.NormalizeCode(input.Code),
		TenancyID:     input.TenancyID,
		Type:          input.Type,
		Value:         input.Value,
		MinOrderValue: input.MinOrderValue,
		MaxDiscount:   input.MaxDiscount,
		UsageLimit:    input.UsageLimit,
		IsActive:      true,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		TotalSavings:  decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	s.logger.InfoContext(ctx, "coupon created",
		slog.String("coupon_id", c.ID),
		slog.String("code", c.Code),
	)
	return c, nil
}

// GetCoupon retrieves a coupon by code.
func (s *CouponService) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := s.repo.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// DeactivateCoupon stops a coupon from contributing to new checkouts.
func (s *CouponService) DeactivateCoupon(ctx context.Context, code string) error {
	code = domain.NormalizeCode(code)
	if err := s.repo.SetActive(ctx, code, false); err != nil {
		return fmt.Errorf("deactivate coupon: %w", err)
	}
	s.logger.InfoContext(ctx, "coupon deactivated", slog.String("code", code))
	return nil
}
