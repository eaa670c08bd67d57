package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/campaign-engine/internal/domain"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

// ---------------------------------------------------------------------------
// PromotionResolver
// ---------------------------------------------------------------------------

type resolverFixture struct {
	discounts *mockDiscountRepository
	coupons   *mockCouponRepository
	loyalty   *mockLoyalty
	resolver  *PromotionResolver
}

func newResolverFixture() *resolverFixture {
	f := &resolverFixture{
		discounts: new(mockDiscountRepository),
		coupons:   new(mockCouponRepository),
		loyalty:   new(mockLoyalty),
	}
	f.resolver = NewPromotionResolver(f.discounts, f.coupons, f.loyalty)
	return f
}

func TestResolve_Discount(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()
	d := percentDiscount("disc-1", "10")
	d.TenancyID = strPtr("tenant-1")
	f.discounts.On("GetByID", ctx, "disc-1").Return(d, nil)

	p, err := f.resolver.Resolve(ctx, "tenant-1", discountRef("disc-1"))
	require.NoError(t, err)

	dp, ok := p.(domain.DiscountPromotion)
	require.True(t, ok)
	assert.Equal(t, "disc-1", dp.Discount.ID)
	assert.Equal(t, "disc-1", dp.Ref().RefID)
}

func TestResolve_GlobalDiscountVisibleToEveryone(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()
	f.discounts.On("GetByID", ctx, "disc-1").Return(percentDiscount("disc-1", "10"), nil)

	_, err := f.resolver.Resolve(ctx, "tenant-42", discountRef("disc-1"))
	assert.NoError(t, err)
}

func TestResolve_OtherTenancysDiscountIsNotFound(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()
	d := percentDiscount("disc-1", "10")
	d.TenancyID = strPtr("tenant-2")
	f.discounts.On("GetByID", ctx, "disc-1").Return(d, nil)

	_, err := f.resolver.Resolve(ctx, "tenant-1", discountRef("disc-1"))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestResolve_Coupon(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()
	coupon := &domain.Coupon{ID: "cp-1", Code: "SPRING", TenancyID: strPtr("tenant-2")}
	f.coupons.On("GetByID", ctx, "cp-1").Return(coupon, nil)

	ref := domain.PromotionRef{Type: domain.PromotionCoupon, RefID: "cp-1"}
	p, err := f.resolver.Resolve(ctx, "tenant-2", ref)
	require.NoError(t, err)
	assert.Equal(t, "SPRING", p.(domain.CouponPromotion).Coupon.Code)

	_, err = f.resolver.Resolve(ctx, "tenant-1", ref)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestResolve_WalletCredit(t *testing.T) {
	f := newResolverFixture()
	amount := dec("15")

	p, err := f.resolver.Resolve(context.Background(), "tenant-1",
		domain.PromotionRef{Type: domain.PromotionWalletCredit, ValueOverride: &amount})
	require.NoError(t, err)
	assert.True(t, amount.Equal(p.(domain.WalletCreditPromotion).Amount))

	_, err = f.resolver.Resolve(context.Background(), "tenant-1",
		domain.PromotionRef{Type: domain.PromotionWalletCredit})
	assert.True(t, errors.Is(err, apperrors.ErrInconsistentConfig))
}

func TestResolve_LoyaltyProgram(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()
	program := &domain.LoyaltyProgram{ID: "lp-1", PointsPerUnit: dec("2"), BonusPoints: 50}
	f.loyalty.On("GetProgram", ctx, "tenant-1", "lp-1").Return(program, nil)

	p, err := f.resolver.Resolve(ctx, "tenant-1", domain.PromotionRef{Type: domain.PromotionLoyaltyPoints, RefID: "lp-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.(domain.LoyaltyPointsPromotion).Program.BonusPoints)
}

func TestResolve_LoyaltyUnavailable(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()
	f.loyalty.On("GetProgram", ctx, "tenant-1", "lp-1").Return(nil, apperrors.ServiceUnavailable("loyalty circuit open"))

	_, err := f.resolver.Resolve(ctx, "tenant-1", domain.PromotionRef{Type: domain.PromotionLoyaltyPoints, RefID: "lp-1"})
	assert.True(t, errors.Is(err, apperrors.ErrServiceUnavail))
}

func TestResolve_UnknownType(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), "tenant-1", domain.PromotionRef{Type: "FREE_PONY", RefID: "x"})
	assert.True(t, errors.Is(err, apperrors.ErrInconsistentConfig))
}

// ---------------------------------------------------------------------------
// DiscountService
// ---------------------------------------------------------------------------

func TestCreateDiscount(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := NewDiscountService(repo, newTestLogger())
	svc.now = fixedClock
	ctx := context.Background()
	repo.On("Create", ctx, mock.AnythingOfType("*domain.Discount")).Return(nil)

	d, err := svc.CreateDiscount(ctx, &CreateDiscountInput{
		Name:      "Ten off",
		Rules:     []domain.Rule{{Type: domain.RulePercentage, Value: dec("10")}},
		StartDate: testStart,
		EndDate:   testEnd,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.True(t, d.IsActive)
	assert.Equal(t, testNow, d.CreatedAt)
	repo.AssertExpectations(t)
}

func TestCreateDiscount_Invalid(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := NewDiscountService(repo, newTestLogger())

	_, err := svc.CreateDiscount(context.Background(), &CreateDiscountInput{
		Name:      "No rules",
		StartDate: testStart,
		EndDate:   testEnd,
	})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestListAndDeactivateDiscounts(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := NewDiscountService(repo, newTestLogger())
	ctx := context.Background()
	filter := domain.DiscountFilter{ActiveOnly: true}
	page := pagination.DefaultParams()
	repo.On("List", ctx, filter, page).Return([]domain.Discount{*percentDiscount("disc-1", "5")}, 1, nil)
	repo.On("SetActive", ctx, "disc-1", false).Return(nil)
	repo.On("SetActive", ctx, "missing", false).Return(apperrors.NotFound("discount", "missing"))

	list, total, err := svc.ListDiscounts(ctx, filter, page)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)

	assert.NoError(t, svc.DeactivateDiscount(ctx, "disc-1"))
	assert.True(t, errors.Is(svc.DeactivateDiscount(ctx, "missing"), apperrors.ErrNotFound))
}

// ---------------------------------------------------------------------------
// CouponService
// ---------------------------------------------------------------------------

func TestCreateCoupon_NormalizesCode(t *testing.T) {
	repo := new(mockCouponRepository)
	svc := NewCouponService(repo, newTestLogger())
	ctx := context.Background()
	repo.On("Create", ctx, mock.AnythingOfType("*domain.Coupon")).Return(nil)

	c, err := svc.CreateCoupon(ctx, &CreateCouponInput{
		Code:      "  spring10 ",
		Type:      domain.RulePercentage,
		Value:     dec("10"),
		StartDate: testStart,
		EndDate:   testEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, "SPRING10", c.Code)
	assert.True(t, c.IsActive)
}

func TestGetAndDeactivateCoupon(t *testing.T) {
	repo := new(mockCouponRepository)
	svc := NewCouponService(repo, newTestLogger())
	ctx := context.Background()
	repo.On("GetByCode", ctx, "SPRING10").Return(&domain.Coupon{ID: "cp-1", Code: "SPRING10"}, nil)
	repo.On("SetActive", ctx, "SPRING10", false).Return(nil)

	c, err := svc.GetCoupon(ctx, "spring10")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", c.ID)

	assert.NoError(t, svc.DeactivateCoupon(ctx, " spring10"))
	repo.AssertExpectations(t)
}

// ---------------------------------------------------------------------------
// LedgerService
// ---------------------------------------------------------------------------

func commitInput() domain.CommitInput {
	return domain.CommitInput{
		CampaignID:     "c-1",
		TenancyID:      "tenant-1",
		UserID:         "user-1",
		OrderID:        "order-1",
		DiscountAmount: dec("10"),
		OrderTotal:     dec("100"),
		Day:            domain.CalendarDay(testNow),
	}
}

func TestLedgerCommit(t *testing.T) {
	repo := new(mockLedgerRepository)
	svc := NewLedgerService(repo, newTestLogger())
	ctx := context.Background()
	in := commitInput()
	repo.On("Commit", ctx, in).Return(&domain.LedgerEntry{ID: "e-1", Kind: domain.LedgerUsage}, nil)

	entry, err := svc.Commit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "e-1", entry.ID)
}

func TestLedgerCommit_RejectsDiscountAboveTotal(t *testing.T) {
	repo := new(mockLedgerRepository)
	svc := NewLedgerService(repo, newTestLogger())
	in := commitInput()
	in.DiscountAmount = dec("150")

	_, err := svc.Commit(context.Background(), in)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	repo.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
}

func TestLedgerCommit_PropagatesLostRace(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"usage limit", apperrors.UsageLimitExceeded("campaign", "c-1", "total"), apperrors.ErrUsageLimitExceeded},
		{"budget", apperrors.BudgetExceeded("campaign", "c-1"), apperrors.ErrBudgetExceeded},
		{"duplicate", apperrors.AlreadyExists("ledger entry", "order_id", "order-1"), apperrors.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockLedgerRepository)
			svc := NewLedgerService(repo, newTestLogger())
			repo.On("Commit", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := svc.Commit(context.Background(), commitInput())
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestLedgerCompensate(t *testing.T) {
	repo := new(mockLedgerRepository)
	svc := NewLedgerService(repo, newTestLogger())
	ctx := context.Background()
	repo.On("Compensate", ctx, "order-1").Return([]domain.LedgerEntry{{Kind: domain.LedgerCompensation}}, nil)

	entries, err := svc.Compensate(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = svc.Compensate(ctx, "")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestLedgerReads(t *testing.T) {
	repo := new(mockLedgerRepository)
	svc := NewLedgerService(repo, newTestLogger())
	ctx := context.Background()
	page := pagination.DefaultParams()
	repo.On("ListByCampaign", ctx, "c-1", page).Return([]domain.LedgerEntry{{ID: "e-1"}}, 1, nil)
	repo.On("Summary", ctx, "c-1").Return(&domain.LedgerSummary{CampaignID: "c-1", Uses: 3}, nil)

	entries, total, err := svc.ListEntries(ctx, "c-1", page)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, total)

	summary, err := svc.Summary(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Uses)
}
