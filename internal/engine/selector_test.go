package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/campaign-engine/internal/domain"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
)

// ============================================================================
// Mock resolver
// ============================================================================

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, tenancyID string, ref domain.PromotionRef) (domain.Promotion, error) {
	args := m.Called(ctx, tenancyID, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.Promotion), args.Error(1)
}

// tableResolver resolves discounts from a fixed map.
type tableResolver map[string]domain.Discount

func (r tableResolver) Resolve(_ context.Context, _ string, ref domain.PromotionRef) (domain.Promotion, error) {
	d, ok := r[ref.RefID]
	if !ok {
		return nil, apperrors.NotFound("discount", ref.RefID)
	}
	return domain.DiscountPromotion{Reference: ref, Discount: d}, nil
}

func newSelector(t *testing.T, resolver PromotionResolver) *Selector {
	t.Helper()
	return NewSelector(newEligibility(t), resolver, newTestLogger())
}

func selectInput(total string) SelectInput {
	return SelectInput{
		TenancyID: "tenant-1",
		Trigger:   domain.TriggerOrderCheckout,
		User:      domain.UserContext{UserID: "user-1", OrderCount: 2},
		Order:     order(total),
		Now:       now,
		Location:  time.UTC,
	}
}

// withDiscount makes c point at a discount that takes amount off the order.
func withDiscount(c *domain.Campaign, table tableResolver, amount string) *domain.Campaign {
	id := "d-" + c.ID
	table[id] = discount(id, true, fixed(amount))
	c.Promotions = []domain.PromotionRef{{Type: domain.PromotionDiscount, RefID: id}}
	return c
}

// ============================================================================
// Ordering
// ============================================================================

func TestSelect_TenantScopeBeatsLargerGlobalBenefit(t *testing.T) {
	table := tableResolver{}
	tenant := withDiscount(activeCampaign("tenant", domain.ScopeTenant, 0), table, "5")
	global := withDiscount(activeCampaign("global", domain.ScopeGlobal, 0), table, "10")

	sel, err := newSelector(t, table).Select(context.Background(), []*domain.Campaign{global, tenant}, selectInput("100"))
	require.NoError(t, err)
	require.NotNil(t, sel)

	assert.Equal(t, "tenant", sel.Campaign.ID)
	assert.True(t, sel.Result.TotalDiscount.Equal(dec("5")))
}

func TestSelect_ScopeRanksBeforePriority(t *testing.T) {
	table := tableResolver{}
	tenant := withDiscount(activeCampaign("tenant", domain.ScopeTenant, 5), table, "5")
	global := withDiscount(activeCampaign("global", domain.ScopeGlobal, 10), table, "5")

	sel, err := newSelector(t, table).Select(context.Background(), []*domain.Campaign{global, tenant}, selectInput("100"))
	require.NoError(t, err)
	assert.Equal(t, "tenant", sel.Campaign.ID)
}

func TestSelect_PriorityThenBenefit(t *testing.T) {
	table := tableResolver{}
	low := withDiscount(activeCampaign("low", domain.ScopeTenant, 1), table, "30")
	high := withDiscount(activeCampaign("high", domain.ScopeTenant, 9), table, "3")
	richer := withDiscount(activeCampaign("richer", domain.ScopeTenant, 9), table, "4")

	sel, err := newSelector(t, table).Select(context.Background(), []*domain.Campaign{low, high, richer}, selectInput("100"))
	require.NoError(t, err)
	assert.Equal(t, "richer", sel.Campaign.ID)
	assert.True(t, sel.Benefit.Equal(dec("4")))
	assert.True(t, sel.Cost.Equal(sel.Benefit))
}

func TestSelect_TiesBrokenByCreationThenID(t *testing.T) {
	table := tableResolver{}
	older := withDiscount(activeCampaign("zzz", domain.ScopeTenant, 0), table, "5")
	older.CreatedAt = startDate.Add(-time.Hour)
	newerA := withDiscount(activeCampaign("bbb", domain.ScopeTenant, 0), table, "5")
	newerB := withDiscount(activeCampaign("aaa", domain.ScopeTenant, 0), table, "5")

	s := newSelector(t, table)
	sel, err := s.Select(context.Background(), []*domain.Campaign{newerA, newerB, older}, selectInput("100"))
	require.NoError(t, err)
	assert.Equal(t, "zzz", sel.Campaign.ID)

	sel, err = s.Select(context.Background(), []*domain.Campaign{newerA, newerB}, selectInput("100"))
	require.NoError(t, err)
	assert.Equal(t, "aaa", sel.Campaign.ID)
}

func TestSelect_Deterministic(t *testing.T) {
	table := tableResolver{}
	var candidates []*domain.Campaign
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		candidates = append(candidates, withDiscount(activeCampaign(id, domain.ScopeTenant, 3), table, "5"))
	}
	s := newSelector(t, table)

	for i := 0; i < 20; i++ {
		shuffled := make([]*domain.Campaign, len(candidates))
		for j := range candidates {
			shuffled[(j*7+i)%len(candidates)] = candidates[j]
		}
		sel, err := s.Select(context.Background(), shuffled, selectInput("100"))
		require.NoError(t, err)
		assert.Equal(t, "a", sel.Campaign.ID)
	}
}

// ============================================================================
// Filtering
// ============================================================================

func TestSelect_NoEligibleCandidates(t *testing.T) {
	tpl := activeCampaign("tpl", domain.ScopeTemplate, 50)
	paused := activeCampaign("paused", domain.ScopeTenant, 0)
	paused.Status = domain.StatusPaused

	sel, err := newSelector(t, tableResolver{}).Select(context.Background(), []*domain.Campaign{tpl, paused}, selectInput("100"))
	require.NoError(t, err)
	assert.Nil(t, sel)
}

func TestSelect_Exclude(t *testing.T) {
	table := tableResolver{}
	first := withDiscount(activeCampaign("first", domain.ScopeTenant, 9), table, "5")
	second := withDiscount(activeCampaign("second", domain.ScopeTenant, 1), table, "5")

	in := selectInput("100")
	in.Exclude = map[string]bool{"first": true}
	sel, err := newSelector(t, table).Select(context.Background(), []*domain.Campaign{first, second}, in)
	require.NoError(t, err)
	assert.Equal(t, "second", sel.Campaign.ID)
}

func TestSelect_CampaignWithoutBenefitLosesToLowerPriorityOffer(t *testing.T) {
	table := tableResolver{}
	gated := domain.Rule{
		Type:       domain.RuleConditional,
		Value:      dec("50"),
		Conditions: &domain.Conditions{MinOrderValue: decPtr("500")},
	}
	table["d-empty"] = discount("d-empty", true, gated)
	empty := activeCampaign("empty", domain.ScopeTenant, 90)
	empty.Promotions = []domain.PromotionRef{{Type: domain.PromotionDiscount, RefID: "d-empty"}}
	offer := withDiscount(activeCampaign("offer", domain.ScopeTenant, 10), table, "5")

	s := newSelector(t, table)
	sel, err := s.Select(context.Background(), []*domain.Campaign{empty, offer}, selectInput("100"))
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, "offer", sel.Campaign.ID)
	assert.True(t, sel.Benefit.Equal(dec("5")))

	sel, err = s.Select(context.Background(), []*domain.Campaign{empty}, selectInput("100"))
	require.NoError(t, err)
	assert.Nil(t, sel)
}

func TestSelect_BrokenInvariant(t *testing.T) {
	c := activeCampaign("broken", domain.ScopeTenant, 0)
	c.TenancyID = nil

	_, err := newSelector(t, tableResolver{}).Select(context.Background(), []*domain.Campaign{c}, selectInput("100"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInconsistentConfig))
}

// ============================================================================
// Resolution
// ============================================================================

func TestSelect_UnresolvedPromotionSkipped(t *testing.T) {
	c := activeCampaign("c", domain.ScopeTenant, 0)
	gone := domain.PromotionRef{Type: domain.PromotionDiscount, RefID: "gone"}
	down := domain.PromotionRef{Type: domain.PromotionLoyaltyPoints, RefID: "lp-1"}
	live := domain.PromotionRef{Type: domain.PromotionDiscount, RefID: "live"}
	c.Promotions = []domain.PromotionRef{gone, down, live}

	r := new(mockResolver)
	r.On("Resolve", mock.Anything, "tenant-1", gone).Return(nil, apperrors.NotFound("discount", "gone"))
	r.On("Resolve", mock.Anything, "tenant-1", down).Return(nil, apperrors.ServiceUnavailable("loyalty down"))
	r.On("Resolve", mock.Anything, "tenant-1", live).
		Return(domain.DiscountPromotion{Reference: live, Discount: discount("live", true, fixed("8"))}, nil)

	sel, err := newSelector(t, r).Select(context.Background(), []*domain.Campaign{c}, selectInput("100"))
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.True(t, sel.Result.TotalDiscount.Equal(dec("8")))
	assert.Len(t, sel.Promotions, 1)
	r.AssertExpectations(t)
}

func TestSelect_ResolverFailure(t *testing.T) {
	c := activeCampaign("c", domain.ScopeTenant, 0)
	ref := domain.PromotionRef{Type: domain.PromotionDiscount, RefID: "d"}
	c.Promotions = []domain.PromotionRef{ref}

	r := new(mockResolver)
	r.On("Resolve", mock.Anything, "tenant-1", ref).Return(nil, errors.New("connection reset"))

	_, err := newSelector(t, r).Select(context.Background(), []*domain.Campaign{c}, selectInput("100"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price campaign c")
}

func TestSelect_PreviewIsRepeatable(t *testing.T) {
	table := tableResolver{}
	c := withDiscount(activeCampaign("c", domain.ScopeTenant, 0), table, "5")
	c.Limits = domain.Limits{TotalUsageLimit: 1}
	s := newSelector(t, table)

	first, err := s.Select(context.Background(), []*domain.Campaign{c}, selectInput("100"))
	require.NoError(t, err)
	second, err := s.Select(context.Background(), []*domain.Campaign{c}, selectInput("100"))
	require.NoError(t, err)

	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, 0, c.Limits.UsedCount)
}
