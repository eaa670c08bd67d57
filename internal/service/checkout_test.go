package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/engine"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/validator"
)

type checkoutFixture struct {
	campaigns *mockCampaignRepository
	discounts *mockDiscountRepository
	cache     *mockCache
	users     *stubUsers
	ledger    *memLedger
	producer  *mockPublisher
	svc       *CheckoutService
}

func newCheckoutFixture(t *testing.T, limits map[string]int, maxAttempts int) *checkoutFixture {
	t.Helper()
	audience, err := engine.NewAudienceEvaluator()
	require.NoError(t, err)

	f := &checkoutFixture{
		campaigns: new(mockCampaignRepository),
		discounts: new(mockDiscountRepository),
		cache:     new(mockCache),
		users:     &stubUsers{user: domain.UserContext{OrderCount: 3}},
		ledger:    newMemLedger(limits),
		producer:  new(mockPublisher),
	}
	logger := newTestLogger()
	resolver := NewPromotionResolver(f.discounts, new(mockCouponRepository), new(mockLoyalty))
	selector := engine.NewSelector(engine.NewEligibility(audience), resolver, logger)

	f.svc = NewCheckoutService(
		f.campaigns, f.ledger, f.cache, f.users, selector,
		NewLedgerService(f.ledger, logger), f.producer,
		CheckoutConfig{MaxAttempts: maxAttempts}, logger,
	)
	f.svc.now = fixedClock
	return f
}

// withCandidates serves campaigns from the database on a cache miss.
func (f *checkoutFixture) withCandidates(campaigns ...*domain.Campaign) {
	f.cache.On("Get", mock.Anything, "tenant-1", domain.TriggerOrderCheckout).Return(nil, false, nil)
	f.cache.On("Set", mock.Anything, "tenant-1", domain.TriggerOrderCheckout, mock.Anything).Return(nil)
	f.cache.On("Invalidate", mock.Anything, "tenant-1").Return(nil).Maybe()
	f.campaigns.On("ListCandidates", mock.Anything, "tenant-1", domain.TriggerOrderCheckout, testNow).Return(campaigns, nil)
}

func (f *checkoutFixture) withDiscount(id, pct string) {
	f.discounts.On("GetByID", mock.Anything, id).Return(percentDiscount(id, pct), nil)
}

// ---------------------------------------------------------------------------
// Preview
// ---------------------------------------------------------------------------

func TestPreview_NoCandidates(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.withCandidates()

	result, err := f.svc.Preview(context.Background(), checkoutRequest("", "100"))
	require.NoError(t, err)

	assert.Nil(t, result.AppliedCampaign)
	assert.True(t, result.TotalDiscount.IsZero())
	assert.True(t, dec("100").Equal(result.FinalAmount))
}

func TestPreview_SelectsBestAndWritesNothing(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.withCandidates(
		tenantCampaign("c-low", 10, discountRef("disc-20")),
		tenantCampaign("c-high", 90, discountRef("disc-10")),
	)
	f.withDiscount("disc-10", "10")
	f.withDiscount("disc-20", "20")

	req := checkoutRequest("", "100")
	first, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, first.AppliedCampaign)
	assert.Equal(t, "c-high", first.AppliedCampaign.ID)
	assert.True(t, dec("10").Equal(first.TotalDiscount))
	assert.True(t, dec("90").Equal(first.FinalAmount))
	assert.Equal(t, first, second)

	assert.Empty(t, f.ledger.commits)
	f.producer.AssertNotCalled(t, "PublishCampaignApplied", mock.Anything, mock.Anything, mock.Anything)
}

func TestPreview_CacheHitSkipsDatabase(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.cache.On("Get", mock.Anything, "tenant-1", domain.TriggerOrderCheckout).
		Return([]*domain.Campaign{tenantCampaign("c-1", 50, discountRef("disc-10"))}, true, nil)
	f.withDiscount("disc-10", "10")

	result, err := f.svc.Preview(context.Background(), checkoutRequest("", "50"))
	require.NoError(t, err)
	assert.True(t, dec("5").Equal(result.TotalDiscount))
	f.campaigns.AssertNotCalled(t, "ListCandidates", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPreview_CacheErrorFallsBackToDatabase(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.cache.On("Get", mock.Anything, "tenant-1", domain.TriggerOrderCheckout).Return(nil, false, errors.New("redis down"))
	f.cache.On("Set", mock.Anything, "tenant-1", domain.TriggerOrderCheckout, mock.Anything).Return(errors.New("redis down"))
	f.campaigns.On("ListCandidates", mock.Anything, "tenant-1", domain.TriggerOrderCheckout, testNow).
		Return([]*domain.Campaign{tenantCampaign("c-1", 50, discountRef("disc-10"))}, nil)
	f.withDiscount("disc-10", "10")

	result, err := f.svc.Preview(context.Background(), checkoutRequest("", "100"))
	require.NoError(t, err)
	assert.Equal(t, "c-1", result.AppliedCampaign.ID)
}

func TestPreview_InvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*domain.CheckoutRequest)
		wantErr func(t *testing.T, err error)
	}{
		{
			name:   "unknown trigger",
			modify: func(r *domain.CheckoutRequest) { r.TriggerType = "BIRTHDAY" },
			wantErr: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
			},
		},
		{
			name:   "unknown timezone",
			modify: func(r *domain.CheckoutRequest) { r.Timezone = "Mars/Olympus_Mons" },
			wantErr: func(t *testing.T, err error) {
				var ve *validator.ValidationError
				assert.ErrorAs(t, err, &ve)
			},
		},
		{
			name:   "missing user",
			modify: func(r *domain.CheckoutRequest) { r.UserID = "" },
			wantErr: func(t *testing.T, err error) {
				var ve *validator.ValidationError
				assert.ErrorAs(t, err, &ve)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t, nil, 3)
			req := checkoutRequest("", "100")
			tt.modify(&req)

			_, err := f.svc.Preview(context.Background(), req)
			require.Error(t, err)
			tt.wantErr(t, err)
		})
	}
}

func TestPreview_UserStatsUnavailable(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.users.err = apperrors.ServiceUnavailable("user-stats circuit open")

	_, err := f.svc.Preview(context.Background(), checkoutRequest("", "100"))
	assert.True(t, errors.Is(err, apperrors.ErrServiceUnavail))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestPreview_TimezoneMovesTheCalendarDay(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	c := tenantCampaign("c-wed", 50, discountRef("disc-10"))
	// testNow is Wednesday 12:00 UTC, already Thursday in Kiribati.
	c.Triggers = []domain.Trigger{{Type: domain.TriggerOrderCheckout, DaysOfWeek: []int{3}}}
	f.withCandidates(c)
	f.withDiscount("disc-10", "10")

	req := checkoutRequest("", "100")
	utc, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, utc.AppliedCampaign)

	req.Timezone = "Pacific/Kiritimati"
	kiribati, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, kiribati.AppliedCampaign)
}

// ---------------------------------------------------------------------------
// Apply
// ---------------------------------------------------------------------------

func TestApply_CommitsAndPublishes(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.withCandidates(tenantCampaign("c-1", 50, discountRef("disc-10")))
	f.withDiscount("disc-10", "10")
	f.producer.On("PublishCampaignApplied", mock.Anything, mock.Anything, mock.AnythingOfType("*domain.ApplicationResult")).Return(nil)

	result, err := f.svc.Apply(context.Background(), checkoutRequest("order-1", "200"))
	require.NoError(t, err)

	assert.Equal(t, "c-1", result.AppliedCampaign.ID)
	assert.True(t, dec("20").Equal(result.TotalDiscount))
	require.Len(t, f.ledger.commits, 1)
	commit := f.ledger.commits[0]
	assert.Equal(t, "order-1", commit.OrderID)
	assert.True(t, dec("20").Equal(commit.DiscountAmount))
	assert.True(t, domain.CalendarDay(testNow).Equal(commit.Day))
	require.Len(t, commit.Applied, 1)
	assert.Equal(t, "disc-10", commit.Applied[0].ID)
	assert.Equal(t, 1, f.users.invalidated)
	f.producer.AssertExpectations(t)
}

func TestApply_RequiresOrderID(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	_, err := f.svc.Apply(context.Background(), checkoutRequest("", "100"))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestApply_NothingEligibleCommitsNothing(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.withCandidates()

	result, err := f.svc.Apply(context.Background(), checkoutRequest("order-1", "100"))
	require.NoError(t, err)
	assert.Nil(t, result.AppliedCampaign)
	assert.Empty(t, f.ledger.commits)
}

func TestApply_LostRaceReselectsNextBest(t *testing.T) {
	f := newCheckoutFixture(t, map[string]int{"c-high": 1}, 3)
	// Another checkout already took the last use of c-high.
	f.ledger.used["c-high"] = 1
	f.withCandidates(
		tenantCampaign("c-high", 90, discountRef("disc-20")),
		tenantCampaign("c-low", 10, discountRef("disc-10")),
	)
	f.withDiscount("disc-10", "10")
	f.withDiscount("disc-20", "20")
	f.producer.On("PublishCampaignApplied", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.Apply(context.Background(), checkoutRequest("order-1", "100"))
	require.NoError(t, err)

	assert.Equal(t, "c-low", result.AppliedCampaign.ID)
	assert.True(t, dec("10").Equal(result.TotalDiscount))
	f.cache.AssertCalled(t, "Invalidate", mock.Anything, "tenant-1")
}

func TestApply_FallsBackAfterMaxAttempts(t *testing.T) {
	limits := map[string]int{"c-1": 1, "c-2": 1, "c-3": 1}
	f := newCheckoutFixture(t, limits, 2)
	for id := range limits {
		f.ledger.used[id] = 1
	}
	f.withCandidates(
		tenantCampaign("c-1", 90, discountRef("disc-10")),
		tenantCampaign("c-2", 80, discountRef("disc-10")),
		tenantCampaign("c-3", 70, discountRef("disc-10")),
	)
	f.withDiscount("disc-10", "10")

	result, err := f.svc.Apply(context.Background(), checkoutRequest("order-1", "100"))
	require.NoError(t, err)

	assert.Nil(t, result.AppliedCampaign)
	assert.True(t, dec("100").Equal(result.FinalAmount))
	assert.Empty(t, f.ledger.commits)
	f.producer.AssertNotCalled(t, "PublishCampaignApplied", mock.Anything, mock.Anything, mock.Anything)
}

func TestApply_DuplicateOrderIsRejected(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.withCandidates(tenantCampaign("c-1", 50, discountRef("disc-10")))
	f.withDiscount("disc-10", "10")
	f.producer.On("PublishCampaignApplied", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	req := checkoutRequest("order-1", "100")
	_, err := f.svc.Apply(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.Apply(context.Background(), req)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
	assert.Len(t, f.ledger.commits, 1)
}

func TestApply_DailyLimitIgnoresRequestTimezone(t *testing.T) {
	f := newCheckoutFixture(t, nil, 1)
	c := tenantCampaign("c-1", 50, discountRef("disc-10"))
	c.Limits.DailyLimit = 1
	f.ledger.dailyLimits["c-1"] = 1
	f.withCandidates(c)
	f.withDiscount("disc-10", "10")
	f.producer.On("PublishCampaignApplied", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// At testNow it is already Thursday in Kiribati and still Wednesday in Samoa.
	first := checkoutRequest("order-1", "100")
	first.Timezone = "Pacific/Kiritimati"
	result, err := f.svc.Apply(context.Background(), first)
	require.NoError(t, err)
	require.NotNil(t, result.AppliedCampaign)

	second := checkoutRequest("order-2", "100")
	second.Timezone = "Pacific/Pago_Pago"
	result, err = f.svc.Apply(context.Background(), second)
	require.NoError(t, err)
	assert.Nil(t, result.AppliedCampaign)

	require.Len(t, f.ledger.commits, 1)
	assert.True(t, domain.CalendarDay(testNow).Equal(f.ledger.commits[0].Day))
}

func TestApply_ConcurrentCheckoutsNeverExceedLimit(t *testing.T) {
	f := newCheckoutFixture(t, map[string]int{"c-1": 1}, 3)
	f.withCandidates(tenantCampaign("c-1", 50, discountRef("disc-10")))
	f.withDiscount("disc-10", "10")
	f.producer.On("PublishCampaignApplied", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	const shoppers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		discounted int
	)
	for i := range shoppers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Apply(context.Background(), checkoutRequest(fmt.Sprintf("order-%d", i), "100"))
			if !assert.NoError(t, err) {
				return
			}
			if result.AppliedCampaign != nil {
				mu.Lock()
				discounted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, discounted)
	assert.Len(t, f.ledger.commits, 1)
	f.producer.AssertNumberOfCalls(t, "PublishCampaignApplied", 1)
}

// ---------------------------------------------------------------------------
// CommitPreviewed
// ---------------------------------------------------------------------------

func TestCommitPreviewed_Success(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.withCandidates(
		tenantCampaign("c-high", 90, discountRef("disc-10")),
		tenantCampaign("c-low", 10, discountRef("disc-20")),
	)
	f.withDiscount("disc-10", "10")
	f.withDiscount("disc-20", "20")
	f.producer.On("PublishCampaignApplied", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// The shopper chose c-low from an earlier preview.
	result, err := f.svc.CommitPreviewed(context.Background(), checkoutRequest("order-1", "100"), "c-low")
	require.NoError(t, err)
	assert.Equal(t, "c-low", result.AppliedCampaign.ID)
	assert.True(t, dec("20").Equal(result.TotalDiscount))
	require.Len(t, f.ledger.commits, 1)
	assert.Equal(t, "c-low", f.ledger.commits[0].CampaignID)
}

func TestCommitPreviewed_NoLongerApplies(t *testing.T) {
	f := newCheckoutFixture(t, nil, 3)
	f.withCandidates(tenantCampaign("c-1", 50, discountRef("disc-10")))

	_, err := f.svc.CommitPreviewed(context.Background(), checkoutRequest("order-1", "100"), "c-gone")
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Empty(t, f.ledger.commits)
}

func TestCommitPreviewed_LostRaceIsReturned(t *testing.T) {
	f := newCheckoutFixture(t, map[string]int{"c-1": 1}, 3)
	f.ledger.used["c-1"] = 1
	f.withCandidates(tenantCampaign("c-1", 50, discountRef("disc-10")))
	f.withDiscount("disc-10", "10")

	_, err := f.svc.CommitPreviewed(context.Background(), checkoutRequest("order-1", "100"), "c-1")
	assert.True(t, errors.Is(err, apperrors.ErrUsageLimitExceeded))
	assert.True(t, apperrors.IsRetryable(err))
	f.cache.AssertCalled(t, "Invalidate", mock.Anything, "tenant-1")
}
