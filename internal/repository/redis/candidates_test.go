package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/campaign-engine/internal/domain"
)

func setupTestRedis(t *testing.T) (*CandidateCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCandidateCache(client, 30*time.Second), mr
}

func sampleCampaign(id string) *domain.Campaign {
	tenancy := "tenant-1"
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Campaign{
		ID:        id,
		Name:      "Campaign " + id,
		Scope:     domain.ScopeTenant,
		TenancyID: &tenancy,
		StartDate: start,
		EndDate:   start.AddDate(0, 1, 0),
		Priority:  7,
		Status:    domain.StatusActive,
		Triggers:  []domain.Trigger{{Type: domain.TriggerOrderCheckout}},
		Budget: domain.Budget{
			Type:        domain.BudgetFixed,
			TotalAmount: decimal.RequireFromString("500.00"),
			SpentAmount: decimal.RequireFromString("12.50"),
		},
		CreatedAt: start,
		UpdatedAt: start,
	}
}

// ---------------------------------------------------------------------------
// Get / Set
// ---------------------------------------------------------------------------

func TestCandidateCache_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	got, ok, err := cache.Get(context.Background(), "tenant-1", domain.TriggerOrderCheckout)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCandidateCache_RoundTrip(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "tenant-1", domain.TriggerOrderCheckout,
		[]*domain.Campaign{sampleCampaign("a"), sampleCampaign("b")}))

	assert.True(t, mr.Exists("campaign:candidates:tenant-1:ORDER_CHECKOUT"))
	assert.Equal(t, 30*time.Second, mr.TTL("campaign:candidates:tenant-1:ORDER_CHECKOUT"))

	got, ok, err := cache.Get(ctx, "tenant-1", domain.TriggerOrderCheckout)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].ID)
	assert.True(t, got[0].Budget.SpentAmount.Equal(decimal.RequireFromString("12.5")))
}

func TestCandidateCache_EmptyListIsAHit(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "tenant-1", domain.TriggerReferral, nil))

	got, ok, err := cache.Get(ctx, "tenant-1", domain.TriggerReferral)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestCandidateCache_Expires(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "tenant-1", domain.TriggerOrderCheckout, []*domain.Campaign{sampleCampaign("a")}))
	mr.FastForward(31 * time.Second)

	_, ok, err := cache.Get(ctx, "tenant-1", domain.TriggerOrderCheckout)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCandidateCache_CorruptEntry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("campaign:candidates:tenant-1:ORDER_CHECKOUT", "{broken"))

	_, _, err := cache.Get(context.Background(), "tenant-1", domain.TriggerOrderCheckout)
	assert.ErrorContains(t, err, "unmarshal candidates")
}

// ---------------------------------------------------------------------------
// Invalidation
// ---------------------------------------------------------------------------

func TestCandidateCache_InvalidateTenancy(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	list := []*domain.Campaign{sampleCampaign("a")}

	require.NoError(t, cache.Set(ctx, "tenant-1", domain.TriggerOrderCheckout, list))
	require.NoError(t, cache.Set(ctx, "tenant-1", domain.TriggerFirstOrder, list))
	require.NoError(t, cache.Set(ctx, "tenant-2", domain.TriggerOrderCheckout, list))

	require.NoError(t, cache.Invalidate(ctx, "tenant-1"))

	assert.False(t, mr.Exists("campaign:candidates:tenant-1:ORDER_CHECKOUT"))
	assert.False(t, mr.Exists("campaign:candidates:tenant-1:FIRST_ORDER"))
	assert.True(t, mr.Exists("campaign:candidates:tenant-2:ORDER_CHECKOUT"))
}

func TestCandidateCache_InvalidateAll(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	list := []*domain.Campaign{sampleCampaign("a")}

	for _, tenancy := range []string{"t1", "t2", "t3"} {
		require.NoError(t, cache.Set(ctx, tenancy, domain.TriggerOrderCheckout, list))
	}
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, cache.InvalidateAll(ctx))

	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}
