package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/utafrali/campaign-engine/internal/domain"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

// --- Mock repositories ---

type mockCampaignRepository struct {
	mock.Mock
}

func (m *mockCampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCampaignRepository) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *mockCampaignRepository) List(ctx context.Context, filter domain.CampaignFilter, page pagination.Params) ([]domain.Campaign, int, error) {
	args := m.Called(ctx, filter, page)
	return args.Get(0).([]domain.Campaign), args.Int(1), args.Error(2)
}

func (m *mockCampaignRepository) Update(ctx context.Context, c *domain.Campaign) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCampaignRepository) UpdateStatus(ctx context.Context, id string, from, to domain.Status) error {
	return m.Called(ctx, id, from, to).Error(0)
}

func (m *mockCampaignRepository) ListCandidates(ctx context.Context, tenancyID string, trigger domain.TriggerType, now time.Time) ([]*domain.Campaign, error) {
	args := m.Called(ctx, tenancyID, trigger, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Campaign), args.Error(1)
}

func (m *mockCampaignRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Campaign), args.Error(1)
}

type mockDiscountRepository struct {
	mock.Mock
}

func (m *mockDiscountRepository) Create(ctx context.Context, d *domain.Discount) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockDiscountRepository) GetByID(ctx context.Context, id string) (*domain.Discount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Discount), args.Error(1)
}

func (m *mockDiscountRepository) List(ctx context.Context, filter domain.DiscountFilter, page pagination.Params) ([]domain.Discount, int, error) {
	args := m.Called(ctx, filter, page)
	return args.Get(0).([]domain.Discount), args.Int(1), args.Error(2)
}

func (m *mockDiscountRepository) SetActive(ctx context.Context, id string, active bool) error {
	return m.Called(ctx, id, active).Error(0)
}

type mockCouponRepository struct {
	mock.Mock
}

func (m *mockCouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCouponRepository) GetByID(ctx context.Context, id string) (*domain.Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *mockCouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *mockCouponRepository) SetActive(ctx context.Context, code string, active bool) error {
	return m.Called(ctx, code, active).Error(0)
}

type mockLedgerRepository struct {
	mock.Mock
}

func (m *mockLedgerRepository) Commit(ctx context.Context, in domain.CommitInput) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

func (m *mockLedgerRepository) Compensate(ctx context.Context, orderID string) ([]domain.LedgerEntry, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LedgerEntry), args.Error(1)
}

func (m *mockLedgerRepository) ListByCampaign(ctx context.Context, id string, page pagination.Params) ([]domain.LedgerEntry, int, error) {
	args := m.Called(ctx, id, page)
	return args.Get(0).([]domain.LedgerEntry), args.Int(1), args.Error(2)
}

func (m *mockLedgerRepository) Summary(ctx context.Context, id string) (*domain.LedgerSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerSummary), args.Error(1)
}

// --- Mock collaborators ---

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, tenancyID string, trigger domain.TriggerType) ([]*domain.Campaign, bool, error) {
	args := m.Called(ctx, tenancyID, trigger)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]*domain.Campaign), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, tenancyID string, trigger domain.TriggerType, campaigns []*domain.Campaign) error {
	return m.Called(ctx, tenancyID, trigger, campaigns).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, tenancyID string) error {
	return m.Called(ctx, tenancyID).Error(0)
}

func (m *mockCache) InvalidateAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishCampaignCreated(ctx context.Context, c *domain.Campaign) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockPublisher) PublishStatusChanged(ctx context.Context, id string, from, to domain.Status) error {
	return m.Called(ctx, id, from, to).Error(0)
}

func (m *mockPublisher) PublishCampaignApplied(ctx context.Context, req domain.CheckoutRequest, result *domain.ApplicationResult) error {
	return m.Called(ctx, req, result).Error(0)
}

type mockLoyalty struct {
	mock.Mock
}

func (m *mockLoyalty) GetProgram(ctx context.Context, tenancyID, programID string) (*domain.LoyaltyProgram, error) {
	args := m.Called(ctx, tenancyID, programID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LoyaltyProgram), args.Error(1)
}

// --- Fakes ---

// stubUsers returns the same shopper history for everyone.
type stubUsers struct {
	mu          sync.Mutex
	user        domain.UserContext
	err         error
	invalidated int
}

func (s *stubUsers) UserContext(_ context.Context, _, userID string) (domain.UserContext, error) {
	if s.err != nil {
		return domain.UserContext{}, s.err
	}
	u := s.user
	u.UserID = userID
	return u, nil
}

func (s *stubUsers) Invalidate(_, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

// memLedger enforces total usage limits under a mutex, the way the
// conditional UPDATE does in Postgres.
type memLedger struct {
	mu          sync.Mutex
	limits      map[string]int
	dailyLimits map[string]int
	used        map[string]int
	daily       map[string]int
	orders      map[string]bool
	commits     []domain.CommitInput
}

func newMemLedger(limits map[string]int) *memLedger {
	return &memLedger{
		limits:      limits,
		dailyLimits: map[string]int{},
		used:        map[string]int{},
		daily:       map[string]int{},
		orders:      map[string]bool{},
	}
}

func (l *memLedger) Commit(_ context.Context, in domain.CommitInput) (*domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := in.OrderID + "/" + in.CampaignID
	if l.orders[key] {
		return nil, apperrors.AlreadyExists("ledger entry", "order_id", in.OrderID)
	}
	if limit := l.limits[in.CampaignID]; limit > 0 && l.used[in.CampaignID] >= limit {
		return nil, apperrors.UsageLimitExceeded("campaign", in.CampaignID, "total")
	}
	dayKey := in.CampaignID + "/" + in.Day.Format(time.DateOnly)
	if limit := l.dailyLimits[in.CampaignID]; limit > 0 && l.daily[dayKey] >= limit {
		return nil, apperrors.UsageLimitExceeded("campaign", in.CampaignID, "daily")
	}
	l.used[in.CampaignID]++
	l.daily[dayKey]++
	l.orders[key] = true
	l.commits = append(l.commits, in)
	return &domain.LedgerEntry{CampaignID: in.CampaignID, OrderID: in.OrderID, Kind: domain.LedgerUsage, DiscountAmount: in.DiscountAmount}, nil
}

func (l *memLedger) Compensate(context.Context, string) ([]domain.LedgerEntry, error) {
	return nil, nil
}

func (l *memLedger) ListByCampaign(context.Context, string, pagination.Params) ([]domain.LedgerEntry, int, error) {
	return nil, 0, nil
}

func (l *memLedger) Summary(context.Context, string) (*domain.LedgerSummary, error) {
	return &domain.LedgerSummary{}, nil
}

func (l *memLedger) UsageFor(_ context.Context, _ string, _ []string, _ time.Time) (map[string]domain.CampaignUsage, error) {
	return map[string]domain.CampaignUsage{}, nil
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

var (
	// Wednesday 2026-03-04 12:00 UTC.
	testNow   = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	testStart = testNow.Add(-24 * time.Hour)
	testEnd   = testNow.Add(7 * 24 * time.Hour)
)

func fixedClock() time.Time { return testNow }

func tenantCampaign(id string, priority int, promotions ...domain.PromotionRef) *domain.Campaign {
	return &domain.Campaign{
		ID:         id,
		Name:       "campaign " + id,
		Scope:      domain.ScopeTenant,
		TenancyID:  strPtr("tenant-1"),
		StartDate:  testStart,
		EndDate:    testEnd,
		Priority:   priority,
		Status:     domain.StatusActive,
		Triggers:   []domain.Trigger{{Type: domain.TriggerOrderCheckout}},
		Audience:   domain.Audience{Type: domain.AudienceAllUsers},
		Promotions: promotions,
		Budget:     domain.Budget{Type: domain.BudgetUnlimited, Source: domain.BudgetSourceTenant},
		CreatedAt:  testStart,
	}
}

func discountRef(id string) domain.PromotionRef {
	return domain.PromotionRef{Type: domain.PromotionDiscount, RefID: id}
}

func percentDiscount(id, pct string) *domain.Discount {
	return &domain.Discount{
		ID:        id,
		Name:      "discount " + id,
		Rules:     []domain.Rule{{Type: domain.RulePercentage, Value: dec(pct)}},
		IsActive:  true,
		StartDate: testStart,
		EndDate:   testEnd,
	}
}

func checkoutRequest(orderID, total string) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		TenancyID:   "tenant-1",
		UserID:      "user-1",
		OrderID:     orderID,
		TriggerType: domain.TriggerOrderCheckout,
		Order: domain.OrderSnapshot{
			Total: dec(total),
			Items: []domain.OrderItem{{SKU: "sku-1", Quantity: 1, Price: dec(total)}},
		},
	}
}
