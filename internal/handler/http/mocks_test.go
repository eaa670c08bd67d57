package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/service"
	"github.com/utafrali/campaign-engine/pkg/health"
	"github.com/utafrali/campaign-engine/pkg/httputil"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

// ============================================================================
// Mock services
// ============================================================================

type mockCampaignService struct {
	mock.Mock
}

func (m *mockCampaignService) CreateCampaign(ctx context.Context, input *service.CreateCampaignInput) (*domain.Campaign, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *mockCampaignService) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *mockCampaignService) GetSummary(ctx context.Context, id string) (*domain.CampaignSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CampaignSummary), args.Error(1)
}

func (m *mockCampaignService) ListCampaigns(ctx context.Context, filter domain.CampaignFilter, page pagination.Params) ([]domain.Campaign, int, error) {
	args := m.Called(ctx, filter, page)
	return args.Get(0).([]domain.Campaign), args.Int(1), args.Error(2)
}

func (m *mockCampaignService) UpdateCampaign(ctx context.Context, id string, input *service.UpdateCampaignInput) (*domain.Campaign, error) {
	args := m.Called(ctx, id, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *mockCampaignService) Transition(ctx context.Context, id string, action service.Action) (*domain.Campaign, error) {
	args := m.Called(ctx, id, action)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *mockCampaignService) Instantiate(ctx context.Context, templateID string, input *service.InstantiateInput) (*domain.Campaign, error) {
	args := m.Called(ctx, templateID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) ListEntries(ctx context.Context, campaignID string, page pagination.Params) ([]domain.LedgerEntry, int, error) {
	args := m.Called(ctx, campaignID, page)
	return args.Get(0).([]domain.LedgerEntry), args.Int(1), args.Error(2)
}

func (m *mockLedger) Summary(ctx context.Context, campaignID string) (*domain.LedgerSummary, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerSummary), args.Error(1)
}

type mockCheckoutService struct {
	mock.Mock
}

func (m *mockCheckoutService) Preview(ctx context.Context, req domain.CheckoutRequest) (*domain.ApplicationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ApplicationResult), args.Error(1)
}

func (m *mockCheckoutService) Apply(ctx context.Context, req domain.CheckoutRequest) (*domain.ApplicationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ApplicationResult), args.Error(1)
}

func (m *mockCheckoutService) CommitPreviewed(ctx context.Context, req domain.CheckoutRequest, campaignID string) (*domain.ApplicationResult, error) {
	args := m.Called(ctx, req, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ApplicationResult), args.Error(1)
}

type mockDiscountService struct {
	mock.Mock
}

func (m *mockDiscountService) CreateDiscount(ctx context.Context, input *service.CreateDiscountInput) (*domain.Discount, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Discount), args.Error(1)
}

func (m *mockDiscountService) GetDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Discount), args.Error(1)
}

func (m *mockDiscountService) ListDiscounts(ctx context.Context, filter domain.DiscountFilter, page pagination.Params) ([]domain.Discount, int, error) {
	args := m.Called(ctx, filter, page)
	return args.Get(0).([]domain.Discount), args.Int(1), args.Error(2)
}

func (m *mockDiscountService) DeactivateDiscount(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockCouponService struct {
	mock.Mock
}

func (m *mockCouponService) CreateCoupon(ctx context.Context, input *service.CreateCouponInput) (*domain.Coupon, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *mockCouponService) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *mockCouponService) DeactivateCoupon(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

// ============================================================================
// Test helpers
// ============================================================================

const (
	testCampaignID = "550e8400-e29b-41d4-a716-446655440001"
	testDiscountID = "550e8400-e29b-41d4-a716-446655440002"
)

type testServer struct {
	campaigns *mockCampaignService
	ledger    *mockLedger
	checkout  *mockCheckoutService
	discounts *mockDiscountService
	coupons   *mockCouponService
	handler   http.Handler
}

func newTestServer() *testServer {
	s := &testServer{
		campaigns: new(mockCampaignService),
		ledger:    new(mockLedger),
		checkout:  new(mockCheckoutService),
		discounts: new(mockDiscountService),
		coupons:   new(mockCouponService),
	}
	s.handler = NewRouter(Services{
		Campaigns: s.campaigns,
		Ledger:    s.ledger,
		Checkout:  s.checkout,
		Discounts: s.discounts,
		Coupons:   s.coupons,
	}, health.NewHandler(time.Second), testLogger())
	return s
}

// do sends a request through the full router.
func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

// decodeData decodes the data half of the envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func sampleCampaign() *domain.Campaign {
	tenancy := "tenant-1"
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Campaign{
		ID:         testCampaignID,
		Name:       "Spring Sale",
		Scope:      domain.ScopeTenant,
		TenancyID:  &tenancy,
		StartDate:  start,
		EndDate:    start.Add(30 * 24 * time.Hour),
		Priority:   50,
		Status:     domain.StatusDraft,
		Triggers:   []domain.Trigger{{Type: domain.TriggerOrderCheckout}},
		Audience:   domain.Audience{Type: domain.AudienceAllUsers},
		Promotions: []domain.PromotionRef{},
		Budget:     domain.Budget{Type: domain.BudgetUnlimited, Source: domain.BudgetSourcePlatform},
		CreatedAt:  start,
		UpdatedAt:  start,
	}
}
