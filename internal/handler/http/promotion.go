package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/service"
	"github.com/utafrali/campaign-engine/pkg/httputil"
	"github.com/utafrali/campaign-engine/pkg/pagination"
	"github.com/utafrali/campaign-engine/pkg/validator"
)

// DiscountService manages discounts.
type DiscountService interface {
	CreateDiscount(ctx context.Context, input *service.CreateDiscountInput) (*domain.Discount, error)
	GetDiscount(ctx context.Context, id string) (*domain.Discount, error)
	ListDiscounts(ctx context.Context, filter domain.DiscountFilter, page pagination.Params) ([]domain.Discount, int, error)
	DeactivateDiscount(ctx context.Context, id string) error
}

// CouponService manages coupons.
type CouponService interface {
	CreateCoupon(ctx context.Context, input *service.CreateCouponInput) (*domain.Coupon, error)
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	DeactivateCoupon(ctx context.Context, code string) error
}

// PromotionHandler handles HTTP requests for discount and coupon endpoints.
type PromotionHandler struct {
	discounts DiscountService
	coupons   CouponService
	logger    *slog.Logger
}

// NewPromotionHandler creates a new promotion HTTP handler.
func NewPromotionHandler(discounts DiscountService, coupons CouponService, logger *slog.Logger) *PromotionHandler {
	return &PromotionHandler{discounts: discounts, coupons: coupons, logger: logger}
}

// CreateDiscountRequest is the JSON request body for creating a discount.
type CreateDiscountRequest struct {
	TenancyID                  *string       `json:"tenancy_id" validate:"omitempty,min=1"`
	Name                       string        `json:"name" validate:"required,min=1,max=255"`
	Priority                   int           `json:"priority" validate:"gte=0"`
	Rules                      []domain.Rule `json:"rules" validate:"required,min=1"`
	StartDate                  string        `json:"start_date" validate:"required"`
	EndDate                    string        `json:"end_date" validate:"required"`
	UsageLimit                 int           `json:"usage_limit" validate:"gte=0"`
	CanStackWithOtherDiscounts bool          `json:"can_stack_with_other_discounts"`
}

// CreateCouponRequest is the JSON request body for creating a coupon.
type CreateCouponRequest struct {
	Code          string           `json:"code" validate:"required,min=3,max=50"`
	TenancyID     *string          `json:"tenancy_id" validate:"omitempty,min=1"`
	Type          string           `json:"type" validate:"required,oneof=percentage fixed_amount"`
	Value         decimal.Decimal  `json:"value" validate:"gte=0"`
	MinOrderValue decimal.Decimal  `json:"min_order_value" validate:"gte=0"`
	MaxDiscount   *decimal.Decimal `json:"max_discount"`
	UsageLimit    int              `json:"usage_limit" validate:"gte=0"`
	StartDate     string           `json:"start_date" validate:"required"`
	EndDate       string           `json:"end_date" validate:"required"`
}

// CreateDiscount handles POST /api/v1/discounts
func (h *PromotionHandler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req CreateDiscountRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	startDate, endDate, ok := parseWindow(w, r, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	d, err := h.discounts.CreateDiscount(r.Context(), &service.CreateDiscountInput{
		TenancyID:                  req.TenancyID,
		Name:                       req.Name,
		Priority:                   req.Priority,
		Rules:                      req.Rules,
		StartDate:                  startDate,
		EndDate:                    endDate,
		UsageLimit:                 req.UsageLimit,
		CanStackWithOtherDiscounts: req.CanStackWithOtherDiscounts,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, d)
}

// GetDiscount handles GET /api/v1/discounts/{id}
func (h *PromotionHandler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	d, err := h.discounts.GetDiscount(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, d)
}

// ListDiscounts handles GET /api/v1/discounts
func (h *PromotionHandler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.DiscountFilter
	if v := q.Get("tenancy_id"); v != "" {
		filter.TenancyID = &v
	}
	if v, err := strconv.ParseBool(q.Get("active")); err == nil {
		filter.ActiveOnly = v
	}

	page := pagination.FromRequest(r)
	list, total, err := h.discounts.ListDiscounts(r.Context(), filter, page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(list, total, page))
}

// DeactivateDiscount handles POST /api/v1/discounts/{id}/deactivate
func (h *PromotionHandler) DeactivateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.discounts.DeactivateDiscount(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateCoupon handles POST /api/v1/coupons
func (h *PromotionHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	startDate, endDate, ok := parseWindow(w, r, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	c, err := h.coupons.CreateCoupon(r.Context(), &service.CreateCouponInput{
		Code:          req.Code,
		TenancyID:     req.TenancyID,
		Type:          domain.RuleType(req.Type),
		Value:         req.Value,
		MinOrderValue: req.MinOrderValue,
		MaxDiscount:   req.MaxDiscount,
		UsageLimit:    req.UsageLimit,
		StartDate:     startDate,
		EndDate:       endDate,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, c)
}

// GetCoupon handles GET /api/v1/coupons/{code}
func (h *PromotionHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.GetCoupon(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}

// DeactivateCoupon handles POST /api/v1/coupons/{code}/deactivate
func (h *PromotionHandler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.DeactivateCoupon(r.Context(), chi.URLParam(r, "code")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
