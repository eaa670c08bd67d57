package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/campaign-engine/internal/domain"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/httputil"
	"github.com/utafrali/campaign-engine/pkg/middleware"
	"github.com/utafrali/campaign-engine/pkg/validator"
)

// CheckoutService evaluates and commits campaigns for checkouts.
type CheckoutService interface {
	Preview(ctx context.Context, req domain.CheckoutRequest) (*domain.ApplicationResult, error)
	Apply(ctx context.Context, req domain.CheckoutRequest) (*domain.ApplicationResult, error)
	CommitPreviewed(ctx context.Context, req domain.CheckoutRequest, campaignID string) (*domain.ApplicationResult, error)
}

// CheckoutHandler serves the checkout evaluation endpoints. The tenancy is
// taken from the X-Tenancy-ID header; a tenancy_id in the body must match it.
type CheckoutHandler struct {
	service CheckoutService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(svc CheckoutService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{service: svc, logger: logger}
}

// CheckoutRequest is the JSON request body of preview and apply.
type CheckoutRequest struct {
	TenancyID   string               `json:"tenancy_id"`
	UserID      string               `json:"user_id" validate:"required"`
	OrderID     string               `json:"order_id"`
	TriggerType string               `json:"trigger_type" validate:"required"`
	Order       domain.OrderSnapshot `json:"order"`
	Timezone    string               `json:"timezone" validate:"omitempty,timezone"`
}

// CommitRequest is the JSON request body of commit: the checkout again plus
// the campaign chosen from a preview.
type CommitRequest struct {
	CheckoutRequest
	CampaignID string `json:"campaign_id" validate:"required"`
}

// Preview handles POST /api/v1/checkout/preview
func (h *CheckoutHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var body CheckoutRequest
	if err := validator.DecodeAndValidate(r, &body); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	req, ok := h.checkoutRequest(w, r, body)
	if !ok {
		return
	}

	result, err := h.service.Preview(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// Apply handles POST /api/v1/checkout/apply
func (h *CheckoutHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var body CheckoutRequest
	if err := validator.DecodeAndValidate(r, &body); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	req, ok := h.checkoutRequest(w, r, body)
	if !ok {
		return
	}

	result, err := h.service.Apply(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// Commit handles POST /api/v1/checkout/commit
func (h *CheckoutHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var body CommitRequest
	if err := validator.DecodeAndValidate(r, &body); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	req, ok := h.checkoutRequest(w, r, body.CheckoutRequest)
	if !ok {
		return
	}

	result, err := h.service.CommitPreviewed(r.Context(), req, body.CampaignID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// checkoutRequest resolves the tenancy and builds the engine request. On
// failure it writes a 400.
func (h *CheckoutHandler) checkoutRequest(w http.ResponseWriter, r *http.Request, body CheckoutRequest) (domain.CheckoutRequest, bool) {
	tenancyID := r.Header.Get(middleware.HeaderTenancyID)
	switch {
	case tenancyID == "" && body.TenancyID == "":
		httputil.WriteError(w, r, apperrors.InvalidInput("the "+middleware.HeaderTenancyID+" header is required"), h.logger)
		return domain.CheckoutRequest{}, false
	case tenancyID == "":
		tenancyID = body.TenancyID
	case body.TenancyID != "" && body.TenancyID != tenancyID:
		httputil.WriteError(w, r, apperrors.InvalidInput("tenancy_id does not match the "+middleware.HeaderTenancyID+" header"), h.logger)
		return domain.CheckoutRequest{}, false
	}

	return domain.CheckoutRequest{
		TenancyID:   tenancyID,
		UserID:      body.UserID,
		OrderID:     body.OrderID,
		TriggerType: domain.TriggerType(body.TriggerType),
		Order:       body.Order,
		Timezone:    body.Timezone,
	}, true
}
