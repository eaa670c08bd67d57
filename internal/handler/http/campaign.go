package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/service"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/httputil"
	"github.com/utafrali/campaign-engine/pkg/pagination"
	"github.com/utafrali/campaign-engine/pkg/validator"
)

// CampaignService is the campaign administration the handler needs.
type CampaignService interface {
	CreateCampaign(ctx context.Context, input *service.CreateCampaignInput) (*domain.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	GetSummary(ctx context.Context, id string) (*domain.CampaignSummary, error)
	ListCampaigns(ctx context.Context, filter domain.CampaignFilter, page pagination.Params) ([]domain.Campaign, int, error)
	UpdateCampaign(ctx context.Context, id string, input *service.UpdateCampaignInput) (*domain.Campaign, error)
	Transition(ctx context.Context, id string, action service.Action) (*domain.Campaign, error)
	Instantiate(ctx context.Context, templateID string, input *service.InstantiateInput) (*domain.Campaign, error)
}

// LedgerReader exposes a campaign's usage ledger.
type LedgerReader interface {
	ListEntries(ctx context.Context, campaignID string, page pagination.Params) ([]domain.LedgerEntry, int, error)
	Summary(ctx context.Context, campaignID string) (*domain.LedgerSummary, error)
}

// CampaignHandler handles HTTP requests for campaign endpoints.
type CampaignHandler struct {
	service CampaignService
	ledger  LedgerReader
	logger  *slog.Logger
}

// NewCampaignHandler creates a new campaign HTTP handler.
func NewCampaignHandler(svc CampaignService, ledger LedgerReader, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{
		service: svc,
		ledger:  ledger,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateCampaignRequest is the JSON request body for creating a campaign.
type CreateCampaignRequest struct {
	Name                string                `json:"name" validate:"required,min=1,max=255"`
	Description         string                `json:"description" validate:"max=2000"`
	Scope               string                `json:"scope" validate:"required,oneof=TENANT GLOBAL TEMPLATE"`
	TenancyID           *string               `json:"tenancy_id" validate:"omitempty,min=1"`
	ApplicableTenancies []string              `json:"applicable_tenancies" validate:"omitempty,dive,required"`
	AllTenancies        bool                  `json:"all_tenancies"`
	StartDate           string                `json:"start_date" validate:"required"`
	EndDate             string                `json:"end_date" validate:"required"`
	Priority            int                   `json:"priority" validate:"gte=0,lte=100"`
	Triggers            []domain.Trigger      `json:"triggers" validate:"required,min=1,dive"`
	Audience            domain.Audience       `json:"audience"`
	Promotions          []domain.PromotionRef `json:"promotions"`
	Budget              domain.Budget         `json:"budget"`
	Limits              domain.Limits         `json:"limits"`
	Stacking            domain.Stacking       `json:"stacking"`
	RequiresApproval    bool                  `json:"requires_approval"`
}

// UpdateCampaignRequest is the JSON request body for updating a campaign.
type UpdateCampaignRequest struct {
	Name                *string               `json:"name" validate:"omitempty,min=1,max=255"`
	Description         *string               `json:"description" validate:"omitempty,max=2000"`
	ApplicableTenancies []string              `json:"applicable_tenancies" validate:"omitempty,dive,required"`
	AllTenancies        *bool                 `json:"all_tenancies"`
	StartDate           *string               `json:"start_date"`
	EndDate             *string               `json:"end_date"`
	Priority            *int                  `json:"priority" validate:"omitempty,gte=0,lte=100"`
	Triggers            []domain.Trigger      `json:"triggers" validate:"omitempty,dive"`
	Audience            *domain.Audience      `json:"audience"`
	Promotions          []domain.PromotionRef `json:"promotions"`
	BudgetTotal         *decimal.Decimal      `json:"budget_total"`
	PerUserCap          *decimal.Decimal      `json:"per_user_cap"`
	TotalUsageLimit     *int                  `json:"total_usage_limit" validate:"omitempty,gte=0"`
	PerUserLimit        *int                  `json:"per_user_limit" validate:"omitempty,gte=0"`
	DailyLimit          *int                  `json:"daily_limit" validate:"omitempty,gte=0"`
	Stacking            *domain.Stacking      `json:"stacking"`
	RequiresApproval    *bool                 `json:"requires_approval"`
}

// InstantiateRequest is the JSON request body for copying a template.
type InstantiateRequest struct {
	TenancyID string `json:"tenancy_id" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

// --- Handlers ---

// CreateCampaign handles POST /api/v1/campaigns
func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	startDate, endDate, ok := parseWindow(w, r, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	input := &service.CreateCampaignInput{
		Name:                req.Name,
		Description:         req.Description,
		Scope:               domain.Scope(req.Scope),
		TenancyID:           req.TenancyID,
		ApplicableTenancies: req.ApplicableTenancies,
		AllTenancies:        req.AllTenancies,
		StartDate:           startDate,
		EndDate:             endDate,
		Priority:            req.Priority,
		Triggers:            req.Triggers,
		Audience:            req.Audience,
		Promotions:          req.Promotions,
		Budget:              req.Budget,
		Limits:              req.Limits,
		Stacking:            req.Stacking,
		RequiresApproval:    req.RequiresApproval,
	}

	campaign, err := h.service.CreateCampaign(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, campaign)
}

var validStatuses = map[domain.Status]bool{
	domain.StatusDraft:           true,
	domain.StatusPendingApproval: true,
	domain.StatusActive:          true,
	domain.StatusPaused:          true,
	domain.StatusCompleted:       true,
	domain.StatusCancelled:       true,
}

var validScopes = map[domain.Scope]bool{
	domain.ScopeTenant:   true,
	domain.ScopeGlobal:   true,
	domain.ScopeTemplate: true,
}

// ListCampaigns handles GET /api/v1/campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.CampaignFilter

	if v := q.Get("tenancy_id"); v != "" {
		filter.TenancyID = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.Status(v)
		if !validStatuses[status] {
			httputil.WriteError(w, r, apperrors.InvalidInput("unknown status "+v), h.logger)
			return
		}
		filter.Status = &status
	}
	if v := q.Get("scope"); v != "" {
		scope := domain.Scope(v)
		if !validScopes[scope] {
			httputil.WriteError(w, r, apperrors.InvalidInput("unknown scope "+v), h.logger)
			return
		}
		filter.Scope = &scope
	}

	page := pagination.FromRequest(r)
	campaigns, total, err := h.service.ListCampaigns(r.Context(), filter, page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(campaigns, total, page))
}

// GetCampaign handles GET /api/v1/campaigns/{id}
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := h.service.GetCampaign(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, campaign)
}

// GetSummary handles GET /api/v1/campaigns/{id}/summary
func (h *CampaignHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetSummary(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, summary)
}

// UpdateCampaign handles PUT /api/v1/campaigns/{id}
func (h *CampaignHandler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	var req UpdateCampaignRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	input := &service.UpdateCampaignInput{
		Name:                req.Name,
		Description:         req.Description,
		ApplicableTenancies: req.ApplicableTenancies,
		AllTenancies:        req.AllTenancies,
		Priority:            req.Priority,
		Triggers:            req.Triggers,
		Audience:            req.Audience,
		Promotions:          req.Promotions,
		BudgetTotal:         req.BudgetTotal,
		PerUserCap:          req.PerUserCap,
		TotalUsageLimit:     req.TotalUsageLimit,
		PerUserLimit:        req.PerUserLimit,
		DailyLimit:          req.DailyLimit,
		Stacking:            req.Stacking,
		RequiresApproval:    req.RequiresApproval,
	}

	if req.StartDate != nil {
		startDate, err := time.Parse(time.RFC3339, *req.StartDate)
		if err != nil {
			httputil.WriteValidationError(w, r, apperrors.InvalidInput("start_date must be in RFC3339 format"))
			return
		}
		input.StartDate = &startDate
	}
	if req.EndDate != nil {
		endDate, err := time.Parse(time.RFC3339, *req.EndDate)
		if err != nil {
			httputil.WriteValidationError(w, r, apperrors.InvalidInput("end_date must be in RFC3339 format"))
			return
		}
		input.EndDate = &endDate
	}

	campaign, err := h.service.UpdateCampaign(r.Context(), id, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, campaign)
}

// Transition handles POST /api/v1/campaigns/{id}/{action}
func (h *CampaignHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	action := service.Action(chi.URLParam(r, "action"))
	if !service.IsValidAction(action) {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "unknown campaign action " + string(action)},
		})
		return
	}

	campaign, err := h.service.Transition(r.Context(), id, action)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, campaign)
}

// Instantiate handles POST /api/v1/campaigns/{id}/instantiate
func (h *CampaignHandler) Instantiate(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	var req InstantiateRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	startDate, endDate, ok := parseWindow(w, r, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	campaign, err := h.service.Instantiate(r.Context(), id, &service.InstantiateInput{
		TenancyID: req.TenancyID,
		StartDate: startDate,
		EndDate:   endDate,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, campaign)
}

// ListLedger handles GET /api/v1/campaigns/{id}/ledger
func (h *CampaignHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	page := pagination.FromRequest(r)
	entries, total, err := h.ledger.ListEntries(r.Context(), id, page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(entries, total, page))
}

// LedgerSummary handles GET /api/v1/campaigns/{id}/ledger/summary
func (h *CampaignHandler) LedgerSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	summary, err := h.ledger.Summary(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, summary)
}

// --- Helpers ---

// campaignID reads the {id} URL parameter, which must be a UUID.
func campaignID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return "", false
	}
	return id.String(), true
}

// parseWindow parses an RFC3339 start/end pair. On failure it writes a 400.
func parseWindow(w http.ResponseWriter, r *http.Request, start, end string) (time.Time, time.Time, bool) {
	startDate, err := time.Parse(time.RFC3339, start)
	if err != nil {
		httputil.WriteValidationError(w, r, apperrors.InvalidInput("start_date must be in RFC3339 format"))
		return time.Time{}, time.Time{}, false
	}
	endDate, err := time.Parse(time.RFC3339, end)
	if err != nil {
		httputil.WriteValidationError(w, r, apperrors.InvalidInput("end_date must be in RFC3339 format"))
		return time.Time{}, time.Time{}, false
	}
	if !endDate.After(startDate) {
		httputil.WriteValidationError(w, r, apperrors.InvalidInput("end_date must be after start_date"))
		return time.Time{}, time.Time{}, false
	}
	return startDate.UTC(), endDate.UTC(), true
}
