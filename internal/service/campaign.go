package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/engine"
	"github.com/utafrali/campaign-engine/internal/repository"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

// expiryBatchSize bounds how many ended campaigns one sweep completes.
const expiryBatchSize = 100

// CampaignService implements campaign administration: authoring, lifecycle
// transitions and template instantiation.
type CampaignService struct {
	repo            repository.CampaignRepository
	cache           CandidateCache
	audience        *engine.AudienceEvaluator
	producer        EventPublisher
	requireApproval bool
	logger          *slog.Logger
	now             func() time.Time
}

// NewCampaignService creates a new campaign service. When requireApproval is
// set, every campaign must go through PENDING_APPROVAL before ACTIVE.
func NewCampaignService(
	repo repository.CampaignRepository,
	cache CandidateCache,
	audience *engine.AudienceEvaluator,
	producer EventPublisher,
	requireApproval bool,
	logger *slog.Logger,
) *CampaignService {
	return &CampaignService{
		repo:            repo,
		cache:           cache,
		audience:        audience,
		producer:        producer,
		requireApproval: requireApproval,
		logger:          logger,
		now:             utcNow,
	}
}

// CreateCampaignInput holds the authored fields of a new campaign.
type CreateCampaignInput struct {
	Name                string
	Description         string
	Scope               domain.Scope
	TenancyID           *string
	ApplicableTenancies []string
	AllTenancies        bool
	StartDate           time.Time
	EndDate             time.Time
	Priority            int
	Triggers            []domain.Trigger
	Audience            domain.Audience
	Promotions          []domain.PromotionRef
	Budget              domain.Budget
	Limits              domain.Limits
	Stacking            domain.Stacking
	RequiresApproval    bool
}

// UpdateCampaignInput holds a partial update. Nil fields are left unchanged.
type UpdateCampaignInput struct {
	Name                *string
	Description         *string
	ApplicableTenancies []string
	AllTenancies        *bool
	StartDate           *time.Time
	EndDate             *time.Time
	Priority            *int
	Triggers            []domain.Trigger
	Audience            *domain.Audience
	Promotions          []domain.PromotionRef
	BudgetTotal         *decimal.Decimal
	PerUserCap          *decimal.Decimal
	TotalUsageLimit     *int
	PerUserLimit        *int
	DailyLimit          *int
	Stacking            *domain.Stacking
	RequiresApproval    *bool
}

// InstantiateInput names the tenancy and window of a campaign copied from a
// template.
type InstantiateInput struct {
	TenancyID string
	StartDate time.Time
	EndDate   time.Time
}

// Action is an operator command on the campaign lifecycle.
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionActivate Action = "activate"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// actionRules maps each action to the statuses it starts from and the status
// it leads to.
var actionRules = map[Action]struct {
	from []domain.Status
	to   domain.Status
}{
	ActionSubmit:   {[]domain.Status{domain.StatusDraft}, domain.StatusPendingApproval},
	ActionApprove:  {[]domain.Status{domain.StatusPendingApproval}, domain.StatusActive},
	ActionReject:   {[]domain.Status{domain.StatusPendingApproval}, domain.StatusDraft},
	ActionActivate: {[]domain.Status{domain.StatusDraft}, domain.StatusActive},
	ActionPause:    {[]domain.Status{domain.StatusActive}, domain.StatusPaused},
	ActionResume:   {[]domain.Status{domain.StatusPaused}, domain.StatusActive},
	ActionComplete: {[]domain.Status{domain.StatusActive, domain.StatusPaused}, domain.StatusCompleted},
	ActionCancel: {[]domain.Status{
		domain.StatusDraft, domain.StatusPendingApproval, domain.StatusActive, domain.StatusPaused,
	}, domain.StatusCancelled},
}

// IsValidAction reports whether a is a known lifecycle action.
func IsValidAction(a Action) bool {
	_, ok := actionRules[a]
	return ok
}

// CreateCampaign validates and stores a new DRAFT campaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, input *CreateCampaignInput) (*domain.Campaign, error) {
	now := s.now()
	campaign := &domain.Campaign{
		ID:                  uuid.New().String(),
		Name:                input.Name,
		Description:         input.Description,
		Scope:               input.Scope,
		TenancyID:           input.TenancyID,
		ApplicableTenancies: input.ApplicableTenancies,
		AllTenancies:        input.AllTenancies,
		StartDate:           input.StartDate,
		EndDate:             input.EndDate,
		Priority:            input.Priority,
		Status:              domain.StatusDraft,
		Triggers:            input.Triggers,
		Audience:            input.Audience,
		Promotions:          input.Promotions,
		Budget:              input.Budget,
		Limits:              input.Limits,
		Stacking:            input.Stacking,
		RequiresApproval:    input.RequiresApproval,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	campaign.Budget.SpentAmount = decimal.Zero
	campaign.Limits.UsedCount = 0
	if campaign.Budget.Type == "" {
		campaign.Budget.Type = domain.BudgetUnlimited
	}
	if campaign.Budget.Source == "" {
		campaign.Budget.Source = domain.BudgetSourcePlatform
	}
	if campaign.Audience.Type == "" {
		campaign.Audience.Type = domain.AudienceAllUsers
	}
	if campaign.Promotions == nil {
		campaign.Promotions = []domain.PromotionRef{}
	}
	if campaign.Scope != domain.ScopeTenant {
		campaign.TenancyID = nil
	}

	if err := s.validate(campaign); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	if err := s.producer.PublishCampaignCreated(ctx, campaign); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish campaign.created event",
			slog.String("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "campaign created",
		slog.String("campaign_id", campaign.ID),
		slog.String("scope", string(campaign.Scope)),
	)

	return campaign, nil
}

// validate checks authoring rules and compiles a CUSTOM audience expression
// so broken expressions are rejected up front rather than at checkout.
func (s *CampaignService) validate(c *domain.Campaign) error {
	if err := c.Validate(); err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if c.Audience.Type == domain.AudienceCustom && c.Audience.Expression != "" {
		if _, err := s.audience.Compile(c.Audience.Expression); err != nil {
			return apperrors.InvalidInput(err.Error())
		}
	}
	return nil
}

// GetCampaign retrieves a campaign by its ID.
func (s *CampaignService) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	campaign, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign by id: %w", err)
	}
	return campaign, nil
}

// GetSummary returns the banner metadata of a campaign.
func (s *CampaignService) GetSummary(ctx context.Context, id string) (*domain.CampaignSummary, error) {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := campaign.Summary()
	return &summary, nil
}

// ListCampaigns returns a filtered, paginated list of campaigns.
func (s *CampaignService) ListCampaigns(ctx context.Context, filter domain.CampaignFilter, page pagination.Params) ([]domain.Campaign, int, error) {
	campaigns, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, total, nil
}

// UpdateCampaign applies a partial update. Terminal campaigns are read-only.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id string, input *UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign for update: %w", err)
	}
	if campaign.Status == domain.StatusCompleted || campaign.Status == domain.StatusCancelled {
		return nil, apperrors.Conflict(fmt.Sprintf("campaign %s is %s and can no longer be edited", id, campaign.Status))
	}

	if input.Name != nil {
		campaign.Name = *input.Name
	}
	if input.Description != nil {
		campaign.Description = *input.Description
	}
	if input.ApplicableTenancies != nil {
		campaign.ApplicableTenancies = input.ApplicableTenancies
	}
	if input.AllTenancies != nil {
		campaign.AllTenancies = *input.AllTenancies
	}
	if input.StartDate != nil {
		campaign.StartDate = *input.StartDate
	}
	if input.EndDate != nil {
		campaign.EndDate = *input.EndDate
	}
	if input.Priority != nil {
		campaign.Priority = *input.Priority
	}
	if input.Triggers != nil {
		campaign.Triggers = input.Triggers
	}
	if input.Audience != nil {
		campaign.Audience = *input.Audience
	}
	if input.Promotions != nil {
		campaign.Promotions = input.Promotions
	}
	if input.BudgetTotal != nil {
		campaign.Budget.TotalAmount = *input.BudgetTotal
	}
	if input.PerUserCap != nil {
		campaign.Budget.PerUserCap = *input.PerUserCap
	}
	if input.TotalUsageLimit != nil {
		campaign.Limits.TotalUsageLimit = *input.TotalUsageLimit
	}
	if input.PerUserLimit != nil {
		campaign.Limits.PerUserLimit = *input.PerUserLimit
	}
	if input.DailyLimit != nil {
		campaign.Limits.DailyLimit = *input.DailyLimit
	}
	if input.Stacking != nil {
		campaign.Stacking = *input.Stacking
	}
	if input.RequiresApproval != nil {
		campaign.RequiresApproval = *input.RequiresApproval
	}
	campaign.UpdatedAt = s.now()

	if err := s.validate(campaign); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	s.invalidate(ctx, campaign)

	s.logger.InfoContext(ctx, "campaign updated",
		slog.String("campaign_id", campaign.ID),
	)

	return campaign, nil
}

// Transition runs a lifecycle action on a campaign and returns the updated
// campaign.
func (s *CampaignService) Transition(ctx context.Context, id string, action Action) (*domain.Campaign, error) {
	rule, ok := actionRules[action]
	if !ok {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown action %q", action))
	}

	campaign, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign for %s: %w", action, err)
	}

	from := campaign.Status
	if !slices.Contains(rule.from, from) || !domain.CanTransition(from, rule.to) {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot %s campaign %s in status %s", action, id, from))
	}

	if rule.to == domain.StatusActive {
		if err := s.checkActivatable(campaign, action); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateStatus(ctx, id, from, rule.to); err != nil {
		return nil, fmt.Errorf("%s campaign: %w", action, err)
	}
	campaign.Status = rule.to
	campaign.UpdatedAt = s.now()

	s.afterStatusChange(ctx, campaign, from)
	return campaign, nil
}

func (s *CampaignService) checkActivatable(c *domain.Campaign, action Action) error {
	if c.Scope == domain.ScopeTemplate {
		return apperrors.InvalidInput("template campaigns cannot be activated; instantiate them instead")
	}
	if action == ActionActivate && (s.requireApproval || c.RequiresApproval) {
		return apperrors.Conflict(fmt.Sprintf("campaign %s requires approval before activation", c.ID))
	}
	if !s.now().Before(c.EndDate) {
		return apperrors.InvalidInput(fmt.Sprintf("campaign %s ended at %s", c.ID, c.EndDate.Format(time.RFC3339)))
	}
	if err := c.CheckInvariants(); err != nil {
		return apperrors.InconsistentConfiguration(err.Error())
	}
	return nil
}

func (s *CampaignService) afterStatusChange(ctx context.Context, c *domain.Campaign, from domain.Status) {
	s.invalidate(ctx, c)

	if err := s.producer.PublishStatusChanged(ctx, c.ID, from, c.Status); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish campaign.status_changed event",
			slog.String("campaign_id", c.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "campaign status changed",
		slog.String("campaign_id", c.ID),
		slog.String("from", string(from)),
		slog.String("to", string(c.Status)),
	)
}

// Instantiate copies a TEMPLATE campaign into a new DRAFT campaign owned by
// input.TenancyID.
func (s *CampaignService) Instantiate(ctx context.Context, templateID string, input *InstantiateInput) (*domain.Campaign, error) {
	template, err := s.repo.GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if template.Scope != domain.ScopeTemplate {
		return nil, apperrors.InvalidInput(fmt.Sprintf("campaign %s is not a template", templateID))
	}
	if input.TenancyID == "" {
		return nil, apperrors.InvalidInput("tenancy_id is required")
	}

	campaign := template.Instantiate(input.TenancyID, input.StartDate, input.EndDate)
	now := s.now()
	campaign.ID = uuid.New().String()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	if err := s.validate(campaign); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign from template: %w", err)
	}

	if err := s.producer.PublishCampaignCreated(ctx, campaign); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish campaign.created event",
			slog.String("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "campaign instantiated from template",
		slog.String("campaign_id", campaign.ID),
		slog.String("template_id", templateID),
		slog.String("tenancy_id", input.TenancyID),
	)
	return campaign, nil
}

// CompleteExpired moves ACTIVE and PAUSED campaigns whose window has ended to
// COMPLETED. It returns how many were completed. A campaign changed
// concurrently by an operator is skipped.
func (s *CampaignService) CompleteExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ListExpired(ctx, s.now(), expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired campaigns: %w", err)
	}

	completed := 0
	for _, c := range expired {
		from := c.Status
		if err := s.repo.UpdateStatus(ctx, c.ID, from, domain.StatusCompleted); err != nil {
			if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return completed, fmt.Errorf("complete campaign %s: %w", c.ID, err)
		}
		c.Status = domain.StatusCompleted
		s.afterStatusChange(ctx, c, from)
		completed++
	}
	return completed, nil
}

// invalidate drops cached candidates a campaign may appear in. A GLOBAL
// campaign may be cached under any tenancy.
func (s *CampaignService) invalidate(ctx context.Context, c *domain.Campaign) {
	var err error
	switch {
	case c.Scope == domain.ScopeTenant && c.TenancyID != nil:
		err = s.cache.Invalidate(ctx, *c.TenancyID)
	case c.Scope == domain.ScopeGlobal:
		err = s.cache.InvalidateAll(ctx)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate candidate cache",
			slog.String("campaign_id", c.ID),
			slog.String("error", err.Error()),
		)
	}
}
