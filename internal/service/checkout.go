package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/engine"
	"github.com/utafrali/campaign-engine/internal/repository"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/logger"
	"github.com/utafrali/campaign-engine/pkg/validator"
)

// CheckoutService evaluates campaigns for checkouts. Preview never writes;
// Apply and CommitPreviewed record the chosen campaign in the ledger.
type CheckoutService struct {
	campaigns   repository.CampaignRepository
	usage       repository.UsageRepository
	cache       CandidateCache
	users       UserStatsProvider
	selector    *engine.Selector
	ledger      *LedgerService
	producer    EventPublisher
	maxAttempts int
	defaultLoc  *time.Location
	logger      *slog.Logger
	now         func() time.Time
}

// CheckoutConfig holds the tunables of a CheckoutService.
type CheckoutConfig struct {
	// MaxAttempts is how many campaigns Apply tries to commit before it
	// falls back to no discount.
	MaxAttempts int
	// DefaultLocation is the tenant clock used when a request has no timezone.
	DefaultLocation *time.Location
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(
	campaigns repository.CampaignRepository,
	usage repository.UsageRepository,
	cache CandidateCache,
	users UserStatsProvider,
	selector *engine.Selector,
	ledger *LedgerService,
	producer EventPublisher,
	cfg CheckoutConfig,
	logger *slog.Logger,
) *CheckoutService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	return &CheckoutService{
		campaigns:   campaigns,
		usage:       usage,
		cache:       cache,
		users:       users,
		selector:    selector,
		ledger:      ledger,
		producer:    producer,
		maxAttempts: cfg.MaxAttempts,
		defaultLoc:  cfg.DefaultLocation,
		logger:      logger,
		now:         utcNow,
	}
}

// checkout is a request resolved against the clock, the shopper and the
// candidate campaigns.
type checkout struct {
	req        domain.CheckoutRequest
	input      engine.SelectInput
	candidates []*domain.Campaign
	day        time.Time
}

// Preview selects and prices the best campaign without recording anything.
// Calling it repeatedly with the same input gives the same answer as long as
// no counters change in between.
func (s *CheckoutService) Preview(ctx context.Context, req domain.CheckoutRequest) (*domain.ApplicationResult, error) {
	co, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	sel, err := s.selector.Select(ctx, co.candidates, co.input)
	if err != nil {
		return nil, fmt.Errorf("select campaign: %w", err)
	}
	if sel == nil {
		return domain.NoDiscount(req.Order), nil
	}
	return sel.Result, nil
}

// Apply selects the best campaign and commits it for req.OrderID. When a
// commit loses the race for a limit or budget the campaign is excluded and
// selection runs again, up to MaxAttempts times; after that the order gets
// no discount.
func (s *CheckoutService) Apply(ctx context.Context, req domain.CheckoutRequest) (*domain.ApplicationResult, error) {
	if req.OrderID == "" {
		return nil, apperrors.InvalidInput("order_id is required to apply a campaign")
	}
	co, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.logger)

	co.input.Exclude = make(map[string]bool)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		sel, err := s.selector.Select(ctx, co.candidates, co.input)
		if err != nil {
			return nil, fmt.Errorf("select campaign: %w", err)
		}
		if sel == nil {
			return domain.NoDiscount(req.Order), nil
		}

		_, err = s.ledger.Commit(ctx, domain.CommitInputFor(req, sel.Result, co.day))
		if err == nil {
			s.afterCommit(ctx, req, sel.Result)
			return sel.Result, nil
		}
		if !lostRace(err) {
			return nil, err
		}

		log.InfoContext(ctx, "campaign lost commit race, re-selecting",
			slog.String("campaign_id", sel.Campaign.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		co.input.Exclude[sel.Campaign.ID] = true
		s.invalidateTenancy(ctx, req.TenancyID)

		if err := s.refreshUsage(ctx, co); err != nil {
			return nil, err
		}
	}

	checkoutFallbacksTotal.Inc()
	log.WarnContext(ctx, "no campaign could be committed, applying no discount",
		slog.String("order_id", req.OrderID),
		slog.Int("attempts", s.maxAttempts),
	)
	return domain.NoDiscount(req.Order), nil
}

// CommitPreviewed commits campaignID for req. The application is priced
// again from current data so a stale preview can never be charged; if the
// campaign no longer applies a Conflict is returned. Limit and budget errors
// are returned as-is for the caller to retry or re-preview.
func (s *CheckoutService) CommitPreviewed(ctx context.Context, req domain.CheckoutRequest, campaignID string) (*domain.ApplicationResult, error) {
	if req.OrderID == "" {
		return nil, apperrors.InvalidInput("order_id is required to commit a campaign")
	}
	co, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	var only []*domain.Campaign
	for _, c := range co.candidates {
		if c.ID == campaignID {
			only = append(only, c)
		}
	}
	sel, err := s.selector.Select(ctx, only, co.input)
	if err != nil {
		return nil, fmt.Errorf("select campaign: %w", err)
	}
	if sel == nil {
		return nil, apperrors.Conflict(fmt.Sprintf("campaign %s no longer applies to this checkout", campaignID))
	}

	if _, err := s.ledger.Commit(ctx, domain.CommitInputFor(req, sel.Result, co.day)); err != nil {
		if lostRace(err) {
			s.invalidateTenancy(ctx, req.TenancyID)
		}
		return nil, err
	}
	s.afterCommit(ctx, req, sel.Result)
	return sel.Result, nil
}

func lostRace(err error) bool {
	return errors.Is(err, apperrors.ErrUsageLimitExceeded) ||
		errors.Is(err, apperrors.ErrBudgetExceeded) ||
		errors.Is(err, apperrors.ErrConflict)
}

func (s *CheckoutService) afterCommit(ctx context.Context, req domain.CheckoutRequest, result *domain.ApplicationResult) {
	s.users.Invalidate(req.TenancyID, req.UserID)

	if err := s.producer.PublishCampaignApplied(ctx, req, result); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish campaign.applied event",
			slog.String("order_id", req.OrderID),
			slog.String("error", err.Error()),
		)
	}
}

// prepare validates req and loads everything selection needs.
func (s *CheckoutService) prepare(ctx context.Context, req domain.CheckoutRequest) (*checkout, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	if !domain.IsValidTriggerType(req.TriggerType) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown trigger_type %q", req.TriggerType))
	}

	loc := s.defaultLoc
	if req.Timezone != "" {
		l, err := time.LoadLocation(req.Timezone)
		if err != nil {
			return nil, apperrors.InvalidInput(fmt.Sprintf("unknown timezone %q", req.Timezone))
		}
		loc = l
	}
	now := s.now()

	user, err := s.users.UserContext(ctx, req.TenancyID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user context: %w", err)
	}

	candidates, err := s.candidates(ctx, req.TenancyID, req.TriggerType, now)
	if err != nil {
		return nil, err
	}

	// The daily counter follows the service clock, not the request timezone.
	day := domain.CalendarDay(now.In(s.defaultLoc))

	co := &checkout{
		req:        req,
		candidates: candidates,
		day:        day,
		input: engine.SelectInput{
			TenancyID: req.TenancyID,
			Trigger:   req.TriggerType,
			User:      user,
			Order:     req.Order,
			Now:       now,
			Location:  loc,
		},
	}
	if err := s.refreshUsage(ctx, co); err != nil {
		return nil, err
	}
	return co, nil
}

// refreshUsage reloads the shopper's per-campaign counters.
func (s *CheckoutService) refreshUsage(ctx context.Context, co *checkout) error {
	ids := make([]string, 0, len(co.candidates))
	for _, c := range co.candidates {
		ids = append(ids, c.ID)
	}
	usage, err := s.usage.UsageFor(ctx, co.req.UserID, ids, co.day)
	if err != nil {
		return fmt.Errorf("load campaign usage: %w", err)
	}
	co.input.User.Usage = usage
	return nil
}

// candidates returns the candidate campaigns, from cache when possible. A
// cache failure degrades to a database read.
func (s *CheckoutService) candidates(ctx context.Context, tenancyID string, trigger domain.TriggerType, now time.Time) ([]*domain.Campaign, error) {
	cached, ok, err := s.cache.Get(ctx, tenancyID, trigger)
	switch {
	case err != nil:
		candidateCacheTotal.WithLabelValues("error").Inc()
		s.logger.WarnContext(ctx, "candidate cache read failed",
			slog.String("tenancy_id", tenancyID),
			slog.String("error", err.Error()),
		)
	case ok:
		candidateCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		candidateCacheTotal.WithLabelValues("miss").Inc()
	}

	list, err := s.campaigns.ListCandidates(ctx, tenancyID, trigger, now)
	if err != nil {
		return nil, fmt.Errorf("list candidate campaigns: %w", err)
	}
	if err := s.cache.Set(ctx, tenancyID, trigger, list); err != nil {
		s.logger.WarnContext(ctx, "candidate cache write failed",
			slog.String("tenancy_id", tenancyID),
			slog.String("error", err.Error()),
		)
	}
	return list, nil
}

func (s *CheckoutService) invalidateTenancy(ctx context.Context, tenancyID string) {
	if err := s.cache.Invalidate(ctx, tenancyID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate candidate cache",
			slog.String("tenancy_id", tenancyID),
			slog.String("error", err.Error()),
		)
	}
}
