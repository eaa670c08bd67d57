package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/campaign-engine/internal/domain"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/logger"
)

// maxConcurrentCandidates bounds how many candidates are priced at once.
const maxConcurrentCandidates = 8

// PromotionResolver looks up the promotion a campaign reference points at.
// A reference to something that no longer exists returns an error wrapping
// apperrors.ErrNotFound.
type PromotionResolver interface {
	Resolve(ctx context.Context, tenancyID string, ref domain.PromotionRef) (domain.Promotion, error)
}

// SelectInput is a checkout as seen by the selector. Exclude lists campaign
// IDs to skip, used when re-selecting after a lost commit.
type SelectInput struct {
	TenancyID string
	Trigger   domain.TriggerType
	User      domain.UserContext
	Order     domain.OrderSnapshot
	Now       time.Time
	Location  *time.Location
	Exclude   map[string]bool
}

func (in SelectInput) local() time.Time {
	if in.Location == nil {
		return in.Now
	}
	return in.Now.In(in.Location)
}

// Selection is the winning candidate with its priced application.
type Selection struct {
	Campaign   *domain.Campaign
	Promotions []domain.Promotion
	Result     *domain.ApplicationResult
	Benefit    decimal.Decimal
	Cost       decimal.Decimal
}

// Selector picks the one campaign to apply to a checkout.
type Selector struct {
	eligibility *Eligibility
	resolver    PromotionResolver
	logger      *slog.Logger
}

// NewSelector creates a Selector.
func NewSelector(eligibility *Eligibility, resolver PromotionResolver, logger *slog.Logger) *Selector {
	return &Selector{eligibility: eligibility, resolver: resolver, logger: logger}
}

// Select filters candidates by eligibility, prices the survivors and returns
// the best by scope rank, then priority, then benefit (descending), then cost
// (ascending), then creation time and ID. Candidates whose promotions grant
// nothing for this order are dropped. It returns nil when nothing is
// eligible. Select never mutates anything.
func (s *Selector) Select(ctx context.Context, candidates []*domain.Campaign, in SelectInput) (*Selection, error) {
	log := logger.WithContext(ctx, s.logger)
	elig := EligibilityInput{
		TenancyID: in.TenancyID,
		Trigger:   in.Trigger,
		User:      in.User,
		Order:     in.Order,
		Now:       in.Now,
		Local:     in.local(),
	}

	var eligible []*domain.Campaign
	for _, c := range candidates {
		if in.Exclude[c.ID] {
			continue
		}
		if err := c.CheckInvariants(); err != nil {
			return nil, apperrors.InconsistentConfiguration(err.Error())
		}
		ok, reason := s.eligibility.IsEligible(c, elig)
		if !ok {
			ineligibleTotal.WithLabelValues(string(reason)).Inc()
			level := slog.LevelDebug
			if reason == ReasonAudienceErr {
				level = slog.LevelWarn
			}
			log.Log(ctx, level, "campaign not eligible",
				slog.String("campaign_id", c.ID),
				slog.String("reason", string(reason)),
			)
			continue
		}
		eligible = append(eligible, c)
	}
	candidatesEvaluated.Observe(float64(len(eligible)))

	priced := make([]*Selection, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCandidates)
	for i, c := range eligible {
		g.Go(func() error {
			sel, err := s.price(gctx, c, in)
			if err != nil {
				return fmt.Errorf("price campaign %s: %w", c.ID, err)
			}
			priced[i] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A campaign none of whose promotions matched this order is not an offer.
	priced = slices.DeleteFunc(priced, func(sel *Selection) bool {
		if !sel.Result.Empty() {
			return false
		}
		ineligibleTotal.WithLabelValues(string(ReasonNoBenefit)).Inc()
		log.DebugContext(ctx, "campaign not eligible",
			slog.String("campaign_id", sel.Campaign.ID),
			slog.String("reason", string(ReasonNoBenefit)),
		)
		return true
	})

	if len(priced) == 0 {
		selectionsTotal.WithLabelValues("none").Inc()
		return nil, nil
	}
	slices.SortFunc(priced, compareSelections)
	selectionsTotal.WithLabelValues("selected").Inc()

	best := priced[0]
	log.InfoContext(ctx, "campaign selected",
		slog.String("campaign_id", best.Campaign.ID),
		slog.String("scope", string(best.Campaign.Scope)),
		slog.Int("priority", best.Campaign.Priority),
		slog.String("benefit", best.Benefit.String()),
		slog.Int("eligible", len(priced)),
	)
	return best, nil
}

// price resolves the campaign's promotions in list order and applies them.
func (s *Selector) price(ctx context.Context, c *domain.Campaign, in SelectInput) (*Selection, error) {
	promotions := make([]domain.Promotion, 0, len(c.Promotions))
	for _, ref := range c.Promotions {
		p, err := s.resolver.Resolve(ctx, in.TenancyID, ref)
		switch {
		case err == nil:
			promotions = append(promotions, p)
		case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrServiceUnavail):
			s.logger.WarnContext(ctx, "skipping unresolved promotion",
				slog.String("campaign_id", c.ID),
				slog.String("promotion_type", string(ref.Type)),
				slog.String("ref_id", ref.RefID),
				slog.String("error", err.Error()),
			)
		default:
			return nil, err
		}
	}

	result, err := Apply(c, promotions, ApplyInput{Order: in.Order, Now: in.Now, Local: in.local()})
	if err != nil {
		return nil, err
	}
	benefit := result.Benefit()
	return &Selection{
		Campaign:   c,
		Promotions: promotions,
		Result:     result,
		Benefit:    benefit,
		Cost:       benefit,
	}, nil
}

// compareSelections orders candidates best first.
func compareSelections(a, b *Selection) int {
	if r := cmp.Compare(a.Campaign.Scope.Rank(), b.Campaign.Scope.Rank()); r != 0 {
		return r
	}
	if r := cmp.Compare(b.Campaign.Priority, a.Campaign.Priority); r != 0 {
		return r
	}
	if r := b.Benefit.Cmp(a.Benefit); r != 0 {
		return r
	}
	if r := a.Cost.Cmp(b.Cost); r != 0 {
		return r
	}
	if r := a.Campaign.CreatedAt.Compare(b.Campaign.CreatedAt); r != 0 {
		return r
	}
	return cmp.Compare(a.Campaign.ID, b.Campaign.ID)
}
