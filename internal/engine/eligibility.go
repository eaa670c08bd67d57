package engine

import (
	"time"

	"github.com/utafrali/campaign-engine/internal/domain"
)

// Reason says why a campaign was found ineligible. The empty reason means
// eligible.
type Reason string

const (
	ReasonEligible    Reason = ""
	ReasonTemplate    Reason = "template_scope"
	ReasonNotActive   Reason = "not_active"
	ReasonTenancy     Reason = "tenancy_mismatch"
	ReasonTrigger     Reason = "trigger_mismatch"
	ReasonAudience    Reason = "audience_mismatch"
	ReasonAudienceErr Reason = "audience_error"
	ReasonTotalUsage  Reason = "total_usage_limit"
	ReasonDailyUsage  Reason = "daily_usage_limit"
	ReasonUserUsage   Reason = "per_user_limit"
	ReasonUserBudget  Reason = "per_user_budget_cap"
	ReasonBudget      Reason = "budget_exhausted"
	ReasonNoBenefit   Reason = "no_benefit"
)

// EligibilityInput is the checkout context a campaign is checked against.
// Local is Now in the tenant's timezone.
type EligibilityInput struct {
	TenancyID string
	Trigger   domain.TriggerType
	User      domain.UserContext
	Order     domain.OrderSnapshot
	Now       time.Time
	Local     time.Time
}

// Eligibility decides whether a shopper may use a campaign. It has no side
// effects and is safe to run for every candidate on every checkout.
type Eligibility struct {
	audience *AudienceEvaluator
}

// NewEligibility returns an Eligibility using audience for CUSTOM audiences.
func NewEligibility(audience *AudienceEvaluator) *Eligibility {
	return &Eligibility{audience: audience}
}

// IsEligible runs every check in order and reports the first that fails.
func (e *Eligibility) IsEligible(c *domain.Campaign, in EligibilityInput) (bool, Reason) {
	if c.Scope == domain.ScopeTemplate {
		return false, ReasonTemplate
	}
	if !c.ActiveAt(in.Now) {
		return false, ReasonNotActive
	}
	if !c.AppliesToTenancy(in.TenancyID) {
		return false, ReasonTenancy
	}
	if !triggerMatches(c.Triggers, in) {
		return false, ReasonTrigger
	}
	if ok, reason := e.audienceMatches(c.Audience, in); !ok {
		return false, reason
	}

	usage := in.User.UsageOf(c.ID)
	l := c.Limits
	if l.TotalUsageLimit > 0 && l.UsedCount >= l.TotalUsageLimit {
		return false, ReasonTotalUsage
	}
	if l.DailyLimit > 0 && usage.DailyCount >= l.DailyLimit {
		return false, ReasonDailyUsage
	}
	if l.PerUserLimit > 0 && usage.UserCount >= l.PerUserLimit {
		return false, ReasonUserUsage
	}
	if c.Budget.PerUserCap.IsPositive() && usage.UserSpent.GreaterThanOrEqual(c.Budget.PerUserCap) {
		return false, ReasonUserBudget
	}
	if c.Budget.Type != domain.BudgetUnlimited && c.Budget.SpentAmount.GreaterThanOrEqual(c.Budget.TotalAmount) {
		return false, ReasonBudget
	}
	return true, ReasonEligible
}

func triggerMatches(triggers []domain.Trigger, in EligibilityInput) bool {
	for _, t := range triggers {
		if t.Type != in.Trigger {
			continue
		}
		if t.MinOrderValue != nil && in.Order.Total.LessThan(*t.MinOrderValue) {
			continue
		}
		if !domain.MatchesDay(t.DaysOfWeek, in.Local) {
			continue
		}
		if t.TimeRange != nil && !t.TimeRange.Contains(in.Local) {
			continue
		}
		if t.Segment != "" && !in.User.InSegment(t.Segment) {
			continue
		}
		return true
	}
	return false
}

func (e *Eligibility) audienceMatches(a domain.Audience, in EligibilityInput) (bool, Reason) {
	u := in.User
	switch a.Type {
	case domain.AudienceAllUsers, "":
		return true, ReasonEligible
	case domain.AudienceNewUsers:
		if a.MaxOrderCount == nil && u.OrderCount != 0 {
			return false, ReasonAudience
		}
	case domain.AudienceExistingUsers:
		if a.MinOrderCount == nil && u.OrderCount < 1 {
			return false, ReasonAudience
		}
	case domain.AudienceCustom:
	default:
		return false, ReasonAudience
	}

	if !withinBounds(a, u, in.Now) {
		return false, ReasonAudience
	}

	if a.Type == domain.AudienceCustom && a.Expression != "" {
		if e.audience == nil {
			return false, ReasonAudienceErr
		}
		ok, err := e.audience.Matches(a.Expression, AudienceInput{
			TenancyID: in.TenancyID, User: u, Order: in.Order, Now: in.Now,
		})
		if err != nil {
			return false, ReasonAudienceErr
		}
		if !ok {
			return false, ReasonAudience
		}
	}
	return true, ReasonEligible
}

func withinBounds(a domain.Audience, u domain.UserContext, now time.Time) bool {
	if a.MinOrderCount != nil && u.OrderCount < *a.MinOrderCount {
		return false
	}
	if a.MaxOrderCount != nil && u.OrderCount > *a.MaxOrderCount {
		return false
	}
	if a.MinTotalSpent != nil && u.TotalSpent.LessThan(*a.MinTotalSpent) {
		return false
	}
	if a.MaxTotalSpent != nil && u.TotalSpent.GreaterThan(*a.MaxTotalSpent) {
		return false
	}
	age := u.AccountAgeDays(now)
	if a.MinAccountAgeDays != nil && age < *a.MinAccountAgeDays {
		return false
	}
	if a.MaxAccountAgeDays != nil && age > *a.MaxAccountAgeDays {
		return false
	}
	return true
}
