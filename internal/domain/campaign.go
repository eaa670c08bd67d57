package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Scope is the ownership tier of a campaign.
type Scope string

const (
	ScopeTenant   Scope = "TENANT"
	ScopeGlobal   Scope = "GLOBAL"
	ScopeTemplate Scope = "TEMPLATE"
)

// Rank orders scopes for selection: a tenant's own campaign outranks a
// platform-wide one, which outranks a template.
func (s Scope) Rank() int {
	switch s {
	case ScopeTenant:
		return 0
	case ScopeGlobal:
		return 1
	default:
		return 2
	}
}

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusActive          Status = "ACTIVE"
	StatusPaused          Status = "PAUSED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval, StatusActive, StatusCancelled},
	StatusPendingApproval: {StatusActive, StatusDraft, StatusCancelled},
	StatusActive:          {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:          {StatusActive, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a campaign may move from one status to another.
// COMPLETED and CANCELLED are terminal.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// TriggerType is the checkout-flow event that makes a campaign a candidate.
type TriggerType string

const (
	TriggerOrderCheckout    TriggerType = "ORDER_CHECKOUT"
	TriggerUserRegistration TriggerType = "USER_REGISTRATION"
	TriggerFirstOrder       TriggerType = "FIRST_ORDER"
	TriggerReferral         TriggerType = "REFERRAL"
)

// ValidTriggerTypes returns every known trigger type.
func ValidTriggerTypes() []TriggerType {
	return []TriggerType{TriggerOrderCheckout, TriggerUserRegistration, TriggerFirstOrder, TriggerReferral}
}

// IsValidTriggerType checks whether t is a known trigger type.
func IsValidTriggerType(t TriggerType) bool {
	return slices.Contains(ValidTriggerTypes(), t)
}

// AudienceType selects which shoppers a campaign targets.
type AudienceType string

const (
	AudienceAllUsers      AudienceType = "ALL_USERS"
	AudienceNewUsers      AudienceType = "NEW_USERS"
	AudienceExistingUsers AudienceType = "EXISTING_USERS"
	AudienceCustom        AudienceType = "CUSTOM"
)

// BudgetType says whether a campaign budget is capped.
type BudgetType string

const (
	BudgetUnlimited BudgetType = "UNLIMITED"
	BudgetFixed     BudgetType = "FIXED"
)

// BudgetSource records who pays for the benefit.
type BudgetSource string

const (
	BudgetSourcePlatform BudgetSource = "PLATFORM"
	BudgetSourceTenant   BudgetSource = "TENANT"
	BudgetSourceShared   BudgetSource = "SHARED"
)

// Trigger is one condition under which a campaign is evaluated.
type Trigger struct {
	Type          TriggerType      `json:"type" validate:"required"`
	MinOrderValue *decimal.Decimal `json:"min_order_value,omitempty"`
	DaysOfWeek    []int            `json:"days_of_week,omitempty"`
	TimeRange     *TimeRange       `json:"time_range,omitempty"`
	Segment       string           `json:"segment,omitempty"`
}

// Audience bounds the shoppers a campaign applies to. Bounds are inclusive
// and only consulted for the audience types that use them.
type Audience struct {
	Type              AudienceType     `json:"type"`
	MinOrderCount     *int             `json:"min_order_count,omitempty"`
	MaxOrderCount     *int             `json:"max_order_count,omitempty"`
	MinTotalSpent     *decimal.Decimal `json:"min_total_spent,omitempty"`
	MaxTotalSpent     *decimal.Decimal `json:"max_total_spent,omitempty"`
	MinAccountAgeDays *int             `json:"min_account_age_days,omitempty"`
	MaxAccountAgeDays *int             `json:"max_account_age_days,omitempty"`
	// Expression is a CEL boolean expression, only for CUSTOM audiences.
	Expression string `json:"expression,omitempty"`
}

// Budget is the money a campaign may give away.
type Budget struct {
	Type        BudgetType      `json:"type"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	SpentAmount decimal.Decimal `json:"spent_amount"`
	// PerUserCap bounds what one shopper may receive in total; zero means no cap.
	PerUserCap decimal.Decimal `json:"per_user_cap"`
	Source     BudgetSource    `json:"source"`
}

// Remaining returns the unspent budget, or nil when unlimited.
func (b Budget) Remaining() *decimal.Decimal {
	if b.Type == BudgetUnlimited {
		return nil
	}
	r := b.TotalAmount.Sub(b.SpentAmount)
	if r.IsNegative() {
		r = decimal.Zero
	}
	return &r
}

// Limits caps how often a campaign may be used. Zero means unlimited.
type Limits struct {
	TotalUsageLimit int `json:"total_usage_limit"`
	PerUserLimit    int `json:"per_user_limit"`
	DailyLimit      int `json:"daily_limit"`
	UsedCount       int `json:"used_count"`
}

// Stacking says what else may be combined with the campaign's promotions.
type Stacking struct {
	CombineWithCoupons   bool `json:"combine_with_coupons"`
	CombineWithDiscounts bool `json:"combine_with_discounts"`
	CombineWithLoyalty   bool `json:"combine_with_loyalty"`
	StackingPriority     int  `json:"stacking_priority"`
}

// Analytics are aggregate counters maintained by the usage ledger.
type Analytics struct {
	Conversions  int             `json:"conversions"`
	TotalSavings decimal.Decimal `json:"total_savings"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

// Campaign is a scheduled, scoped bundle of promotions with its own
// eligibility, budget and usage rules.
type Campaign struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Scope               Scope          `json:"scope"`
	TenancyID           *string        `json:"tenancy_id,omitempty"`
	ApplicableTenancies []string       `json:"applicable_tenancies,omitempty"`
	AllTenancies        bool           `json:"all_tenancies"`
	StartDate           time.Time      `json:"start_date"`
	EndDate             time.Time      `json:"end_date"`
	Priority            int            `json:"priority"`
	Status              Status         `json:"status"`
	Triggers            []Trigger      `json:"triggers"`
	Audience            Audience       `json:"audience"`
	Promotions          []PromotionRef `json:"promotions"`
	Budget              Budget         `json:"budget"`
	Limits              Limits         `json:"limits"`
	Stacking            Stacking       `json:"stacking"`
	Analytics           Analytics      `json:"analytics"`
	RequiresApproval    bool           `json:"requires_approval"`
	TemplateID          *string        `json:"template_id,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// ActiveAt reports whether the campaign is ACTIVE and now lies in [start, end).
func (c *Campaign) ActiveAt(now time.Time) bool {
	return c.Status == StatusActive && !now.Before(c.StartDate) && now.Before(c.EndDate)
}

// AppliesToTenancy reports whether the campaign may be offered to tenancyID.
// Templates apply to nobody.
func (c *Campaign) AppliesToTenancy(tenancyID string) bool {
	switch c.Scope {
	case ScopeTenant:
		return c.TenancyID != nil && *c.TenancyID == tenancyID
	case ScopeGlobal:
		return c.AllTenancies || len(c.ApplicableTenancies) == 0 || slices.Contains(c.ApplicableTenancies, tenancyID)
	default:
		return false
	}
}

// HasTrigger reports whether any trigger has type t.
func (c *Campaign) HasTrigger(t TriggerType) bool {
	return slices.ContainsFunc(c.Triggers, func(tr Trigger) bool { return tr.Type == t })
}

// ErrInvariant marks a campaign whose configuration breaks its own rules.
var ErrInvariant = errors.New("campaign invariant violated")

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// CheckInvariants verifies the structural rules every stored campaign must
// satisfy. It is run on create and update, and again before selection.
func (c *Campaign) CheckInvariants() error {
	if !c.StartDate.Before(c.EndDate) {
		return invariantf("start_date must be before end_date")
	}
	if c.Priority < 0 || c.Priority > 100 {
		return invariantf("priority %d out of range 0-100", c.Priority)
	}
	switch c.Scope {
	case ScopeTenant:
		if c.TenancyID == nil || *c.TenancyID == "" {
			return invariantf("TENANT campaign %s has no tenancy", c.ID)
		}
	case ScopeGlobal:
		if len(c.ApplicableTenancies) == 0 && !c.AllTenancies {
			return invariantf("GLOBAL campaign %s has no applicable tenancies", c.ID)
		}
	case ScopeTemplate:
	default:
		return invariantf("unknown scope %q", c.Scope)
	}
	if c.Limits.TotalUsageLimit > 0 && c.Limits.UsedCount > c.Limits.TotalUsageLimit {
		return invariantf("used_count %d exceeds total_usage_limit %d", c.Limits.UsedCount, c.Limits.TotalUsageLimit)
	}
	if c.Limits.TotalUsageLimit < 0 || c.Limits.PerUserLimit < 0 || c.Limits.DailyLimit < 0 {
		return invariantf("usage limits must not be negative")
	}
	switch c.Budget.Type {
	case BudgetUnlimited:
	case BudgetFixed:
		if c.Budget.TotalAmount.IsNegative() || c.Budget.SpentAmount.GreaterThan(c.Budget.TotalAmount) {
			return invariantf("budget spent %s exceeds total %s", c.Budget.SpentAmount, c.Budget.TotalAmount)
		}
	default:
		return invariantf("unknown budget type %q", c.Budget.Type)
	}
	if c.Budget.PerUserCap.IsNegative() {
		return invariantf("per_user_cap must not be negative")
	}
	return nil
}

// Validate checks the full authoring rules: invariants plus triggers,
// audience bounds and promotion references.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if err := c.CheckInvariants(); err != nil {
		return err
	}
	if len(c.Triggers) == 0 {
		return errors.New("at least one trigger is required")
	}
	for i, tr := range c.Triggers {
		if !IsValidTriggerType(tr.Type) {
			return fmt.Errorf("triggers[%d]: unknown trigger type %q", i, tr.Type)
		}
		if err := validateDays(tr.DaysOfWeek); err != nil {
			return fmt.Errorf("triggers[%d]: %w", i, err)
		}
		if tr.TimeRange != nil {
			if err := tr.TimeRange.Validate(); err != nil {
				return fmt.Errorf("triggers[%d]: %w", i, err)
			}
		}
	}
	if err := c.Audience.validate(); err != nil {
		return fmt.Errorf("audience: %w", err)
	}
	// Discount and coupon usage is charged per referenced row, so each may
	// appear once.
	seen := make(map[string]struct{}, len(c.Promotions))
	for i, p := range c.Promotions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("promotions[%d]: %w", i, err)
		}
		if p.Type != PromotionDiscount && p.Type != PromotionCoupon {
			continue
		}
		key := string(p.Type) + "/" + p.RefID
		if _, dup := seen[key]; dup {
			return fmt.Errorf("promotions[%d]: duplicate %s reference %q", i, p.Type, p.RefID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (a Audience) validate() error {
	switch a.Type {
	case AudienceAllUsers, AudienceNewUsers, AudienceExistingUsers:
		if a.Expression != "" {
			return errors.New("expression is only allowed for CUSTOM audiences")
		}
	case AudienceCustom:
	default:
		return fmt.Errorf("unknown audience type %q", a.Type)
	}
	if a.MinOrderCount != nil && a.MaxOrderCount != nil && *a.MinOrderCount > *a.MaxOrderCount {
		return errors.New("min_order_count exceeds max_order_count")
	}
	if a.MinTotalSpent != nil && a.MaxTotalSpent != nil && a.MinTotalSpent.GreaterThan(*a.MaxTotalSpent) {
		return errors.New("min_total_spent exceeds max_total_spent")
	}
	if a.MinAccountAgeDays != nil && a.MaxAccountAgeDays != nil && *a.MinAccountAgeDays > *a.MaxAccountAgeDays {
		return errors.New("min_account_age_days exceeds max_account_age_days")
	}
	return nil
}

// Instantiate copies a TEMPLATE campaign into a DRAFT TENANT campaign for
// tenancyID. Counters start from zero.
func (c *Campaign) Instantiate(tenancyID string, start, end time.Time) *Campaign {
	tid := tenancyID
	templateID := c.ID
	out := &Campaign{
		Name:             c.Name,
		Description:      c.Description,
		Scope:            ScopeTenant,
		TenancyID:        &tid,
		StartDate:        start,
		EndDate:          end,
		Priority:         c.Priority,
		Status:           StatusDraft,
		Triggers:         slices.Clone(c.Triggers),
		Audience:         c.Audience,
		Promotions:       slices.Clone(c.Promotions),
		Budget:           c.Budget,
		Limits:           c.Limits,
		Stacking:         c.Stacking,
		RequiresApproval: c.RequiresApproval,
		TemplateID:       &templateID,
	}
	out.Budget.SpentAmount = decimal.Zero
	out.Limits.UsedCount = 0
	return out
}

// CampaignSummary is the read-only metadata exposed to banner generation.
type CampaignSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Scope       Scope     `json:"scope"`
	Status      Status    `json:"status"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

// Summary returns the banner metadata of c.
func (c *Campaign) Summary() CampaignSummary {
	return CampaignSummary{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Scope:       c.Scope,
		Status:      c.Status,
		StartDate:   c.StartDate,
		EndDate:     c.EndDate,
	}
}

// CampaignFilter narrows campaign listings.
type CampaignFilter struct {
	TenancyID *string
	Scope     *Scope
	Status    *Status
}
