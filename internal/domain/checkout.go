package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is one line of the order being checked out.
type OrderItem struct {
	SKU         string          `json:"sku" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gte=1"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
	ServiceType string          `json:"service_type,omitempty"`
}

// OrderSnapshot is the order as the engine sees it at checkout.
type OrderSnapshot struct {
	Total        decimal.Decimal `json:"total" validate:"gte=0"`
	Items        []OrderItem     `json:"items" validate:"dive"`
	ServiceTypes []string        `json:"service_types,omitempty"`
}

// Quantity is the total number of units in the order.
func (o OrderSnapshot) Quantity() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Services returns the distinct service types of the order and its items.
func (o OrderSnapshot) Services() []string {
	out := slices.Clone(o.ServiceTypes)
	for _, it := range o.Items {
		if it.ServiceType != "" && !slices.Contains(out, it.ServiceType) {
			out = append(out, it.ServiceType)
		}
	}
	return out
}

// CampaignUsage is what a shopper has already consumed of one campaign.
type CampaignUsage struct {
	UserCount  int             `json:"user_count"`
	UserSpent  decimal.Decimal `json:"user_spent"`
	DailyCount int             `json:"daily_count"`
}

// UserContext describes the shopper. Usage is keyed by campaign ID and only
// holds campaigns the shopper or the day has touched.
type UserContext struct {
	UserID           string                   `json:"user_id"`
	OrderCount       int                      `json:"order_count"`
	TotalSpent       decimal.Decimal          `json:"total_spent"`
	AccountCreatedAt time.Time                `json:"account_created_at"`
	Segments         []string                 `json:"segments,omitempty"`
	Usage            map[string]CampaignUsage `json:"-"`
}

// AccountAgeDays returns whole days since the account was created.
func (u UserContext) AccountAgeDays(now time.Time) int {
	if u.AccountCreatedAt.IsZero() || now.Before(u.AccountCreatedAt) {
		return 0
	}
	return int(now.Sub(u.AccountCreatedAt).Hours() / 24)
}

// UsageOf returns the shopper's usage of a campaign, zero if none.
func (u UserContext) UsageOf(campaignID string) CampaignUsage {
	return u.Usage[campaignID]
}

// InSegment reports whether the shopper belongs to segment.
func (u UserContext) InSegment(segment string) bool {
	return slices.Contains(u.Segments, segment)
}

// CheckoutRequest is the engine input from the order collaborator.
type CheckoutRequest struct {
	TenancyID   string        `json:"tenancy_id" validate:"required"`
	UserID      string        `json:"user_id" validate:"required"`
	OrderID     string        `json:"order_id,omitempty"`
	TriggerType TriggerType   `json:"trigger_type" validate:"required"`
	Order       OrderSnapshot `json:"order"`
	Timezone    string        `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// SideEffectKind names a post-order grant for an external collaborator.
type SideEffectKind string

const (
	SideEffectWalletCredit  SideEffectKind = "GRANT_WALLET_CREDIT"
	SideEffectLoyaltyPoints SideEffectKind = "GRANT_POINTS"
)

// SideEffect is fulfilled after the order by the wallet or loyalty service.
type SideEffect struct {
	Kind  SideEffectKind  `json:"kind"`
	Value decimal.Decimal `json:"value"`
	RefID string          `json:"ref_id,omitempty"`
}

// BreakdownLine is one discount contribution.
type BreakdownLine struct {
	Type        PromotionType   `json:"type"`
	RefID       string          `json:"ref_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// AppliedCampaign identifies the campaign chosen for a checkout.
type AppliedCampaign struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Scope Scope  `json:"scope"`
}

// ApplicationResult is the outcome of applying a campaign to an order.
type ApplicationResult struct {
	AppliedCampaign *AppliedCampaign `json:"applied_campaign,omitempty"`
	TotalDiscount   decimal.Decimal  `json:"total_discount"`
	FinalAmount     decimal.Decimal  `json:"final_amount"`
	Breakdown       []BreakdownLine  `json:"breakdown"`
	SideEffects     []SideEffect     `json:"side_effects"`
}

// NoDiscount is the result when no campaign applies.
func NoDiscount(order OrderSnapshot) *ApplicationResult {
	return &ApplicationResult{
		TotalDiscount: decimal.Zero,
		FinalAmount:   order.Total,
		Breakdown:     []BreakdownLine{},
		SideEffects:   []SideEffect{},
	}
}

// Benefit is the total monetary value to the shopper: the discount plus any
// wallet credit granted.
func (r *ApplicationResult) Benefit() decimal.Decimal {
	b := r.TotalDiscount
	for _, se := range r.SideEffects {
		if se.Kind == SideEffectWalletCredit {
			b = b.Add(se.Value)
		}
	}
	return b
}

// Empty reports whether the application grants the shopper nothing: no
// breakdown lines and no side effects.
func (r *ApplicationResult) Empty() bool {
	return len(r.Breakdown) == 0 && len(r.SideEffects) == 0
}

// AppliedPromotions returns the discounts and coupons that contributed, in
// breakdown order, for the ledger to charge.
func (r *ApplicationResult) AppliedPromotions() []BreakdownLine {
	var out []BreakdownLine
	for _, l := range r.Breakdown {
		if l.Type == PromotionDiscount || l.Type == PromotionCoupon {
			out = append(out, l)
		}
	}
	return out
}
