package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerKind distinguishes usage from compensation entries.
type LedgerKind string

const (
	LedgerUsage        LedgerKind = "USAGE"
	LedgerCompensation LedgerKind = "COMPENSATION"
)

// LedgerEntry is an append-only record of a campaign application or of its
// compensation after the order was cancelled.
type LedgerEntry struct {
	ID             string          `json:"id"`
	CampaignID     string          `json:"campaign_id"`
	TenancyID      string          `json:"tenancy_id"`
	UserID         string          `json:"user_id"`
	OrderID        string          `json:"order_id"`
	Kind           LedgerKind      `json:"kind"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	OrderTotal     decimal.Decimal `json:"order_total"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AppliedRef is a discount or coupon charged by a commit.
type AppliedRef struct {
	Type   PromotionType   `json:"type"`
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// CommitInput is everything the ledger needs to record one application.
// Limits and budget caps are read from the stored rows, not from here.
type CommitInput struct {
	CampaignID     string          `json:"campaign_id" validate:"required"`
	TenancyID      string          `json:"tenancy_id" validate:"required"`
	UserID         string          `json:"user_id" validate:"required"`
	OrderID        string          `json:"order_id" validate:"required"`
	DiscountAmount decimal.Decimal `json:"discount_amount" validate:"gte=0"`
	OrderTotal     decimal.Decimal `json:"order_total" validate:"gte=0"`
	Applied        []AppliedRef    `json:"applied,omitempty"`
	// Day is the calendar day of the daily limit, in the service's default
	// timezone.
	Day time.Time `json:"day"`
}

// CommitInputFor builds the ledger input for a result produced by the engine.
func CommitInputFor(req CheckoutRequest, result *ApplicationResult, day time.Time) CommitInput {
	in := CommitInput{
		TenancyID:      req.TenancyID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		DiscountAmount: result.TotalDiscount,
		OrderTotal:     req.Order.Total,
		Day:            day,
	}
	if result.AppliedCampaign != nil {
		in.CampaignID = result.AppliedCampaign.ID
	}
	for _, l := range result.AppliedPromotions() {
		in.Applied = append(in.Applied, AppliedRef{Type: l.Type, ID: l.RefID, Amount: l.Amount})
	}
	return in
}

// LedgerSummary aggregates a campaign's ledger.
type LedgerSummary struct {
	CampaignID    string          `json:"campaign_id"`
	Uses          int             `json:"uses"`
	Compensations int             `json:"compensations"`
	GrossSpent    decimal.Decimal `json:"gross_spent"`
	Compensated   decimal.Decimal `json:"compensated"`
	NetSpent      decimal.Decimal `json:"net_spent"`
}

// CalendarDay truncates t to midnight in its own location.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
