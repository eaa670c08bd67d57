package repository

import (
	"context"
	"time"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

// CampaignRepository defines the interface for campaign persistence operations.
type CampaignRepository interface {
	// Create inserts a new campaign into the store.
	Create(ctx context.Context, campaign *domain.Campaign) error

	// GetByID retrieves a campaign by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter along with the total count.
	List(ctx context.Context, filter domain.CampaignFilter, page pagination.Params) ([]domain.Campaign, int, error)

	// Update modifies the authored fields of an existing campaign. Counters
	// and analytics are owned by the ledger and are not written.
	Update(ctx context.Context, campaign *domain.Campaign) error

	// UpdateStatus moves a campaign from one status to another. It fails
	// with a Conflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) error

	// ListCandidates returns the ACTIVE, in-window campaigns that may apply
	// to a tenancy for a trigger: the tenancy's own plus applicable GLOBAL ones.
	ListCandidates(ctx context.Context, tenancyID string, trigger domain.TriggerType, now time.Time) ([]*domain.Campaign, error)

	// ListExpired returns ACTIVE or PAUSED campaigns whose window has ended.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error)
}

// DiscountRepository defines the interface for discount persistence operations.
type DiscountRepository interface {
	Create(ctx context.Context, discount *domain.Discount) error
	GetByID(ctx context.Context, id string) (*domain.Discount, error)
	List(ctx context.Context, filter domain.DiscountFilter, page pagination.Params) ([]domain.Discount, int, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// CouponRepository defines the interface for coupon persistence operations.
type CouponRepository interface {
	Create(ctx context.Context, coupon *domain.Coupon) error
	GetByID(ctx context.Context, id string) (*domain.Coupon, error)
	// GetByCode looks a coupon up by its normalized code.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	SetActive(ctx context.Context, code string, active bool) error
}

// LedgerRepository records campaign applications.
type LedgerRepository interface {
	// Commit records one application and charges every counter it touches
	// in a single transaction. A counter that would pass its limit aborts
	// the whole commit with UsageLimitExceeded or BudgetExceeded.
	Commit(ctx context.Context, in domain.CommitInput) (*domain.LedgerEntry, error)

	// Compensate appends a COMPENSATION entry for every USAGE entry of the
	// order that has not been compensated yet. Counters are never decremented.
	Compensate(ctx context.Context, orderID string) ([]domain.LedgerEntry, error)

	// ListByCampaign returns a campaign's ledger, newest first.
	ListByCampaign(ctx context.Context, campaignID string, page pagination.Params) ([]domain.LedgerEntry, int, error)

	// Summary aggregates a campaign's ledger.
	Summary(ctx context.Context, campaignID string) (*domain.LedgerSummary, error)
}

// UsageRepository reads the per-user and per-day counters maintained by the ledger.
type UsageRepository interface {
	// UsageFor returns the shopper's usage of each campaign, keyed by campaign
	// ID. day is the shopper-local calendar day for the daily counter.
	UsageFor(ctx context.Context, userID string, campaignIDs []string, day time.Time) (map[string]domain.CampaignUsage, error)
}
