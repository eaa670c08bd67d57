// Package service holds the campaign engine's use cases: campaign
// administration, promotion management, checkout evaluation and the usage
// ledger.
package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/campaign-engine/internal/domain"
)

// CandidateCache caches candidate campaigns per tenancy and trigger.
// *redis.CandidateCache satisfies it.
type CandidateCache interface {
	Get(ctx context.Context, tenancyID string, trigger domain.TriggerType) ([]*domain.Campaign, bool, error)
	Set(ctx context.Context, tenancyID string, trigger domain.TriggerType, campaigns []*domain.Campaign) error
	Invalidate(ctx context.Context, tenancyID string) error
	InvalidateAll(ctx context.Context) error
}

// EventPublisher publishes campaign domain events. *event.Producer satisfies it.
type EventPublisher interface {
	PublishCampaignCreated(ctx context.Context, c *domain.Campaign) error
	PublishStatusChanged(ctx context.Context, id string, from, to domain.Status) error
	PublishCampaignApplied(ctx context.Context, req domain.CheckoutRequest, result *domain.ApplicationResult) error
}

// UserStatsProvider returns shopper history. *client.UserStatsClient satisfies it.
type UserStatsProvider interface {
	UserContext(ctx context.Context, tenancyID, userID string) (domain.UserContext, error)
	Invalidate(tenancyID, userID string)
}

// LoyaltyPrograms reads loyalty programs. *client.LoyaltyClient satisfies it.
type LoyaltyPrograms interface {
	GetProgram(ctx context.Context, tenancyID, programID string) (*domain.LoyaltyProgram, error)
}

var (
	commitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_commits_total",
			Help: "Ledger commits by outcome",
		},
		[]string{"outcome"},
	)

	checkoutFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_checkout_fallbacks_total",
			Help: "Checkouts that fell back to no discount after losing every commit attempt",
		},
	)

	candidateCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_candidate_cache_total",
			Help: "Candidate cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
)

func utcNow() time.Time {
	return time.Now().UTC()
}
