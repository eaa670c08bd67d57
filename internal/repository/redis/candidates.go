package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/campaign-engine/internal/domain"
)

const keyPrefix = "campaign:candidates:"

// CandidateCache caches the candidate campaigns of a tenancy and trigger.
// Entries are a read-only snapshot: counters inside them may lag the
// database, which is fine because the ledger re-checks every cap on commit.
type CandidateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCandidateCache creates a new Redis-backed candidate cache.
func NewCandidateCache(client *redis.Client, ttl time.Duration) *CandidateCache {
	return &CandidateCache{
		client: client,
		ttl:    ttl,
	}
}

func candidateKey(tenancyID string, trigger domain.TriggerType) string {
	return keyPrefix + tenancyID + ":" + string(trigger)
}

// Get returns the cached candidates. The boolean is false on a miss.
func (c *CandidateCache) Get(ctx context.Context, tenancyID string, trigger domain.TriggerType) ([]*domain.Campaign, bool, error) {
	data, err := c.client.Get(ctx, candidateKey(tenancyID, trigger)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get candidates: %w", err)
	}

	var campaigns []*domain.Campaign
	if err := json.Unmarshal(data, &campaigns); err != nil {
		return nil, false, fmt.Errorf("unmarshal candidates: %w", err)
	}
	return campaigns, true, nil
}

// Set stores the candidates with the configured TTL. An empty list is cached
// too so tenancies without campaigns do not hit the database every checkout.
func (c *CandidateCache) Set(ctx context.Context, tenancyID string, trigger domain.TriggerType, campaigns []*domain.Campaign) error {
	if campaigns == nil {
		campaigns = []*domain.Campaign{}
	}
	data, err := json.Marshal(campaigns)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}

	if err := c.client.Set(ctx, candidateKey(tenancyID, trigger), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set candidates: %w", err)
	}
	return nil
}

// Invalidate drops every cached trigger of a tenancy.
func (c *CandidateCache) Invalidate(ctx context.Context, tenancyID string) error {
	triggers := domain.ValidTriggerTypes()
	keys := make([]string, 0, len(triggers))
	for _, t := range triggers {
		keys = append(keys, candidateKey(tenancyID, t))
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del candidates: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached entry. It is used when a GLOBAL campaign
// changes, since that may affect any tenancy.
func (c *CandidateCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del candidates: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan candidates: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del candidates: %w", err)
		}
	}
	return nil
}
