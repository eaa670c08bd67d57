package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
)

// UserStats is the order history the user-stats service reports for a shopper.
type UserStats struct {
	OrderCount       int             `json:"order_count"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	AccountCreatedAt time.Time       `json:"account_created_at"`
	Segments         []string        `json:"segments"`
}

// UserStatsClient fetches shopper history, keeping a short-lived in-process
// copy so repeated previews of the same basket do not hit the service.
type UserStatsClient struct {
	http    JSONGetter
	baseURL string
	cache   *freecache.Cache
	ttl     time.Duration
	logger  *slog.Logger
}

// NewUserStatsClient creates a client for the service at baseURL. cacheBytes
// sizes the in-process cache; a zero ttl disables it.
func NewUserStatsClient(http JSONGetter, baseURL string, cacheBytes int, ttl time.Duration, logger *slog.Logger) *UserStatsClient {
	return &UserStatsClient{
		http:    http,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   freecache.NewCache(cacheBytes),
		ttl:     ttl,
		logger:  logger,
	}
}

func statsKey(tenancyID, userID string) []byte {
	return []byte(tenancyID + "/" + userID)
}

// UserContext returns the shopper's history as a domain.UserContext. A
// shopper unknown to the user-stats service is treated as brand new.
func (c *UserStatsClient) UserContext(ctx context.Context, tenancyID, userID string) (domain.UserContext, error) {
	stats, err := c.get(ctx, tenancyID, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.UserContext{UserID: userID, TotalSpent: decimal.Zero}, nil
		}
		return domain.UserContext{}, err
	}
	return domain.UserContext{
		UserID:           userID,
		OrderCount:       stats.OrderCount,
		TotalSpent:       stats.TotalSpent,
		AccountCreatedAt: stats.AccountCreatedAt,
		Segments:         stats.Segments,
	}, nil
}

func (c *UserStatsClient) get(ctx context.Context, tenancyID, userID string) (*UserStats, error) {
	key := statsKey(tenancyID, userID)
	if c.ttl > 0 {
		if data, err := c.cache.Get(key); err == nil {
			var stats UserStats
			if json.Unmarshal(data, &stats) == nil {
				return &stats, nil
			}
		}
	}

	endpoint := fmt.Sprintf("%s/api/v1/users/%s/stats?tenancy_id=%s",
		c.baseURL, url.PathEscape(userID), url.QueryEscape(tenancyID))
	var resp envelope[UserStats]
	if err := c.http.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}

	if c.ttl > 0 {
		if data, err := json.Marshal(resp.Data); err == nil {
			if err := c.cache.Set(key, data, int(c.ttl.Seconds())); err != nil {
				c.logger.DebugContext(ctx, "user stats not cached",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return &resp.Data, nil
}

// Invalidate drops the cached stats of a shopper, e.g. after their order was
// committed.
func (c *UserStatsClient) Invalidate(tenancyID, userID string) {
	c.cache.Del(statsKey(tenancyID, userID))
}
