package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/utafrali/campaign-engine/internal/domain"
)

// LoyaltyClient reads loyalty programs from the loyalty service.
type LoyaltyClient struct {
	http    JSONGetter
	baseURL string
}

// NewLoyaltyClient creates a client for the service at baseURL.
func NewLoyaltyClient(http JSONGetter, baseURL string) *LoyaltyClient {
	return &LoyaltyClient{http: http, baseURL: strings.TrimRight(baseURL, "/")}
}

// GetProgram returns the program with the given ID. An unknown program
// yields an error wrapping apperrors.ErrNotFound.
func (c *LoyaltyClient) GetProgram(ctx context.Context, tenancyID, programID string) (*domain.LoyaltyProgram, error) {
	endpoint := fmt.Sprintf("%s/api/v1/loyalty/programs/%s?tenancy_id=%s",
		c.baseURL, url.PathEscape(programID), url.QueryEscape(tenancyID))

	var resp envelope[domain.LoyaltyProgram]
	if err := c.http.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("get loyalty program %s: %w", programID, err)
	}
	return &resp.Data, nil
}
