package service

import (
	"context"
	"log/slog"
	"time"
)

// ExpirySweeper periodically completes campaigns whose window has ended.
// Selection already ignores them; the sweep keeps their status honest.
type ExpirySweeper struct {
	campaigns *CampaignService
	interval  time.Duration
	logger    *slog.Logger
}

// NewExpirySweeper creates a sweeper that runs every interval.
func NewExpirySweeper(campaigns *CampaignService, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{campaigns: campaigns, interval: interval, logger: logger}
}

// Run sweeps until ctx is canceled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce completes one batch of expired campaigns.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) int {
	n, err := s.campaigns.CompleteExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "expiry sweep failed", slog.String("error", err.Error()))
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired campaigns completed", slog.Int("count", n))
	}
	return n
}
